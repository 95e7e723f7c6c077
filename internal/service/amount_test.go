package service

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw    string
		amount int64
		isMax  bool
		err    error
	}{
		{"1500", 1500, false, nil},
		{" 2k ", 2000, false, nil},
		{"2K", 2000, false, nil},
		{"1.5k", 1500, false, nil},
		{"1.2345k", 1234, false, nil},
		{"3w", 30000, false, nil},
		{"1m", 1_000_000, false, nil},
		{"max", 0, true, nil},
		{"MAX", 0, true, nil},
		{"0", 0, false, nil},
		{"-5", -5, false, nil},
		{"", 0, false, ErrUnparsableAmount},
		{"k", 0, false, ErrUnparsableAmount},
		{"abc", 0, false, ErrUnparsableAmount},
		{"1e9", 0, false, ErrUnparsableAmount},
		{"99999999999999999999", 0, false, ErrUnparsableAmount},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			amount, isMax, err := ParseAmount(tt.raw)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.amount, amount)
			assert.Equal(t, tt.isMax, isMax)
		})
	}
}

// Any literal integer parses to itself, and the k suffix scales by 1000.
func TestParseAmountLiteralProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.Int64Range(0, 1_000_000_000).Draw(t, "n")

		got, isMax, err := ParseAmount(strconv.FormatInt(n, 10))
		if err != nil || isMax || got != n {
			t.Fatalf("ParseAmount(%d) = %d, %v, %v", n, got, isMax, err)
		}

		got, _, err = ParseAmount(strconv.FormatInt(n, 10) + "k")
		if err != nil || got != n*1000 {
			t.Fatalf("ParseAmount(%dk) = %d, %v", n, got, err)
		}
	})
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(ErrLimitExceeded))
	assert.True(t, IsValidation(fmt.Errorf("token red: %w", ErrRoundClosing)))
	assert.False(t, IsValidation(assert.AnError))
	assert.False(t, IsValidation(nil))
}
