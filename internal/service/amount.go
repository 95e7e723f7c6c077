package service

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountMax is the keyword for the largest stake allowed on a token.
const AmountMax = "max"

var suffixes = map[byte]int64{
	'k': 1_000,
	'w': 10_000, // 万
	'm': 1_000_000,
}

// ParseAmount resolves a raw stake amount: a literal ("1500"), a
// compressed suffix ("2k", "1.5m", "3w") or the "max" keyword, reported
// with isMax=true and amount 0. Fractions left after scaling are dropped.
func ParseAmount(raw string) (amount int64, isMax bool, err error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == AmountMax {
		return 0, true, nil
	}
	if s == "" {
		return 0, false, ErrUnparsableAmount
	}

	scale := int64(1)
	if m, ok := suffixes[s[len(s)-1]]; ok {
		scale = m
		s = s[:len(s)-1]
	}
	if s == "" || strings.ContainsAny(s, "eE+") {
		return 0, false, ErrUnparsableAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false, ErrUnparsableAmount
	}
	d = d.Mul(decimal.NewFromInt(scale)).Floor()
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, false, ErrUnparsableAmount
	}
	return d.IntPart(), false, nil
}
