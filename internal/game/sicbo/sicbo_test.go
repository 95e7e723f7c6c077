package sicbo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"telegram-wager-bot/internal/game"
)

func TestSicBo_IsWinning(t *testing.T) {
	g := New()
	tests := []struct {
		name  string
		dice  Dice
		token string
		win   bool
	}{
		{"big wins", Dice{3, 4, 5}, TokenBig, true},
		{"small loses on big", Dice{3, 4, 5}, TokenSmall, false},
		{"single matches", Dice{3, 4, 5}, "4", true},
		{"single misses", Dice{3, 4, 5}, "6", false},
		{"triple wins", Dice{2, 2, 2}, TokenTriple, true},
		{"big loses on triple", Dice{6, 6, 6}, TokenBig, false},
		{"unknown token", Dice{1, 2, 3}, "red", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.win, g.IsWinning(Outcome{Dice: tt.dice}, tt.token))
		})
	}
}

func TestSicBo_Multiplier(t *testing.T) {
	g := New()

	assert.Equal(t, 2.0, g.Multiplier(TokenBig, nil, false))
	assert.Equal(t, 31.0, g.Multiplier(TokenTriple, nil, true))
	assert.Equal(t, 2.0, g.Multiplier("3", nil, false))

	// Singles settle at 1 + matching dice.
	assert.Equal(t, 2.0, g.Multiplier("3", Outcome{Dice: Dice{3, 1, 2}}, true))
	assert.Equal(t, 3.0, g.Multiplier("3", Outcome{Dice: Dice{3, 3, 2}}, true))
	assert.Equal(t, 4.0, g.Multiplier("3", Outcome{Dice: Dice{3, 3, 3}}, true))

	assert.Zero(t, g.Multiplier("nope", nil, false))
}

func TestSicBo_IsOpposing(t *testing.T) {
	g := New()

	assert.True(t, g.IsOpposing(TokenBig, []string{"1", TokenSmall}))
	assert.True(t, g.IsOpposing(TokenSmall, []string{TokenBig}))
	assert.False(t, g.IsOpposing(TokenBig, []string{TokenBig, "3"}))
	assert.False(t, g.IsOpposing("3", []string{"4"}))
}

func TestSicBo_DecodeRejectsBadDice(t *testing.T) {
	g := New()

	_, err := g.DecodeOutcome([]byte(`{"dice":[0,2,3]}`))
	assert.ErrorIs(t, err, game.ErrBadOutcome)

	_, err = g.DecodeOutcome([]byte(`not json`))
	assert.ErrorIs(t, err, game.ErrBadOutcome)

	_, err = g.EncodeOutcome(fakeOutcome{})
	assert.ErrorIs(t, err, game.ErrBadOutcome)
}

func TestSicBo_OutcomeString(t *testing.T) {
	assert.Equal(t, "1-2-3=6(小)", Outcome{Dice: Dice{1, 2, 3}}.String())
	assert.Equal(t, "4-5-6=15(大)", Outcome{Dice: Dice{4, 5, 6}}.String())
	assert.Equal(t, "2-2-2=6(围骰)", Outcome{Dice: Dice{2, 2, 2}}.String())
}

type fakeOutcome struct{}

func (fakeOutcome) String() string { return "fake" }

// Rolled outcomes survive an encode/decode cycle and stay in range.
func TestSicBoRollProperty(t *testing.T) {
	g := New()
	rapid.Check(t, func(t *rapid.T) {
		o, err := g.Roll()
		require.NoError(t, err)

		raw, err := g.EncodeOutcome(o)
		require.NoError(t, err)

		back, err := g.DecodeOutcome(raw)
		require.NoError(t, err)
		require.Equal(t, o, back)
	})
}

// Every single-number payout multiplier equals 1 + matches, and a winning
// token never has a payout multiplier below 2.
func TestSicBoPayoutProperty(t *testing.T) {
	g := New()
	rapid.Check(t, func(t *rapid.T) {
		o := Outcome{Dice: Dice{
			rapid.IntRange(1, 6).Draw(t, "d1"),
			rapid.IntRange(1, 6).Draw(t, "d2"),
			rapid.IntRange(1, 6).Draw(t, "d3"),
		}}
		token := rapid.SampledFrom(g.RateTokens()).Draw(t, "token")

		if !g.IsWinning(o, token) {
			return
		}
		mult := g.Multiplier(token, o, true)
		if mult < 2 {
			t.Fatalf("winning token %s on %v has multiplier %v", token, o, mult)
		}
		if n, ok := singleNumber(token); ok && mult != float64(1+MatchCount(n, o.Dice)) {
			t.Fatalf("single %s on %v: multiplier %v", token, o, mult)
		}
	})
}
