// Package roulette implements a single-zero roulette round variant.
package roulette

import (
	"encoding/json"
	"fmt"
	"strconv"

	"telegram-wager-bot/internal/game"
)

const (
	// Tag is the persisted variant identifier.
	Tag = "roulette"

	// Pockets is the number of pockets on the wheel, zero included.
	Pockets = 37

	TokenRed   = "red"
	TokenBlack = "black"
	TokenEven  = "even"
	TokenOdd   = "odd"
)

var redNumbers = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true, 14: true, 16: true, 18: true,
	19: true, 21: true, 23: true, 25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

type span struct {
	lo, hi int
	mult   float64
}

// dozens and six-number lines
var spans = map[string]span{
	"1st":   {1, 12, 3},
	"2nd":   {13, 24, 3},
	"3rd":   {25, 36, 3},
	"1-6":   {1, 6, 6},
	"7-12":  {7, 12, 6},
	"13-18": {13, 18, 6},
	"19-24": {19, 24, 6},
	"25-30": {25, 30, 6},
	"31-36": {31, 36, 6},
}

var tokens = buildTokens()

func buildTokens() []string {
	out := []string{TokenRed, TokenBlack, TokenEven, TokenOdd,
		"1st", "2nd", "3rd",
		"1-6", "7-12", "13-18", "19-24", "25-30", "31-36"}
	for n := 0; n < Pockets; n++ {
		out = append(out, strconv.Itoa(n))
	}
	return out
}

// Roulette implements game.Variant.
type Roulette struct{}

// New creates a roulette variant.
func New() *Roulette {
	return &Roulette{}
}

// Outcome is the pocket the ball landed in.
type Outcome struct {
	Number int `json:"number"`
}

// Color returns "red", "black" or "green".
func (o Outcome) Color() string {
	switch {
	case o.Number == 0:
		return "green"
	case redNumbers[o.Number]:
		return TokenRed
	default:
		return TokenBlack
	}
}

func (o Outcome) String() string {
	icon := map[string]string{"green": "🟢", TokenRed: "🔴", TokenBlack: "⚫"}[o.Color()]
	return fmt.Sprintf("%s %d", icon, o.Number)
}

// Tag returns the variant tag.
func (r *Roulette) Tag() string { return Tag }

// Name returns the display name.
func (r *Roulette) Name() string { return "轮盘" }

// RateTokens lists every wagerable token.
func (r *Roulette) RateTokens() []string {
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out
}

// Roll spins the wheel.
func (r *Roulette) Roll() (game.Outcome, error) {
	n, err := game.RandIntn(Pockets)
	if err != nil {
		return nil, err
	}
	return Outcome{Number: n}, nil
}

// EncodeOutcome serializes the outcome.
func (r *Roulette) EncodeOutcome(o game.Outcome) ([]byte, error) {
	out, ok := o.(Outcome)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a roulette outcome", game.ErrBadOutcome, o)
	}
	return json.Marshal(out)
}

// DecodeOutcome parses a stored outcome.
func (r *Roulette) DecodeOutcome(raw []byte) (game.Outcome, error) {
	var o Outcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrBadOutcome, err)
	}
	if o.Number < 0 || o.Number >= Pockets {
		return nil, fmt.Errorf("%w: pocket %d out of range", game.ErrBadOutcome, o.Number)
	}
	return o, nil
}

// IsWinning reports whether token wins against o.
func (r *Roulette) IsWinning(o game.Outcome, token string) bool {
	out, ok := o.(Outcome)
	if !ok {
		return false
	}
	return covers(token, out.Number)
}

// Multiplier returns the total-return multiplier for token. Roulette pays
// the same at display and settlement time.
func (r *Roulette) Multiplier(token string, _ game.Outcome, _ bool) float64 {
	switch token {
	case TokenRed, TokenBlack, TokenEven, TokenOdd:
		return 2
	}
	if s, ok := spans[token]; ok {
		return s.mult
	}
	if _, ok := straight(token); ok {
		return 36
	}
	return 0
}

// MaxMultiplier equals Multiplier: roulette has no bonus outcomes.
func (r *Roulette) MaxMultiplier(token string) float64 {
	return r.Multiplier(token, nil, true)
}

// IsOpposing treats red/black and even/odd as hedge pairs.
func (r *Roulette) IsOpposing(token string, held []string) bool {
	other := map[string]string{
		TokenRed:   TokenBlack,
		TokenBlack: TokenRed,
		TokenEven:  TokenOdd,
		TokenOdd:   TokenEven,
	}[token]
	if other == "" {
		return false
	}
	for _, h := range held {
		if h == other {
			return true
		}
	}
	return false
}

// CoverageOf returns the share of pockets won by at least one of tokens.
func (r *Roulette) CoverageOf(tokens []string) float64 {
	covered := 0
	for n := 0; n < Pockets; n++ {
		for _, t := range tokens {
			if covers(t, n) {
				covered++
				break
			}
		}
	}
	return float64(covered) / Pockets
}

func covers(token string, n int) bool {
	switch token {
	case TokenRed:
		return redNumbers[n]
	case TokenBlack:
		return n != 0 && !redNumbers[n]
	case TokenEven:
		return n != 0 && n%2 == 0
	case TokenOdd:
		return n%2 == 1
	}
	if s, ok := spans[token]; ok {
		return n >= s.lo && n <= s.hi
	}
	if v, ok := straight(token); ok {
		return v == n
	}
	return false
}

func straight(token string) (int, bool) {
	n, err := strconv.Atoi(token)
	if err != nil || n < 0 || n >= Pockets || strconv.Itoa(n) != token {
		return 0, false
	}
	return n, true
}
