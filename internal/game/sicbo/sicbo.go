// Package sicbo implements the Sic Bo (骰宝) round variant.
//
// Tokens: "big", "small", "triple" and the single numbers "1".."6".
// A single number displays at x2 but settles at 1 + matches, so two or
// three matching dice pay x3 or x4.
package sicbo

import (
	"encoding/json"
	"fmt"
	"strconv"

	"telegram-wager-bot/internal/game"
)

const (
	// Tag is the persisted variant identifier.
	Tag = "sicbo"

	TokenBig    = "big"
	TokenSmall  = "small"
	TokenTriple = "triple"

	evenMoney        = 2.0
	tripleMultiplier = 31.0
)

var tokens = []string{TokenBig, TokenSmall, "1", "2", "3", "4", "5", "6", TokenTriple}

// SicBo implements game.Variant.
type SicBo struct{}

// New creates a Sic Bo variant.
func New() *SicBo {
	return &SicBo{}
}

// Outcome is the three dice of a round.
type Outcome struct {
	Dice Dice `json:"dice"`
}

// String renders the outcome for messages and the fairness commitment.
func (o Outcome) String() string {
	label := "小"
	switch {
	case IsTriple(o.Dice):
		label = "围骰"
	case IsBig(o.Dice):
		label = "大"
	}
	return fmt.Sprintf("%d-%d-%d=%d(%s)", o.Dice[0], o.Dice[1], o.Dice[2], Sum(o.Dice), label)
}

// Tag returns the variant tag.
func (g *SicBo) Tag() string { return Tag }

// Name returns the display name.
func (g *SicBo) Name() string { return "骰宝" }

// RateTokens lists every wagerable token.
func (g *SicBo) RateTokens() []string {
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out
}

// Roll draws three dice.
func (g *SicBo) Roll() (game.Outcome, error) {
	var o Outcome
	for i := range o.Dice {
		n, err := game.RandIntn(6)
		if err != nil {
			return nil, err
		}
		o.Dice[i] = n + 1
	}
	return o, nil
}

// EncodeOutcome serializes the outcome.
func (g *SicBo) EncodeOutcome(o game.Outcome) ([]byte, error) {
	out, ok := o.(Outcome)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a sicbo outcome", game.ErrBadOutcome, o)
	}
	return json.Marshal(out)
}

// DecodeOutcome parses a stored outcome.
func (g *SicBo) DecodeOutcome(raw []byte) (game.Outcome, error) {
	var o Outcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrBadOutcome, err)
	}
	if !ValidateDice(o.Dice) {
		return nil, fmt.Errorf("%w: dice %v out of range", game.ErrBadOutcome, o.Dice)
	}
	return o, nil
}

// IsWinning reports whether token wins against o.
func (g *SicBo) IsWinning(o game.Outcome, token string) bool {
	out, ok := o.(Outcome)
	if !ok {
		return false
	}
	switch token {
	case TokenBig:
		return IsBig(out.Dice)
	case TokenSmall:
		return IsSmall(out.Dice)
	case TokenTriple:
		return IsTriple(out.Dice)
	}
	if n, ok := singleNumber(token); ok {
		return MatchCount(n, out.Dice) > 0
	}
	return false
}

// Multiplier returns the display or settlement multiplier for token.
func (g *SicBo) Multiplier(token string, o game.Outcome, forPayout bool) float64 {
	switch token {
	case TokenBig, TokenSmall:
		return evenMoney
	case TokenTriple:
		return tripleMultiplier
	}
	n, ok := singleNumber(token)
	if !ok {
		return 0
	}
	if !forPayout {
		return evenMoney
	}
	out, ok := o.(Outcome)
	if !ok {
		return evenMoney
	}
	// 1 match = 1:1, 2 matches = 2:1, 3 matches = 3:1
	return float64(1 + MatchCount(n, out.Dice))
}

// MaxMultiplier returns the best case payout: a single number showing on
// all three dice pays x4.
func (g *SicBo) MaxMultiplier(token string) float64 {
	if _, ok := singleNumber(token); ok {
		return float64(1 + len(Dice{}))
	}
	return g.Multiplier(token, nil, true)
}

// IsOpposing treats big and small as a hedge pair.
func (g *SicBo) IsOpposing(token string, held []string) bool {
	var other string
	switch token {
	case TokenBig:
		other = TokenSmall
	case TokenSmall:
		other = TokenBig
	default:
		return false
	}
	for _, h := range held {
		if h == other {
			return true
		}
	}
	return false
}

func singleNumber(token string) (int, bool) {
	n, err := strconv.Atoi(token)
	if err != nil || n < 1 || n > 6 {
		return 0, false
	}
	return n, true
}
