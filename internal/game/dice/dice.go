// Package dice implements the two-dice round variant.
//
// Tokens cover the total of two dice: "2-6" (low), "7" and "8-12" (high).
// A double six pays a bonus on "8-12" at settlement time.
package dice

import (
	"encoding/json"
	"errors"
	"fmt"

	"telegram-wager-bot/internal/game"
)

const (
	// Tag is the persisted variant identifier.
	Tag = "dice"

	TokenLow   = "2-6"
	TokenSeven = "7"
	TokenHigh  = "8-12"

	rangeMultiplier = 2.3
	sevenMultiplier = 5.0
	// JackpotMultiplier is paid on TokenHigh when both dice show six.
	JackpotMultiplier = 3.0
)

// ErrInvalidDice is returned when a die value is outside 1..6.
var ErrInvalidDice = errors.New("dice values must be between 1 and 6")

var tokens = []string{TokenLow, TokenSeven, TokenHigh}

// probability of each token winning, out of 36 combinations
var ways = map[string]int{
	TokenLow:   15,
	TokenSeven: 6,
	TokenHigh:  15,
}

// DiceGame implements game.Variant.
type DiceGame struct{}

// New creates a dice variant.
func New() *DiceGame {
	return &DiceGame{}
}

// Outcome is the pair of dice of a round.
type Outcome struct {
	Dice1 int `json:"dice1"`
	Dice2 int `json:"dice2"`
}

// Total returns the sum of both dice.
func (o Outcome) Total() int {
	return o.Dice1 + o.Dice2
}

// IsJackpot reports a double six.
func (o Outcome) IsJackpot() bool {
	return o.Dice1 == 6 && o.Dice2 == 6
}

func (o Outcome) String() string {
	return fmt.Sprintf("🎲 %d + %d = %d", o.Dice1, o.Dice2, o.Total())
}

// Tag returns the variant tag.
func (d *DiceGame) Tag() string { return Tag }

// Name returns the display name.
func (d *DiceGame) Name() string { return "骰子" }

// RateTokens lists every wagerable token.
func (d *DiceGame) RateTokens() []string {
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out
}

// Roll throws two dice.
func (d *DiceGame) Roll() (game.Outcome, error) {
	a, err := game.RandIntn(6)
	if err != nil {
		return nil, err
	}
	b, err := game.RandIntn(6)
	if err != nil {
		return nil, err
	}
	return Outcome{Dice1: a + 1, Dice2: b + 1}, nil
}

// EncodeOutcome serializes the outcome.
func (d *DiceGame) EncodeOutcome(o game.Outcome) ([]byte, error) {
	out, ok := o.(Outcome)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a dice outcome", game.ErrBadOutcome, o)
	}
	return json.Marshal(out)
}

// DecodeOutcome parses a stored outcome.
func (d *DiceGame) DecodeOutcome(raw []byte) (game.Outcome, error) {
	var o Outcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrBadOutcome, err)
	}
	if err := validate(o); err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrBadOutcome, err)
	}
	return o, nil
}

// IsWinning reports whether token wins against o.
func (d *DiceGame) IsWinning(o game.Outcome, token string) bool {
	out, ok := o.(Outcome)
	if !ok {
		return false
	}
	total := out.Total()
	switch token {
	case TokenLow:
		return total <= 6
	case TokenSeven:
		return total == 7
	case TokenHigh:
		return total >= 8
	}
	return false
}

// Multiplier returns the display or settlement multiplier for token.
func (d *DiceGame) Multiplier(token string, o game.Outcome, forPayout bool) float64 {
	switch token {
	case TokenLow:
		return rangeMultiplier
	case TokenSeven:
		return sevenMultiplier
	case TokenHigh:
		if forPayout {
			if out, ok := o.(Outcome); ok && out.IsJackpot() {
				return JackpotMultiplier
			}
		}
		return rangeMultiplier
	}
	return 0
}

// MaxMultiplier returns the jackpot multiplier for TokenHigh.
func (d *DiceGame) MaxMultiplier(token string) float64 {
	if token == TokenHigh {
		return JackpotMultiplier
	}
	return d.Multiplier(token, nil, true)
}

// IsOpposing treats low and high as a hedge pair.
func (d *DiceGame) IsOpposing(token string, held []string) bool {
	var other string
	switch token {
	case TokenLow:
		other = TokenHigh
	case TokenHigh:
		other = TokenLow
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

// CoverageOf returns the probability that one of tokens wins.
func (d *DiceGame) CoverageOf(tokens []string) float64 {
	seen := make(map[string]struct{}, len(tokens))
	n := 0
	for _, t := range tokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		n += ways[t]
	}
	return float64(n) / 36
}

func validate(o Outcome) error {
	if o.Dice1 < 1 || o.Dice1 > 6 || o.Dice2 < 1 || o.Dice2 > 6 {
		return ErrInvalidDice
	}
	return nil
}
