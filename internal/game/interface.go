// Package game defines the round outcome strategies and their registry.
//
// A Variant is data and strategy only: it rolls and interprets an opaque
// outcome and prices rate tokens. It holds no concurrency or storage logic;
// the settlement engine in package service drives it.
package game

import (
	"errors"
	"fmt"
)

// Common errors for variants.
var (
	ErrUnknownVariant = errors.New("unknown game variant")
	ErrBadOutcome     = errors.New("malformed outcome payload")
)

// Outcome is a variant-specific round result.
type Outcome interface {
	fmt.Stringer
}

// Variant defines the contract every game variant implements.
type Variant interface {
	// Tag is the persisted variant identifier (e.g. "roulette").
	Tag() string

	// Name returns the display name.
	Name() string

	// Roll draws a new outcome.
	Roll() (Outcome, error)

	// EncodeOutcome serializes an outcome for the round record.
	EncodeOutcome(o Outcome) ([]byte, error)

	// DecodeOutcome parses a stored outcome payload.
	DecodeOutcome(raw []byte) (Outcome, error)

	// IsWinning reports whether a stake on token wins against o.
	IsWinning(o Outcome, token string) bool

	// Multiplier returns the total-return multiplier for token.
	// With forPayout=false it is the display multiplier shown to bettors
	// (o may be nil); with forPayout=true it is the multiplier applied at
	// settlement for the given outcome, which may differ for bonus results.
	Multiplier(token string, o Outcome, forPayout bool) float64

	// MaxMultiplier is the largest settlement multiplier token can pay on
	// any outcome. The per-event stake cap is derived from it.
	MaxMultiplier(token string) float64

	// RateTokens lists every wagerable token.
	RateTokens() []string

	// IsOpposing reports whether staking token while already holding
	// held would hedge the round.
	IsOpposing(token string, held []string) bool
}

// Coverer is implemented by variants whose tokens cover outcomes unevenly.
// CoverageOf returns the probability that at least one of tokens wins.
type Coverer interface {
	CoverageOf(tokens []string) float64
}

// PointsGater lets a variant replace the default leaderboard gate.
type PointsGater interface {
	EligibleForPoints(stakes map[string]int64, gate PointsGate) bool
}

// HasToken reports whether token is wagerable on v.
func HasToken(v Variant, token string) bool {
	for _, t := range v.RateTokens() {
		if t == token {
			return true
		}
	}
	return false
}
