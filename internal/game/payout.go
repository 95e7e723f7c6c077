package game

import (
	"math"

	"github.com/shopspring/decimal"
)

// PointsGate holds the farming-detection thresholds for leaderboard credit.
type PointsGate struct {
	// CoverageThreshold denies credit when the staked tokens cover at least
	// this share of all outcomes.
	CoverageThreshold float64
	// HedgeTolerance denies credit when two opposing stakes differ by no
	// more than this share of the larger one.
	HedgeTolerance float64
}

// WinningAmount returns amount × multiplier rounded half away from zero.
func WinningAmount(amount int64, multiplier float64) int64 {
	if multiplier <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(multiplier)).
		Round(0).
		IntPart()
}

// EventCap is the largest total stake on a token whose payout stays within
// maxPayout. Pass the token's MaxMultiplier so bonus outcomes stay bounded.
// A non-positive multiplier imposes no cap.
func EventCap(maxPayout int64, multiplier float64) int64 {
	if multiplier <= 0 {
		return math.MaxInt64
	}
	return decimal.NewFromInt(maxPayout).
		Div(decimal.NewFromFloat(multiplier)).
		Floor().
		IntPart()
}

// Share returns percent% of amount, rounded down.
func Share(amount int64, percent float64) int64 {
	if percent <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Floor().
		IntPart()
}

// Coverage returns the share of v's outcomes covered by tokens.
func Coverage(v Variant, tokens []string) float64 {
	if c, ok := v.(Coverer); ok {
		return c.CoverageOf(tokens)
	}
	all := v.RateTokens()
	if len(all) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		seen[t] = struct{}{}
	}
	return float64(len(seen)) / float64(len(all))
}

// EligibleForPoints reports whether one user's stakes in a round may earn
// leaderboard points. Covering most outcomes or balancing opposing stakes
// is treated as risk-free farming.
func EligibleForPoints(v Variant, stakes map[string]int64, gate PointsGate) bool {
	if len(stakes) == 0 {
		return false
	}
	if g, ok := v.(PointsGater); ok {
		return g.EligibleForPoints(stakes, gate)
	}

	tokens := make([]string, 0, len(stakes))
	for t := range stakes {
		tokens = append(tokens, t)
	}
	if gate.CoverageThreshold > 0 && Coverage(v, tokens) >= gate.CoverageThreshold {
		return false
	}

	for i, a := range tokens {
		for _, b := range tokens[i+1:] {
			if !v.IsOpposing(a, []string{b}) {
				continue
			}
			if balanced(stakes[a], stakes[b], gate.HedgeTolerance) {
				return false
			}
		}
	}
	return true
}

func balanced(a, b int64, tolerance float64) bool {
	hi, lo := a, b
	if lo > hi {
		hi, lo = lo, hi
	}
	if hi == 0 {
		return true
	}
	return float64(hi-lo) <= tolerance*float64(hi)
}
