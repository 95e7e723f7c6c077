// Package model defines the data models for the Telegram wager bot.
package model

import (
	"strings"
	"time"
)

// User represents a Telegram user account and its balance.
type User struct {
	TelegramID      int64     `db:"telegram_id"`
	Username        string    `db:"username"`
	Balance         int64     `db:"balance"`
	IsPrivileged    bool      `db:"is_privileged"`
	LastStakeAmount int64     `db:"last_stake_amount"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// UserStats holds the accumulators updated once per settled round.
// Day and week counters restart when DayKey / WeekKey roll over.
type UserStats struct {
	UserID      int64     `db:"user_id"`
	DayKey      time.Time `db:"day_key"`
	WeekKey     time.Time `db:"week_key"`
	DayWon      int64     `db:"day_won"`
	DayLost     int64     `db:"day_lost"`
	DayStakes   int64     `db:"day_stakes"`
	DayPoints   int64     `db:"day_points"`
	WeekWon     int64     `db:"week_won"`
	WeekLost    int64     `db:"week_lost"`
	WeekStakes  int64     `db:"week_stakes"`
	WeekPoints  int64     `db:"week_points"`
	TotalWon    int64     `db:"total_won"`
	TotalLost   int64     `db:"total_lost"`
	TotalStakes int64     `db:"total_stakes"`
	TotalPoints int64     `db:"total_points"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Chat is a group chat hosting rounds.
type Chat struct {
	ChatID         int64     `db:"chat_id"`
	OwnerID        int64     `db:"owner_id"`
	Variant        string    `db:"variant"`
	PendingVariant *string   `db:"pending_variant"`
	TimerSeconds   int       `db:"timer_seconds"`
	Tier           string    `db:"tier"`
	CurrentRoundID *int64    `db:"current_round_id"`
	CreatedAt      time.Time `db:"created_at"`
}

// Timer returns the chat's round length.
func (c *Chat) Timer() time.Duration {
	return time.Duration(c.TimerSeconds) * time.Second
}

// SettlementState is the persisted tri-state settlement marker of a round.
type SettlementState string

const (
	SettlementUnset   SettlementState = "unset"   // never attempted
	SettlementClaimed SettlementState = "claimed" // attempt started, not finished
	SettlementSettled SettlementState = "settled" // finalized with house income
)

// Round is one timed instance of a game variant in a chat.
type Round struct {
	ID             int64           `db:"id"`
	ChatID         int64           `db:"chat_id"`
	Variant        string          `db:"variant"`
	Outcome        []byte          `db:"outcome"`
	FairnessPlain  string          `db:"fairness_plain"`
	FairnessDigest string          `db:"fairness_digest"`
	State          SettlementState `db:"settlement_state"`
	HouseIncome    *int64          `db:"house_income"`
	Active         bool            `db:"active"`
	ResolvesAt     *time.Time      `db:"resolves_at"`
	CreatedAt      time.Time       `db:"created_at"`
}

// IsSettled reports whether the round has a finalized settlement.
func (r *Round) IsSettled() bool {
	return r.State == SettlementSettled
}

// Remaining returns the time left before the round resolves.
// An idle round (no deadline yet) reports ok=false.
func (r *Round) Remaining(now time.Time) (time.Duration, bool) {
	if r.ResolvesAt == nil {
		return 0, false
	}
	return r.ResolvesAt.Sub(now), true
}

// Stake is a user's accumulated wager on one rate token within a round.
type Stake struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	RoundID      int64     `db:"round_id"`
	ChatID       int64     `db:"chat_id"`
	Token        string    `db:"token"`
	Amount       int64     `db:"amount"`
	OwnerRevenue int64     `db:"owner_revenue"`
	CreatedAt    time.Time `db:"created_at"`
}

// AutoStake is a queued wager replayed on the next Remaining rounds of a chat.
type AutoStake struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	ChatID    int64     `db:"chat_id"`
	Token     string    `db:"token"`
	Amount    int64     `db:"amount"`
	Variant   string    `db:"variant"`
	Remaining int       `db:"remaining"`
	CreatedAt time.Time `db:"created_at"`
}

// Payout records a per-user credit applied for a round.
type Payout struct {
	RoundID   int64     `db:"round_id"`
	UserID    int64     `db:"user_id"`
	Amount    int64     `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

// Transaction represents a balance change record.
type Transaction struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	RoundID     *int64    `db:"round_id"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypeInitial      = "initial"       // Initial balance on account creation
	TxTypeStake        = "stake"         // Stake placed on a round
	TxTypeWin          = "win"           // Round winnings
	TxTypeOwnerRevenue = "owner_revenue" // Chat owner's share of a stake
)

// SplitTokens splits a space-joined multi-token request into its tokens.
func SplitTokens(raw string) []string {
	return strings.Fields(strings.ToLower(raw))
}
