package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"telegram-wager-bot/internal/model"
)

// StatsDelta is one round's contribution to a user's accumulators.
type StatsDelta struct {
	UserID int64
	Won    int64
	Lost   int64
	Stakes int64
	Points int64
}

// StatsRepository handles the per-user day/week/all-time counters.
type StatsRepository struct {
	db DBTX
}

// NewStatsRepository creates a new StatsRepository instance.
func NewStatsRepository(db DBTX) *StatsRepository {
	return &StatsRepository{db: db}
}

// DayKey returns the calendar day of t in UTC.
func DayKey(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekKey returns the Monday starting the ISO week of t in UTC.
func WeekKey(t time.Time) time.Time {
	day := DayKey(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// Apply adds d to the user's counters. Day and week counters restart when
// now falls in a later day or week than the stored keys.
func (r *StatsRepository) Apply(ctx context.Context, d StatsDelta, now time.Time) error {
	const query = `
		INSERT INTO user_stats (
			user_id, day_key, week_key,
			day_won, day_lost, day_stakes, day_points,
			week_won, week_lost, week_stakes, week_points,
			total_won, total_lost, total_stakes, total_points, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $4, $5, $6, $7, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			day_won     = CASE WHEN user_stats.day_key = EXCLUDED.day_key THEN user_stats.day_won ELSE 0 END + EXCLUDED.day_won,
			day_lost    = CASE WHEN user_stats.day_key = EXCLUDED.day_key THEN user_stats.day_lost ELSE 0 END + EXCLUDED.day_lost,
			day_stakes  = CASE WHEN user_stats.day_key = EXCLUDED.day_key THEN user_stats.day_stakes ELSE 0 END + EXCLUDED.day_stakes,
			day_points  = CASE WHEN user_stats.day_key = EXCLUDED.day_key THEN user_stats.day_points ELSE 0 END + EXCLUDED.day_points,
			week_won    = CASE WHEN user_stats.week_key = EXCLUDED.week_key THEN user_stats.week_won ELSE 0 END + EXCLUDED.week_won,
			week_lost   = CASE WHEN user_stats.week_key = EXCLUDED.week_key THEN user_stats.week_lost ELSE 0 END + EXCLUDED.week_lost,
			week_stakes = CASE WHEN user_stats.week_key = EXCLUDED.week_key THEN user_stats.week_stakes ELSE 0 END + EXCLUDED.week_stakes,
			week_points = CASE WHEN user_stats.week_key = EXCLUDED.week_key THEN user_stats.week_points ELSE 0 END + EXCLUDED.week_points,
			total_won    = user_stats.total_won + EXCLUDED.total_won,
			total_lost   = user_stats.total_lost + EXCLUDED.total_lost,
			total_stakes = user_stats.total_stakes + EXCLUDED.total_stakes,
			total_points = user_stats.total_points + EXCLUDED.total_points,
			day_key = EXCLUDED.day_key,
			week_key = EXCLUDED.week_key,
			updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query,
		d.UserID, DayKey(now), WeekKey(now),
		d.Won, d.Lost, d.Stakes, d.Points,
	)
	if err != nil {
		return fmt.Errorf("failed to apply stats: %w", err)
	}
	return nil
}

// Get returns a user's counters, or zeroed stats when none exist yet.
func (r *StatsRepository) Get(ctx context.Context, userID int64) (*model.UserStats, error) {
	const query = `
		SELECT user_id, day_key, week_key,
			day_won, day_lost, day_stakes, day_points,
			week_won, week_lost, week_stakes, week_points,
			total_won, total_lost, total_stakes, total_points, updated_at
		FROM user_stats
		WHERE user_id = $1
	`

	var s model.UserStats
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.DayKey, &s.WeekKey,
		&s.DayWon, &s.DayLost, &s.DayStakes, &s.DayPoints,
		&s.WeekWon, &s.WeekLost, &s.WeekStakes, &s.WeekPoints,
		&s.TotalWon, &s.TotalLost, &s.TotalStakes, &s.TotalPoints, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.UserStats{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &s, nil
}
