package repository

import (
	"context"
	"fmt"

	"telegram-wager-bot/internal/model"
)

// PayoutRepository records which users have been credited for a round.
type PayoutRepository struct {
	db DBTX
}

// NewPayoutRepository creates a new PayoutRepository instance.
func NewPayoutRepository(db DBTX) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// Mark records the credit for (round, user). inserted is false when the
// user was already paid for this round.
func (r *PayoutRepository) Mark(ctx context.Context, roundID, userID, amount int64) (inserted bool, err error) {
	const query = `
		INSERT INTO payouts (round_id, user_id, amount, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (round_id, user_id) DO NOTHING
	`

	result, err := r.db.Exec(ctx, query, roundID, userID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to mark payout: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ListByRound returns the credits applied for a round.
func (r *PayoutRepository) ListByRound(ctx context.Context, roundID int64) ([]*model.Payout, error) {
	const query = `SELECT round_id, user_id, amount, created_at FROM payouts WHERE round_id = $1 ORDER BY user_id`

	rows, err := r.db.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer rows.Close()

	var out []*model.Payout
	for rows.Next() {
		var p model.Payout
		if err := rows.Scan(&p.RoundID, &p.UserID, &p.Amount, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payouts: %w", err)
	}
	return out, nil
}
