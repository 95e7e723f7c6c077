package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"telegram-wager-bot/internal/model"
)

const autoStakeColumns = `id, user_id, chat_id, token, amount, variant, remaining, created_at`

// AutoStakeRepository handles the repeat-stake queue.
type AutoStakeRepository struct {
	db DBTX
}

// NewAutoStakeRepository creates a new AutoStakeRepository instance.
func NewAutoStakeRepository(db DBTX) *AutoStakeRepository {
	return &AutoStakeRepository{db: db}
}

func scanAutoStake(row pgx.Row) (*model.AutoStake, error) {
	var a model.AutoStake
	err := row.Scan(&a.ID, &a.UserID, &a.ChatID, &a.Token, &a.Amount, &a.Variant, &a.Remaining, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Upsert queues a.Remaining replays of a stake, replacing any existing
// entry for the same user, chat and token.
func (r *AutoStakeRepository) Upsert(ctx context.Context, a *model.AutoStake) (*model.AutoStake, error) {
	query := `
		INSERT INTO auto_stakes (user_id, chat_id, token, amount, variant, remaining, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, chat_id, token) DO UPDATE
		SET amount = EXCLUDED.amount, variant = EXCLUDED.variant, remaining = EXCLUDED.remaining
		RETURNING ` + autoStakeColumns

	out, err := scanAutoStake(r.db.QueryRow(ctx, query, a.UserID, a.ChatID, a.Token, a.Amount, a.Variant, a.Remaining))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert auto stake: %w", err)
	}
	return out, nil
}

// ListByChat returns the queued entries of a chat.
func (r *AutoStakeRepository) ListByChat(ctx context.Context, chatID int64) ([]*model.AutoStake, error) {
	query := `SELECT ` + autoStakeColumns + ` FROM auto_stakes WHERE chat_id = $1 ORDER BY id`

	rows, err := r.db.Query(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto stakes: %w", err)
	}
	defer rows.Close()

	var out []*model.AutoStake
	for rows.Next() {
		a, err := scanAutoStake(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auto stake: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auto stakes: %w", err)
	}
	return out, nil
}

// Decrement uses up one replay and deletes the entry once exhausted.
// It returns the replays left.
func (r *AutoStakeRepository) Decrement(ctx context.Context, id int64) (int, error) {
	const query = `
		UPDATE auto_stakes SET remaining = GREATEST(remaining - 1, 0)
		WHERE id = $1
		RETURNING remaining
	`

	var remaining int
	if err := r.db.QueryRow(ctx, query, id).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("failed to decrement auto stake: %w", err)
	}
	if remaining == 0 {
		if err := r.Delete(ctx, id); err != nil {
			return 0, err
		}
	}
	return remaining, nil
}

// Delete removes one entry.
func (r *AutoStakeRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM auto_stakes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete auto stake: %w", err)
	}
	return nil
}

// DeleteByUserChat cancels a user's queued stakes in a chat.
func (r *AutoStakeRepository) DeleteByUserChat(ctx context.Context, userID, chatID int64) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM auto_stakes WHERE user_id = $1 AND chat_id = $2`, userID, chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel auto stakes: %w", err)
	}
	return result.RowsAffected(), nil
}
