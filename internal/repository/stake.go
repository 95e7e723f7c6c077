package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"telegram-wager-bot/internal/model"
)

const stakeColumns = `id, user_id, round_id, chat_id, token, amount, owner_revenue, created_at`

// StakeRepository handles stake rows. A (user, round, token) triple has at
// most one row; repeated stakes accumulate into it.
type StakeRepository struct {
	db DBTX
}

// NewStakeRepository creates a new StakeRepository instance.
func NewStakeRepository(db DBTX) *StakeRepository {
	return &StakeRepository{db: db}
}

func scanStake(row pgx.Row) (*model.Stake, error) {
	var s model.Stake
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.RoundID,
		&s.ChatID,
		&s.Token,
		&s.Amount,
		&s.OwnerRevenue,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectStakes(rows pgx.Rows) ([]*model.Stake, error) {
	defer rows.Close()

	var stakes []*model.Stake
	for rows.Next() {
		s, err := scanStake(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stake: %w", err)
		}
		stakes = append(stakes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stakes: %w", err)
	}
	return stakes, nil
}

// Upsert adds s.Amount to the user's row for the token, inserting it on the
// first stake. The increment is a single statement and only applies while
// the accumulated amount stays within limit; otherwise ErrStakeLimit is
// returned and the row is unchanged.
func (r *StakeRepository) Upsert(ctx context.Context, s *model.Stake, limit int64) (*model.Stake, error) {
	query := `
		INSERT INTO stakes (user_id, round_id, chat_id, token, amount, owner_revenue, created_at)
		SELECT $1::bigint, $2::bigint, $3::bigint, $4::text, $5::bigint, $6::bigint, NOW()
		WHERE $5::bigint <= $7::bigint
		ON CONFLICT (user_id, round_id, token) DO UPDATE
		SET amount = stakes.amount + EXCLUDED.amount,
		    owner_revenue = stakes.owner_revenue + EXCLUDED.owner_revenue
		WHERE stakes.amount + EXCLUDED.amount <= $7::bigint
		RETURNING ` + stakeColumns

	stake, err := scanStake(r.db.QueryRow(ctx, query,
		s.UserID,
		s.RoundID,
		s.ChatID,
		s.Token,
		s.Amount,
		s.OwnerRevenue,
		limit,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStakeLimit
		}
		return nil, fmt.Errorf("failed to upsert stake: %w", err)
	}
	return stake, nil
}

// ListByRound returns every stake of a round in placement order.
func (r *StakeRepository) ListByRound(ctx context.Context, roundID int64) ([]*model.Stake, error) {
	query := `SELECT ` + stakeColumns + ` FROM stakes WHERE round_id = $1 ORDER BY id`

	rows, err := r.db.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stakes: %w", err)
	}
	return collectStakes(rows)
}

// ListByUserRound returns one user's stakes in a round.
func (r *StakeRepository) ListByUserRound(ctx context.Context, userID, roundID int64) ([]*model.Stake, error) {
	query := `SELECT ` + stakeColumns + ` FROM stakes WHERE user_id = $1 AND round_id = $2 ORDER BY id`

	rows, err := r.db.Query(ctx, query, userID, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user stakes: %w", err)
	}
	return collectStakes(rows)
}

// LastRoundForUser returns the most recent round in chat, other than
// excludeRoundID, in which the user staked. ok is false if there is none.
func (r *StakeRepository) LastRoundForUser(ctx context.Context, userID, chatID, excludeRoundID int64) (roundID int64, ok bool, err error) {
	const query = `
		SELECT round_id FROM stakes
		WHERE user_id = $1 AND chat_id = $2 AND round_id <> $3
		ORDER BY round_id DESC
		LIMIT 1
	`

	err = r.db.QueryRow(ctx, query, userID, chatID, excludeRoundID).Scan(&roundID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to find last round: %w", err)
	}
	return roundID, true, nil
}
