package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"telegram-wager-bot/internal/model"
)

const roundColumns = `id, chat_id, variant, outcome, fairness_plain, fairness_digest, settlement_state, house_income, active, resolves_at, created_at`

// RoundRepository handles round records and their settlement sentinel.
type RoundRepository struct {
	db DBTX
}

// NewRoundRepository creates a new RoundRepository instance.
func NewRoundRepository(db DBTX) *RoundRepository {
	return &RoundRepository{db: db}
}

func scanRound(row pgx.Row) (*model.Round, error) {
	var r model.Round
	var state string
	err := row.Scan(
		&r.ID,
		&r.ChatID,
		&r.Variant,
		&r.Outcome,
		&r.FairnessPlain,
		&r.FairnessDigest,
		&state,
		&r.HouseIncome,
		&r.Active,
		&r.ResolvesAt,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.State = model.SettlementState(state)
	return &r, nil
}

func collectRounds(rows pgx.Rows) ([]*model.Round, error) {
	defer rows.Close()

	var rounds []*model.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rounds: %w", err)
	}
	return rounds, nil
}

// Create inserts a new active round with an unset sentinel.
func (r *RoundRepository) Create(ctx context.Context, round *model.Round) (*model.Round, error) {
	query := `
		INSERT INTO rounds (chat_id, variant, outcome, fairness_plain, fairness_digest, resolves_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING ` + roundColumns

	created, err := scanRound(r.db.QueryRow(ctx, query,
		round.ChatID,
		round.Variant,
		round.Outcome,
		round.FairnessPlain,
		round.FairnessDigest,
		round.ResolvesAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create round: %w", err)
	}
	return created, nil
}

// GetByID retrieves a round. Returns ErrRoundNotFound if it does not exist.
func (r *RoundRepository) GetByID(ctx context.Context, id int64) (*model.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE id = $1`

	round, err := scanRound(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, wrapNoRows(err, ErrRoundNotFound, "get round")
	}
	return round, nil
}

// GetForShare reads the round and holds a share lock until the transaction
// ends, so a concurrent Claim waits for in-flight stakes to commit.
func (r *RoundRepository) GetForShare(ctx context.Context, id int64) (*model.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE id = $1 FOR SHARE`

	round, err := scanRound(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, wrapNoRows(err, ErrRoundNotFound, "lock round")
	}
	return round, nil
}

// GetForUpdate reads the round and holds an exclusive lock until the
// transaction ends. Stakes waiting on GetForShare see the round as it was
// left by this transaction.
func (r *RoundRepository) GetForUpdate(ctx context.Context, id int64) (*model.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE id = $1 FOR UPDATE`

	round, err := scanRound(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, wrapNoRows(err, ErrRoundNotFound, "lock round for update")
	}
	return round, nil
}

// Arm sets resolves_at on a round that has none yet. armed is false when
// the round already had a deadline or is no longer active.
func (r *RoundRepository) Arm(ctx context.Context, id int64, at time.Time) (armed bool, err error) {
	const query = `
		UPDATE rounds SET resolves_at = $2
		WHERE id = $1 AND resolves_at IS NULL AND active
	`

	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("failed to arm round: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// Claim moves the sentinel to claimed. first is true only for the caller
// that moved it from unset; a retry of a claimed round gets false. A
// settled round yields ErrRoundSettled.
func (r *RoundRepository) Claim(ctx context.Context, id int64) (first bool, err error) {
	const query = `
		WITH prev AS (
			SELECT settlement_state FROM rounds WHERE id = $1 FOR UPDATE
		)
		UPDATE rounds SET settlement_state = 'claimed'
		FROM prev
		WHERE rounds.id = $1 AND prev.settlement_state IN ('unset', 'claimed')
		RETURNING prev.settlement_state
	`

	var prev string
	err = r.db.QueryRow(ctx, query, id).Scan(&prev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return false, getErr
			}
			return false, ErrRoundSettled
		}
		return false, fmt.Errorf("failed to claim round: %w", err)
	}
	return model.SettlementState(prev) == model.SettlementUnset, nil
}

// Settle finalizes the sentinel with the house income and deactivates the
// round. Returns ErrRoundSettled if another attempt finalized it first.
func (r *RoundRepository) Settle(ctx context.Context, id int64, houseIncome int64) error {
	const query = `
		UPDATE rounds
		SET settlement_state = 'settled', house_income = $2, active = FALSE
		WHERE id = $1 AND settlement_state <> 'settled'
	`

	result, err := r.db.Exec(ctx, query, id, houseIncome)
	if err != nil {
		return fmt.Errorf("failed to settle round: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrRoundSettled
	}
	return nil
}

// ListActive returns every round still awaiting settlement.
func (r *RoundRepository) ListActive(ctx context.Context) ([]*model.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE active ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rounds: %w", err)
	}
	return collectRounds(rows)
}

// ListSettledByChat returns a chat's most recent settled rounds, newest first.
func (r *RoundRepository) ListSettledByChat(ctx context.Context, chatID int64, limit int) ([]*model.Round, error) {
	query := `
		SELECT ` + roundColumns + `
		FROM rounds
		WHERE chat_id = $1 AND settlement_state = 'settled'
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list round history: %w", err)
	}
	return collectRounds(rows)
}
