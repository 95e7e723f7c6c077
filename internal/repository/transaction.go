package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"telegram-wager-bot/internal/model"
)

const transactionColumns = `id, user_id, amount, type, round_id, description, created_at`

// TransactionRepository appends balance-change records. Each record is
// written in the same database transaction as the balance change.
type TransactionRepository struct {
	db DBTX
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func collectTransactions(rows pgx.Rows) ([]*model.Transaction, error) {
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		var tx model.Transaction
		err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.Amount,
			&tx.Type,
			&tx.RoundID,
			&tx.Description,
			&tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, &tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// Create creates a new transaction record.
func (r *TransactionRepository) Create(ctx context.Context, userID int64, amount int64, txType string, roundID *int64, description *string) (*model.Transaction, error) {
	query := `
		INSERT INTO transactions (user_id, amount, type, round_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING ` + transactionColumns

	var tx model.Transaction
	err := r.db.QueryRow(ctx, query, userID, amount, txType, roundID, description).Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Amount,
		&tx.Type,
		&tx.RoundID,
		&tx.Description,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return &tx, nil
}

// GetByUserID retrieves a user's transactions, newest first.
func (r *TransactionRepository) GetByUserID(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	return collectTransactions(rows)
}

// ListByRound retrieves every transaction tied to a round.
func (r *TransactionRepository) ListByRound(ctx context.Context, roundID int64) ([]*model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE round_id = $1 ORDER BY id`

	rows, err := r.db.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list round transactions: %w", err)
	}
	return collectTransactions(rows)
}
