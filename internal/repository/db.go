// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors for repository operations.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrChatNotFound        = errors.New("chat not found")
	ErrRoundNotFound       = errors.New("round not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNegativeBalance     = errors.New("balance would become negative")
	ErrStakeLimit          = errors.New("stake exceeds per-event cap")
	ErrRoundSettled        = errors.New("round already settled")
)

// pgCheckViolation is the SQLSTATE for a failed CHECK constraint.
const pgCheckViolation = "23514"

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store bundles the repositories over one connection or transaction.
type Store struct {
	db DBTX

	Users        *UserRepository
	Stats        *StatsRepository
	Chats        *ChatRepository
	Rounds       *RoundRepository
	Stakes       *StakeRepository
	AutoStakes   *AutoStakeRepository
	Payouts      *PayoutRepository
	Transactions *TransactionRepository
}

// NewStore creates a Store backed by the pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return newStore(pool)
}

func newStore(db DBTX) *Store {
	return &Store{
		db:           db,
		Users:        NewUserRepository(db),
		Stats:        NewStatsRepository(db),
		Chats:        NewChatRepository(db),
		Rounds:       NewRoundRepository(db),
		Stakes:       NewStakeRepository(db),
		AutoStakes:   NewAutoStakeRepository(db),
		Payouts:      NewPayoutRepository(db),
		Transactions: NewTransactionRepository(db),
	}
}

// InTx runs fn against a Store bound to a new transaction. The transaction
// commits when fn returns nil and rolls back otherwise. Nested calls use a
// savepoint.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(newStore(tx))
	})
}

// isCheckViolation reports a CHECK constraint failure.
func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation
}

func wrapNoRows(err error, notFound error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
