package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"telegram-wager-bot/internal/model"
)

const userColumns = `telegram_id, username, balance, is_privileged, last_stake_amount, created_at, updated_at`

// UserRepository handles user data persistence.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.TelegramID,
		&user.Username,
		&user.Balance,
		&user.IsPrivileged,
		&user.LastStakeAmount,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetOrCreate returns the user, creating it with initialBalance on first
// contact. Username is refreshed and the privileged flag can only be raised.
// created reports whether the row was inserted by this call.
func (r *UserRepository) GetOrCreate(ctx context.Context, telegramID int64, username string, privileged bool, initialBalance int64) (user *model.User, created bool, err error) {
	const query = `
		INSERT INTO users (telegram_id, username, balance, is_privileged, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (telegram_id) DO UPDATE
		SET username = EXCLUDED.username,
		    is_privileged = users.is_privileged OR EXCLUDED.is_privileged,
		    updated_at = NOW()
		RETURNING ` + userColumns + `, (xmax = 0) AS inserted
	`

	var u model.User
	err = r.db.QueryRow(ctx, query, telegramID, username, initialBalance, privileged).Scan(
		&u.TelegramID,
		&u.Username,
		&u.Balance,
		&u.IsPrivileged,
		&u.LastStakeAmount,
		&u.CreatedAt,
		&u.UpdatedAt,
		&created,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}
	return &u, created, nil
}

// GetByID retrieves a user by their Telegram ID.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, telegramID int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, telegramID))
	if err != nil {
		return nil, wrapNoRows(err, ErrUserNotFound, "get user")
	}
	return user, nil
}

// LockForUpdate row-locks the given users in ascending id order and
// returns the ones that exist. Locking in a fixed order keeps two
// transactions touching the same pair of users from deadlocking.
func (r *UserRepository) LockForUpdate(ctx context.Context, ids ...int64) (map[int64]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = ANY($1) ORDER BY telegram_id FOR UPDATE`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock users: %w", err)
	}
	defer rows.Close()

	users := make(map[int64]*model.User, len(ids))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users[u.TelegramID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lock users: %w", err)
	}
	return users, nil
}

// Debit subtracts amount with a single conditional update and returns the
// new balance. It fails with ErrInsufficientBalance when the guard rejects
// the update and ErrNegativeBalance if the post-condition does not hold.
func (r *UserRepository) Debit(ctx context.Context, telegramID int64, amount int64) (int64, error) {
	const query = `
		UPDATE users
		SET balance = balance - $2, updated_at = NOW()
		WHERE telegram_id = $1 AND balance >= $2
		RETURNING balance
	`

	var balance int64
	err := r.db.QueryRow(ctx, query, telegramID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, telegramID); getErr != nil {
				return 0, getErr
			}
			return 0, ErrInsufficientBalance
		}
		if isCheckViolation(err) {
			return 0, ErrNegativeBalance
		}
		return 0, fmt.Errorf("failed to debit balance: %w", err)
	}
	if balance < 0 {
		return balance, ErrNegativeBalance
	}
	return balance, nil
}

// Credit adds amount to the balance and returns the new balance.
func (r *UserRepository) Credit(ctx context.Context, telegramID int64, amount int64) (int64, error) {
	const query = `
		UPDATE users
		SET balance = balance + $2, updated_at = NOW()
		WHERE telegram_id = $1
		RETURNING balance
	`

	var balance int64
	err := r.db.QueryRow(ctx, query, telegramID, amount).Scan(&balance)
	if err != nil {
		if isCheckViolation(err) {
			return 0, ErrNegativeBalance
		}
		return 0, wrapNoRows(err, ErrUserNotFound, "credit balance")
	}
	return balance, nil
}

// SetLastStake records the amount used for one-tap repeat.
func (r *UserRepository) SetLastStake(ctx context.Context, telegramID int64, amount int64) error {
	const query = `UPDATE users SET last_stake_amount = $2, updated_at = NOW() WHERE telegram_id = $1`

	result, err := r.db.Exec(ctx, query, telegramID, amount)
	if err != nil {
		return fmt.Errorf("failed to set last stake: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// PrivilegedAmong returns which of ids are privileged accounts.
func (r *UserRepository) PrivilegedAmong(ctx context.Context, ids []int64) (map[int64]bool, error) {
	const query = `SELECT telegram_id FROM users WHERE telegram_id = ANY($1) AND is_privileged`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query privileged users: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return out, nil
}
