package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"telegram-wager-bot/internal/config"
	"telegram-wager-bot/internal/model"
	"telegram-wager-bot/internal/repository"
)

// AccountService handles user account operations.
type AccountService struct {
	store *repository.Store
	cfg   *config.Config
	now   func() time.Time
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(store *repository.Store, cfg *config.Config) *AccountService {
	return &AccountService{store: store, cfg: cfg, now: time.Now}
}

// EnsureUser ensures a user exists, creating one with the configured
// initial balance if necessary. Configured admins are privileged.
// Returns the user and whether it was newly created.
func (s *AccountService) EnsureUser(ctx context.Context, telegramID int64, username string) (*model.User, bool, error) {
	var (
		user    *model.User
		created bool
	)
	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		var err error
		user, created, err = tx.Users.GetOrCreate(ctx, telegramID, username, s.cfg.IsAdmin(telegramID), s.cfg.Account.InitialBalance)
		if err != nil {
			return err
		}
		if !created || user.Balance == 0 {
			return nil
		}
		desc := "初始余额"
		_, err = tx.Transactions.Create(ctx, telegramID, user.Balance, model.TxTypeInitial, nil, &desc)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure user: %w", err)
	}
	if created {
		log.Info().Int64("user_id", telegramID).Str("username", username).Bool("privileged", user.IsPrivileged).Msg("User created")
	}
	return user, created, nil
}

// GetBalance retrieves a user's current balance.
func (s *AccountService) GetBalance(ctx context.Context, telegramID int64) (int64, error) {
	user, err := s.store.Users.GetByID(ctx, telegramID)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return user.Balance, nil
}

// GetUser retrieves a user by their Telegram ID.
func (s *AccountService) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.store.Users.GetByID(ctx, telegramID)
}

// Stats returns the user's counters with day and week totals reset when
// their period has already rolled over.
func (s *AccountService) Stats(ctx context.Context, telegramID int64) (*model.UserStats, error) {
	st, err := s.store.Stats.Get(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !st.DayKey.Equal(repository.DayKey(now)) {
		st.DayWon, st.DayLost, st.DayStakes, st.DayPoints = 0, 0, 0, 0
	}
	if !st.WeekKey.Equal(repository.WeekKey(now)) {
		st.WeekWon, st.WeekLost, st.WeekStakes, st.WeekPoints = 0, 0, 0, 0
	}
	return st, nil
}

// Transactions returns the user's most recent ledger entries.
func (s *AccountService) Transactions(ctx context.Context, telegramID int64, limit int) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return s.store.Transactions.GetByUserID(ctx, telegramID, limit)
}
