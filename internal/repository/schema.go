package repository

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migrations are applied in order; every statement is idempotent.
var migrations = []struct {
	name string
	sql  string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			telegram_id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL DEFAULT '',
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			is_privileged BOOLEAN NOT NULL DEFAULT FALSE,
			last_stake_amount BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{"user_stats", `
		CREATE TABLE IF NOT EXISTS user_stats (
			user_id BIGINT PRIMARY KEY REFERENCES users(telegram_id) ON DELETE CASCADE,
			day_key DATE NOT NULL,
			week_key DATE NOT NULL,
			day_won BIGINT NOT NULL DEFAULT 0,
			day_lost BIGINT NOT NULL DEFAULT 0,
			day_stakes BIGINT NOT NULL DEFAULT 0,
			day_points BIGINT NOT NULL DEFAULT 0,
			week_won BIGINT NOT NULL DEFAULT 0,
			week_lost BIGINT NOT NULL DEFAULT 0,
			week_stakes BIGINT NOT NULL DEFAULT 0,
			week_points BIGINT NOT NULL DEFAULT 0,
			total_won BIGINT NOT NULL DEFAULT 0,
			total_lost BIGINT NOT NULL DEFAULT 0,
			total_stakes BIGINT NOT NULL DEFAULT 0,
			total_points BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{"chats", `
		CREATE TABLE IF NOT EXISTS chats (
			chat_id BIGINT PRIMARY KEY,
			owner_id BIGINT NOT NULL DEFAULT 0,
			variant VARCHAR(32) NOT NULL,
			pending_variant VARCHAR(32),
			timer_seconds INT NOT NULL CHECK (timer_seconds > 0),
			tier VARCHAR(32) NOT NULL DEFAULT 'basic',
			current_round_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`},
	{"rounds", `
		CREATE TABLE IF NOT EXISTS rounds (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL REFERENCES chats(chat_id),
			variant VARCHAR(32) NOT NULL,
			outcome JSONB NOT NULL,
			fairness_plain TEXT NOT NULL,
			fairness_digest CHAR(64) NOT NULL,
			settlement_state VARCHAR(16) NOT NULL DEFAULT 'unset'
				CHECK (settlement_state IN ('unset', 'claimed', 'settled')),
			house_income BIGINT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			resolves_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_rounds_chat ON rounds(chat_id, id DESC);
		CREATE INDEX IF NOT EXISTS idx_rounds_active ON rounds(id) WHERE active;
	`},
	{"stakes", `
		CREATE TABLE IF NOT EXISTS stakes (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(telegram_id),
			round_id BIGINT NOT NULL REFERENCES rounds(id),
			chat_id BIGINT NOT NULL,
			token VARCHAR(32) NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			owner_revenue BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, round_id, token)
		);
		CREATE INDEX IF NOT EXISTS idx_stakes_round ON stakes(round_id);
		CREATE INDEX IF NOT EXISTS idx_stakes_user_chat ON stakes(user_id, chat_id, round_id DESC);
	`},
	{"auto_stakes", `
		CREATE TABLE IF NOT EXISTS auto_stakes (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(telegram_id),
			chat_id BIGINT NOT NULL,
			token VARCHAR(32) NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			variant VARCHAR(32) NOT NULL,
			remaining INT NOT NULL CHECK (remaining >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, chat_id, token)
		);
		CREATE INDEX IF NOT EXISTS idx_auto_stakes_chat ON auto_stakes(chat_id);
	`},
	{"payouts", `
		CREATE TABLE IF NOT EXISTS payouts (
			round_id BIGINT NOT NULL REFERENCES rounds(id),
			user_id BIGINT NOT NULL REFERENCES users(telegram_id),
			amount BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (round_id, user_id)
		);
	`},
	{"transactions", `
		CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(telegram_id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			round_id BIGINT,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_round ON transactions(round_id) WHERE round_id IS NOT NULL;
	`},
}

// Migrate applies the database schema.
func Migrate(ctx context.Context, db DBTX) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.name, err)
		}
		log.Info().Int("step", i+1).Str("table", m.name).Msg("Migration applied")
	}

	log.Info().Msg("Database migrations completed")
	return nil
}
