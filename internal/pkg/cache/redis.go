// Package cache keeps ephemeral chat UI state and rate limits in Redis.
// Nothing stored here is needed for settlement correctness.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"telegram-wager-bot/internal/config"
)

// selectionTTL bounds how long an abandoned chip selection survives.
const selectionTTL = 24 * time.Hour

// Client wraps the Redis connection.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Msg("Connected to Redis")
	return &Client{rdb: rdb}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SelectionStore tracks each user's chosen chip amount per chat.
type SelectionStore struct {
	rdb redis.Cmdable
}

// NewSelectionStore creates a SelectionStore.
func NewSelectionStore(c *Client) *SelectionStore {
	return &SelectionStore{rdb: c.rdb}
}

// Set stores the user's chip amount for a chat.
func (s *SelectionStore) Set(ctx context.Context, chatID, userID, amount int64) error {
	key := fmt.Sprintf(KeySelection, chatID)

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, strconv.FormatInt(userID, 10), amount)
	pipe.Expire(ctx, key, selectionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store selection: %w", err)
	}
	return nil
}

// Get returns the user's chip amount for a chat; ok is false when unset.
func (s *SelectionStore) Get(ctx context.Context, chatID, userID int64) (amount int64, ok bool, err error) {
	key := fmt.Sprintf(KeySelection, chatID)

	amount, err = s.rdb.HGet(ctx, key, strconv.FormatInt(userID, 10)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read selection: %w", err)
	}
	return amount, true, nil
}

// ClearChat drops every user's selection in a chat.
func (s *SelectionStore) ClearChat(ctx context.Context, chatID int64) error {
	if err := s.rdb.Del(ctx, fmt.Sprintf(KeySelection, chatID)).Err(); err != nil {
		return fmt.Errorf("failed to clear selections: %w", err)
	}
	return nil
}

// RateLimiter is a fixed-window counter per user and action.
type RateLimiter struct {
	rdb    redis.Cmdable
	limit  int
	window time.Duration
}

// NewRateLimiter creates a RateLimiter allowing limit actions per window.
// A non-positive limit disables limiting.
func NewRateLimiter(c *Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: c.rdb, limit: limit, window: window}
}

// Allow counts one action and reports whether it is within the limit.
func (r *RateLimiter) Allow(ctx context.Context, userID int64, action string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	key := fmt.Sprintf(KeyRateLimit, userID, action)

	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if count == 1 {
		r.rdb.Expire(ctx, key, r.window)
	}

	return count <= int64(r.limit), nil
}
