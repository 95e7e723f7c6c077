package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"telegram-wager-bot/internal/model"
)

const chatColumns = `chat_id, owner_id, variant, pending_variant, timer_seconds, tier, current_round_id, created_at`

// ChatRepository handles chat settings and the chat-to-round link.
type ChatRepository struct {
	db DBTX
}

// NewChatRepository creates a new ChatRepository instance.
func NewChatRepository(db DBTX) *ChatRepository {
	return &ChatRepository{db: db}
}

func scanChat(row pgx.Row) (*model.Chat, error) {
	var c model.Chat
	err := row.Scan(
		&c.ChatID,
		&c.OwnerID,
		&c.Variant,
		&c.PendingVariant,
		&c.TimerSeconds,
		&c.Tier,
		&c.CurrentRoundID,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Ensure returns the chat, creating it with the given settings if missing.
// Existing settings are left untouched.
func (r *ChatRepository) Ensure(ctx context.Context, c *model.Chat) (*model.Chat, error) {
	query := `
		INSERT INTO chats (chat_id, owner_id, variant, timer_seconds, tier, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (chat_id) DO UPDATE SET chat_id = EXCLUDED.chat_id
		RETURNING ` + chatColumns

	chat, err := scanChat(r.db.QueryRow(ctx, query, c.ChatID, c.OwnerID, c.Variant, c.TimerSeconds, c.Tier))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure chat: %w", err)
	}
	return chat, nil
}

// Get retrieves a chat. Returns ErrChatNotFound if it does not exist.
func (r *ChatRepository) Get(ctx context.Context, chatID int64) (*model.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE chat_id = $1`

	chat, err := scanChat(r.db.QueryRow(ctx, query, chatID))
	if err != nil {
		return nil, wrapNoRows(err, ErrChatNotFound, "get chat")
	}
	return chat, nil
}

// GetForUpdate locks the chat row for the rest of the transaction.
// Advancing the current round happens under this lock.
func (r *ChatRepository) GetForUpdate(ctx context.Context, chatID int64) (*model.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE chat_id = $1 FOR UPDATE`

	chat, err := scanChat(r.db.QueryRow(ctx, query, chatID))
	if err != nil {
		return nil, wrapNoRows(err, ErrChatNotFound, "lock chat")
	}
	return chat, nil
}

// SetCurrentRound links the chat to its current round.
func (r *ChatRepository) SetCurrentRound(ctx context.Context, chatID, roundID int64) error {
	return r.exec(ctx, "set current round",
		`UPDATE chats SET current_round_id = $2 WHERE chat_id = $1`, chatID, roundID)
}

// SetOwner assigns the chat owner who earns revenue on stakes, and the
// chat's revenue tier.
func (r *ChatRepository) SetOwner(ctx context.Context, chatID, ownerID int64, tier string) error {
	return r.exec(ctx, "set owner",
		`UPDATE chats SET owner_id = $2, tier = $3 WHERE chat_id = $1`, chatID, ownerID, tier)
}

// SetPendingVariant records a variant switch to apply at the next rollover.
func (r *ChatRepository) SetPendingVariant(ctx context.Context, chatID int64, variant string) error {
	return r.exec(ctx, "set pending variant",
		`UPDATE chats SET pending_variant = $2 WHERE chat_id = $1`, chatID, variant)
}

// ApplyVariant makes variant current and clears any pending switch.
func (r *ChatRepository) ApplyVariant(ctx context.Context, chatID int64, variant string) error {
	return r.exec(ctx, "apply variant",
		`UPDATE chats SET variant = $2, pending_variant = NULL WHERE chat_id = $1`, chatID, variant)
}

// SetTimer changes the round length for future rounds.
func (r *ChatRepository) SetTimer(ctx context.Context, chatID int64, seconds int) error {
	return r.exec(ctx, "set timer",
		`UPDATE chats SET timer_seconds = $2 WHERE chat_id = $1`, chatID, seconds)
}

// ListWithInactiveCurrent returns chats whose current round has already
// been settled, left behind by a crash between settlement and rollover.
func (r *ChatRepository) ListWithInactiveCurrent(ctx context.Context) ([]*model.Chat, error) {
	query := `
		SELECT ` + prefixed("c.", chatColumns) + `
		FROM chats c
		JOIN rounds r ON r.id = c.current_round_id
		WHERE NOT r.active
		ORDER BY c.chat_id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled chats: %w", err)
	}
	defer rows.Close()

	var chats []*model.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chats: %w", err)
	}
	return chats, nil
}

func (r *ChatRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return ErrChatNotFound
	}
	return nil
}
