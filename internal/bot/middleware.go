package bot

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-wager-bot/internal/config"
)

// AccessList tracks users who have used the bot in whitelisted groups.
// Seen users may check balances and ledgers in private chat.
type AccessList struct {
	mu    sync.RWMutex
	users map[int64]struct{}
}

// NewAccessList creates an empty AccessList.
func NewAccessList() *AccessList {
	return &AccessList{users: make(map[int64]struct{})}
}

// Allow marks a user as allowed to use private chat.
func (a *AccessList) Allow(userID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[userID] = struct{}{}
}

// Allowed checks if a user is allowed to use private chat.
func (a *AccessList) Allowed(userID int64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.users[userID]
	return ok
}

// WhitelistMiddleware drops updates from chats outside the whitelist.
// Private chats pass once the user has been seen in an allowed group.
func WhitelistMiddleware(cfg *config.Config, access *AccessList) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			sender := c.Sender()

			if chat == nil || sender == nil {
				return nil
			}

			if chat.Type == tele.ChatPrivate {
				if len(cfg.Whitelist.Chats) == 0 || access.Allowed(sender.ID) {
					return next(c)
				}
				log.Debug().
					Int64("user_id", sender.ID).
					Msg("Dropping private update from unseen user")
				return nil
			}

			if !cfg.IsChatAllowed(chat.ID) {
				log.Debug().
					Int64("chat_id", chat.ID).
					Msg("Dropping update from chat outside whitelist")
				return nil
			}

			access.Allow(sender.ID)
			return next(c)
		}
	}
}

// AdminMiddleware restricts a handler group to configured bot admins.
func AdminMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}

			if !cfg.IsAdmin(sender.ID) {
				log.Warn().
					Int64("user_id", sender.ID).
					Str("command", c.Text()).
					Msg("Rejected admin command from non-admin")
				return c.Reply("❌ 权限不足：需要管理员权限")
			}

			return next(c)
		}
	}
}

// MemberRoleFunc returns the sender's role in the chat.
type MemberRoleFunc func(c tele.Context) (tele.MemberStatus, error)

// ChatMemberRole asks Telegram for the sender's membership in the chat.
func ChatMemberRole(c tele.Context) (tele.MemberStatus, error) {
	m, err := c.Bot().ChatMemberOf(c.Chat(), c.Sender())
	if err != nil {
		return "", err
	}
	return m.Role, nil
}

// ManagerMiddleware admits bot admins and the chat's creator or
// administrators. It guards per-chat settings such as the variant and timer.
func ManagerMiddleware(cfg *config.Config, role MemberRoleFunc) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil || c.Chat() == nil {
				return nil
			}
			if cfg.IsAdmin(sender.ID) {
				return next(c)
			}

			r, err := role(c)
			if err != nil {
				log.Warn().Err(err).Int64("user_id", sender.ID).Msg("Failed to check chat role")
				return c.Reply("❌ 无法验证群管理员身份")
			}
			if r != tele.Creator && r != tele.Administrator {
				return c.Reply("❌ 权限不足：需要群管理员权限")
			}
			return next(c)
		}
	}
}

// Limiter counts actions per user in a time window.
type Limiter interface {
	Allow(ctx context.Context, userID int64, action string) (bool, error)
}

// RateLimitMiddleware rejects a user's action once the limiter's quota is
// used up. Limiter failures let the update through.
func RateLimitMiddleware(limiter Limiter, action string) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if limiter == nil || sender == nil {
				return next(c)
			}

			ok, err := limiter.Allow(context.Background(), sender.ID, action)
			if err != nil {
				log.Warn().Err(err).Int64("user_id", sender.ID).Msg("Rate limiter unavailable")
				return next(c)
			}
			if !ok {
				if c.Callback() != nil {
					return c.Respond(&tele.CallbackResponse{Text: "⏰ 操作太频繁，请稍后再试"})
				}
				return c.Reply("⏰ 操作太频繁，请稍后再试")
			}
			return next(c)
		}
	}
}

// LoggingMiddleware logs every update at debug level.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			chat := c.Chat()

			logEvent := log.Debug()
			if sender != nil {
				logEvent = logEvent.
					Int64("user_id", sender.ID).
					Str("username", sender.Username)
			}
			if chat != nil {
				logEvent = logEvent.
					Int64("chat_id", chat.ID).
					Str("chat_type", string(chat.Type))
			}
			logEvent.
				Str("text", c.Text()).
				Msg("Received message")

			return next(c)
		}
	}
}

// RecoveryMiddleware turns a handler panic into an error reply.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("text", c.Text()).
						Msg("Handler panicked")
					err = c.Reply("❌ 发生内部错误，请稍后重试")
				}
			}()
			return next(c)
		}
	}
}
