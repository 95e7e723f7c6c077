package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"telegram-wager-bot/internal/config"
	"telegram-wager-bot/internal/game"
	"telegram-wager-bot/internal/model"
	"telegram-wager-bot/internal/repository"
)

// Timer bounds for SetTimer.
const (
	MinTimerSeconds = 10
	MaxTimerSeconds = 3600
)

// SelectionClearer drops per-chat UI selections after a variant switch.
type SelectionClearer interface {
	ClearChat(ctx context.Context, chatID int64) error
}

// RoundService owns round creation and the chat-to-round link.
type RoundService struct {
	store      *repository.Store
	registry   *game.Registry
	cfg        *config.Config
	selections SelectionClearer
	now        func() time.Time
}

// NewRoundService creates a new RoundService instance. selections may be nil.
func NewRoundService(store *repository.Store, registry *game.Registry, cfg *config.Config, selections SelectionClearer) *RoundService {
	return &RoundService{
		store:      store,
		registry:   registry,
		cfg:        cfg,
		selections: selections,
		now:        time.Now,
	}
}

// EnsureChat registers a chat with the default variant and timer.
func (s *RoundService) EnsureChat(ctx context.Context, chatID, ownerID int64) (*model.Chat, error) {
	chat, err := s.store.Chats.Ensure(ctx, &model.Chat{
		ChatID:       chatID,
		OwnerID:      ownerID,
		Variant:      s.cfg.Rounds.DefaultVariant,
		TimerSeconds: s.cfg.Rounds.TimerSeconds,
		Tier:         "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure chat: %w", err)
	}
	return chat, nil
}

// CreateOrGet returns the chat's current round, creating an idle one if the
// chat has none.
func (s *RoundService) CreateOrGet(ctx context.Context, chatID int64) (*model.Round, error) {
	chat, err := s.store.Chats.Get(ctx, chatID)
	if errors.Is(err, repository.ErrChatNotFound) {
		chat, err = s.EnsureChat(ctx, chatID, 0)
	}
	if err != nil {
		return nil, err
	}
	if chat.CurrentRoundID != nil {
		round, err := s.store.Rounds.GetByID(ctx, *chat.CurrentRoundID)
		if err != nil {
			return nil, err
		}
		if round.Active {
			return round, nil
		}
	}

	var round *model.Round
	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		c, err := tx.Chats.GetForUpdate(ctx, chatID)
		if err != nil {
			return err
		}
		if c.CurrentRoundID != nil {
			cur, err := tx.Rounds.GetByID(ctx, *c.CurrentRoundID)
			if err != nil {
				return err
			}
			if cur.Active {
				round = cur
				return nil
			}
		}
		round, err = s.newRound(ctx, tx, chatID, c.Variant, nil)
		if err != nil {
			return err
		}
		return tx.Chats.SetCurrentRound(ctx, chatID, round.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create round: %w", err)
	}
	return round, nil
}

// newRound rolls an outcome, commits to it and persists the round.
func (s *RoundService) newRound(ctx context.Context, tx *repository.Store, chatID int64, tag string, resolvesAt *time.Time) (*model.Round, error) {
	v, err := s.registry.Lookup(tag)
	if err != nil {
		return nil, err
	}
	o, err := v.Roll()
	if err != nil {
		return nil, err
	}
	raw, err := v.EncodeOutcome(o)
	if err != nil {
		return nil, err
	}
	pair := game.NewFairnessPair(v.Tag(), o)

	return tx.Rounds.Create(ctx, &model.Round{
		ChatID:         chatID,
		Variant:        v.Tag(),
		Outcome:        raw,
		FairnessPlain:  pair.Plain,
		FairnessDigest: pair.Digest,
		ResolvesAt:     resolvesAt,
	})
}

// Advance replaces a settled current round with a new one, applying any
// pending variant switch. If the chat has already moved past fromRoundID
// the current round is returned unchanged. With armNext the new round's
// timer starts immediately; otherwise it waits for the first stake.
func (s *RoundService) Advance(ctx context.Context, chatID, fromRoundID int64, armNext bool) (*model.Round, error) {
	var next *model.Round
	switched := false

	err := s.store.InTx(ctx, func(tx *repository.Store) error {
		chat, err := tx.Chats.GetForUpdate(ctx, chatID)
		if err != nil {
			return err
		}
		if chat.CurrentRoundID != nil && *chat.CurrentRoundID != fromRoundID {
			next, err = tx.Rounds.GetByID(ctx, *chat.CurrentRoundID)
			return err
		}

		tag := chat.Variant
		if chat.PendingVariant != nil {
			if _, ok := s.registry.Get(*chat.PendingVariant); ok {
				tag = *chat.PendingVariant
				switched = tag != chat.Variant
			}
			if err := tx.Chats.ApplyVariant(ctx, chatID, tag); err != nil {
				return err
			}
		}

		var at *time.Time
		if armNext {
			t := s.now().Add(chat.Timer())
			at = &t
		}
		next, err = s.newRound(ctx, tx, chatID, tag, at)
		if err != nil {
			return err
		}
		return tx.Chats.SetCurrentRound(ctx, chatID, next.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to advance chat %d: %w", chatID, err)
	}

	if switched {
		s.clearSelections(ctx, chatID)
	}
	log.Debug().Int64("chat_id", chatID).Int64("round_id", next.ID).Str("variant", next.Variant).Msg("Chat advanced to new round")
	return next, nil
}

// RequestVariantSwitch schedules a variant change. An idle round (no timer,
// no stakes) is replaced at once; otherwise the switch applies when the
// current round settles. applied reports an immediate switch.
func (s *RoundService) RequestVariantSwitch(ctx context.Context, chatID int64, tag string) (applied bool, err error) {
	if _, err := s.registry.Lookup(tag); err != nil {
		return false, err
	}
	if _, err := s.CreateOrGet(ctx, chatID); err != nil {
		return false, err
	}

	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		chat, err := tx.Chats.GetForUpdate(ctx, chatID)
		if err != nil {
			return err
		}
		if chat.CurrentRoundID == nil {
			return tx.Chats.ApplyVariant(ctx, chatID, tag)
		}
		// Exclusive so no stake can commit between the empty check and
		// closing the round.
		cur, err := tx.Rounds.GetForUpdate(ctx, *chat.CurrentRoundID)
		if err != nil {
			return err
		}
		stakes, err := tx.Stakes.ListByRound(ctx, cur.ID)
		if err != nil {
			return err
		}
		if !cur.Active || cur.ResolvesAt != nil || len(stakes) > 0 {
			return tx.Chats.SetPendingVariant(ctx, chatID, tag)
		}

		if err := tx.Rounds.Settle(ctx, cur.ID, 0); err != nil {
			return err
		}
		if err := tx.Chats.ApplyVariant(ctx, chatID, tag); err != nil {
			return err
		}
		next, err := s.newRound(ctx, tx, chatID, tag, nil)
		if err != nil {
			return err
		}
		applied = true
		return tx.Chats.SetCurrentRound(ctx, chatID, next.ID)
	})
	if err != nil {
		return false, fmt.Errorf("failed to switch variant: %w", err)
	}

	if applied {
		s.clearSelections(ctx, chatID)
	}
	log.Info().Int64("chat_id", chatID).Str("variant", tag).Bool("applied", applied).Msg("Variant switch requested")
	return applied, nil
}

// SetTimer changes the round length used by future rounds.
func (s *RoundService) SetTimer(ctx context.Context, chatID int64, seconds int) error {
	if seconds < MinTimerSeconds || seconds > MaxTimerSeconds {
		return ErrInvalidTimer
	}
	if _, err := s.CreateOrGet(ctx, chatID); err != nil {
		return err
	}
	return s.store.Chats.SetTimer(ctx, chatID, seconds)
}

// SetOwner assigns the chat's revenue owner and tier.
func (s *RoundService) SetOwner(ctx context.Context, chatID, ownerID int64, tier string) error {
	if _, ok := s.cfg.Revenue.Tiers[tier]; !ok {
		return fmt.Errorf("unknown revenue tier %q", tier)
	}
	if _, err := s.CreateOrGet(ctx, chatID); err != nil {
		return err
	}
	if err := s.store.Chats.SetOwner(ctx, chatID, ownerID, tier); err != nil {
		return err
	}
	log.Info().Int64("chat_id", chatID).Int64("owner_id", ownerID).Str("tier", tier).Msg("Chat owner set")
	return nil
}

// History returns the chat's most recent settled rounds.
func (s *RoundService) History(ctx context.Context, chatID int64, limit int) ([]*model.Round, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	return s.store.Rounds.ListSettledByChat(ctx, chatID, limit)
}

// Variant returns the strategy of a round.
func (s *RoundService) Variant(round *model.Round) (game.Variant, error) {
	return s.registry.Lookup(round.Variant)
}

func (s *RoundService) clearSelections(ctx context.Context, chatID int64) {
	if s.selections == nil {
		return
	}
	if err := s.selections.ClearChat(ctx, chatID); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to clear chat selections")
	}
}
