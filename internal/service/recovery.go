package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Recover re-arms every active round after a restart. Rounds without a
// deadline get one from their chat's timer; past deadlines resolve at
// once. Chats left pointing at a settled round are advanced first.
// It returns the number of rounds armed.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	active, err := c.store.Rounds.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active rounds: %w", err)
	}

	stalled, err := c.store.Chats.ListWithInactiveCurrent(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load stalled chats: %w", err)
	}
	for _, chat := range stalled {
		next, err := c.rounds.Advance(ctx, chat.ChatID, *chat.CurrentRoundID, false)
		if err != nil {
			log.Error().Err(err).Int64("chat_id", chat.ChatID).Msg("Failed to advance stalled chat")
			continue
		}
		log.Info().Int64("chat_id", chat.ChatID).Int64("round_id", next.ID).Msg("Advanced stalled chat")
		c.replay(ctx, chat.ChatID, next.ID)
	}

	armed := 0
	for _, round := range active {
		if round.ResolvesAt == nil {
			chat, err := c.store.Chats.Get(ctx, round.ChatID)
			if err != nil {
				log.Error().Err(err).Int64("round_id", round.ID).Msg("Failed to load chat for recovery")
				continue
			}
			if _, err := c.store.Rounds.Arm(ctx, round.ID, c.now().Add(chat.Timer())); err != nil {
				log.Error().Err(err).Int64("round_id", round.ID).Msg("Failed to arm recovered round")
				continue
			}
		}
		c.Arm(round.ID)
		armed++
	}

	log.Info().Int("rounds", armed).Int("stalled_chats", len(stalled)).Msg("Recovery complete")
	return armed, nil
}
