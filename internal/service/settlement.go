package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"telegram-wager-bot/internal/config"
	"telegram-wager-bot/internal/game"
	"telegram-wager-bot/internal/model"
	"telegram-wager-bot/internal/pkg/lock"
	"telegram-wager-bot/internal/repository"
)

// Failed resolutions are retried in process before being left to Recover.
const (
	resolveAttempts = 3
	resolveBackoff  = 5 * time.Second
)

// Replayer re-applies queued auto stakes to a freshly opened round.
type Replayer interface {
	Replay(ctx context.Context, chatID, roundID int64)
}

// Coordinator resolves rounds at their deadline. Each armed round gets one
// goroutine that sleeps until the deadline and then settles. The persisted
// sentinel makes settlement idempotent; the in-process guard only keeps
// duplicate triggers from doing redundant work.
type Coordinator struct {
	store    *repository.Store
	rounds   *RoundService
	registry *game.Registry
	cfg      *config.Config
	notifier Notifier
	renderer Renderer
	replayer Replayer
	guard    *lock.KeyLock

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a new Coordinator. renderer and replayer may be nil.
func NewCoordinator(store *repository.Store, rounds *RoundService, registry *game.Registry, cfg *config.Config, notifier Notifier, renderer Renderer, replayer Replayer) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:    store,
		rounds:   rounds,
		registry: registry,
		cfg:      cfg,
		notifier: notifier,
		renderer: renderer,
		replayer: replayer,
		guard:    lock.NewKeyLock(),
		now:      time.Now,
		sleep:    sleepContext,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Arm schedules the resolution of a round in the background.
func (c *Coordinator) Arm(roundID int64) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Int64("round_id", roundID).Msg("Panic while resolving round")
			}
		}()

		for attempt := 1; ; attempt++ {
			err := c.Resolve(c.ctx, roundID)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Int64("round_id", roundID).Int("attempt", attempt).Msg("Failed to resolve round")
			if attempt == resolveAttempts {
				return
			}
			if c.sleep(c.ctx, time.Duration(attempt)*resolveBackoff) != nil {
				return
			}
		}
	}()
}

// Stop cancels pending resolutions and waits for running ones to return.
// Rounds left unresolved are picked up by Recover on the next start.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Resolve waits for the round's deadline and settles it. It is safe to
// call any number of times, concurrently or after the round settled.
func (c *Coordinator) Resolve(ctx context.Context, roundID int64) error {
	if !c.guard.TryLock(roundID) {
		log.Debug().Int64("round_id", roundID).Msg("Round already being resolved")
		return nil
	}
	defer c.guard.Unlock(roundID)

	var round *model.Round
	for {
		var err error
		round, err = c.store.Rounds.GetByID(ctx, roundID)
		if err != nil {
			return err
		}
		if round.IsSettled() {
			return nil
		}
		// Idle rounds are armed again by their first stake.
		if round.ResolvesAt == nil {
			return nil
		}
		wait := round.ResolvesAt.Add(-c.cfg.Rounds.RevealDelay).Sub(c.now())
		if wait <= 0 {
			break
		}
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}

	v, err := c.registry.Lookup(round.Variant)
	if err != nil {
		return err
	}

	first, err := c.store.Rounds.Claim(ctx, roundID)
	if errors.Is(err, repository.ErrRoundSettled) {
		return nil
	}
	if err != nil {
		return err
	}
	// The claim waited for in-flight stakes and no new ones are accepted,
	// so this is the final snapshot.
	stakes, err := c.store.Stakes.ListByRound(ctx, roundID)
	if err != nil {
		return err
	}
	switch {
	case !first:
		log.Info().Int64("round_id", roundID).Msg("Resuming claimed round")
	case len(stakes) > 0:
		c.send(ctx, round.ChatID, FormatReveal(round, v))
	}

	if wait := round.ResolvesAt.Sub(c.now()); wait > 0 {
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if err := c.settle(ctx, round, v, stakes); err != nil {
		return fmt.Errorf("failed to settle round %d: %w", roundID, err)
	}
	return nil
}

func (c *Coordinator) settle(ctx context.Context, round *model.Round, v game.Variant, stakes []*model.Stake) error {
	o, err := v.DecodeOutcome(round.Outcome)
	if err != nil {
		return err
	}

	if len(stakes) == 0 {
		if err := c.store.Rounds.Settle(ctx, round.ID, 0); err != nil && !errors.Is(err, repository.ErrRoundSettled) {
			return err
		}
		log.Info().Int64("round_id", round.ID).Int64("chat_id", round.ChatID).Msg("Round closed without stakes")
		next, err := c.rounds.Advance(ctx, round.ChatID, round.ID, false)
		if err != nil {
			return err
		}
		c.replay(ctx, round.ChatID, next.ID)
		return nil
	}

	ids := make([]int64, 0, len(stakes))
	seen := make(map[int64]struct{})
	for _, s := range stakes {
		if _, ok := seen[s.UserID]; !ok {
			seen[s.UserID] = struct{}{}
			ids = append(ids, s.UserID)
		}
	}
	privileged, err := c.store.Users.PrivilegedAmong(ctx, ids)
	if err != nil {
		return err
	}
	calc := Calculate(v, o, stakes, privileged, game.PointsGate{
		CoverageThreshold: c.cfg.Leaderboard.CoverageThreshold,
		HedgeTolerance:    c.cfg.Leaderboard.HedgeTolerance,
	})

	// Each credit commits on its own; the payout marker skips users
	// already paid by an earlier attempt.
	failed := 0
	for _, u := range calc.Winners() {
		if err := c.credit(ctx, round, u); err != nil {
			log.Error().Err(err).
				Int64("round_id", round.ID).
				Int64("user_id", u.UserID).
				Int64("amount", u.Winnings).
				Msg("Failed to credit winnings")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d credits failed", failed, len(calc.Winners()))
	}

	now := c.now()
	err = c.store.InTx(ctx, func(tx *repository.Store) error {
		for _, u := range calc.Users {
			if err := tx.Stats.Apply(ctx, repository.StatsDelta{
				UserID: u.UserID,
				Won:    u.CleanWin,
				Lost:   u.CleanLoss,
				Stakes: u.StakeCount,
				Points: u.Points,
			}, now); err != nil {
				return err
			}
		}
		return tx.Rounds.Settle(ctx, round.ID, calc.HouseIncome)
	})
	if errors.Is(err, repository.ErrRoundSettled) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().
		Int64("round_id", round.ID).
		Int64("chat_id", round.ChatID).
		Str("variant", round.Variant).
		Str("outcome", o.String()).
		Int("stakes", len(stakes)).
		Int64("house_income", calc.HouseIncome).
		Msg("Round settled")
	c.auditWins(ctx, round, calc)

	next, err := c.rounds.Advance(ctx, round.ChatID, round.ID, true)
	if err != nil {
		return err
	}
	c.Arm(next.ID)

	c.sendResult(ctx, round, v, o, calc)
	c.replay(ctx, round.ChatID, next.ID)
	return nil
}

// credit pays one user's winnings together with its payout marker.
func (c *Coordinator) credit(ctx context.Context, round *model.Round, u *UserOutcome) error {
	return c.store.InTx(ctx, func(tx *repository.Store) error {
		inserted, err := tx.Payouts.Mark(ctx, round.ID, u.UserID, u.Winnings)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		if _, err := tx.Users.Credit(ctx, u.UserID, u.Winnings); err != nil {
			return err
		}
		desc := fmt.Sprintf("round #%d winnings", round.ID)
		_, err = tx.Transactions.Create(ctx, u.UserID, u.Winnings, model.TxTypeWin, &round.ID, &desc)
		return err
	})
}

func (c *Coordinator) sendResult(ctx context.Context, round *model.Round, v game.Variant, o game.Outcome, calc *Calculation) {
	names := make(map[int64]string, len(calc.Users))
	for _, u := range calc.Users {
		if user, err := c.store.Users.GetByID(ctx, u.UserID); err == nil {
			names[u.UserID] = user.Username
		}
	}
	c.send(ctx, round.ChatID, FormatResult(round, v, o, calc, func(id int64) string { return names[id] }))

	if c.renderer == nil || c.notifier == nil {
		return
	}
	url, err := c.renderer.ResultImage(v.Tag(), o)
	if err != nil {
		log.Warn().Err(err).Int64("round_id", round.ID).Msg("Failed to render result image")
		return
	}
	if url == "" {
		return
	}
	if err := c.notifier.SendPhoto(ctx, round.ChatID, url, o.String()); err != nil {
		log.Warn().Err(err).Int64("round_id", round.ID).Msg("Failed to send result image")
	}
}

func (c *Coordinator) auditWins(ctx context.Context, round *model.Round, calc *Calculation) {
	threshold := c.cfg.Audit.WinThreshold
	if threshold <= 0 {
		return
	}
	for _, u := range calc.Winners() {
		if u.Winnings < threshold {
			continue
		}
		log.Warn().
			Bool("audit", true).
			Int64("user_id", u.UserID).
			Int64("chat_id", round.ChatID).
			Int64("round_id", round.ID).
			Int64("amount", u.Winnings).
			Msg("Large win")
		if c.cfg.Audit.ChatID != 0 {
			c.send(ctx, c.cfg.Audit.ChatID, fmt.Sprintf("[审计] 大额中奖\n用户: %d\n群组: %d\n局号: #%d\n金额: %d",
				u.UserID, round.ChatID, round.ID, u.Winnings))
		}
	}
}

func (c *Coordinator) replay(ctx context.Context, chatID, roundID int64) {
	if c.replayer != nil {
		c.replayer.Replay(ctx, chatID, roundID)
	}
}

func (c *Coordinator) send(ctx context.Context, chatID int64, text string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.SendMessage(ctx, chatID, text); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
	}
}
