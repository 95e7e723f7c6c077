package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"telegram-wager-bot/internal/config"
	"telegram-wager-bot/internal/game"
	"telegram-wager-bot/internal/model"
	"telegram-wager-bot/internal/pkg/lock"
	"telegram-wager-bot/internal/repository"
)

// userLockTimeout bounds how long a stake waits behind the same user's
// previous one.
const userLockTimeout = 3 * time.Second

// Scheduler arms a deferred resolution for a round.
type Scheduler interface {
	Arm(roundID int64)
}

// StakeRequest is one stake command. Tokens may hold several
// space-separated rate tokens that share the same amount.
type StakeRequest struct {
	UserID    int64
	ChatID    int64
	RoundID   int64 // 0 targets the chat's current round
	RawAmount string
	Tokens    string
	Repeat    int  // rounds to play, including this one
	FromAuto  bool // replayed from the auto-stake queue
}

// Placement is the result of staking on one token.
type Placement struct {
	Token  string
	Amount int64 // accepted amount
	Total  int64 // user's accumulated stake on the token
	Err    error
}

// StakeService accepts stakes against the current round of a chat.
type StakeService struct {
	store     *repository.Store
	rounds    *RoundService
	registry  *game.Registry
	cfg       *config.Config
	notifier  Notifier
	scheduler Scheduler
	users     *lock.KeyLock
	now       func() time.Time
}

// NewStakeService creates a new StakeService instance. notifier may be nil.
func NewStakeService(store *repository.Store, rounds *RoundService, registry *game.Registry, cfg *config.Config, notifier Notifier) *StakeService {
	return &StakeService{
		store:    store,
		rounds:   rounds,
		registry: registry,
		cfg:      cfg,
		notifier: notifier,
		users:    lock.NewKeyLock(),
		now:      time.Now,
	}
}

// SetScheduler wires the settlement coordinator that resolves armed rounds.
func (s *StakeService) SetScheduler(sch Scheduler) {
	s.scheduler = sch
}

// Accept validates and commits a stake request. Each token is accepted or
// rejected on its own and reported in the returned placements. The error
// is non-nil for request-level failures, for a rejected single-token
// request, and when every token of a multi-token request was rejected.
func (s *StakeService) Accept(ctx context.Context, req StakeRequest) ([]Placement, error) {
	tokens := model.SplitTokens(req.Tokens)
	if len(tokens) == 0 {
		return nil, ErrInvalidRateToken
	}
	if req.Repeat < 1 {
		req.Repeat = 1
	}

	chat, err := s.store.Chats.Get(ctx, req.ChatID)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			return nil, ErrStaleRound
		}
		return nil, err
	}
	if chat.CurrentRoundID == nil {
		return nil, ErrStaleRound
	}
	roundID := req.RoundID
	if roundID == 0 {
		roundID = *chat.CurrentRoundID
	}
	if roundID != *chat.CurrentRoundID {
		return nil, ErrStaleRound
	}

	round, err := s.store.Rounds.GetByID(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if !round.Active || round.State != model.SettlementUnset {
		return nil, ErrStaleRound
	}
	v, err := s.registry.Lookup(round.Variant)
	if err != nil {
		return nil, err
	}

	placements := make([]Placement, 0, len(tokens))
	accepted := false
	for _, token := range tokens {
		p := s.acceptOne(ctx, req, chat, round, v, token)
		placements = append(placements, p)
		if p.Err == nil {
			accepted = true
			continue
		}
		if !IsValidation(p.Err) {
			return placements, p.Err
		}
	}

	if accepted && round.ResolvesAt == nil {
		s.arm(ctx, round, chat)
	}
	return placements, placementsError(placements)
}

func (s *StakeService) acceptOne(ctx context.Context, req StakeRequest, chat *model.Chat, round *model.Round, v game.Variant, token string) Placement {
	p := Placement{Token: token}
	if !game.HasToken(v, token) {
		p.Err = ErrInvalidRateToken
		return p
	}
	raw, isMax, err := ParseAmount(req.RawAmount)
	if err != nil {
		p.Err = err
		return p
	}
	limit := game.EventCap(s.cfg.Rounds.MaxEventPayout, v.MaxMultiplier(token))

	amount, total, err := s.commit(ctx, req, chat, round, v, token, raw, isMax, limit)
	if err != nil {
		p.Err = err
		return p
	}
	p.Amount = amount
	p.Total = total

	log.Info().
		Int64("user_id", req.UserID).
		Int64("chat_id", req.ChatID).
		Int64("round_id", round.ID).
		Str("token", token).
		Int64("amount", amount).
		Bool("auto", req.FromAuto).
		Msg("Stake accepted")
	s.auditStake(ctx, req, round, token, amount)
	return p
}

// commit validates and writes one stake in a single transaction. The round
// row is share-locked so settlement's claim waits for in-flight stakes, and
// the staker's user row is locked before their held stakes are read, so
// concurrent stakes by one user see each other for the hedge, cap and
// funds checks.
func (s *StakeService) commit(ctx context.Context, req StakeRequest, chat *model.Chat, round *model.Round, v game.Variant, token string, raw int64, isMax bool, limit int64) (amount, total int64, err error) {
	if err := s.users.LockWithTimeout(ctx, req.UserID, userLockTimeout); err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return 0, 0, ErrBusy
		}
		return 0, 0, err
	}
	defer s.users.Unlock(req.UserID)

	err = s.store.InTx(ctx, func(tx *repository.Store) error {
		r, err := tx.Rounds.GetForShare(ctx, round.ID)
		if err != nil {
			return err
		}
		if !r.Active || r.State != model.SettlementUnset {
			return ErrStaleRound
		}

		ids := []int64{req.UserID}
		if chat.OwnerID != 0 && chat.OwnerID != req.UserID {
			ids = append(ids, chat.OwnerID)
		}
		locked, err := tx.Users.LockForUpdate(ctx, ids...)
		if err != nil {
			return err
		}
		user, ok := locked[req.UserID]
		if !ok {
			return ErrInsufficientFunds
		}

		held, err := tx.Stakes.ListByUserRound(ctx, req.UserID, r.ID)
		if err != nil {
			return err
		}
		var existing int64
		others := make([]string, 0, len(held))
		for _, h := range held {
			if h.Token == token {
				existing = h.Amount
				continue
			}
			others = append(others, h.Token)
		}

		repeat := int64(req.Repeat)
		amount = raw
		if isMax {
			amount = limit - existing
			if !req.FromAuto && amount > user.Balance/repeat {
				amount = user.Balance / repeat
			}
		}

		if amount < s.cfg.Rounds.MinStake {
			return ErrBelowMinimum
		}
		if !req.FromAuto && amount > user.Balance/repeat {
			return ErrInsufficientFunds
		}
		if v.IsOpposing(token, others) {
			return ErrOpposingStake
		}
		if amount > limit-existing {
			return ErrLimitExceeded
		}
		if s.closing(r) {
			return ErrRoundClosing
		}

		revenue := int64(0)
		if _, ownerExists := locked[chat.OwnerID]; ownerExists && chat.OwnerID != req.UserID && !user.IsPrivileged {
			revenue = game.Share(amount, s.cfg.RevenuePercent(chat.Tier))
		}

		stake, err := tx.Stakes.Upsert(ctx, &model.Stake{
			UserID:       req.UserID,
			RoundID:      r.ID,
			ChatID:       r.ChatID,
			Token:        token,
			Amount:       amount,
			OwnerRevenue: revenue,
		}, limit)
		if err != nil {
			if errors.Is(err, repository.ErrStakeLimit) {
				return ErrLimitExceeded
			}
			return err
		}

		if _, err := tx.Users.Debit(ctx, req.UserID, amount); err != nil {
			if errors.Is(err, repository.ErrInsufficientBalance) || errors.Is(err, repository.ErrNegativeBalance) {
				log.Warn().Err(err).
					Int64("user_id", req.UserID).
					Int64("round_id", r.ID).
					Int64("amount", amount).
					Msg("Debit guard rejected stake")
				return ErrInsufficientFunds
			}
			return err
		}
		if revenue > 0 {
			if _, err := tx.Users.Credit(ctx, chat.OwnerID, revenue); err != nil {
				return err
			}
			desc := fmt.Sprintf("revenue from %d on %s", req.UserID, token)
			if _, err := tx.Transactions.Create(ctx, chat.OwnerID, revenue, model.TxTypeOwnerRevenue, &r.ID, &desc); err != nil {
				return err
			}
		}

		desc := fmt.Sprintf("stake on %s", token)
		if _, err := tx.Transactions.Create(ctx, req.UserID, -amount, model.TxTypeStake, &r.ID, &desc); err != nil {
			return err
		}
		if err := tx.Users.SetLastStake(ctx, req.UserID, amount); err != nil {
			return err
		}

		if req.Repeat > 1 && !req.FromAuto {
			if _, err := tx.AutoStakes.Upsert(ctx, &model.AutoStake{
				UserID:    req.UserID,
				ChatID:    r.ChatID,
				Token:     token,
				Amount:    amount,
				Variant:   r.Variant,
				Remaining: req.Repeat - 1,
			}); err != nil {
				return err
			}
		}

		total = stake.Amount
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return amount, total, nil
}

// closing reports whether the round is too close to its deadline to take
// stakes. An idle round is never closing.
func (s *StakeService) closing(r *model.Round) bool {
	remaining, ok := r.Remaining(s.now())
	return ok && remaining < s.cfg.Rounds.ClosingThreshold
}

// arm starts the timer of an idle round after its first stake.
func (s *StakeService) arm(ctx context.Context, round *model.Round, chat *model.Chat) {
	armed, err := s.store.Rounds.Arm(ctx, round.ID, s.now().Add(chat.Timer()))
	if err != nil {
		log.Error().Err(err).Int64("round_id", round.ID).Msg("Failed to arm round")
		return
	}
	if !armed {
		return
	}
	log.Debug().Int64("round_id", round.ID).Int64("chat_id", chat.ChatID).Msg("Round armed by first stake")
	if s.scheduler != nil {
		s.scheduler.Arm(round.ID)
	}
}

func (s *StakeService) auditStake(ctx context.Context, req StakeRequest, round *model.Round, token string, amount int64) {
	if s.cfg.Audit.StakeThreshold <= 0 || amount < s.cfg.Audit.StakeThreshold {
		return
	}
	log.Warn().
		Bool("audit", true).
		Int64("user_id", req.UserID).
		Int64("chat_id", req.ChatID).
		Int64("round_id", round.ID).
		Str("token", token).
		Int64("amount", amount).
		Msg("Large stake")
	if s.notifier == nil || s.cfg.Audit.ChatID == 0 {
		return
	}
	text := fmt.Sprintf("[审计] 大额下注\n用户: %d\n群组: %d\n局号: #%d\n选项: %s\n金额: %d",
		req.UserID, req.ChatID, round.ID, token, amount)
	if err := s.notifier.SendMessage(ctx, s.cfg.Audit.ChatID, text); err != nil {
		log.Warn().Err(err).Msg("Failed to send audit message")
	}
}

func placementsError(placements []Placement) error {
	if len(placements) == 1 {
		return placements[0].Err
	}
	for _, p := range placements {
		if p.Err == nil {
			return nil
		}
	}
	return placements[0].Err
}

// RepeatLast re-submits the user's stakes from their previous round in the
// chat against the current round, queueing rounds-1 further replays.
func (s *StakeService) RepeatLast(ctx context.Context, userID, chatID int64, rounds int) ([]Placement, error) {
	current, err := s.rounds.CreateOrGet(ctx, chatID)
	if err != nil {
		return nil, err
	}
	lastID, ok, err := s.store.Stakes.LastRoundForUser(ctx, userID, chatID, current.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNothingToRepeat
	}
	previous, err := s.store.Stakes.ListByUserRound(ctx, userID, lastID)
	if err != nil {
		return nil, err
	}
	if len(previous) == 0 {
		return nil, ErrNothingToRepeat
	}

	var placements []Placement
	for _, st := range previous {
		ps, err := s.Accept(ctx, StakeRequest{
			UserID:    userID,
			ChatID:    chatID,
			RoundID:   current.ID,
			RawAmount: strconv.FormatInt(st.Amount, 10),
			Tokens:    st.Token,
			Repeat:    rounds,
		})
		placements = append(placements, ps...)
		if err != nil && !IsValidation(err) {
			return placements, err
		}
	}
	return placements, placementsError(placements)
}

// CancelAuto drops every queued replay of the user in the chat.
func (s *StakeService) CancelAuto(ctx context.Context, userID, chatID int64) (int64, error) {
	return s.store.AutoStakes.DeleteByUserChat(ctx, userID, chatID)
}

// Replay applies the chat's auto-stake queue to roundID. Entries for another
// variant or rejected by validation are dropped; accepted ones are
// decremented and removed once exhausted.
func (s *StakeService) Replay(ctx context.Context, chatID, roundID int64) {
	entries, err := s.store.AutoStakes.ListByChat(ctx, chatID)
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to load auto stakes")
		return
	}
	if len(entries) == 0 {
		return
	}
	round, err := s.store.Rounds.GetByID(ctx, roundID)
	if err != nil {
		log.Error().Err(err).Int64("round_id", roundID).Msg("Failed to load round for replay")
		return
	}

	var placed []Placement
	for _, e := range entries {
		logger := log.With().Int64("user_id", e.UserID).Int64("chat_id", chatID).Str("token", e.Token).Logger()
		if e.Variant != round.Variant {
			if err := s.store.AutoStakes.Delete(ctx, e.ID); err != nil {
				logger.Error().Err(err).Msg("Failed to drop auto stake")
			}
			continue
		}

		ps, err := s.Accept(ctx, StakeRequest{
			UserID:    e.UserID,
			ChatID:    chatID,
			RoundID:   roundID,
			RawAmount: strconv.FormatInt(e.Amount, 10),
			Tokens:    e.Token,
			Repeat:    1,
			FromAuto:  true,
		})
		if err != nil {
			if IsValidation(err) {
				logger.Info().Err(err).Msg("Auto stake rejected, dropping entry")
				if err := s.store.AutoStakes.Delete(ctx, e.ID); err != nil {
					logger.Error().Err(err).Msg("Failed to drop auto stake")
				}
				continue
			}
			logger.Error().Err(err).Msg("Failed to replay auto stake")
			continue
		}
		placed = append(placed, ps...)
		if _, err := s.store.AutoStakes.Decrement(ctx, e.ID); err != nil {
			logger.Error().Err(err).Msg("Failed to decrement auto stake")
		}
	}

	if len(placed) > 0 && s.notifier != nil {
		text := "🔁 自动下注\n" + FormatPlacements(placed)
		if err := s.notifier.SendMessage(ctx, chatID, text); err != nil {
			log.Warn().Err(err).Int64("chat_id", chatID).Msg("Failed to send replay summary")
		}
	}
}
