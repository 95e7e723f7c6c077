package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-wager-bot/internal/model"
	"telegram-wager-bot/internal/pkg/dbtest"
	"telegram-wager-bot/internal/repository"
)

func setupStore(t *testing.T) *repository.Store {
	return repository.NewStore(dbtest.Setup(t))
}

func seedRound(t *testing.T, ctx context.Context, store *repository.Store, chatID int64) *model.Round {
	t.Helper()
	_, err := store.Chats.Ensure(ctx, &model.Chat{ChatID: chatID, Variant: "roulette", TimerSeconds: 60, Tier: "basic"})
	require.NoError(t, err)

	round, err := store.Rounds.Create(ctx, &model.Round{
		ChatID:         chatID,
		Variant:        "roulette",
		Outcome:        []byte(`{"number":7}`),
		FairnessPlain:  "roulette|7|secret",
		FairnessDigest: "0000000000000000000000000000000000000000000000000000000000000000",
	})
	require.NoError(t, err)
	require.NoError(t, store.Chats.SetCurrentRound(ctx, chatID, round.ID))
	return round
}

func TestUserRepository_GetOrCreate(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	user, created, err := store.Users.GetOrCreate(ctx, 1, "alice", false, 1000)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1000), user.Balance)
	assert.False(t, user.IsPrivileged)

	// second call keeps the balance and can only raise the privileged flag
	user, created, err = store.Users.GetOrCreate(ctx, 1, "alice2", true, 5000)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(1000), user.Balance)
	assert.Equal(t, "alice2", user.Username)
	assert.True(t, user.IsPrivileged)

	user, _, err = store.Users.GetOrCreate(ctx, 1, "alice2", false, 0)
	require.NoError(t, err)
	assert.True(t, user.IsPrivileged)

	_, err = store.Users.GetByID(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func TestUserRepository_DebitGuard(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, _, err := store.Users.GetOrCreate(ctx, 1, "alice", false, 100)
	require.NoError(t, err)

	balance, err := store.Users.Debit(ctx, 1, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	_, err = store.Users.Debit(ctx, 1, 41)
	assert.ErrorIs(t, err, repository.ErrInsufficientBalance)

	_, err = store.Users.Debit(ctx, 2, 1)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	balance, err = store.Users.Credit(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

// Concurrent debits never overdraw: exactly balance/amount of them succeed.
func TestUserRepository_ConcurrentDebit(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, _, err := store.Users.GetOrCreate(ctx, 1, "alice", false, 1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Users.Debit(ctx, 1, 100); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	user, err := store.Users.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), user.Balance)
}

func TestStakeRepository_Accumulates(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, _, err := store.Users.GetOrCreate(ctx, 1, "alice", false, 1000)
	require.NoError(t, err)
	round := seedRound(t, ctx, store, -100)

	stake := &model.Stake{UserID: 1, RoundID: round.ID, ChatID: -100, Token: "red", Amount: 100, OwnerRevenue: 1}
	_, err = store.Stakes.Upsert(ctx, stake, 1_000_000)
	require.NoError(t, err)

	stake.Amount = 50
	out, err := store.Stakes.Upsert(ctx, stake, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(150), out.Amount)
	assert.Equal(t, int64(2), out.OwnerRevenue)

	stakes, err := store.Stakes.ListByRound(ctx, round.ID)
	require.NoError(t, err)
	require.Len(t, stakes, 1)
	assert.Equal(t, int64(150), stakes[0].Amount)
}

func TestStakeRepository_Cap(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, _, err := store.Users.GetOrCreate(ctx, 1, "alice", false, 1000)
	require.NoError(t, err)
	round := seedRound(t, ctx, store, -100)

	stake := &model.Stake{UserID: 1, RoundID: round.ID, ChatID: -100, Token: "1-6", Amount: 2_000_001}
	_, err = store.Stakes.Upsert(ctx, stake, 2_000_000)
	assert.ErrorIs(t, err, repository.ErrStakeLimit)

	stake.Amount = 1_500_000
	_, err = store.Stakes.Upsert(ctx, stake, 2_000_000)
	require.NoError(t, err)

	stake.Amount = 500_001
	_, err = store.Stakes.Upsert(ctx, stake, 2_000_000)
	assert.ErrorIs(t, err, repository.ErrStakeLimit)

	stakes, err := store.Stakes.ListByUserRound(ctx, 1, round.ID)
	require.NoError(t, err)
	require.Len(t, stakes, 1)
	assert.Equal(t, int64(1_500_000), stakes[0].Amount)
}

func TestRoundRepository_Sentinel(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	round := seedRound(t, ctx, store, -100)

	assert.Equal(t, model.SettlementUnset, round.State)
	assert.True(t, round.Active)
	assert.Nil(t, round.ResolvesAt)

	first, err := store.Rounds.Claim(ctx, round.ID)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = store.Rounds.Claim(ctx, round.ID)
	require.NoError(t, err)
	assert.False(t, first, "retry of a claimed round is not first")

	require.NoError(t, store.Rounds.Settle(ctx, round.ID, -250))
	assert.ErrorIs(t, store.Rounds.Settle(ctx, round.ID, 0), repository.ErrRoundSettled)

	_, err = store.Rounds.Claim(ctx, round.ID)
	assert.ErrorIs(t, err, repository.ErrRoundSettled)

	got, err := store.Rounds.GetByID(ctx, round.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSettled())
	assert.False(t, got.Active)
	require.NotNil(t, got.HouseIncome)
	assert.Equal(t, int64(-250), *got.HouseIncome)

	_, err = store.Rounds.Claim(ctx, 424242)
	assert.ErrorIs(t, err, repository.ErrRoundNotFound)
}

func TestRoundRepository_ConcurrentClaim(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	round := seedRound(t, ctx, store, -100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	firsts := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := store.Rounds.Claim(ctx, round.ID)
			if err == nil && first {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, firsts)
}

func TestRoundRepository_ArmAndList(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	round := seedRound(t, ctx, store, -100)

	at := time.Now().Add(time.Minute).Truncate(time.Microsecond)
	armed, err := store.Rounds.Arm(ctx, round.ID, at)
	require.NoError(t, err)
	assert.True(t, armed)

	armed, err = store.Rounds.Arm(ctx, round.ID, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, armed, "an armed round keeps its deadline")

	active, err := store.Rounds.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NotNil(t, active[0].ResolvesAt)
	assert.True(t, at.Equal(*active[0].ResolvesAt))

	require.NoError(t, store.Rounds.Settle(ctx, round.ID, 0))
	active, err = store.Rounds.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := store.Rounds.ListSettledByChat(ctx, -100, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	stalled, err := store.Chats.ListWithInactiveCurrent(ctx)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	assert.Equal(t, int64(-100), stalled[0].ChatID)
}

func TestPayoutRepository_MarkOnce(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, _, err := store.Users.GetOrCreate(ctx, 1, "alice", false, 0)
	require.NoError(t, err)
	round := seedRound(t, ctx, store, -100)

	inserted, err := store.Payouts.Mark(ctx, round.ID, 1, 200)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Payouts.Mark(ctx, round.ID, 1, 200)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestStore_InTxRollsBack(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, _, err := store.Users.GetOrCreate(ctx, 1, "alice", false, 100)
	require.NoError(t, err)

	err = store.InTx(ctx, func(tx *repository.Store) error {
		if _, err := tx.Users.Debit(ctx, 1, 60); err != nil {
			return err
		}
		_, err := tx.Users.Debit(ctx, 1, 60)
		return err
	})
	assert.ErrorIs(t, err, repository.ErrInsufficientBalance)

	user, err := store.Users.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.Balance, "first debit rolled back")
}

func TestAutoStakeRepository(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, _, err := store.Users.GetOrCreate(ctx, 1, "alice", false, 0)
	require.NoError(t, err)

	a, err := store.AutoStakes.Upsert(ctx, &model.AutoStake{UserID: 1, ChatID: -100, Token: "red", Amount: 10, Variant: "roulette", Remaining: 2})
	require.NoError(t, err)

	left, err := store.AutoStakes.Decrement(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	left, err = store.AutoStakes.Decrement(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	queued, err := store.AutoStakes.ListByChat(ctx, -100)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestStatsRepository_Rollover(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, _, err := store.Users.GetOrCreate(ctx, 1, "alice", false, 0)
	require.NoError(t, err)

	monday := time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Stats.Apply(ctx, repository.StatsDelta{UserID: 1, Won: 100, Stakes: 1, Points: 50}, monday))
	require.NoError(t, store.Stats.Apply(ctx, repository.StatsDelta{UserID: 1, Lost: 30, Stakes: 1}, monday.Add(time.Hour)))

	s, err := store.Stats.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), s.DayWon)
	assert.Equal(t, int64(30), s.DayLost)
	assert.Equal(t, int64(2), s.DayStakes)

	// next day keeps the week, resets the day
	require.NoError(t, store.Stats.Apply(ctx, repository.StatsDelta{UserID: 1, Won: 5, Stakes: 1}, monday.AddDate(0, 0, 1)))
	s, err = store.Stats.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.DayWon)
	assert.Equal(t, int64(105), s.WeekWon)
	assert.Equal(t, int64(105), s.TotalWon)
	assert.Equal(t, int64(3), s.TotalStakes)
	assert.Equal(t, int64(50), s.TotalPoints)

	empty, err := store.Stats.Get(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalWon)
}

func TestWeekKey(t *testing.T) {
	sunday := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), repository.WeekKey(sunday))
	monday := time.Date(2026, 10, 19, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), repository.WeekKey(monday))
}

func TestUserRepository_LockForUpdate(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	for _, id := range []int64{1, 3} {
		_, _, err := store.Users.GetOrCreate(ctx, id, "", false, 100)
		require.NoError(t, err)
	}

	debited := make(chan struct{})
	err := store.InTx(ctx, func(tx *repository.Store) error {
		users, err := tx.Users.LockForUpdate(ctx, 3, 1, 2)
		require.NoError(t, err)
		assert.Len(t, users, 2)
		assert.Contains(t, users, int64(1))
		assert.Contains(t, users, int64(3))

		go func() {
			defer close(debited)
			_, err := store.Users.Debit(ctx, 1, 10)
			assert.NoError(t, err)
		}()
		select {
		case <-debited:
			t.Error("debit ran while the row was locked")
		case <-time.After(100 * time.Millisecond):
		}
		return nil
	})
	require.NoError(t, err)

	<-debited
	user, err := store.Users.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(90), user.Balance)
}

// A share-locked read waiting behind GetForUpdate sees the round as the
// exclusive transaction left it.
func TestRoundRepository_GetForUpdateBlocksShare(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	round := seedRound(t, ctx, store, -100)

	seen := make(chan *model.Round, 1)
	err := store.InTx(ctx, func(tx *repository.Store) error {
		_, err := tx.Rounds.GetForUpdate(ctx, round.ID)
		require.NoError(t, err)

		go func() {
			_ = store.InTx(ctx, func(other *repository.Store) error {
				r, err := other.Rounds.GetForShare(ctx, round.ID)
				if err != nil {
					seen <- nil
					return err
				}
				seen <- r
				return nil
			})
		}()
		time.Sleep(100 * time.Millisecond)
		return tx.Rounds.Settle(ctx, round.ID, 0)
	})
	require.NoError(t, err)

	got := <-seen
	require.NotNil(t, got)
	assert.True(t, got.IsSettled())
	assert.False(t, got.Active)

	_, err = store.Rounds.GetForUpdate(ctx, 424242)
	assert.ErrorIs(t, err, repository.ErrRoundNotFound)
}
