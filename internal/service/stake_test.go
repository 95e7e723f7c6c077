package service

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-wager-bot/internal/model"
)

func TestAccept_AccumulatesStake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, 1)
	round := h.openRound(t, 100, 0)
	require.Nil(t, round.ResolvesAt)

	ps := h.stake(t, 1, 100, "100", "red")
	require.Len(t, ps, 1)
	assert.Equal(t, int64(100), ps[0].Total)

	ps = h.stake(t, 1, 100, "50", "red")
	assert.Equal(t, int64(50), ps[0].Amount)
	assert.Equal(t, int64(150), ps[0].Total)

	rows, err := h.store.Stakes.ListByUserRound(ctx, 1, round.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(150), rows[0].Amount)
	assert.Equal(t, int64(850), h.balance(t, 1))

	armed := h.round(t, round.ID)
	require.NotNil(t, armed.ResolvesAt)
	assert.WithinDuration(t, h.clock.Now().Add(60*time.Second), *armed.ResolvesAt, time.Second)
	assert.Equal(t, []int64{round.ID}, h.scheduler.armed(), "only the first stake arms the round")

	txs, err := h.accounts.Transactions(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}

func TestAccept_RejectsOpposingStake(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, 1)
	round := h.openRound(t, 100, 0)

	h.stake(t, 1, 100, "100", "red")
	_, err := h.stakes.Accept(ctx, StakeRequest{UserID: 1, ChatID: 100, RawAmount: "100", Tokens: "black"})
	assert.ErrorIs(t, err, ErrOpposingStake)

	rows, err := h.store.Stakes.ListByUserRound(ctx, 1, round.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, int64(900), h.balance(t, 1))
}

func TestAccept_EnforcesEventCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, 1)
	_, err := h.store.Users.Credit(ctx, 1, 5_000_000)
	require.NoError(t, err)
	round := h.openRound(t, 100, 0)

	// Six-line pays x6: 12,000,000 / 6.
	h.stake(t, 1, 100, "2000000", "1-6")
	_, err = h.stakes.Accept(ctx, StakeRequest{UserID: 1, ChatID: 100, RawAmount: "1", Tokens: "1-6"})
	assert.ErrorIs(t, err, ErrLimitExceeded)

	rows, err := h.store.Stakes.ListByUserRound(ctx, 1, round.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2_000_000), rows[0].Amount)

	ps := h.stake(t, 1, 100, AmountMax, "7-12")
	assert.Equal(t, int64(2_000_000), ps[0].Amount)

	ps = h.stake(t, 1, 100, AmountMax, "red")
	assert.Equal(t, int64(1_001_000), ps[0].Amount, "max is clamped to the balance")
	assert.Equal(t, int64(0), h.balance(t, 1))
}

func TestAccept_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, 1)
	round := h.openRound(t, 100, 0)

	tests := []struct {
		name string
		req  StakeRequest
		want error
	}{
		{"stale round", StakeRequest{RoundID: round.ID + 1000, RawAmount: "10", Tokens: "red"}, ErrStaleRound},
		{"unknown chat", StakeRequest{ChatID: 999, RawAmount: "10", Tokens: "red"}, ErrStaleRound},
		{"unknown token", StakeRequest{RawAmount: "10", Tokens: "purple"}, ErrInvalidRateToken},
		{"no token", StakeRequest{RawAmount: "10"}, ErrInvalidRateToken},
		{"unparsable", StakeRequest{RawAmount: "ten", Tokens: "red"}, ErrUnparsableAmount},
		{"zero", StakeRequest{RawAmount: "0", Tokens: "red"}, ErrBelowMinimum},
		{"negative", StakeRequest{RawAmount: "-5", Tokens: "red"}, ErrBelowMinimum},
		{"over balance", StakeRequest{RawAmount: "2k", Tokens: "red"}, ErrInsufficientFunds},
		{"repeat over balance", StakeRequest{RawAmount: "400", Tokens: "red", Repeat: 3}, ErrInsufficientFunds},
		{"unknown user", StakeRequest{UserID: 2, RawAmount: "10", Tokens: "red"}, ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			if req.UserID == 0 {
				req.UserID = 1
			}
			if req.ChatID == 0 {
				req.ChatID = 100
			}
			_, err := h.stakes.Accept(ctx, req)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidation(err))
		})
	}

	rows, err := h.store.Stakes.ListByRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int64(1000), h.balance(t, 1))
	assert.Nil(t, h.round(t, round.ID).ResolvesAt)
}

func TestAccept_RejectsClosingRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, 1)
	h.openRound(t, 100, 0)

	h.stake(t, 1, 100, "100", "red")
	h.clock.Advance(57 * time.Second)

	_, err := h.stakes.Accept(ctx, StakeRequest{UserID: 1, ChatID: 100, RawAmount: "100", Tokens: "red"})
	assert.ErrorIs(t, err, ErrRoundClosing)
	assert.Equal(t, int64(900), h.balance(t, 1))
}

func TestAccept_MultipleTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, 1)
	h.openRound(t, 100, 0)

	ps, err := h.stakes.Accept(ctx, StakeRequest{UserID: 1, ChatID: 100, RawAmount: "100", Tokens: "red 7 black"})
	require.NoError(t, err, "a partial success is not an error")
	require.Len(t, ps, 3)
	assert.NoError(t, ps[0].Err)
	assert.NoError(t, ps[1].Err)
	assert.ErrorIs(t, ps[2].Err, ErrOpposingStake)
	assert.Equal(t, int64(800), h.balance(t, 1))

	ps, err = h.stakes.Accept(ctx, StakeRequest{UserID: 1, ChatID: 100, RawAmount: "100", Tokens: "purple orange"})
	assert.ErrorIs(t, err, ErrInvalidRateToken)
	assert.Len(t, ps, 2)
}

func TestAccept_ConcurrentStakesNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, 1)
	round := h.openRound(t, 100, 0)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := h.stakes.Accept(ctx, StakeRequest{UserID: 1, ChatID: 100, RawAmount: "100", Tokens: strconv.Itoa(n)})
			if err == nil {
				accepted.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrInsufficientFunds)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(10), accepted.Load())
	assert.Equal(t, int64(0), h.balance(t, 1))

	rows, err := h.store.Stakes.ListByRound(ctx, round.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 10)
}

func TestAccept_OwnerRevenue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, 1)
	h.user(t, 7) // admin, privileged
	h.user(t, 9)
	round := h.openRound(t, 100, 9)

	h.stake(t, 1, 100, "500", "red")
	assert.Equal(t, int64(1005), h.balance(t, 9))

	h.stake(t, 7, 100, "500", "red")
	assert.Equal(t, int64(1005), h.balance(t, 9), "privileged stakes pay no revenue")

	h.stake(t, 9, 100, "100", "red")
	assert.Equal(t, int64(905), h.balance(t, 9), "owners earn nothing from their own stakes")

	rows, err := h.store.Stakes.ListByUserRound(ctx, 1, round.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rows[0].OwnerRevenue)

	txs, err := h.store.Transactions.ListByRound(ctx, round.ID)
	require.NoError(t, err)
	revenue := 0
	for _, tx := range txs {
		if tx.Type == model.TxTypeOwnerRevenue {
			revenue++
		}
	}
	assert.Equal(t, 1, revenue)
}

func TestAccept_QueuesRepeat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, 1)
	h.openRound(t, 100, 0)

	_, err := h.stakes.Accept(ctx, StakeRequest{UserID: 1, ChatID: 100, RawAmount: "100", Tokens: "red", Repeat: 3})
	require.NoError(t, err)

	entries, err := h.store.AutoStakes.ListByChat(ctx, 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Remaining)
	assert.Equal(t, "roulette", entries[0].Variant)

	n, err := h.stakes.CancelAuto(ctx, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAccept_AfterSettlementIsStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, 1)
	round := h.openRound(t, 100, 0)
	h.stake(t, 1, 100, "100", "red")

	_, err := h.store.Rounds.Claim(ctx, round.ID)
	require.NoError(t, err)

	_, err = h.stakes.Accept(ctx, StakeRequest{UserID: 1, ChatID: 100, RoundID: round.ID, RawAmount: "100", Tokens: "7"})
	assert.ErrorIs(t, err, ErrStaleRound)
}

func TestAccept_BusyUserTimesOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, 1)
	h.openRound(t, 100, 0)

	require.True(t, h.stakes.users.TryLock(1))
	_, err := h.stakes.Accept(ctx, StakeRequest{UserID: 1, ChatID: 100, RawAmount: "100", Tokens: "red"})
	h.stakes.users.Unlock(1)

	assert.ErrorIs(t, err, ErrBusy)
	assert.True(t, IsValidation(err))
	assert.Equal(t, int64(1000), h.balance(t, 1))
}

func TestAccept_ConcurrentOpposingStakes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := int64(0); i < 10; i++ {
		userID, chatID := 1+i, 100+i
		h.user(t, userID)
		round := h.openRound(t, chatID, 0)

		start := make(chan struct{})
		errs := make([]error, 2)
		var wg sync.WaitGroup
		for n, token := range []string{"red", "black"} {
			wg.Add(1)
			go func(n int, token string) {
				defer wg.Done()
				<-start
				_, errs[n] = h.stakes.Accept(ctx, StakeRequest{UserID: userID, ChatID: chatID, RawAmount: "100", Tokens: token})
			}(n, token)
		}
		close(start)
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, ErrOpposingStake)
				failed++
			}
		}
		assert.Equal(t, 1, failed, "exactly one side of the hedge is rejected")

		rows, err := h.store.Stakes.ListByUserRound(ctx, userID, round.ID)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
		assert.Equal(t, int64(900), h.balance(t, userID))
	}
}

func TestAccept_CapUsesBonusMultiplier(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.user(t, 1)
	_, err := h.store.Users.Credit(ctx, 1, 10_000_000)
	require.NoError(t, err)
	h.openRound(t, 100, 0)

	applied, err := h.rounds.RequestVariantSwitch(ctx, 100, "sicbo")
	require.NoError(t, err)
	require.True(t, applied)

	// A single shows x2 but pays x4 on a triple: 12,000,000 / 4.
	ps := h.stake(t, 1, 100, AmountMax, "1")
	assert.Equal(t, int64(3_000_000), ps[0].Amount)

	_, err = h.stakes.Accept(ctx, StakeRequest{UserID: 1, ChatID: 100, RawAmount: "1", Tokens: "1"})
	assert.ErrorIs(t, err, ErrLimitExceeded)

	// Big pays x2 on every outcome: 12,000,000 / 2.
	ps = h.stake(t, 1, 100, "6000000", "big")
	assert.Equal(t, int64(6_000_000), ps[0].Total)
}
