package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"telegram-wager-bot/internal/config"
	"telegram-wager-bot/internal/game"
	"telegram-wager-bot/internal/game/dice"
	"telegram-wager-bot/internal/game/roulette"
	"telegram-wager-bot/internal/game/sicbo"
	"telegram-wager-bot/internal/model"
	"telegram-wager-bot/internal/pkg/dbtest"
	"telegram-wager-bot/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Sleep returns at once after moving the clock forward.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

type sentMessage struct {
	chatID int64
	text   string
	photo  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recordingNotifier) SendMessage(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (n *recordingNotifier) SendPhoto(_ context.Context, chatID int64, photoURL, caption string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{chatID: chatID, text: caption, photo: photoURL})
	return nil
}

// count returns the messages sent to chatID whose text contains substr.
func (n *recordingNotifier) count(chatID int64, substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.sent {
		if m.chatID == chatID && m.photo == "" && strings.Contains(m.text, substr) {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) photos(chatID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		if m.chatID == chatID && m.photo != "" {
			out = append(out, m.photo)
		}
	}
	return out
}

type recordingScheduler struct {
	mu  sync.Mutex
	ids []int64
}

func (s *recordingScheduler) Arm(roundID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, roundID)
}

func (s *recordingScheduler) armed() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.ids...)
}

type recordingClearer struct {
	mu      sync.Mutex
	cleared []int64
}

func (c *recordingClearer) ClearChat(_ context.Context, chatID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, chatID)
	return nil
}

type harness struct {
	store      *repository.Store
	cfg        *config.Config
	registry   *game.Registry
	clock      *fakeClock
	notifier   *recordingNotifier
	scheduler  *recordingScheduler
	selections *recordingClearer

	accounts *AccountService
	rounds   *RoundService
	stakes   *StakeService
	coord    *Coordinator
}

func testConfig() *config.Config {
	return &config.Config{
		Admin:   config.AdminConfig{IDs: []int64{7}},
		Account: config.AccountConfig{InitialBalance: 1000},
		Rounds: config.RoundsConfig{
			TimerSeconds:     60,
			RevealDelay:      2 * time.Second,
			ClosingThreshold: 5 * time.Second,
			MaxEventPayout:   12_000_000,
			MinStake:         1,
			DefaultVariant:   roulette.Tag,
		},
		Leaderboard: config.LeaderboardConfig{CoverageThreshold: 0.8, HedgeTolerance: 0.1},
		Revenue:     config.RevenueConfig{Tiers: map[string]float64{"basic": 1, "premium": 2}},
	}
}

// newHarness wires the services against a fresh database. Background
// resolution is disabled; tests drive Coordinator.Resolve directly.
func newHarness(t *testing.T) *harness {
	t.Helper()
	pool := dbtest.Setup(t)

	registry, err := game.NewRegistry(roulette.New(), sicbo.New(), dice.New())
	require.NoError(t, err)

	h := &harness{
		store:      repository.NewStore(pool),
		cfg:        testConfig(),
		registry:   registry,
		clock:      &fakeClock{t: time.Now().UTC().Truncate(time.Millisecond)},
		notifier:   &recordingNotifier{},
		scheduler:  &recordingScheduler{},
		selections: &recordingClearer{},
	}
	h.accounts = NewAccountService(h.store, h.cfg)
	h.accounts.now = h.clock.Now
	h.rounds = NewRoundService(h.store, registry, h.cfg, h.selections)
	h.rounds.now = h.clock.Now
	h.stakes = NewStakeService(h.store, h.rounds, registry, h.cfg, h.notifier)
	h.stakes.now = h.clock.Now
	h.stakes.SetScheduler(h.scheduler)
	h.coord = h.newCoordinator()
	h.coord.cancel()
	return h
}

func (h *harness) newCoordinator() *Coordinator {
	c := NewCoordinator(h.store, h.rounds, h.registry, h.cfg, h.notifier, nil, h.stakes)
	c.now = h.clock.Now
	c.sleep = h.clock.Sleep
	return c
}

func (h *harness) user(t *testing.T, id int64) *model.User {
	t.Helper()
	u, _, err := h.accounts.EnsureUser(context.Background(), id, "")
	require.NoError(t, err)
	return u
}

func (h *harness) balance(t *testing.T, id int64) int64 {
	t.Helper()
	b, err := h.accounts.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (h *harness) openRound(t *testing.T, chatID, ownerID int64) *model.Round {
	t.Helper()
	ctx := context.Background()
	_, err := h.rounds.EnsureChat(ctx, chatID, ownerID)
	require.NoError(t, err)
	r, err := h.rounds.CreateOrGet(ctx, chatID)
	require.NoError(t, err)
	return r
}

func (h *harness) round(t *testing.T, id int64) *model.Round {
	t.Helper()
	r, err := h.store.Rounds.GetByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (h *harness) chat(t *testing.T, id int64) *model.Chat {
	t.Helper()
	c, err := h.store.Chats.Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (h *harness) stake(t *testing.T, userID, chatID int64, amount, tokens string) []Placement {
	t.Helper()
	ps, err := h.stakes.Accept(context.Background(), StakeRequest{UserID: userID, ChatID: chatID, RawAmount: amount, Tokens: tokens})
	require.NoError(t, err)
	return ps
}

// resolve settles a round once earlier background arms have exited.
func (h *harness) resolve(t *testing.T, roundID int64) {
	t.Helper()
	h.coord.wg.Wait()
	require.NoError(t, h.coord.Resolve(context.Background(), roundID))
}

func (h *harness) rouletteOutcome(t *testing.T, r *model.Round) roulette.Outcome {
	t.Helper()
	o, err := roulette.New().DecodeOutcome(r.Outcome)
	require.NoError(t, err)
	return o.(roulette.Outcome)
}
