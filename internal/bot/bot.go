// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-wager-bot/internal/config"
	"telegram-wager-bot/internal/game"
	"telegram-wager-bot/internal/handler"
	"telegram-wager-bot/internal/pkg/cache"
	"telegram-wager-bot/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot    *tele.Bot
	cfg    *config.Config
	access *AccessList

	accountHandler *handler.AccountHandler
	roundHandler   *handler.RoundHandler
	limiter        Limiter
}

// Dependencies holds all the dependencies needed by the bot handlers.
// Selections and Limiter are optional.
type Dependencies struct {
	Config         *config.Config
	Registry       *game.Registry
	AccountService *service.AccountService
	RoundService   *service.RoundService
	StakeService   *service.StakeService
	Selections     handler.SelectionStore
	Limiter        Limiter
}

// NewTelebot creates the Telegram client. It is built before the services
// so the notifier can send through it.
func NewTelebot(cfg *config.Config) (*tele.Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	teleBot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return teleBot, nil
}

// New wires handlers and middleware onto teleBot.
func New(teleBot *tele.Bot, deps *Dependencies) *Bot {
	b := &Bot{
		bot:     teleBot,
		cfg:     deps.Config,
		access:  NewAccessList(),
		limiter: deps.Limiter,
	}

	b.accountHandler = handler.NewAccountHandler(deps.AccountService)
	b.roundHandler = handler.NewRoundHandler(
		deps.Config,
		deps.Registry,
		deps.AccountService,
		deps.RoundService,
		deps.StakeService,
		deps.Selections,
	)

	b.registerMiddleware()
	b.registerHandlers()

	return b
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg, b.access))
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command and callback handlers.
func (b *Bot) registerHandlers() {
	// Account
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/balance", b.accountHandler.HandleBalance)
	b.bot.Handle("/stats", b.accountHandler.HandleStats)
	b.bot.Handle("/ledger", b.accountHandler.HandleLedger)

	// Staking
	limited := RateLimitMiddleware(b.limiter, cache.ActionStake)
	b.bot.Handle("/bet", b.roundHandler.HandleBet, limited)
	b.bot.Handle("/repeat", b.roundHandler.HandleRepeat, limited)
	b.bot.Handle("/auto", b.roundHandler.HandleAuto, limited)
	b.bot.Handle(tele.OnCallback, b.roundHandler.HandleCallback, limited)

	b.bot.Handle("/round", b.roundHandler.HandleRound)
	b.bot.Handle("/history", b.roundHandler.HandleHistory)

	// Chat settings
	managers := b.bot.Group()
	managers.Use(ManagerMiddleware(b.cfg, ChatMemberRole))
	managers.Handle("/game", b.roundHandler.HandleGame)
	managers.Handle("/timer", b.roundHandler.HandleTimer)

	admins := b.bot.Group()
	admins.Use(AdminMiddleware(b.cfg))
	admins.Handle("/owner", b.roundHandler.HandleOwner)
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
