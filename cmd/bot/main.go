// Package main is the entry point for the wager bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"telegram-wager-bot/internal/bot"
	"telegram-wager-bot/internal/config"
	"telegram-wager-bot/internal/game"
	"telegram-wager-bot/internal/game/dice"
	"telegram-wager-bot/internal/game/roulette"
	"telegram-wager-bot/internal/game/sicbo"
	"telegram-wager-bot/internal/handler"
	"telegram-wager-bot/internal/pkg/cache"
	"telegram-wager-bot/internal/pkg/db"
	"telegram-wager-bot/internal/repository"
	"telegram-wager-bot/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// A missing .env is fine; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err == nil && cfg.Log.Level != "" {
		zerolog.SetGlobalLevel(level)
	}
	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := repository.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}
	store := repository.NewStore(dbPool.Pool)

	// Redis only backs panel selections and rate limits; the bot runs
	// without it.
	var (
		selections handler.SelectionStore
		clearer    service.SelectionClearer
		limiter    bot.Limiter
	)
	redisClient, err := cache.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, panel selections and rate limits disabled")
	} else {
		defer redisClient.Close()
		sel := cache.NewSelectionStore(redisClient)
		selections, clearer = sel, sel
		limiter = cache.NewRateLimiter(redisClient, cfg.Redis.StakeRateLimit, cfg.Redis.StakeRateWindow)
	}

	registry, err := game.NewRegistry(roulette.New(), sicbo.New(), dice.New())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register variants")
	}
	if _, err := registry.Lookup(cfg.Rounds.DefaultVariant); err != nil {
		log.Fatal().Err(err).Msg("Default variant is not registered")
	}
	log.Info().Strs("variants", registry.Tags()).Msg("Variants registered")

	teleBot, err := bot.NewTelebot(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}
	notifier := bot.NewNotifier(teleBot)

	var renderer service.Renderer
	if r := bot.NewURLRenderer(cfg.Render.ImageURLTemplate); r != nil {
		renderer = r
	}

	accounts := service.NewAccountService(store, cfg)
	rounds := service.NewRoundService(store, registry, cfg, clearer)
	stakes := service.NewStakeService(store, rounds, registry, cfg, notifier)
	coord := service.NewCoordinator(store, rounds, registry, cfg, notifier, renderer, stakes)
	stakes.SetScheduler(coord)

	armed, err := coord.Recover(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Round recovery incomplete")
	}
	log.Info().Int("armed", armed).Msg("Recovered active rounds")

	telegramBot := bot.New(teleBot, &bot.Dependencies{
		Config:         cfg,
		Registry:       registry,
		AccountService: accounts,
		RoundService:   rounds,
		StakeService:   stakes,
		Selections:     selections,
		Limiter:        limiter,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go telegramBot.Start()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	telegramBot.Stop()
	coord.Stop()
	log.Info().Msg("Bot stopped gracefully")
}
