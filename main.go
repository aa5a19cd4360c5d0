package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"secretsanta/internal/bot"
	"secretsanta/internal/common"
	"secretsanta/internal/config"
	"secretsanta/internal/matching"
	"secretsanta/internal/metrics"
	"secretsanta/internal/santa"
	"secretsanta/internal/store"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("Bot stopped")
		os.Exit(1)
	}
}

func run() error {

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)
	if cfg.DiscordToken == "" {
		return fmt.Errorf("%w: discord_token must be set", config.ErrInvalidConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	backend, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("could not open %s store: %w", cfg.StoreDriver, err)
	}
	defer backend.Close()
	log.Info().Msg(fmt.Sprintf("Using %s store", cfg.StoreDriver))

	manager := metrics.NewManager()

	// Discord session
	discord, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("could not create discord session: %w", err)
	}
	discord.ShouldRetryOnRateLimit = true
	discord.MaxRestRetries = 3
	discord.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	// Private messages are rate limited on top of what discordgo does
	restrictions := []common.Restriction{}
	if cfg.DMRateRequests > 0 && cfg.DMRateWindowSecs > 0 {
		restrictions = append(restrictions, common.Restriction{Requests: cfg.DMRateRequests, Duration: cfg.DMRateWindow()})
	}
	notifier := bot.NewNotifier(discord, common.NewRateLimiter(restrictions), cfg.Prefix)

	options := []santa.Option{
		santa.WithEngine(matching.NewEngine(matching.WithMaxAttempts(cfg.MatchMaxAttempts))),
		santa.WithMaxRuns(cfg.MatchMaxRuns),
		santa.WithMetrics(manager),
	}
	if cfg.MinLevel > 0 {
		options = append(options, santa.WithLevelProvider(bot.NewMemberAge(discord), cfg.MinLevel))
	}
	service := santa.NewService(backend, notifier, options...)

	// Run bot and metrics until either fails or a signal arrives
	group, groupCtx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		group.Go(func() error {
			return manager.Serve(groupCtx, cfg.MetricsAddr)
		})
	}
	group.Go(func() error {
		return bot.NewBot(cfg.Prefix, service, cfg.DeadlineCheck()).Run(groupCtx, discord)
	})
	return group.Wait()
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
