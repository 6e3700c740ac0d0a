// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/osa030/plexbox/internal/api/status"
	"github.com/osa030/plexbox/internal/app/filter"
	"github.com/osa030/plexbox/internal/app/notification"
	"github.com/osa030/plexbox/internal/app/playback"
	"github.com/osa030/plexbox/internal/app/session"
	"github.com/osa030/plexbox/internal/infra/config"
	"github.com/osa030/plexbox/internal/infra/discord"
	"github.com/osa030/plexbox/internal/infra/history"
	"github.com/osa030/plexbox/internal/infra/logger"
	"github.com/osa030/plexbox/internal/infra/lrclib"
	"github.com/osa030/plexbox/internal/infra/plex"
)

var (
	app        = kingpin.New("plexbox", "Plex music bot for Discord")
	configPath = app.Flag("config", "Path to config file").Default("config/plexbox.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (overrides config)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Console logging until the config is read
	if err := logger.Init(loggerConfig(config.LogConfig{Output: "stdout", Level: "info"})); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := logger.Init(loggerConfig(cfg.Log)); err != nil {
		zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		os.Exit(1)
	}
}

// loggerConfig applies the command-line overrides to the configured logging.
func loggerConfig(c config.LogConfig) logger.Config {
	lc := logger.Config{
		Output:     c.Output,
		Level:      c.Level,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
	}
	if *verbose {
		lc.Level = "debug"
	}
	if *logfile != "" {
		lc.Output = "file"
		lc.File = *logfile
	}
	return lc
}

// run wires the bot together and blocks until a signal or the kill command.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chain, err := filter.Build(filterSettings(cfg))
	if err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	plexClient, err := plex.New(plex.Config{
		BaseURL:     cfg.Plex.BaseURL,
		Token:       cfg.Plex.Token,
		LibraryName: cfg.Plex.LibraryName,
		Timeout:     cfg.Plex.Timeout(),
		LogLevel:    logger.ParseLevel(cfg.Plex.LogLevel),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create Plex client")
	}
	if err := plexClient.Connect(ctx); err != nil {
		return errors.Wrap(err, "failed to connect to Plex")
	}

	hub := notification.NewManager()
	defer hub.Close()

	bot, err := discord.New(discord.Config{
		Token:          cfg.Discord.Token,
		Prefix:         cfg.Discord.Prefix,
		FFmpegPath:     cfg.Discord.FFmpegPath,
		BitrateKbps:    cfg.Discord.BitrateKbps,
		PostRatePerSec: cfg.Discord.PostRatePerSec,
	}, plexClient, logger.Component("discord", cfg.Discord.LogLevel))
	if err != nil {
		return errors.Wrap(err, "failed to create Discord bot")
	}

	deps := session.Deps{
		Library:  plexClient,
		Voice:    bot.Voice(),
		Filters:  chain,
		Messages: cfg,
		Sink:     bot.Sink(),
		Notifier: bot.Notifier(),
		Hub:      hub,
		Playback: playback.Config{
			IdleTimeout: cfg.Playback.IdleTimeout(),
			StopGrace:   cfg.Playback.StopGrace(),
		},
		QueueDisplayLimit: cfg.Playback.QueueDisplayLimit,
		HistoryLimit:      cfg.History.DisplayLimit,
	}
	if cfg.Lyrics.Enabled {
		deps.Lyrics = lrclib.New(lrclib.Config{BaseURL: cfg.Lyrics.BaseURL})
		zlog.Info().Msgf("lyrics enabled: base_url=%s", cfg.Lyrics.BaseURL)
	}
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return errors.Wrap(err, "failed to open history")
		}
		defer store.Close()
		deps.History = store
		zlog.Info().Msgf("history enabled: path=%s", cfg.History.Path)
	}

	reg := session.NewRegistry(deps)
	defer reg.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := bot.Open(discord.Options{
		Sessions: reg,
		IsAdmin:  cfg.IsAdmin,
		Shutdown: cancel,
	}); err != nil {
		return errors.Wrap(err, "failed to open Discord session")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		// Voice connections leave before the gateway closes
		reg.Close()
		return bot.Serve(gctx)
	})
	if cfg.API.Addr != "" {
		api := status.New(status.Config{
			Addr:           cfg.API.Addr,
			AllowedOrigins: cfg.API.AllowedOrigins,
		}, reg, hub)
		g.Go(func() error {
			return api.Run(gctx)
		})
	}

	zlog.Info().Msg("Bot started")
	err = g.Wait()
	zlog.Info().Msg("Shutting down...")
	return err
}

// filterSettings converts the filter section of the config.
func filterSettings(cfg *config.Config) map[string]filter.Settings {
	out := make(map[string]filter.Settings, len(cfg.Filters))
	for name, fc := range cfg.Filters {
		out[name] = filter.Settings{Enabled: fc.Enabled, Settings: fc.Settings}
	}
	return out
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	registry := filter.GetRegistered()
	for _, name := range filter.RegisteredNames() {
		f := registry[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}
