package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrcode/glucocalc/internal/accuracy"
	"github.com/mrcode/glucocalc/internal/board"
	"github.com/mrcode/glucocalc/internal/cgm"
	"github.com/mrcode/glucocalc/internal/config"
	"github.com/mrcode/glucocalc/internal/decay"
	"github.com/mrcode/glucocalc/internal/models"
	"github.com/mrcode/glucocalc/internal/server"
	"github.com/mrcode/glucocalc/internal/storage"
)

var (
	cfgFile string
	version = "dev"
	rootCmd = &cobra.Command{
		Use:   "glucocalc",
		Short: "Insulin-on-board and dose recommendation engine",
		Long: `glucocalc tracks insulin and carbohydrate decay from logged
treatments, estimates effective glucose, and recommends correction
doses. It can sync readings from a Nightscout-compatible feed and
serves everything over a REST and websocket API.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./glucocalc.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received interrupt signal, shutting down gracefully...")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	var slogLevel slog.Level
	switch cfg.Logging.Level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	opts := &slog.HandlerOptions{Level: slogLevel}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "console":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Logging.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating storage: %w", err)
	}

	aggregator, err := board.NewAggregator(
		decay.Params{HalfLifeMinutes: cfg.Decay.InsulinHalfLifeMinutes},
		decay.Params{HalfLifeMinutes: cfg.Decay.CarbHalfLifeMinutes},
		cfg.Dosing.CarbBgFactor)
	if err != nil {
		return fmt.Errorf("building aggregator: %w", err)
	}

	tracker := accuracy.NewTracker(store, logger)
	srv := server.New(cfg, store, aggregator, tracker, nil, logger)

	if cfg.Feed.URL != "" {
		client := cgm.NewClient(cfg.Feed.URL, cfg.Feed.APISecret, cfg.Feed.APIToken, cfg.Feed.UseToken)
		poller := cgm.NewPoller(client, store, cfg.Feed.UserID,
			time.Duration(cfg.Feed.PollIntervalSec)*time.Second, logger)
		poller.OnReading = func(r models.GlucoseReading) {
			srv.Hub().BroadcastGlucose(r.UserID, r)
		}
		go poller.Run(ctx)
	}

	return srv.Run(ctx)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := storage.NewSQLiteStore(cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			return store.Migrate(cmd.Context())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			slog.Info("glucocalc version", "version", version)
		},
	}
}
