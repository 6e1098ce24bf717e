// Package main is the entry point for the showledger daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/axonops/showledger/internal/api"
	"github.com/axonops/showledger/internal/cache"
	"github.com/axonops/showledger/internal/config"
	"github.com/axonops/showledger/internal/core"
	"github.com/axonops/showledger/internal/events"
	"github.com/axonops/showledger/internal/logging"
	"github.com/axonops/showledger/internal/metrics"
	"github.com/axonops/showledger/internal/migrate"
	"github.com/axonops/showledger/internal/storage"

	// Storage backends register themselves with storage.Register.
	_ "github.com/axonops/showledger/internal/storage/memory"
	_ "github.com/axonops/showledger/internal/storage/mysql"
	_ "github.com/axonops/showledger/internal/storage/postgres"
	_ "github.com/axonops/showledger/internal/storage/sqlite"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	runMigrations := flag.Bool("migrate", false, "Apply pending schema migrations before serving")
	watchConfig := flag.Bool("watch", true, "Reload the log level when the configuration file changes")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("showledger %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		slog.Error("failed to create logger", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer log.Close()
	logger := log.Logger
	slog.SetDefault(logger)

	if err := run(cfg, *configPath, *runMigrations, *watchConfig, log); err != nil {
		logger.Error("showledger exited", slog.String("error", err.Error()))
		log.Close()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, configPath string, runMigrations, watchConfig bool, log *logging.Logger) error {
	logger := log.Logger
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting showledger",
		slog.String("version", version),
		slog.String("storage", cfg.Storage.Type),
		slog.String("cache", cfg.Cache.Type),
		slog.String("events", cfg.Events.Type),
		slog.String("address", cfg.Address()),
	)

	store, err := storage.Create(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage backend: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("storage close error", slog.String("error", err.Error()))
		}
	}()

	statsCache, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	defer statsCache.Close()

	publisher, err := events.NewPublisher(cfg.Events)
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	defer publisher.Close()

	policy, err := core.ParsePosterPolicy(cfg.Catalog.PosterPolicy)
	if err != nil {
		return err
	}

	m := metrics.New()
	runner := migrate.NewRunner(store,
		migrate.WithLogger(logger),
		migrate.WithPublisher(publisher),
		migrate.WithMetrics(m),
	)
	if err := prepareSchema(ctx, runner, runMigrations, logger); err != nil {
		return err
	}

	svc := core.New(store,
		core.WithLogger(logger),
		core.WithMetrics(m),
		core.WithCache(statsCache),
		core.WithPublisher(publisher),
		core.WithPosterPolicy(policy),
	)

	if cfg.Bootstrap.Enabled {
		logger.Info("bootstrap enabled, checking for initial admin user")
		result, err := svc.BootstrapAdmin(ctx, cfg.Bootstrap.Username, cfg.Bootstrap.Password)
		if err != nil {
			return fmt.Errorf("failed to bootstrap admin user: %w", err)
		}
		if result.Created {
			logger.Info("bootstrap admin user created", slog.String("username", cfg.Bootstrap.Username))
		} else {
			logger.Info("bootstrap skipped", slog.String("reason", result.Message))
		}
	}

	server, err := api.NewServer(cfg, store, m, logger)
	if err != nil {
		return fmt.Errorf("failed to create ops server: %w", err)
	}

	if watchConfig && configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
				if err := log.Apply(next.Logging); err != nil {
					logger.Warn("ignoring logging change", slog.String("error", err.Error()))
				}
				if err := server.ReloadTLS(); err != nil {
					logger.Warn("keeping previous tls certificate", slog.String("error", err.Error()))
				}
			})
			if err != nil {
				logger.Warn("config watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

// prepareSchema applies pending migrations when asked to, and otherwise only
// reports them. Rating writes fail with core.ErrMigrationPending until the
// store reaches the current version.
func prepareSchema(ctx context.Context, runner *migrate.Runner, apply bool, logger *slog.Logger) error {
	report, err := runner.Status(ctx)
	if err != nil {
		return err
	}
	if len(report.Pending) == 0 {
		logger.Info("schema is current", slog.Int("version", report.Current))
		return nil
	}
	if !apply {
		logger.Warn("schema migration pending, rating writes are disabled until it is applied",
			slog.Int("current", report.Current),
			slog.Int("target", report.Target),
			slog.Int("legacy_ratings", report.LegacyRatings),
		)
		return nil
	}
	if _, err := runner.Run(ctx, 0); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}
