// Package main is the entry point for the showledger admin CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/axonops/showledger/internal/config"
	"github.com/axonops/showledger/internal/core"
	"github.com/axonops/showledger/internal/logging"
	"github.com/axonops/showledger/internal/migrate"
	"github.com/axonops/showledger/internal/storage"

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

var (
	configPath string
	output     string
	timeout    time.Duration
)

// app is an opened store with the services the commands run against.
type app struct {
	svc    *core.Service
	runner *migrate.Runner
	close  func() error
}

// openApp connects to the configured store. Tests replace it to share one
// in-memory store across commands.
var openApp = func(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	store, err := storage.Create(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to storage: %w", err)
	}
	policy, err := core.ParsePosterPolicy(cfg.Catalog.PosterPolicy)
	if err != nil {
		store.Close()
		return nil, err
	}
	logger := logging.Discard()
	if os.Getenv("SHOWLEDGER_ADMIN_DEBUG") != "" {
		if l, err := logging.New(config.LoggingConfig{Level: "debug", Format: "console", Output: "stderr"}); err == nil {
			logger = l.Logger
		}
	}
	return &app{
		svc:    core.New(store, core.WithLogger(logger), core.WithPosterPolicy(policy)),
		runner: migrate.NewRunner(store, migrate.WithLogger(logger)),
		close:  store.Close,
	}, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "showledger-admin",
		Short:        "Admin CLI for showledger",
		Long:         `A command-line tool for managing shows, users, ratings, reviews and schema migrations directly in the showledger store.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "Timeout for each command")

	rootCmd.AddCommand(
		newMigrateCmd(),
		newImportCmd(),
		newUserCmd(),
		newShowCmd(),
		newRateCmd(),
		newReviewCmd(),
		newVoteCmd(),
	)
	return rootCmd
}

// withApp opens the store, runs fn and closes the store.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format: %s", output)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// Helpers
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatMean(mean *float64) string {
	if mean == nil {
		return "-"
	}
	return strconv.FormatFloat(*mean, 'f', 2, 64)
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s ID: %s", what, s)
	}
	return id, nil
}

// resolveUser accepts a numeric user ID or a username.
func resolveUser(ctx context.Context, svc *core.Service, ref string) (int64, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
		return id, nil
	}
	user, err := svc.GetUserByUsername(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("user %q: %w", ref, err)
	}
	return user.ID, nil
}
