// Package migrate moves a store between schema versions and reports which
// migrations are pending.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/axonops/showledger/internal/events"
	"github.com/axonops/showledger/internal/metrics"
	"github.com/axonops/showledger/internal/storage"
)

// Step is one schema migration.
type Step struct {
	From        int    `json:"from"`
	To          int    `json:"to"`
	Description string `json:"description"`
}

var steps = []Step{
	{
		From:        storage.SchemaVersionStarScale,
		To:          storage.SchemaVersionHalfStarScale,
		Description: "convert integer 1-5 star ratings to the half-star 0-10 scale (rating_half = rating_int * 2)",
	},
}

// Steps returns every known migration in order.
func Steps() []Step {
	return append([]Step(nil), steps...)
}

// ErrUnknownTarget is returned for a target version no step reaches.
var ErrUnknownTarget = errors.New("unknown target schema version")

// Plan returns the steps that move a store from version from to version to.
func Plan(from, to int) ([]Step, error) {
	if to < storage.SchemaVersionStarScale || to > storage.CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTarget, to)
	}
	var plan []Step
	for _, s := range steps {
		if s.From >= from && s.To <= to {
			plan = append(plan, s)
		}
	}
	return plan, nil
}

// Report describes a store's schema version.
type Report struct {
	Current       int    `json:"current"`
	Target        int    `json:"target"`
	Pending       []Step `json:"pending"`
	LegacyRatings int    `json:"legacy_ratings"`
}

// Runner applies migrations to a store.
type Runner struct {
	store     storage.Storage
	logger    *slog.Logger
	publisher events.Publisher
	metrics   *metrics.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithPublisher publishes a schema.migrated event per applied step.
func WithPublisher(p events.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithMetrics reports the schema version.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a Runner for store.
func NewRunner(store storage.Storage, opts ...Option) *Runner {
	r := &Runner{
		store:     store,
		logger:    slog.New(slog.DiscardHandler),
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Status reports the store's current version and the steps pending to reach
// storage.CurrentSchemaVersion.
func (r *Runner) Status(ctx context.Context) (*Report, error) {
	current, err := r.store.SchemaVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	legacy, err := r.store.CountLegacyRatings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count legacy ratings: %w", err)
	}
	pending, err := Plan(current, storage.CurrentSchemaVersion)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		pending = []Step{}
	}
	r.metrics.SetSchemaVersion(current)
	return &Report{
		Current:       current,
		Target:        storage.CurrentSchemaVersion,
		Pending:       pending,
		LegacyRatings: legacy,
	}, nil
}

// Run applies every step between the store's version and target. A target of
// zero means storage.CurrentSchemaVersion. It fails with
// storage.ErrMigrationAlreadyApplied when the store is already at or past the
// target, leaving the data untouched.
func (r *Runner) Run(ctx context.Context, target int) ([]Step, error) {
	if target == 0 {
		target = storage.CurrentSchemaVersion
	}
	current, err := r.store.SchemaVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if current >= target {
		return nil, fmt.Errorf("%w: store is at version %d", storage.ErrMigrationAlreadyApplied, current)
	}
	plan, err := Plan(current, target)
	if err != nil {
		return nil, err
	}

	var applied []Step
	for _, step := range plan {
		start := time.Now()
		legacy, err := r.store.CountLegacyRatings(ctx)
		if err != nil {
			return applied, fmt.Errorf("failed to count legacy ratings: %w", err)
		}
		// UpgradeSchema re-checks the marker under its own lock, so a
		// concurrent runner that got there first yields
		// ErrMigrationAlreadyApplied here.
		if err := r.store.UpgradeSchema(ctx, step.From, step.To); err != nil {
			return applied, fmt.Errorf("migration %d->%d: %w", step.From, step.To, err)
		}
		applied = append(applied, step)
		r.metrics.SetSchemaVersion(step.To)
		r.logger.Info("schema migrated",
			slog.Int("from", step.From),
			slog.Int("to", step.To),
			slog.Int("legacy_ratings", legacy),
			slog.Duration("duration", time.Since(start)),
		)

		ev := events.New(events.SchemaMigrated)
		ev.Value = step.To
		if err := r.publisher.Publish(ctx, ev); err != nil {
			r.logger.Warn("failed to publish event", slog.String("type", ev.Type), slog.String("error", err.Error()))
		}
		r.metrics.RecordEventPublished(ev.Type, err)
	}
	return applied, nil
}

// Status reports the schema state of store.
func Status(ctx context.Context, store storage.Storage) (*Report, error) {
	return NewRunner(store).Status(ctx)
}

// Run migrates store to target. See Runner.Run.
func Run(ctx context.Context, store storage.Storage, target int) ([]Step, error) {
	return NewRunner(store).Run(ctx, target)
}
