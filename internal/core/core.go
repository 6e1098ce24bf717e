// Package core implements the show catalog, rating ledger, review store,
// vote tally engine and aggregation service on top of a storage backend.
//
// A Service is safe for concurrent use. Every mutation is a single storage
// transaction; the Service itself keeps no state that affects results apart
// from the cached schema version.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axonops/showledger/internal/cache"
	"github.com/axonops/showledger/internal/events"
	"github.com/axonops/showledger/internal/metrics"
	"github.com/axonops/showledger/internal/storage"
)

// PosterPolicy decides when an upsert may change an existing show's poster.
type PosterPolicy string

const (
	// PosterFillMissing sets the poster only if the show has none.
	PosterFillMissing PosterPolicy = "fill_missing"
	// PosterLastWriterWins replaces the poster whenever one is provided.
	PosterLastWriterWins PosterPolicy = "last_writer_wins"
	// PosterAdminOnly replaces the poster only for admin callers.
	PosterAdminOnly PosterPolicy = "admin_only"
)

// ParsePosterPolicy validates a configured policy name. Empty selects
// PosterFillMissing.
func ParsePosterPolicy(s string) (PosterPolicy, error) {
	switch p := PosterPolicy(s); p {
	case "":
		return PosterFillMissing, nil
	case PosterFillMissing, PosterLastWriterWins, PosterAdminOnly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown poster policy %q", s)
	}
}

// Service is the entry point for all show, rating, review, vote and user
// operations.
type Service struct {
	store        storage.Storage
	logger       *slog.Logger
	metrics      *metrics.Metrics
	cache        cache.Store
	publisher    events.Publisher
	posterPolicy PosterPolicy

	// schemaVersion caches the store's version once it reaches
	// storage.CurrentSchemaVersion. Versions only move forward.
	schemaVersion atomic.Int64

	// statsGen counts invalidations per show. A stats fill that started
	// under an older generation must not stay in the cache.
	statsMu  sync.Mutex
	statsGen map[int64]uint64
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCache enables caching of show statistics.
func WithCache(c cache.Store) Option {
	return func(s *Service) { s.cache = c }
}

// WithPublisher sets the domain event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithPosterPolicy sets the poster policy.
func WithPosterPolicy(p PosterPolicy) Option {
	return func(s *Service) { s.posterPolicy = p }
}

// New creates a Service backed by store.
func New(store storage.Storage, opts ...Option) *Service {
	s := &Service{
		store:        store,
		logger:       slog.New(slog.DiscardHandler),
		cache:        cache.Nop{},
		publisher:    events.Nop{},
		posterPolicy: PosterFillMissing,
		statsGen:     make(map[int64]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Storage returns the underlying store.
func (s *Service) Storage() storage.Storage {
	return s.store
}

// SchemaVersion reads the store's schema version marker.
func (s *Service) SchemaVersion(ctx context.Context) (int, error) {
	v, err := s.store.SchemaVersion(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.SetSchemaVersion(v)
	if v >= storage.CurrentSchemaVersion {
		s.schemaVersion.Store(int64(v))
	}
	return v, nil
}

// requireCurrentSchema fails with ErrMigrationPending until the rating scale
// migration has been applied.
func (s *Service) requireCurrentSchema(ctx context.Context) error {
	if s.schemaVersion.Load() >= storage.CurrentSchemaVersion {
		return nil
	}
	v, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if v < storage.CurrentSchemaVersion {
		return fmt.Errorf("%w: store is at version %d, need %d", ErrMigrationPending, v, storage.CurrentSchemaVersion)
	}
	return nil
}

// observe records an operation's outcome. Use as
// defer s.observe("op", time.Now(), &err).
func (s *Service) observe(op string, start time.Time, err *error) {
	s.metrics.RecordOperation(op, time.Since(start), *err)
}

// publish sends an event after a committed write. Failures are logged only.
func (s *Service) publish(ctx context.Context, ev events.Event) {
	err := s.publisher.Publish(ctx, ev)
	s.metrics.RecordEventPublished(ev.Type, err)
	if err != nil {
		s.logger.Warn("failed to publish event",
			slog.String("type", ev.Type),
			slog.String("id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}

func statsKey(showID int64) string {
	return "stats:" + strconv.FormatInt(showID, 10)
}

// statsGeneration returns the invalidation count of a show.
func (s *Service) statsGeneration(showID int64) uint64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.statsGen[showID]
}

// invalidateStats drops cached statistics for the given shows.
func (s *Service) invalidateStats(ctx context.Context, showIDs ...int64) {
	if len(showIDs) == 0 {
		return
	}
	keys := make([]string, len(showIDs))
	s.statsMu.Lock()
	for i, id := range showIDs {
		s.statsGen[id]++
		keys[i] = statsKey(id)
	}
	s.statsMu.Unlock()
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("failed to invalidate stats cache",
			slog.String("cache", s.cache.Name()),
			slog.String("error", err.Error()),
		)
	}
}
