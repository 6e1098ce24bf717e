package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/axonops/showledger/internal/events"
	"github.com/axonops/showledger/internal/identity"
	"github.com/axonops/showledger/internal/storage"
)

// MaxPosterURLLength bounds stored poster URLs.
const MaxPosterURLLength = 2048

// ShowInput describes a show as submitted by a caller.
type ShowInput struct {
	Title     string
	Corps     string
	Year      int
	PosterURL string
	// AsAdmin marks the caller as an administrator for PosterAdminOnly.
	AsAdmin bool
}

// ShowFilter filters and pages ListShows.
type ShowFilter struct {
	Year   *int
	Corps  string // matched on the canonical corps, ignoring case, accents and punctuation
	Order  storage.ShowOrder
	Offset int
	Limit  int
}

func validatePosterURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if len(raw) > MaxPosterURLLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidPosterURL, MaxPosterURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPosterURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: must be an absolute http or https URL", ErrInvalidPosterURL)
	}
	return raw, nil
}

func (s *Service) posterMode(asAdmin bool) storage.PosterMode {
	switch s.posterPolicy {
	case PosterLastWriterWins:
		return storage.PosterOverwrite
	case PosterAdminOnly:
		if asAdmin {
			return storage.PosterOverwrite
		}
		return storage.PosterKeep
	default:
		return storage.PosterFillMissing
	}
}

// UpsertShow returns the show with the input's identity, creating it if no
// equivalent show exists. Concurrent calls with equivalent identities all
// receive the same show.
func (s *Service) UpsertShow(ctx context.Context, in ShowInput) (res *storage.UpsertResult, err error) {
	defer s.observe("upsert_show", time.Now(), &err)

	key, err := identity.Normalize(in.Title, in.Corps, in.Year)
	if err != nil {
		return nil, err
	}
	poster, err := validatePosterURL(in.PosterURL)
	if err != nil {
		return nil, err
	}

	rec := &storage.ShowRecord{
		Title:     identity.DisplayText(in.Title),
		Corps:     identity.DisplayText(in.Corps),
		Year:      in.Year,
		NormKey:   key,
		PosterURL: poster,
	}
	res, err = s.store.UpsertShow(ctx, rec, s.posterMode(in.AsAdmin))
	if err != nil {
		return nil, translate(err)
	}

	if res.Created {
		s.metrics.RecordShowCreated()
		s.logger.Info("show created",
			slog.Int64("show_id", res.Show.ID),
			slog.String("norm_key", key),
		)
		ev := events.New(events.ShowCreated)
		ev.ShowID = res.Show.ID
		s.publish(ctx, ev)
	} else if res.PosterUpdated {
		s.logger.Info("show poster updated", slog.Int64("show_id", res.Show.ID))
	}
	return res, nil
}

// GetShow retrieves a show by ID.
func (s *Service) GetShow(ctx context.Context, id int64) (*storage.ShowRecord, error) {
	show, err := s.store.GetShow(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return show, nil
}

// FindShow looks a show up by its identity.
func (s *Service) FindShow(ctx context.Context, title, corps string, year int) (*storage.ShowRecord, error) {
	key, err := identity.Normalize(title, corps, year)
	if err != nil {
		return nil, err
	}
	show, err := s.store.GetShowByNormKey(ctx, key)
	if err != nil {
		return nil, translate(err)
	}
	return show, nil
}

// ListShows returns shows matching the filter. The default order is creation
// time ascending with the show ID as tiebreak.
func (s *Service) ListShows(ctx context.Context, f ShowFilter) ([]*storage.ShowRecord, error) {
	params := &storage.ListShowsParams{
		CorpsKey: identity.CanonicalText(f.Corps),
		Order:    f.Order,
		Offset:   max(f.Offset, 0),
		Limit:    max(f.Limit, 0),
	}
	if params.Order == "" {
		params.Order = storage.ShowOrderCreatedAsc
	}
	if !validShowOrder(params.Order) {
		return nil, fmt.Errorf("unknown show order %q", f.Order)
	}
	// A corps made only of punctuation canonicalizes to nothing and can
	// match no show.
	if params.CorpsKey == "" && strings.TrimSpace(f.Corps) != "" {
		return nil, nil
	}
	if f.Year != nil {
		if *f.Year < identity.MinYear || *f.Year > identity.MaxYear {
			return nil, nil
		}
		params.Year = *f.Year
	}
	return s.store.ListShows(ctx, params)
}

func validShowOrder(o storage.ShowOrder) bool {
	switch o {
	case storage.ShowOrderCreatedAsc, storage.ShowOrderCreatedDesc,
		storage.ShowOrderYearDesc, storage.ShowOrderYearAsc,
		storage.ShowOrderCorps, storage.ShowOrderTitle:
		return true
	}
	return false
}

// UpdateShow changes a show's title, corps, year and poster. An empty poster
// keeps the current one. It fails with ErrConflict if the new identity
// belongs to another show.
func (s *Service) UpdateShow(ctx context.Context, id int64, in ShowInput) (show *storage.ShowRecord, err error) {
	defer s.observe("update_show", time.Now(), &err)

	key, err := identity.Normalize(in.Title, in.Corps, in.Year)
	if err != nil {
		return nil, err
	}
	poster, err := validatePosterURL(in.PosterURL)
	if err != nil {
		return nil, err
	}

	current, err := s.store.GetShow(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if poster == "" {
		poster = current.PosterURL
	}

	show = &storage.ShowRecord{
		ID:        id,
		Title:     identity.DisplayText(in.Title),
		Corps:     identity.DisplayText(in.Corps),
		Year:      in.Year,
		NormKey:   key,
		PosterURL: poster,
	}
	if err := s.store.UpdateShow(ctx, show); err != nil {
		return nil, translate(err)
	}
	s.logger.Info("show updated", slog.Int64("show_id", id), slog.String("norm_key", key))
	return show, nil
}

// DeleteShow removes a show with all of its ratings, reviews and votes.
func (s *Service) DeleteShow(ctx context.Context, id int64) (err error) {
	defer s.observe("delete_show", time.Now(), &err)

	if err := s.store.DeleteShow(ctx, id); err != nil {
		return translate(err)
	}
	s.invalidateStats(ctx, id)
	s.logger.Info("show deleted", slog.Int64("show_id", id))

	ev := events.New(events.ShowDeleted)
	ev.ShowID = id
	s.publish(ctx, ev)
	return nil
}
