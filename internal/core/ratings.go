package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/axonops/showledger/internal/events"
	"github.com/axonops/showledger/internal/storage"
)

// SetRating stores a user's rating of a show in half stars, 0 to 10,
// replacing any earlier rating.
func (s *Service) SetRating(ctx context.Context, showID, userID int64, ratingHalf int) (err error) {
	defer s.observe("set_rating", time.Now(), &err)

	if ratingHalf < storage.MinRatingHalf || ratingHalf > storage.MaxRatingHalf {
		return fmt.Errorf("%w: %d is outside %d-%d", ErrInvalidRating, ratingHalf, storage.MinRatingHalf, storage.MaxRatingHalf)
	}
	if err := s.requireCurrentSchema(ctx); err != nil {
		return err
	}

	rating := &storage.RatingRecord{ShowID: showID, UserID: userID, RatingHalf: ratingHalf}
	if err := s.store.PutRating(ctx, rating); err != nil {
		return translate(err)
	}
	s.invalidateStats(ctx, showID)
	s.logger.Debug("rating set",
		slog.Int64("show_id", showID),
		slog.Int64("user_id", userID),
		slog.Int("rating_half", ratingHalf),
	)

	ev := events.New(events.RatingSet)
	ev.ShowID, ev.UserID, ev.Value = showID, userID, ratingHalf
	s.publish(ctx, ev)
	return nil
}

// ClearRating removes a user's rating. Clearing an absent rating succeeds.
func (s *Service) ClearRating(ctx context.Context, showID, userID int64) (err error) {
	defer s.observe("clear_rating", time.Now(), &err)

	if err := s.requireCurrentSchema(ctx); err != nil {
		return err
	}
	if err := s.store.DeleteRating(ctx, showID, userID); err != nil {
		return err
	}
	s.invalidateStats(ctx, showID)

	ev := events.New(events.RatingCleared)
	ev.ShowID, ev.UserID = showID, userID
	s.publish(ctx, ev)
	return nil
}

// GetRating returns a user's rating of a show. ok is false when the user has
// not rated the show.
func (s *Service) GetRating(ctx context.Context, showID, userID int64) (ratingHalf int, ok bool, err error) {
	if err := s.requireCurrentSchema(ctx); err != nil {
		return 0, false, err
	}
	r, err := s.store.GetRating(ctx, showID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return r.RatingHalf, true, nil
}

// UserRatings returns a user's ratings, most recently updated first. A limit
// of zero returns all of them.
func (s *Service) UserRatings(ctx context.Context, userID int64, limit int) ([]*storage.RatingRecord, error) {
	if err := s.requireCurrentSchema(ctx); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, translate(err)
	}
	return s.store.ListRatingsByUser(ctx, userID, max(limit, 0))
}

// ImportLegacyRating loads a rating on the integer 1-5 star scale into a
// store that has not yet been migrated to half stars.
func (s *Service) ImportLegacyRating(ctx context.Context, showID, userID int64, ratingInt int) (err error) {
	defer s.observe("import_legacy_rating", time.Now(), &err)

	if ratingInt < storage.MinRatingInt || ratingInt > storage.MaxRatingInt {
		return fmt.Errorf("%w: %d is outside %d-%d", ErrInvalidRating, ratingInt, storage.MinRatingInt, storage.MaxRatingInt)
	}
	rating := &storage.LegacyRatingRecord{ShowID: showID, UserID: userID, RatingInt: ratingInt}
	if err := s.store.ImportLegacyRating(ctx, rating); err != nil {
		return translate(err)
	}
	return nil
}
