package core

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/axonops/showledger/internal/storage"
)

// Stats summarizes the ratings and reviews of a show.
type Stats struct {
	ShowID      int64 `json:"show_id"`
	RatingCount int   `json:"rating_count"`
	// MeanRatingHalf is nil when the show has no ratings.
	MeanRatingHalf *float64 `json:"mean_rating_half"`
	ReviewCount    int      `json:"review_count"`
}

func meanOf(sum *storage.RatingSummary) *float64 {
	if sum.Count == 0 {
		return nil
	}
	m := float64(sum.Sum) / float64(sum.Count)
	return &m
}

// ShowStats returns the rating count, mean half-star rating and review count
// of a show.
func (s *Service) ShowStats(ctx context.Context, showID int64) (*Stats, error) {
	key := statsKey(showID)
	var cached Stats
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("stats cache read failed",
			slog.String("cache", s.cache.Name()),
			slog.String("error", err.Error()),
		)
	}
	s.metrics.RecordCacheAccess(s.cache.Name(), hit)
	if hit {
		return &cached, nil
	}

	gen := s.statsGeneration(showID)
	if _, err := s.store.GetShow(ctx, showID); err != nil {
		return nil, translate(err)
	}
	st, err := s.computeStats(ctx, showID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, st); err != nil {
		s.logger.Warn("stats cache write failed",
			slog.String("cache", s.cache.Name()),
			slog.String("error", err.Error()),
		)
	}
	// A write that invalidated the show while we computed may already have
	// deleted the key; drop the value we just stored.
	if s.statsGeneration(showID) != gen {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to invalidate stats cache",
				slog.String("cache", s.cache.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	return st, nil
}

func (s *Service) computeStats(ctx context.Context, showID int64) (*Stats, error) {
	sum, err := s.store.GetRatingSummary(ctx, showID)
	if err != nil {
		return nil, err
	}
	reviews, err := s.store.CountReviews(ctx, showID)
	if err != nil {
		return nil, err
	}
	return &Stats{
		ShowID:         showID,
		RatingCount:    sum.Count,
		MeanRatingHalf: meanOf(sum),
		ReviewCount:    reviews,
	}, nil
}

// TopReviews returns a show's reviews by net score, highest first. Ties go to
// the earliest written review, then the lowest author ID.
func (s *Service) TopReviews(ctx context.Context, showID int64, limit int) ([]ReviewView, error) {
	return s.ListReviews(ctx, showID, ReviewQuery{Order: ReviewOrderScore, Limit: limit})
}

// LeaderboardMode selects the end of the leaderboard.
type LeaderboardMode string

const (
	LeaderboardTop    LeaderboardMode = "top"
	LeaderboardBottom LeaderboardMode = "bottom"
)

// LeaderboardQuery configures Leaderboard.
type LeaderboardQuery struct {
	Mode  LeaderboardMode
	Limit int
}

// LeaderboardEntry is one ranked show.
type LeaderboardEntry struct {
	Show      *storage.ShowRecord `json:"show"`
	Stats     Stats               `json:"stats"`
	TopReview *ReviewView         `json:"top_review,omitempty"`
}

// Leaderboard ranks the shows that have at least one rating by mean rating,
// then by rating count, newest year and lowest ID. Each entry carries the
// show's top review.
func (s *Service) Leaderboard(ctx context.Context, q LeaderboardQuery) ([]LeaderboardEntry, error) {
	mode := q.Mode
	if mode == "" {
		mode = LeaderboardTop
	}
	if mode != LeaderboardTop && mode != LeaderboardBottom {
		return nil, fmt.Errorf("unknown leaderboard mode %q", q.Mode)
	}

	summaries, err := s.store.ListRatingSummaries(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(summaries))
	for _, sum := range summaries {
		if sum.Count == 0 {
			continue
		}
		show, err := s.store.GetShow(ctx, sum.ShowID)
		if isNotFound(err) {
			// Deleted after the summary was read.
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, LeaderboardEntry{
			Show: show,
			Stats: Stats{
				ShowID:         sum.ShowID,
				RatingCount:    sum.Count,
				MeanRatingHalf: meanOf(sum),
			},
		})
	}

	slices.SortFunc(entries, func(a, b LeaderboardEntry) int {
		ma, mb := *a.Stats.MeanRatingHalf, *b.Stats.MeanRatingHalf
		if ma != mb {
			if (ma > mb) == (mode == LeaderboardTop) {
				return -1
			}
			return 1
		}
		if a.Stats.RatingCount != b.Stats.RatingCount {
			return b.Stats.RatingCount - a.Stats.RatingCount
		}
		if a.Show.Year != b.Show.Year {
			return b.Show.Year - a.Show.Year
		}
		switch {
		case a.Show.ID < b.Show.ID:
			return -1
		case a.Show.ID > b.Show.ID:
			return 1
		}
		return 0
	})
	entries = page(entries, 0, q.Limit)

	for i := range entries {
		e := &entries[i]
		if e.Stats.ReviewCount, err = s.store.CountReviews(ctx, e.Show.ID); err != nil {
			return nil, err
		}
		top, err := s.TopReviews(ctx, e.Show.ID, 1)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(top) > 0 {
			e.TopReview = &top[0]
		}
	}
	return entries, nil
}
