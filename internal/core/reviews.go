package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/axonops/showledger/internal/events"
	"github.com/axonops/showledger/internal/storage"
)

// MaxReviewLength is the longest accepted review, in characters.
const MaxReviewLength = 5000

// ReviewOrder selects the ordering of ListReviews.
type ReviewOrder string

const (
	// ReviewOrderRecency lists the most recently updated reviews first.
	ReviewOrderRecency ReviewOrder = "recency"
	// ReviewOrderScore lists the highest net score first, then the earliest
	// written.
	ReviewOrderScore ReviewOrder = "score"
)

// ReviewQuery selects and pages the reviews of a show.
type ReviewQuery struct {
	Order ReviewOrder
	// Viewer, when non-zero, fills ReviewView.ViewerVote.
	Viewer int64
	Offset int
	Limit  int
}

// ReviewView is a review with its current tally.
type ReviewView struct {
	Review    *storage.ReviewRecord `json:"review"`
	NetScore  int                   `json:"net_score"`
	Upvotes   int                   `json:"upvotes"`
	Downvotes int                   `json:"downvotes"`
	// AuthorRating is the author's half-star rating of the show, if any.
	AuthorRating *int `json:"author_rating,omitempty"`
	// ViewerVote is the viewer's vote on this review: -1, 0 or +1.
	ViewerVote int `json:"viewer_vote"`
}

// SetReview creates or replaces a user's review of a show. The text is
// trimmed and must be valid UTF-8 of 1 to MaxReviewLength characters.
func (s *Service) SetReview(ctx context.Context, showID, userID int64, text string) (rec *storage.ReviewRecord, err error) {
	defer s.observe("set_review", time.Now(), &err)

	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrInvalidReview)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrInvalidReview)
	}
	if n := utf8.RuneCountInString(text); n > MaxReviewLength {
		return nil, fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidReview, n, MaxReviewLength)
	}

	rec = &storage.ReviewRecord{ShowID: showID, UserID: userID, Text: text}
	if err := s.store.PutReview(ctx, rec); err != nil {
		return nil, translate(err)
	}
	s.invalidateStats(ctx, showID)
	s.logger.Debug("review set", slog.Int64("show_id", showID), slog.Int64("user_id", userID))

	ev := events.New(events.ReviewSet)
	ev.ShowID, ev.UserID = showID, userID
	s.publish(ctx, ev)
	return rec, nil
}

// ClearReview removes a user's review and every vote on it. Clearing an
// absent review succeeds.
func (s *Service) ClearReview(ctx context.Context, showID, userID int64) (err error) {
	defer s.observe("clear_review", time.Now(), &err)

	if err := s.store.DeleteReview(ctx, showID, userID); err != nil {
		return err
	}
	s.invalidateStats(ctx, showID)

	ev := events.New(events.ReviewCleared)
	ev.ShowID, ev.UserID = showID, userID
	s.publish(ctx, ev)
	return nil
}

// GetReview returns a user's review of a show. ok is false when there is none.
func (s *Service) GetReview(ctx context.Context, showID, userID int64) (*storage.ReviewRecord, bool, error) {
	rec, err := s.store.GetReview(ctx, showID, userID)
	if errors.Is(err, storage.ErrReviewNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// ListReviews returns the reviews of a show with their tallies.
func (s *Service) ListReviews(ctx context.Context, showID int64, q ReviewQuery) ([]ReviewView, error) {
	order := q.Order
	if order == "" {
		order = ReviewOrderRecency
	}
	if order != ReviewOrderRecency && order != ReviewOrderScore {
		return nil, fmt.Errorf("unknown review order %q", q.Order)
	}

	if _, err := s.store.GetShow(ctx, showID); err != nil {
		return nil, translate(err)
	}
	tallies, err := s.store.ListReviewsByShow(ctx, showID)
	if err != nil {
		return nil, err
	}

	views := make([]ReviewView, len(tallies))
	for i, rt := range tallies {
		views[i] = ReviewView{
			Review:    rt.Review,
			NetScore:  rt.Tally.Net(),
			Upvotes:   rt.Tally.Up,
			Downvotes: rt.Tally.Down,
		}
	}
	sortReviews(views, order)
	views = page(views, q.Offset, q.Limit)

	for i := range views {
		if err := s.annotate(ctx, &views[i], q.Viewer); err != nil {
			return nil, err
		}
	}
	return views, nil
}

// annotate fills the author's rating and the viewer's vote.
func (s *Service) annotate(ctx context.Context, v *ReviewView, viewer int64) error {
	r := v.Review
	rating, err := s.store.GetRating(ctx, r.ShowID, r.UserID)
	switch {
	case err == nil:
		v.AuthorRating = &rating.RatingHalf
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	if viewer == 0 || viewer == r.UserID {
		return nil
	}
	vote, err := s.store.GetVote(ctx, r.ShowID, r.UserID, viewer)
	switch {
	case err == nil:
		v.ViewerVote = vote.Value
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	return nil
}

func sortReviews(views []ReviewView, order ReviewOrder) {
	slices.SortStableFunc(views, func(a, b ReviewView) int {
		if order == ReviewOrderScore {
			if a.NetScore != b.NetScore {
				return b.NetScore - a.NetScore
			}
			if c := a.Review.CreatedAt.Compare(b.Review.CreatedAt); c != 0 {
				return c
			}
		} else if c := b.Review.UpdatedAt.Compare(a.Review.UpdatedAt); c != 0 {
			return c
		}
		switch {
		case a.Review.UserID < b.Review.UserID:
			return -1
		case a.Review.UserID > b.Review.UserID:
			return 1
		}
		return 0
	})
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// UserReviews returns a user's reviews, most recently updated first.
func (s *Service) UserReviews(ctx context.Context, userID int64, limit int) ([]*storage.ReviewRecord, error) {
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, translate(err)
	}
	return s.store.ListReviewsByUser(ctx, userID, max(limit, 0))
}
