// Package memory provides an in-memory storage implementation.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/axonops/showledger/internal/config"
	"github.com/axonops/showledger/internal/storage"
)

func init() {
	storage.Register(storage.StorageTypeMemory, func(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
		return NewStore(WithSchemaVersion(storage.InitialSchemaVersion(cfg))), nil
	})
}

type pairKey struct {
	showID int64
	userID int64
}

type voteKey struct {
	showID   int64
	authorID int64
	voterID  int64
}

// Store implements the storage.Storage interface using in-memory data structures.
// A single lock serializes writers, so every method is atomic.
type Store struct {
	mu sync.RWMutex

	users     map[int64]*storage.UserRecord
	usernames map[string]int64

	shows    map[int64]*storage.ShowRecord
	normKeys map[string]int64

	ratings       map[pairKey]*storage.RatingRecord
	legacyRatings map[pairKey]*storage.LegacyRatingRecord
	reviews       map[pairKey]*storage.ReviewRecord
	votes         map[voteKey]*storage.VoteRecord

	schemaVersion int
	nextUserID    int64
	nextShowID    int64
	now           func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSchemaVersion seeds the schema version marker.
func WithSchemaVersion(version int) Option {
	return func(s *Store) { s.schemaVersion = version }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a new in-memory store at the current schema version.
func NewStore(opts ...Option) *Store {
	s := &Store{
		users:         make(map[int64]*storage.UserRecord),
		usernames:     make(map[string]int64),
		shows:         make(map[int64]*storage.ShowRecord),
		normKeys:      make(map[string]int64),
		ratings:       make(map[pairKey]*storage.RatingRecord),
		legacyRatings: make(map[pairKey]*storage.LegacyRatingRecord),
		reviews:       make(map[pairKey]*storage.ReviewRecord),
		votes:         make(map[voteKey]*storage.VoteRecord),
		schemaVersion: storage.CurrentSchemaVersion,
		nextUserID:    1,
		nextShowID:    1,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// CreateUser creates a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usernames[user.Username]; exists {
		return storage.ErrUserExists
	}

	user.ID = s.nextUserID
	s.nextUserID++
	user.CreatedAt = s.timestamp()

	u := *user
	s.users[user.ID] = &u
	s.usernames[user.Username] = user.ID
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*storage.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	u := *s.users[id]
	return &u, nil
}

// UpdateUser updates an existing user.
func (s *Store) UpdateUser(ctx context.Context, user *storage.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return storage.ErrUserNotFound
	}
	if existing.Username != user.Username {
		if _, taken := s.usernames[user.Username]; taken {
			return storage.ErrUserExists
		}
		delete(s.usernames, existing.Username)
		s.usernames[user.Username] = user.ID
	}

	u := *user
	u.CreatedAt = existing.CreatedAt
	s.users[user.ID] = &u
	return nil
}

// DeleteUser deletes a user and everything that belongs to them.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return storage.ErrUserNotFound
	}

	for k := range s.ratings {
		if k.userID == id {
			delete(s.ratings, k)
		}
	}
	for k := range s.legacyRatings {
		if k.userID == id {
			delete(s.legacyRatings, k)
		}
	}
	for k := range s.reviews {
		if k.userID == id {
			delete(s.reviews, k)
		}
	}
	for k := range s.votes {
		if k.authorID == id || k.voterID == id {
			delete(s.votes, k)
		}
	}
	delete(s.usernames, user.Username)
	delete(s.users, id)
	return nil
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]*storage.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*storage.UserRecord, 0, len(s.users))
	for _, user := range s.users {
		u := *user
		users = append(users, &u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// CountUsers returns the number of users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

// UpsertShow inserts the show or returns the existing one with the same identity.
func (s *Store) UpsertShow(ctx context.Context, show *storage.ShowRecord, mode storage.PosterMode) (*storage.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, exists := s.normKeys[show.NormKey]; exists {
		existing := s.shows[id]
		result := &storage.UpsertResult{}
		if show.PosterURL != "" && show.PosterURL != existing.PosterURL {
			switch mode {
			case storage.PosterFillMissing:
				if existing.PosterURL == "" {
					existing.PosterURL = show.PosterURL
					result.PosterUpdated = true
				}
			case storage.PosterOverwrite:
				existing.PosterURL = show.PosterURL
				result.PosterUpdated = true
			}
		}
		sh := *existing
		result.Show = &sh
		return result, nil
	}

	rec := *show
	rec.ID = s.nextShowID
	s.nextShowID++
	rec.CreatedAt = s.timestamp()
	s.shows[rec.ID] = &rec
	s.normKeys[rec.NormKey] = rec.ID

	sh := rec
	return &storage.UpsertResult{Show: &sh, Created: true}, nil
}

// GetShow retrieves a show by ID.
func (s *Store) GetShow(ctx context.Context, id int64) (*storage.ShowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	show, ok := s.shows[id]
	if !ok {
		return nil, storage.ErrShowNotFound
	}
	sh := *show
	return &sh, nil
}

// GetShowByNormKey retrieves a show by its identity key.
func (s *Store) GetShowByNormKey(ctx context.Context, normKey string) (*storage.ShowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.normKeys[normKey]
	if !ok {
		return nil, storage.ErrShowNotFound
	}
	sh := *s.shows[id]
	return &sh, nil
}

// UpdateShow replaces a show's descriptive fields and identity key.
func (s *Store) UpdateShow(ctx context.Context, show *storage.ShowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.shows[show.ID]
	if !ok {
		return storage.ErrShowNotFound
	}
	if other, taken := s.normKeys[show.NormKey]; taken && other != show.ID {
		return storage.ErrNormKeyConflict
	}

	delete(s.normKeys, existing.NormKey)
	existing.Title = show.Title
	existing.Corps = show.Corps
	existing.Year = show.Year
	existing.NormKey = show.NormKey
	existing.PosterURL = show.PosterURL
	s.normKeys[show.NormKey] = show.ID
	show.CreatedAt = existing.CreatedAt
	return nil
}

// ListShows returns shows matching the filter in the requested order.
func (s *Store) ListShows(ctx context.Context, params *storage.ListShowsParams) ([]*storage.ShowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if params == nil {
		params = &storage.ListShowsParams{}
	}

	shows := make([]*storage.ShowRecord, 0, len(s.shows))
	for _, show := range s.shows {
		if params.Year != 0 && show.Year != params.Year {
			continue
		}
		if params.CorpsKey != "" && storage.NormKeyCorps(show.NormKey) != params.CorpsKey {
			continue
		}
		sh := *show
		shows = append(shows, &sh)
	}

	sort.Slice(shows, showLess(shows, params.Order))
	return paginate(shows, params.Offset, params.Limit), nil
}

// showLess orders shows the way the SQL backends do. Corps and title compare
// lower-cased.
func showLess(shows []*storage.ShowRecord, order storage.ShowOrder) func(i, j int) bool {
	created := func(a, b *storage.ShowRecord) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	}
	return func(i, j int) bool {
		a, b := shows[i], shows[j]
		ac, bc := strings.ToLower(a.Corps), strings.ToLower(b.Corps)
		at, bt := strings.ToLower(a.Title), strings.ToLower(b.Title)
		switch order {
		case storage.ShowOrderCreatedDesc:
			return created(b, a)
		case storage.ShowOrderYearDesc, storage.ShowOrderYearAsc:
			if a.Year != b.Year {
				return (a.Year > b.Year) == (order == storage.ShowOrderYearDesc)
			}
			if ac != bc {
				return ac < bc
			}
			if at != bt {
				return at < bt
			}
			return a.ID < b.ID
		case storage.ShowOrderCorps:
			if ac != bc {
				return ac < bc
			}
			if a.Year != b.Year {
				return a.Year > b.Year
			}
			if at != bt {
				return at < bt
			}
			return a.ID < b.ID
		case storage.ShowOrderTitle:
			if at != bt {
				return at < bt
			}
			return a.ID < b.ID
		default:
			return created(a, b)
		}
	}
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// DeleteShow deletes a show with its ratings, reviews and votes.
func (s *Store) DeleteShow(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	show, ok := s.shows[id]
	if !ok {
		return storage.ErrShowNotFound
	}

	for k := range s.votes {
		if k.showID == id {
			delete(s.votes, k)
		}
	}
	for k := range s.reviews {
		if k.showID == id {
			delete(s.reviews, k)
		}
	}
	for k := range s.ratings {
		if k.showID == id {
			delete(s.ratings, k)
		}
	}
	for k := range s.legacyRatings {
		if k.showID == id {
			delete(s.legacyRatings, k)
		}
	}
	delete(s.normKeys, show.NormKey)
	delete(s.shows, id)
	return nil
}

// checkShowAndUser must be called with the lock held.
func (s *Store) checkShowAndUser(showID, userID int64) error {
	if _, ok := s.shows[showID]; !ok {
		return storage.ErrShowNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return storage.ErrUserNotFound
	}
	return nil
}

// PutRating creates or replaces a user's rating of a show.
func (s *Store) PutRating(ctx context.Context, rating *storage.RatingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkShowAndUser(rating.ShowID, rating.UserID); err != nil {
		return err
	}
	rating.UpdatedAt = s.timestamp()
	r := *rating
	s.ratings[pairKey{rating.ShowID, rating.UserID}] = &r
	return nil
}

// GetRating retrieves a user's rating of a show.
func (s *Store) GetRating(ctx context.Context, showID, userID int64) (*storage.RatingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rating, ok := s.ratings[pairKey{showID, userID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	r := *rating
	return &r, nil
}

// DeleteRating removes a rating. Missing ratings are not an error.
func (s *Store) DeleteRating(ctx context.Context, showID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ratings, pairKey{showID, userID})
	return nil
}

// ListRatingsByUser returns a user's ratings, most recently updated first.
func (s *Store) ListRatingsByUser(ctx context.Context, userID int64, limit int) ([]*storage.RatingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ratings []*storage.RatingRecord
	for k, rating := range s.ratings {
		if k.userID == userID {
			r := *rating
			ratings = append(ratings, &r)
		}
	}
	sort.Slice(ratings, func(i, j int) bool {
		if !ratings[i].UpdatedAt.Equal(ratings[j].UpdatedAt) {
			return ratings[i].UpdatedAt.After(ratings[j].UpdatedAt)
		}
		return ratings[i].ShowID > ratings[j].ShowID
	})
	return paginate(ratings, 0, limit), nil
}

// GetRatingSummary returns the count and sum of ratings for a show.
func (s *Store) GetRatingSummary(ctx context.Context, showID int64) (*storage.RatingSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &storage.RatingSummary{ShowID: showID}
	for k, rating := range s.ratings {
		if k.showID == showID {
			summary.Count++
			summary.Sum += rating.RatingHalf
		}
	}
	return summary, nil
}

// ListRatingSummaries returns summaries for every show with at least one rating.
func (s *Store) ListRatingSummaries(ctx context.Context) ([]*storage.RatingSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byShow := make(map[int64]*storage.RatingSummary)
	for k, rating := range s.ratings {
		summary, ok := byShow[k.showID]
		if !ok {
			summary = &storage.RatingSummary{ShowID: k.showID}
			byShow[k.showID] = summary
		}
		summary.Count++
		summary.Sum += rating.RatingHalf
	}

	summaries := make([]*storage.RatingSummary, 0, len(byShow))
	for _, summary := range byShow {
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ShowID < summaries[j].ShowID })
	return summaries, nil
}

// PutReview creates or replaces a review, keeping the original creation time.
func (s *Store) PutReview(ctx context.Context, review *storage.ReviewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkShowAndUser(review.ShowID, review.UserID); err != nil {
		return err
	}

	key := pairKey{review.ShowID, review.UserID}
	now := s.timestamp()
	review.UpdatedAt = now
	if existing, ok := s.reviews[key]; ok {
		review.CreatedAt = existing.CreatedAt
	} else {
		review.CreatedAt = now
	}
	r := *review
	s.reviews[key] = &r
	return nil
}

// GetReview retrieves a review.
func (s *Store) GetReview(ctx context.Context, showID, userID int64) (*storage.ReviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	review, ok := s.reviews[pairKey{showID, userID}]
	if !ok {
		return nil, storage.ErrReviewNotFound
	}
	r := *review
	return &r, nil
}

// DeleteReview removes a review with all of its votes.
func (s *Store) DeleteReview(ctx context.Context, showID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.votes {
		if k.showID == showID && k.authorID == userID {
			delete(s.votes, k)
		}
	}
	delete(s.reviews, pairKey{showID, userID})
	return nil
}

// tally must be called with the lock held.
func (s *Store) tally(showID, authorID int64) storage.Tally {
	var t storage.Tally
	for k, vote := range s.votes {
		if k.showID != showID || k.authorID != authorID {
			continue
		}
		if vote.Value > 0 {
			t.Up++
		} else {
			t.Down++
		}
	}
	return t
}

// ListReviewsByShow returns every review of a show with its vote tally,
// ordered by author ID.
func (s *Store) ListReviewsByShow(ctx context.Context, showID int64) ([]*storage.ReviewTally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reviews []*storage.ReviewTally
	for k, review := range s.reviews {
		if k.showID != showID {
			continue
		}
		r := *review
		reviews = append(reviews, &storage.ReviewTally{Review: &r, Tally: s.tally(showID, k.userID)})
	}
	sort.Slice(reviews, func(i, j int) bool { return reviews[i].Review.UserID < reviews[j].Review.UserID })
	return reviews, nil
}

// ListReviewsByUser returns a user's reviews, most recently updated first.
func (s *Store) ListReviewsByUser(ctx context.Context, userID int64, limit int) ([]*storage.ReviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reviews []*storage.ReviewRecord
	for k, review := range s.reviews {
		if k.userID == userID {
			r := *review
			reviews = append(reviews, &r)
		}
	}
	sort.Slice(reviews, func(i, j int) bool {
		if !reviews[i].UpdatedAt.Equal(reviews[j].UpdatedAt) {
			return reviews[i].UpdatedAt.After(reviews[j].UpdatedAt)
		}
		return reviews[i].ShowID > reviews[j].ShowID
	})
	return paginate(reviews, 0, limit), nil
}

// CountReviews returns the number of reviews of a show.
func (s *Store) CountReviews(ctx context.Context, showID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for k := range s.reviews {
		if k.showID == showID {
			n++
		}
	}
	return n, nil
}

// checkVoteTarget must be called with the lock held.
func (s *Store) checkVoteTarget(vote *storage.VoteRecord) error {
	if _, ok := s.reviews[pairKey{vote.ShowID, vote.AuthorID}]; !ok {
		return storage.ErrReviewNotFound
	}
	if _, ok := s.users[vote.VoterID]; !ok {
		return storage.ErrUserNotFound
	}
	return nil
}

// PutVote creates or replaces a vote on an existing review.
func (s *Store) PutVote(ctx context.Context, vote *storage.VoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVoteTarget(vote); err != nil {
		return err
	}
	vote.UpdatedAt = s.timestamp()
	v := *vote
	s.votes[voteKey{vote.ShowID, vote.AuthorID, vote.VoterID}] = &v
	return nil
}

// ToggleVote removes an identical vote or stores the new one.
func (s *Store) ToggleVote(ctx context.Context, vote *storage.VoteRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVoteTarget(vote); err != nil {
		return 0, err
	}
	key := voteKey{vote.ShowID, vote.AuthorID, vote.VoterID}
	if existing, ok := s.votes[key]; ok && existing.Value == vote.Value {
		delete(s.votes, key)
		return 0, nil
	}
	vote.UpdatedAt = s.timestamp()
	v := *vote
	s.votes[key] = &v
	return vote.Value, nil
}

// GetVote retrieves a single vote.
func (s *Store) GetVote(ctx context.Context, showID, authorID, voterID int64) (*storage.VoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vote, ok := s.votes[voteKey{showID, authorID, voterID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	v := *vote
	return &v, nil
}

// DeleteVote removes a vote. Missing votes are not an error.
func (s *Store) DeleteVote(ctx context.Context, showID, authorID, voterID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.votes, voteKey{showID, authorID, voterID})
	return nil
}

// GetTally counts the current votes on a review.
func (s *Store) GetTally(ctx context.Context, showID, authorID int64) (*storage.Tally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.tally(showID, authorID)
	return &t, nil
}

// SchemaVersion returns the schema version marker.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schemaVersion, nil
}

// UpgradeSchema converts legacy integer ratings to the half-star scale.
// Existing half-star ratings take precedence over legacy ones.
func (s *Store) UpgradeSchema(ctx context.Context, from, to int) error {
	if from != storage.SchemaVersionStarScale || to != storage.SchemaVersionHalfStarScale {
		return storage.ErrUnsupportedMigration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schemaVersion >= to {
		return storage.ErrMigrationAlreadyApplied
	}
	if s.schemaVersion != from {
		return storage.ErrSchemaVersionMismatch
	}

	for k, legacy := range s.legacyRatings {
		if _, exists := s.ratings[k]; !exists {
			s.ratings[k] = &storage.RatingRecord{
				ShowID:     legacy.ShowID,
				UserID:     legacy.UserID,
				RatingHalf: legacy.RatingInt * 2,
				UpdatedAt:  legacy.UpdatedAt,
			}
		}
		delete(s.legacyRatings, k)
	}
	s.schemaVersion = to
	return nil
}

// ImportLegacyRating stores a rating on the integer star scale. It is only
// accepted before the scale migration has run.
func (s *Store) ImportLegacyRating(ctx context.Context, rating *storage.LegacyRatingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schemaVersion >= storage.SchemaVersionHalfStarScale {
		return storage.ErrMigrationAlreadyApplied
	}
	if err := s.checkShowAndUser(rating.ShowID, rating.UserID); err != nil {
		return err
	}
	if rating.UpdatedAt.IsZero() {
		rating.UpdatedAt = s.timestamp()
	}
	r := *rating
	s.legacyRatings[pairKey{rating.ShowID, rating.UserID}] = &r
	return nil
}

// CountLegacyRatings returns the number of unmigrated legacy ratings.
func (s *Store) CountLegacyRatings(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.legacyRatings), nil
}

// Close is a no-op for in-memory storage.
func (s *Store) Close() error {
	return nil
}

// IsHealthy always reports true for in-memory storage.
func (s *Store) IsHealthy(ctx context.Context) bool {
	return true
}

var _ storage.Storage = (*Store)(nil)
