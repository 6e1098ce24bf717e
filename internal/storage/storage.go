// Package storage provides storage interfaces and implementations for showledger.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors
var (
	ErrNotFound                = errors.New("not found")
	ErrUserNotFound            = errors.New("user not found")
	ErrUserExists              = errors.New("user already exists")
	ErrShowNotFound            = errors.New("show not found")
	ErrNormKeyConflict         = errors.New("another show already has this identity")
	ErrReviewNotFound          = errors.New("review not found")
	ErrMigrationAlreadyApplied = errors.New("schema migration already applied")
	ErrSchemaVersionMismatch   = errors.New("schema version does not match migration source")
	ErrUnsupportedMigration    = errors.New("unsupported schema migration")
)

// Schema versions of the rating scale.
const (
	// SchemaVersionStarScale stores integer ratings 1-5 in the legacy table.
	SchemaVersionStarScale = 1
	// SchemaVersionHalfStarScale stores half-star ratings 0-10.
	SchemaVersionHalfStarScale = 2

	CurrentSchemaVersion = SchemaVersionHalfStarScale
)

// Bounds of the stored rating scales.
const (
	MinRatingHalf = 0
	MaxRatingHalf = 10
	MinRatingInt  = 1
	MaxRatingInt  = 5
)

// UserRecord represents a stored user.
type UserRecord struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // Never exposed in JSON
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// ShowRecord represents a stored show. NormKey is unique across all shows.
type ShowRecord struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Corps     string    `json:"corps"`
	Year      int       `json:"year"`
	NormKey   string    `json:"norm_key"`
	PosterURL string    `json:"poster_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RatingRecord is a user's current half-star rating of a show.
type RatingRecord struct {
	ShowID     int64     `json:"show_id"`
	UserID     int64     `json:"user_id"`
	RatingHalf int       `json:"rating_half"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// LegacyRatingRecord is a rating on the pre-migration 1-5 integer scale.
type LegacyRatingRecord struct {
	ShowID    int64     `json:"show_id"`
	UserID    int64     `json:"user_id"`
	RatingInt int       `json:"rating_int"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReviewRecord is a user's review of a show. CreatedAt survives edits.
type ReviewRecord struct {
	ShowID    int64     `json:"show_id"`
	UserID    int64     `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VoteRecord is one voter's vote on the review (ShowID, AuthorID).
type VoteRecord struct {
	ShowID    int64     `json:"show_id"`
	AuthorID  int64     `json:"author_id"`
	VoterID   int64     `json:"voter_id"`
	Value     int       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tally summarizes the votes on one review.
type Tally struct {
	Up   int `json:"up"`
	Down int `json:"down"`
}

// Net returns upvotes minus downvotes.
func (t Tally) Net() int {
	return t.Up - t.Down
}

// ReviewTally pairs a review with its current vote tally.
type ReviewTally struct {
	Review *ReviewRecord
	Tally  Tally
}

// RatingSummary holds the count and sum of half-star ratings for a show.
type RatingSummary struct {
	ShowID int64 `json:"show_id"`
	Count  int   `json:"count"`
	Sum    int   `json:"sum"`
}

// PosterMode controls how UpsertShow treats the poster of an existing show.
type PosterMode int

const (
	// PosterFillMissing sets the poster only when the stored one is empty.
	PosterFillMissing PosterMode = iota
	// PosterOverwrite replaces the stored poster with a non-empty one.
	PosterOverwrite
	// PosterKeep never changes an existing show's poster.
	PosterKeep
)

// UpsertResult describes the outcome of UpsertShow.
type UpsertResult struct {
	Show          *ShowRecord
	Created       bool
	PosterUpdated bool
}

// ShowOrder selects the ordering of ListShows.
type ShowOrder string

const (
	ShowOrderCreatedAsc  ShowOrder = "created_asc"
	ShowOrderCreatedDesc ShowOrder = "created_desc"
	ShowOrderYearDesc    ShowOrder = "year_desc"
	ShowOrderYearAsc     ShowOrder = "year_asc"
	ShowOrderCorps       ShowOrder = "corps"
	ShowOrderTitle       ShowOrder = "title"
)

// NormKeyCorps returns the corps segment of a "<year>|<corps>|<title>" norm
// key, or "" for a malformed key.
func NormKeyCorps(normKey string) string {
	parts := strings.SplitN(normKey, "|", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// NormKeyCorpsPattern is the SQL LIKE pattern that matches norm keys whose
// corps segment equals corpsKey. Canonical text holds no LIKE wildcards.
func NormKeyCorpsPattern(corpsKey string) string {
	return "%|" + corpsKey + "|%"
}

// ListShowsParams filters and pages ListShows.
type ListShowsParams struct {
	Year int // zero means any year
	// CorpsKey is a canonical corps (identity.CanonicalText) matched against
	// the corps segment of each show's norm key. Empty means any corps.
	CorpsKey string
	Order    ShowOrder
	Offset   int
	Limit    int // zero means no limit
}

// Storage defines the persistence contract. Every method is atomic: it either
// commits all of its writes or none of them.
type Storage interface {
	// User operations
	CreateUser(ctx context.Context, user *UserRecord) error
	GetUserByID(ctx context.Context, id int64) (*UserRecord, error)
	GetUserByUsername(ctx context.Context, username string) (*UserRecord, error)
	UpdateUser(ctx context.Context, user *UserRecord) error
	// DeleteUser removes the user with their ratings, reviews, votes on those
	// reviews and votes they cast.
	DeleteUser(ctx context.Context, id int64) error
	ListUsers(ctx context.Context) ([]*UserRecord, error)
	CountUsers(ctx context.Context) (int, error)

	// Show operations
	// UpsertShow inserts the show or returns the existing show with the same NormKey.
	UpsertShow(ctx context.Context, show *ShowRecord, mode PosterMode) (*UpsertResult, error)
	GetShow(ctx context.Context, id int64) (*ShowRecord, error)
	GetShowByNormKey(ctx context.Context, normKey string) (*ShowRecord, error)
	UpdateShow(ctx context.Context, show *ShowRecord) error
	ListShows(ctx context.Context, params *ListShowsParams) ([]*ShowRecord, error)
	// DeleteShow removes the show with its ratings, reviews and votes.
	DeleteShow(ctx context.Context, id int64) error

	// Rating operations
	PutRating(ctx context.Context, rating *RatingRecord) error
	GetRating(ctx context.Context, showID, userID int64) (*RatingRecord, error)
	DeleteRating(ctx context.Context, showID, userID int64) error
	ListRatingsByUser(ctx context.Context, userID int64, limit int) ([]*RatingRecord, error)
	GetRatingSummary(ctx context.Context, showID int64) (*RatingSummary, error)
	ListRatingSummaries(ctx context.Context) ([]*RatingSummary, error)

	// Review operations
	PutReview(ctx context.Context, review *ReviewRecord) error
	GetReview(ctx context.Context, showID, userID int64) (*ReviewRecord, error)
	// DeleteReview removes the review and every vote on it.
	DeleteReview(ctx context.Context, showID, userID int64) error
	ListReviewsByShow(ctx context.Context, showID int64) ([]*ReviewTally, error)
	ListReviewsByUser(ctx context.Context, userID int64, limit int) ([]*ReviewRecord, error)
	CountReviews(ctx context.Context, showID int64) (int, error)

	// Vote operations
	// PutVote fails with ErrReviewNotFound unless the review exists when the vote commits.
	PutVote(ctx context.Context, vote *VoteRecord) error
	// ToggleVote retracts a matching vote or stores the new one, returning the resulting value.
	ToggleVote(ctx context.Context, vote *VoteRecord) (int, error)
	GetVote(ctx context.Context, showID, authorID, voterID int64) (*VoteRecord, error)
	DeleteVote(ctx context.Context, showID, authorID, voterID int64) error
	GetTally(ctx context.Context, showID, authorID int64) (*Tally, error)

	// Schema operations
	SchemaVersion(ctx context.Context) (int, error)
	// UpgradeSchema moves the stored data from one schema version to the next.
	UpgradeSchema(ctx context.Context, from, to int) error
	ImportLegacyRating(ctx context.Context, rating *LegacyRatingRecord) error
	CountLegacyRatings(ctx context.Context) (int, error)

	// Lifecycle
	Close() error
	IsHealthy(ctx context.Context) bool
}
