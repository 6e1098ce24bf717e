package core

import (
	"errors"
	"fmt"

	"github.com/axonops/showledger/internal/identity"
	"github.com/axonops/showledger/internal/storage"
)

// Errors returned by the Service. Callers match them with errors.Is; the
// returned error usually wraps one of these with detail.
var (
	ErrInvalidIdentity         = identity.ErrInvalidIdentity
	ErrInvalidRating           = errors.New("invalid rating")
	ErrInvalidReview           = errors.New("invalid review")
	ErrInvalidVote             = errors.New("invalid vote")
	ErrSelfVote                = errors.New("cannot vote on own review")
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrMigrationAlreadyApplied = storage.ErrMigrationAlreadyApplied
	ErrMigrationPending        = errors.New("schema migration pending")
	ErrInvalidUser             = errors.New("invalid user")
	ErrInvalidPosterURL        = errors.New("invalid poster url")
)

// translate maps storage sentinels onto the core taxonomy, keeping the
// storage error in the chain.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrShowNotFound),
		errors.Is(err, storage.ErrUserNotFound),
		errors.Is(err, storage.ErrReviewNotFound),
		errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, storage.ErrUserExists),
		errors.Is(err, storage.ErrNormKeyConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return err
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrShowNotFound) ||
		errors.Is(err, storage.ErrUserNotFound) ||
		errors.Is(err, storage.ErrReviewNotFound)
}
