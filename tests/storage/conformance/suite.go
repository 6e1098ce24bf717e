// Package conformance provides a shared test suite that every storage backend must pass.
// Usage: call RunAll(t, factory) where factory creates a fresh store for each sub-test.
package conformance

import (
	"testing"

	"github.com/axonops/showledger/internal/storage"
)

// StoreFactory creates a fresh, empty storage.Storage for each sub-test with
// its schema version marker set to schemaVersion.
type StoreFactory func(schemaVersion int) storage.Storage

// RunAll runs every conformance test category against the given store factory.
func RunAll(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("User", func(t *testing.T) { RunUserTests(t, newStore) })
	t.Run("Show", func(t *testing.T) { RunShowTests(t, newStore) })
	t.Run("Rating", func(t *testing.T) { RunRatingTests(t, newStore) })
	t.Run("Review", func(t *testing.T) { RunReviewTests(t, newStore) })
	t.Run("Vote", func(t *testing.T) { RunVoteTests(t, newStore) })
	t.Run("Cascade", func(t *testing.T) { RunCascadeTests(t, newStore) })
	t.Run("Schema", func(t *testing.T) { RunSchemaTests(t, newStore) })
}

// current returns a fresh store on the current schema version.
func current(newStore StoreFactory) storage.Storage {
	return newStore(storage.CurrentSchemaVersion)
}
