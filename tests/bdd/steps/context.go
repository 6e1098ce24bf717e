//go:build bdd

// Package steps provides godog step definitions for BDD tests.
package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/axonops/showledger/internal/core"
	"github.com/axonops/showledger/internal/migrate"
	"github.com/axonops/showledger/internal/storage"
)

// StoreOpener creates a fresh store at the given schema version.
type StoreOpener func(schemaVersion int) (storage.Storage, error)

// TestContext holds state shared across steps within a single scenario.
type TestContext struct {
	Service *core.Service
	Store   storage.Storage
	Runner  *migrate.Runner

	Users map[string]int64
	Shows map[string]int64

	LastErr    error
	LastUpsert *storage.UpsertResult

	open StoreOpener
}

// NewTestContext creates a context backed by a fresh store on the current
// schema version.
func NewTestContext(open StoreOpener) (*TestContext, error) {
	tc := &TestContext{open: open}
	if err := tc.Open(storage.CurrentSchemaVersion); err != nil {
		return nil, err
	}
	return tc, nil
}

// Open replaces the scenario's store with a fresh one.
func (tc *TestContext) Open(schemaVersion int) error {
	if tc.Store != nil {
		tc.Store.Close()
	}
	store, err := tc.open(schemaVersion)
	if err != nil {
		return err
	}
	tc.Store = store
	tc.Service = core.New(store)
	tc.Runner = migrate.NewRunner(store)
	tc.Users = make(map[string]int64)
	tc.Shows = make(map[string]int64)
	tc.LastErr = nil
	tc.LastUpsert = nil
	return nil
}

// Close releases the scenario's store.
func (tc *TestContext) Close() error {
	if tc.Store == nil {
		return nil
	}
	return tc.Store.Close()
}

func (tc *TestContext) user(name string) (int64, error) {
	id, ok := tc.Users[name]
	if !ok {
		return 0, fmt.Errorf("unknown user %q", name)
	}
	return id, nil
}

func (tc *TestContext) show(title string) (int64, error) {
	id, ok := tc.Shows[title]
	if !ok {
		return 0, fmt.Errorf("unknown show %q", title)
	}
	return id, nil
}

// errorsByName maps the phrases used in features to service errors.
var errorsByName = map[string]error{
	"invalid identity":          core.ErrInvalidIdentity,
	"invalid rating":            core.ErrInvalidRating,
	"invalid review":            core.ErrInvalidReview,
	"invalid vote":              core.ErrInvalidVote,
	"self vote":                 core.ErrSelfVote,
	"not found":                 core.ErrNotFound,
	"conflict":                  core.ErrConflict,
	"migration pending":         core.ErrMigrationPending,
	"migration already applied": core.ErrMigrationAlreadyApplied,
}

func (tc *TestContext) assertFailedWith(name string) error {
	want, ok := errorsByName[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown error name %q", name)
	}
	if tc.LastErr == nil {
		return fmt.Errorf("expected %q, the last operation succeeded", name)
	}
	if !errors.Is(tc.LastErr, want) {
		return fmt.Errorf("expected %q, got %v", name, tc.LastErr)
	}
	return nil
}

func (tc *TestContext) assertSucceeded() error {
	if tc.LastErr != nil {
		return fmt.Errorf("expected success, got %v", tc.LastErr)
	}
	return nil
}

var bg = context.Background()
