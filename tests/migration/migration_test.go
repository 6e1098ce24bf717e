//go:build migration

// Package migration provides integration tests for converting an existing
// star-scale database to half-star ratings across process restarts.
package migration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/axonops/showledger/internal/core"
	"github.com/axonops/showledger/internal/credential"
	"github.com/axonops/showledger/internal/migrate"
	"github.com/axonops/showledger/internal/storage"
	"github.com/axonops/showledger/internal/storage/sqlite"
)

// ctx is a background context for tests
var ctx = context.Background()

func init() {
	credential.Cost = bcrypt.MinCost
}

// openStore opens the database at path. initial only applies to a database
// that has no schema marker yet.
func openStore(t *testing.T, path string, initial int) *sqlite.Store {
	t.Helper()
	cfg := sqlite.DefaultConfig()
	cfg.Path = path
	cfg.InitialSchemaVersion = initial
	store, err := sqlite.NewStore(ctx, cfg)
	require.NoError(t, err)
	return store
}

type legacyFixture struct {
	users map[string]int64
	shows map[string]int64
}

// seedLegacy writes a star-scale database the way a pre-migration
// deployment left it, then closes it.
func seedLegacy(t *testing.T, path string) legacyFixture {
	t.Helper()
	store := openStore(t, path, storage.SchemaVersionStarScale)
	defer store.Close()
	svc := core.New(store)

	fx := legacyFixture{users: map[string]int64{}, shows: map[string]int64{}}
	for _, name := range []string{"alice", "bob", "carol"} {
		u, err := svc.CreateUser(ctx, name, "password-"+name, false)
		require.NoError(t, err)
		fx.users[name] = u.ID
	}
	for _, in := range []core.ShowInput{
		{Title: "Spirit of '76", Corps: "Phantom Regiment", Year: 1976},
		{Title: "Rome", Corps: "Cavaliers", Year: 2002},
	} {
		res, err := svc.UpsertShow(ctx, in)
		require.NoError(t, err)
		fx.shows[in.Title] = res.Show.ID
	}

	for _, r := range []struct {
		show, user string
		stars      int
	}{
		{"Spirit of '76", "alice", 3},
		{"Spirit of '76", "bob", 5},
		{"Rome", "alice", 1},
		{"Rome", "carol", 4},
	} {
		require.NoError(t, svc.ImportLegacyRating(ctx, fx.shows[r.show], fx.users[r.user], r.stars))
	}
	return fx
}

func TestMigration_StarScaleSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	fx := seedLegacy(t, path)

	// A restarted daemon configured for the current scale must not reset
	// the marker of an existing database.
	store := openStore(t, path, storage.CurrentSchemaVersion)
	defer store.Close()

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemaVersionStarScale, version)

	svc := core.New(store)
	err = svc.SetRating(ctx, fx.shows["Rome"], fx.users["bob"], 7)
	assert.True(t, errors.Is(err, core.ErrMigrationPending), "got %v", err)

	report, err := migrate.NewRunner(store).Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.LegacyRatings)
	assert.Len(t, report.Pending, 1)
}

func TestMigration_ConvertAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	fx := seedLegacy(t, path)

	store := openStore(t, path, storage.CurrentSchemaVersion)
	applied, err := migrate.NewRunner(store).Run(ctx, 0)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, storage.SchemaVersionStarScale, applied[0].From)
	assert.Equal(t, storage.SchemaVersionHalfStarScale, applied[0].To)
	require.NoError(t, store.Close())

	store = openStore(t, path, storage.SchemaVersionStarScale)
	defer store.Close()

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.SchemaVersionHalfStarScale, version)

	legacy, err := store.CountLegacyRatings(ctx)
	require.NoError(t, err)
	assert.Zero(t, legacy)

	svc := core.New(store)
	expected := map[[2]string]int{
		{"Spirit of '76", "alice"}: 6,
		{"Spirit of '76", "bob"}:   10,
		{"Rome", "alice"}:          2,
		{"Rome", "carol"}:          8,
	}
	for key, want := range expected {
		got, ok, err := svc.GetRating(ctx, fx.shows[key[0]], fx.users[key[1]])
		require.NoError(t, err)
		require.True(t, ok, "%s by %s", key[0], key[1])
		assert.Equal(t, want, got, "%s by %s", key[0], key[1])
	}

	stats, err := svc.ShowStats(ctx, fx.shows["Spirit of '76"])
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RatingCount)
	require.NotNil(t, stats.MeanRatingHalf)
	assert.InDelta(t, 8.0, *stats.MeanRatingHalf, 1e-9)

	// A second run must not double the ratings again.
	_, err = migrate.NewRunner(store).Run(ctx, 0)
	assert.True(t, errors.Is(err, storage.ErrMigrationAlreadyApplied), "got %v", err)

	got, _, err := svc.GetRating(ctx, fx.shows["Rome"], fx.users["carol"])
	require.NoError(t, err)
	assert.Equal(t, 8, got)

	// The ledger accepts half-star writes once converted.
	require.NoError(t, svc.SetRating(ctx, fx.shows["Rome"], fx.users["bob"], 7))
	stats, err = svc.ShowStats(ctx, fx.shows["Rome"])
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RatingCount)
}

func TestMigration_FreshDatabaseStartsCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	store := openStore(t, path, storage.CurrentSchemaVersion)
	defer store.Close()

	report, err := migrate.NewRunner(store).Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.CurrentSchemaVersion, report.Current)
	assert.Empty(t, report.Pending)

	_, err = migrate.NewRunner(store).Run(ctx, 0)
	assert.True(t, errors.Is(err, storage.ErrMigrationAlreadyApplied), "got %v", err)
}
