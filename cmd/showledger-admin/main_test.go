package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/axonops/showledger/internal/core"
	"github.com/axonops/showledger/internal/credential"
	"github.com/axonops/showledger/internal/migrate"
	"github.com/axonops/showledger/internal/storage"
	"github.com/axonops/showledger/internal/storage/memory"
)

func init() {
	credential.Cost = bcrypt.MinCost
}

// useStore points every command at store for the duration of the test.
func useStore(t *testing.T, store storage.Storage) {
	t.Helper()
	prev := openApp
	openApp = func(ctx context.Context) (*app, error) {
		return &app{
			svc:    core.New(store),
			runner: migrate.NewRunner(store),
			close:  func() error { return nil },
		}, nil
	}
	t.Cleanup(func() { openApp = prev })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "showledger-admin %s", strings.Join(args, " "))
	return out
}

func TestAdmin_RatingWorkflow(t *testing.T) {
	useStore(t, memory.NewStore())

	mustRun(t, "user", "create", "--name", "alice", "--pass", "password1")
	mustRun(t, "user", "create", "--name", "bob", "--pass", "password2")
	mustRun(t, "user", "create", "--name", "carol", "--pass", "password3")
	mustRun(t, "user", "create", "--name", "dave", "--pass", "password4")

	out := mustRun(t, "show", "add", "--title", "Spirit of '76", "--corps", "Phantom Regiment", "--year", "1976")
	assert.Contains(t, out, "Phantom Regiment")

	out = mustRun(t, "-o", "json", "show", "add", "--title", "  spirit of 76 ", "--corps", "PHANTOM REGIMENT", "--year", "1976")
	var added struct {
		Show    storage.ShowRecord `json:"show"`
		Created bool               `json:"created"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	assert.False(t, added.Created)
	assert.Equal(t, int64(1), added.Show.ID)

	mustRun(t, "rate", "set", "1", "alice", "7")
	mustRun(t, "review", "set", "1", "alice", "Timeless.")
	mustRun(t, "vote", "cast", "1", "alice", "bob", "up")
	mustRun(t, "vote", "cast", "1", "alice", "carol", "up")
	out = mustRun(t, "-o", "json", "vote", "cast", "1", "alice", "dave", "down")
	assert.JSONEq(t, `{"net_score": 1}`, out)

	out = mustRun(t, "-o", "json", "show", "stats", "1")
	var stats core.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.RatingCount)
	require.NotNil(t, stats.MeanRatingHalf)
	assert.InDelta(t, 7.0, *stats.MeanRatingHalf, 1e-9)
	assert.Equal(t, 1, stats.ReviewCount)

	out = mustRun(t, "show", "top")
	assert.Contains(t, out, "Spirit of '76")
	assert.Contains(t, out, "Timeless.")

	out = mustRun(t, "show", "reviews", "1", "--order", "score", "--viewer", "dave")
	assert.Contains(t, out, "Timeless.")

	_, err := run(t, "vote", "cast", "1", "alice", "alice", "up")
	assert.ErrorIs(t, err, core.ErrSelfVote)

	_, err = run(t, "rate", "set", "1", "alice", "11")
	assert.ErrorIs(t, err, core.ErrInvalidRating)
}

func TestAdmin_UserManagement(t *testing.T) {
	useStore(t, memory.NewStore())

	mustRun(t, "user", "create", "--name", "alice", "--pass", "password1")
	out := mustRun(t, "user", "promote", "alice")
	assert.Contains(t, out, "true")

	mustRun(t, "user", "passwd", "alice", "--pass", "another-password")
	mustRun(t, "user", "demote", "1")

	out = mustRun(t, "-o", "json", "user", "list")
	var users []storage.UserRecord
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	require.Len(t, users, 1)
	assert.False(t, users[0].IsAdmin)
	assert.NotContains(t, out, "password")

	mustRun(t, "user", "delete", "alice")
	_, err := run(t, "user", "delete", "alice")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAdmin_LegacyImportAndMigrate(t *testing.T) {
	store := memory.NewStore(memory.WithSchemaVersion(storage.SchemaVersionStarScale))
	useStore(t, store)

	mustRun(t, "user", "create", "--name", "alice", "--pass", "password1")
	mustRun(t, "show", "add", "--title", "Spirit of '76", "--corps", "Phantom Regiment", "--year", "1976")

	_, err := run(t, "rate", "set", "1", "alice", "6")
	assert.ErrorIs(t, err, core.ErrMigrationPending)

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("show_id,user,rating\n1,alice,3\n"))
	cmd.SetArgs([]string{"import", "legacy-ratings", "-"})
	require.NoError(t, cmd.Execute())

	out := mustRun(t, "migrate", "status")
	assert.Contains(t, out, "Current version: 1")
	assert.Contains(t, out, "Legacy ratings:  1")

	out = mustRun(t, "migrate", "apply")
	assert.Contains(t, out, "Applied migration 1 -> 2")

	out = mustRun(t, "-o", "json", "show", "stats", "1")
	var stats core.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.NotNil(t, stats.MeanRatingHalf)
	assert.InDelta(t, 6.0, *stats.MeanRatingHalf, 1e-9)

	_, err = run(t, "migrate", "apply")
	assert.ErrorIs(t, err, storage.ErrMigrationAlreadyApplied)

	out = mustRun(t, "migrate", "status")
	assert.Contains(t, out, "No pending migrations.")
}

func TestParseLegacyRatings(t *testing.T) {
	rows, err := parseLegacyRatings(strings.NewReader("show_id,user,rating\n# comment\n1, alice, 3\n2,7,5\n"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, legacyRow{Line: 3, ShowID: 1, User: "alice", Rating: 3}, rows[0])
	assert.Equal(t, legacyRow{Line: 4, ShowID: 2, User: "7", Rating: 5}, rows[1])

	rows, err = parseLegacyRatings(strings.NewReader("1,alice,4\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = parseLegacyRatings(strings.NewReader("1,alice,4\nx,bob,2\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = parseLegacyRatings(strings.NewReader("1,alice,three\n"))
	assert.ErrorContains(t, err, "invalid rating")
}

func TestParseVote(t *testing.T) {
	for in, want := range map[string]int{"up": 1, "+1": 1, "1": 1, "down": -1, "-1": -1} {
		got, err := parseVote(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := parseVote("0")
	assert.Error(t, err)
}

func TestAdmin_InvalidOutput(t *testing.T) {
	useStore(t, memory.NewStore())
	_, err := run(t, "-o", "yaml", "user", "list")
	assert.ErrorContains(t, err, "unsupported output format")
}
