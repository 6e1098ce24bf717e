package migrate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonops/showledger/internal/events"
	"github.com/axonops/showledger/internal/storage"
	"github.com/axonops/showledger/internal/storage/memory"
)

func legacyStore(t *testing.T) (*memory.Store, int64, int64) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore(memory.WithSchemaVersion(storage.SchemaVersionStarScale))

	user := &storage.UserRecord{Username: "legacy", PasswordHash: "x"}
	require.NoError(t, store.CreateUser(ctx, user))
	res, err := store.UpsertShow(ctx, &storage.ShowRecord{
		Title: "Spirit of '76", Corps: "Phantom Regiment", Year: 1976,
		NormKey: "1976|phantom regiment|spirit of 76",
	}, storage.PosterFillMissing)
	require.NoError(t, err)

	require.NoError(t, store.ImportLegacyRating(ctx, &storage.LegacyRatingRecord{
		ShowID: res.Show.ID, UserID: user.ID, RatingInt: 3,
	}))
	return store, res.Show.ID, user.ID
}

func TestPlan(t *testing.T) {
	plan, err := Plan(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []Step{steps[0]}, plan)

	plan, err = Plan(2, 2)
	require.NoError(t, err)
	assert.Empty(t, plan)

	_, err = Plan(1, 3)
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestStatus(t *testing.T) {
	store, _, _ := legacyStore(t)

	report, err := Status(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Current)
	assert.Equal(t, storage.CurrentSchemaVersion, report.Target)
	assert.Len(t, report.Pending, 1)
	assert.Equal(t, 1, report.LegacyRatings)

	fresh, err := Status(context.Background(), memory.NewStore())
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Current)
	assert.NotNil(t, fresh.Pending)
	assert.Empty(t, fresh.Pending)
}

func TestRun_ConvertsOnce(t *testing.T) {
	ctx := context.Background()
	store, showID, userID := legacyStore(t)

	applied, err := Run(ctx, store, 0)
	require.NoError(t, err)
	assert.Len(t, applied, 1)

	r, err := store.GetRating(ctx, showID, userID)
	require.NoError(t, err)
	assert.Equal(t, 6, r.RatingHalf)

	_, err = Run(ctx, store, 0)
	assert.ErrorIs(t, err, storage.ErrMigrationAlreadyApplied)

	r, err = store.GetRating(ctx, showID, userID)
	require.NoError(t, err)
	assert.Equal(t, 6, r.RatingHalf, "a second run must not double the rating")

	n, err := store.CountLegacyRatings(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun_Concurrent(t *testing.T) {
	ctx := context.Background()
	store, showID, userID := legacyStore(t)

	const runners = 8
	var wg sync.WaitGroup
	errs := make([]error, runners)
	for i := range runners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Run(ctx, store, 0)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, storage.ErrMigrationAlreadyApplied):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)

	r, err := store.GetRating(ctx, showID, userID)
	require.NoError(t, err)
	assert.Equal(t, 6, r.RatingHalf)
}

type countingPublisher struct {
	n int
}

func (p *countingPublisher) Publish(context.Context, events.Event) error {
	p.n++
	return nil
}

func (p *countingPublisher) Close() error { return nil }

func TestRunner_PublishesEvent(t *testing.T) {
	store, _, _ := legacyStore(t)
	pub := &countingPublisher{}

	_, err := NewRunner(store, WithPublisher(pub)).Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, pub.n)
}
