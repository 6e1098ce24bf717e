package conformance

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/axonops/showledger/internal/storage"
)

// RunSchemaTests tests the schema version marker and the star to half-star
// conversion.
func RunSchemaTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("SchemaVersion_Fresh", func(t *testing.T) {
		for _, v := range []int{storage.SchemaVersionStarScale, storage.SchemaVersionHalfStarScale} {
			store := newStore(v)
			got, err := store.SchemaVersion(context.Background())
			store.Close()
			if err != nil {
				t.Fatalf("SchemaVersion: %v", err)
			}
			if got != v {
				t.Errorf("expected version %d, got %d", v, got)
			}
		}
	})

	t.Run("UpgradeSchema_ConvertsOnce", func(t *testing.T) {
		store := newStore(storage.SchemaVersionStarScale)
		defer store.Close()
		ctx := context.Background()

		a := mustUser(t, store, "a-user")
		b := mustUser(t, store, "b-user")
		show := mustShow(t, store, "Spirit of '76", "Phantom Regiment", 1976)

		if err := store.ImportLegacyRating(ctx, &storage.LegacyRatingRecord{ShowID: show.ID, UserID: a.ID, RatingInt: 3}); err != nil {
			t.Fatalf("ImportLegacyRating: %v", err)
		}
		if err := store.ImportLegacyRating(ctx, &storage.LegacyRatingRecord{ShowID: show.ID, UserID: b.ID, RatingInt: 5}); err != nil {
			t.Fatalf("ImportLegacyRating: %v", err)
		}
		if n, _ := store.CountLegacyRatings(ctx); n != 2 {
			t.Fatalf("expected 2 legacy ratings, got %d", n)
		}

		if err := store.UpgradeSchema(ctx, storage.SchemaVersionStarScale, storage.SchemaVersionHalfStarScale); err != nil {
			t.Fatalf("UpgradeSchema: %v", err)
		}

		got, err := store.GetRating(ctx, show.ID, a.ID)
		if err != nil {
			t.Fatalf("GetRating: %v", err)
		}
		if got.RatingHalf != 6 {
			t.Errorf("expected 3 stars to become 6, got %d", got.RatingHalf)
		}
		if v, _ := store.SchemaVersion(ctx); v != storage.SchemaVersionHalfStarScale {
			t.Errorf("expected version %d, got %d", storage.SchemaVersionHalfStarScale, v)
		}
		if n, _ := store.CountLegacyRatings(ctx); n != 0 {
			t.Errorf("expected legacy ratings consumed, got %d", n)
		}

		err = store.UpgradeSchema(ctx, storage.SchemaVersionStarScale, storage.SchemaVersionHalfStarScale)
		if !errors.Is(err, storage.ErrMigrationAlreadyApplied) {
			t.Errorf("expected ErrMigrationAlreadyApplied, got %v", err)
		}
		got, _ = store.GetRating(ctx, show.ID, a.ID)
		if got.RatingHalf != 6 {
			t.Errorf("second run changed the rating to %d", got.RatingHalf)
		}

		err = store.ImportLegacyRating(ctx, &storage.LegacyRatingRecord{ShowID: show.ID, UserID: a.ID, RatingInt: 1})
		if !errors.Is(err, storage.ErrMigrationAlreadyApplied) {
			t.Errorf("expected ErrMigrationAlreadyApplied for a late import, got %v", err)
		}
	})

	t.Run("UpgradeSchema_HalfStarRowsWin", func(t *testing.T) {
		store := newStore(storage.SchemaVersionStarScale)
		defer store.Close()
		ctx := context.Background()

		user := mustUser(t, store, "alice")
		show := mustShow(t, store, "Rome", "Cavaliers", 2002)
		if err := store.ImportLegacyRating(ctx, &storage.LegacyRatingRecord{ShowID: show.ID, UserID: user.ID, RatingInt: 2}); err != nil {
			t.Fatalf("ImportLegacyRating: %v", err)
		}
		mustRating(t, store, show.ID, user.ID, 9)

		if err := store.UpgradeSchema(ctx, storage.SchemaVersionStarScale, storage.SchemaVersionHalfStarScale); err != nil {
			t.Fatalf("UpgradeSchema: %v", err)
		}
		got, _ := store.GetRating(ctx, show.ID, user.ID)
		if got.RatingHalf != 9 {
			t.Errorf("expected the half-star rating to win, got %d", got.RatingHalf)
		}
	})

	t.Run("UpgradeSchema_Unsupported", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()

		err := store.UpgradeSchema(context.Background(), storage.SchemaVersionHalfStarScale, storage.SchemaVersionHalfStarScale+1)
		if !errors.Is(err, storage.ErrUnsupportedMigration) {
			t.Errorf("expected ErrUnsupportedMigration, got %v", err)
		}
	})

	t.Run("UpgradeSchema_Concurrent", func(t *testing.T) {
		store := newStore(storage.SchemaVersionStarScale)
		defer store.Close()
		ctx := context.Background()

		user := mustUser(t, store, "alice")
		show := mustShow(t, store, "Rome", "Cavaliers", 2002)
		if err := store.ImportLegacyRating(ctx, &storage.LegacyRatingRecord{ShowID: show.ID, UserID: user.ID, RatingInt: 4}); err != nil {
			t.Fatalf("ImportLegacyRating: %v", err)
		}

		const workers = 4
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = store.UpgradeSchema(ctx, storage.SchemaVersionStarScale, storage.SchemaVersionHalfStarScale)
			}()
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
		if succeeded != 1 {
			t.Errorf("expected exactly one successful migration, got %d", succeeded)
		}
		got, _ := store.GetRating(ctx, show.ID, user.ID)
		if got == nil || got.RatingHalf != 8 {
			t.Errorf("expected rating 8 after conversion, got %+v", got)
		}
	})
}
