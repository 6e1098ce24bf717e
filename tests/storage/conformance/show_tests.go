package conformance

import (
	"context"
	"errors"
	"testing"

	"github.com/axonops/showledger/internal/identity"
	"github.com/axonops/showledger/internal/storage"
)

// RunShowTests tests the show catalog operations.
func RunShowTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("UpsertShow_CreatesOnce", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		show := &storage.ShowRecord{Title: "Spirit of '76", Corps: "Phantom Regiment", Year: 1976, NormKey: "spirit of 76|phantom regiment|1976"}
		first, err := store.UpsertShow(ctx, show, storage.PosterFillMissing)
		if err != nil {
			t.Fatalf("UpsertShow: %v", err)
		}
		if !first.Created || first.Show.ID == 0 || first.Show.CreatedAt.IsZero() {
			t.Fatalf("expected a created show, got %+v", first)
		}

		again := &storage.ShowRecord{Title: "SPIRIT OF 76", Corps: "phantom regiment", Year: 1976, NormKey: show.NormKey}
		second, err := store.UpsertShow(ctx, again, storage.PosterFillMissing)
		if err != nil {
			t.Fatalf("UpsertShow: %v", err)
		}
		if second.Created {
			t.Error("expected existing show to be returned")
		}
		if second.Show.ID != first.Show.ID {
			t.Errorf("expected ID %d, got %d", first.Show.ID, second.Show.ID)
		}
		if second.Show.Title != "Spirit of '76" {
			t.Errorf("display fields must come from the first writer, got %q", second.Show.Title)
		}
	})

	t.Run("UpsertShow_PosterModes", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		base := storage.ShowRecord{Title: "Kismet", Corps: "Blue Devils", Year: 2024, NormKey: "kismet|blue devils|2024"}
		if _, err := store.UpsertShow(ctx, &base, storage.PosterFillMissing); err != nil {
			t.Fatalf("UpsertShow: %v", err)
		}

		withPoster := base
		withPoster.PosterURL = "https://example.com/a.jpg"
		res, err := store.UpsertShow(ctx, &withPoster, storage.PosterKeep)
		if err != nil {
			t.Fatalf("UpsertShow: %v", err)
		}
		if res.PosterUpdated || res.Show.PosterURL != "" {
			t.Errorf("PosterKeep must not change the poster: %+v", res.Show)
		}

		res, _ = store.UpsertShow(ctx, &withPoster, storage.PosterFillMissing)
		if !res.PosterUpdated || res.Show.PosterURL != "https://example.com/a.jpg" {
			t.Errorf("PosterFillMissing must fill an empty poster: %+v", res.Show)
		}

		other := base
		other.PosterURL = "https://example.com/b.jpg"
		res, _ = store.UpsertShow(ctx, &other, storage.PosterFillMissing)
		if res.PosterUpdated || res.Show.PosterURL != "https://example.com/a.jpg" {
			t.Errorf("PosterFillMissing must keep an existing poster: %+v", res.Show)
		}

		res, _ = store.UpsertShow(ctx, &other, storage.PosterOverwrite)
		if !res.PosterUpdated || res.Show.PosterURL != "https://example.com/b.jpg" {
			t.Errorf("PosterOverwrite must replace the poster: %+v", res.Show)
		}

		got, _ := store.GetShow(ctx, res.Show.ID)
		if got.PosterURL != "https://example.com/b.jpg" {
			t.Errorf("poster not persisted: %q", got.PosterURL)
		}
	})

	t.Run("GetShow_And_ByNormKey", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		show := mustShow(t, store, "Rome", "Cavaliers", 2002)
		got, err := store.GetShowByNormKey(ctx, show.NormKey)
		if err != nil {
			t.Fatalf("GetShowByNormKey: %v", err)
		}
		if got.ID != show.ID || got.Year != 2002 {
			t.Errorf("unexpected show: %+v", got)
		}
		if _, err := store.GetShow(ctx, 999); !errors.Is(err, storage.ErrShowNotFound) {
			t.Errorf("expected ErrShowNotFound, got %v", err)
		}
		if _, err := store.GetShowByNormKey(ctx, "missing"); !errors.Is(err, storage.ErrShowNotFound) {
			t.Errorf("expected ErrShowNotFound, got %v", err)
		}
	})

	t.Run("UpdateShow", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		a := mustShow(t, store, "A", "Corps", 2000)
		b := mustShow(t, store, "B", "Corps", 2000)

		a.Title = "A2"
		a.NormKey = "a2|corps|2000"
		if err := store.UpdateShow(ctx, a); err != nil {
			t.Fatalf("UpdateShow: %v", err)
		}
		got, _ := store.GetShowByNormKey(ctx, "a2|corps|2000")
		if got == nil || got.ID != a.ID || got.Title != "A2" {
			t.Errorf("update not applied: %+v", got)
		}

		a.NormKey = b.NormKey
		if err := store.UpdateShow(ctx, a); !errors.Is(err, storage.ErrNormKeyConflict) {
			t.Errorf("expected ErrNormKeyConflict, got %v", err)
		}

		missing := &storage.ShowRecord{ID: 999, Title: "x", Corps: "y", Year: 2000, NormKey: "x|y|2000"}
		if err := store.UpdateShow(ctx, missing); !errors.Is(err, storage.ErrShowNotFound) {
			t.Errorf("expected ErrShowNotFound, got %v", err)
		}
	})

	t.Run("ListShows_FilterAndOrder", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		s1 := mustShow(t, store, "Spirit of '76", "Phantom Regiment", 1976)
		s2 := mustShow(t, store, "Kismet", "Blue Devils", 2024)
		s3 := mustShow(t, store, "Ballet for Band", "Blue Devils", 2023)

		all, err := store.ListShows(ctx, &storage.ListShowsParams{Order: storage.ShowOrderCreatedAsc})
		if err != nil {
			t.Fatalf("ListShows: %v", err)
		}
		assertShowIDs(t, all, s1.ID, s2.ID, s3.ID)

		byYear, _ := store.ListShows(ctx, &storage.ListShowsParams{Order: storage.ShowOrderYearDesc})
		assertShowIDs(t, byYear, s2.ID, s3.ID, s1.ID)

		byTitle, _ := store.ListShows(ctx, &storage.ListShowsParams{Order: storage.ShowOrderTitle})
		assertShowIDs(t, byTitle, s3.ID, s2.ID, s1.ID)

		devils, _ := store.ListShows(ctx, &storage.ListShowsParams{CorpsKey: "blue devils", Order: storage.ShowOrderYearAsc})
		assertShowIDs(t, devils, s3.ID, s2.ID)

		year, _ := store.ListShows(ctx, &storage.ListShowsParams{Year: 1976})
		assertShowIDs(t, year, s1.ID)

		paged, _ := store.ListShows(ctx, &storage.ListShowsParams{Order: storage.ShowOrderCreatedAsc, Offset: 1, Limit: 1})
		assertShowIDs(t, paged, s2.ID)

		tail, _ := store.ListShows(ctx, &storage.ListShowsParams{Order: storage.ShowOrderCreatedAsc, Offset: 2})
		assertShowIDs(t, tail, s3.ID)

		none, _ := store.ListShows(ctx, &storage.ListShowsParams{Offset: 10})
		if len(none) != 0 {
			t.Errorf("expected no shows past the end, got %d", len(none))
		}
	})

	t.Run("ListShows_CanonicalCorps", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		accented := mustShow(t, store, "Spirit of '76", "Phantom Régiment", 1976)
		punctuated := mustShow(t, store, "Vertigo", "Phantom-Regiment", 1998)
		other := mustShow(t, store, "Rome", "Cavaliers", 2002)
		// A title equal to the corps must not match through the title segment.
		mustShow(t, store, "Phantom Regiment", "Cadets", 2005)

		key := identity.CanonicalText("PHANTOM  regiment")
		got, err := store.ListShows(ctx, &storage.ListShowsParams{CorpsKey: key, Order: storage.ShowOrderCreatedAsc})
		if err != nil {
			t.Fatalf("ListShows: %v", err)
		}
		assertShowIDs(t, got, accented.ID, punctuated.ID)

		cavaliers, _ := store.ListShows(ctx, &storage.ListShowsParams{CorpsKey: "cavaliers"})
		assertShowIDs(t, cavaliers, other.ID)

		partial, _ := store.ListShows(ctx, &storage.ListShowsParams{CorpsKey: "phantom"})
		assertShowIDs(t, partial)
	})

	t.Run("ListShows_OrderIgnoresCase", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		phantom := mustShow(t, store, "Spirit of '76", "Phantom Regiment", 1990)
		stars := mustShow(t, store, "atlantis", "blue stars", 1990)
		devils := mustShow(t, store, "Kismet", "Blue Devils", 1990)

		byCorps, _ := store.ListShows(ctx, &storage.ListShowsParams{Order: storage.ShowOrderCorps})
		assertShowIDs(t, byCorps, devils.ID, stars.ID, phantom.ID)

		byYear, _ := store.ListShows(ctx, &storage.ListShowsParams{Order: storage.ShowOrderYearDesc})
		assertShowIDs(t, byYear, devils.ID, stars.ID, phantom.ID)

		byTitle, _ := store.ListShows(ctx, &storage.ListShowsParams{Order: storage.ShowOrderTitle})
		assertShowIDs(t, byTitle, stars.ID, devils.ID, phantom.ID)
	})
}

func assertShowIDs(t *testing.T, shows []*storage.ShowRecord, want ...int64) {
	t.Helper()
	if len(shows) != len(want) {
		t.Fatalf("expected %d shows, got %d", len(want), len(shows))
	}
	for i, id := range want {
		if shows[i].ID != id {
			t.Errorf("position %d: expected show %d, got %d", i, id, shows[i].ID)
		}
	}
}
