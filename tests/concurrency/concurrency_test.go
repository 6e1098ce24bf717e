// Package concurrency runs the core operations from many goroutines and
// several service instances sharing one store.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/axonops/showledger/internal/core"
	"github.com/axonops/showledger/internal/credential"
	"github.com/axonops/showledger/internal/migrate"
	"github.com/axonops/showledger/internal/storage"
	"github.com/axonops/showledger/internal/storage/memory"
	"github.com/axonops/showledger/internal/storage/sqlite"
)

const (
	numInstances  = 3
	numConcurrent = 12
)

func init() {
	credential.Cost = bcrypt.MinCost
}

// backend opens a fresh store at the given schema version.
type backend struct {
	name string
	open func(t *testing.T, schemaVersion int) storage.Storage
}

var backends = []backend{
	{"memory", func(t *testing.T, v int) storage.Storage {
		return memory.NewStore(memory.WithSchemaVersion(v))
	}},
	{"sqlite", func(t *testing.T, v int) storage.Storage {
		cfg := sqlite.DefaultConfig()
		cfg.Path = filepath.Join(t.TempDir(), "concurrency.db")
		cfg.InitialSchemaVersion = v
		store, err := sqlite.NewStore(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Failed to create SQLite store: %v", err)
		}
		return store
	}},
}

// forEachBackend runs fn against every backend with numInstances services
// sharing the store.
func forEachBackend(t *testing.T, schemaVersion int, fn func(t *testing.T, store storage.Storage, svcs []*core.Service)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			store := b.open(t, schemaVersion)
			t.Cleanup(func() { store.Close() })
			svcs := make([]*core.Service, numInstances)
			for i := range svcs {
				svcs[i] = core.New(store)
			}
			fn(t, store, svcs)
		})
	}
}

// run starts n goroutines and waits for them. Each gets its index and a
// service picked round-robin.
func run(n int, svcs []*core.Service, fn func(i int, svc *core.Service)) {
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			fn(i, svcs[i%len(svcs)])
		}()
	}
	close(start)
	wg.Wait()
}

func mustUsers(t *testing.T, svc *core.Service, n int) []int64 {
	t.Helper()
	ids := make([]int64, n)
	for i := range ids {
		u, err := svc.CreateUser(context.Background(), fmt.Sprintf("user%02d", i), "password1", false)
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		ids[i] = u.ID
	}
	return ids
}

func TestConcurrentUpsertSameIdentity(t *testing.T) {
	spellings := []string{"Spirit of '76", "spirit of 76", "SPIRIT OF '76", "  Spirit  of 76 "}

	forEachBackend(t, storage.CurrentSchemaVersion, func(t *testing.T, store storage.Storage, svcs []*core.Service) {
		ctx := context.Background()
		ids := make([]int64, numConcurrent)
		var created atomic.Int32

		run(numConcurrent, svcs, func(i int, svc *core.Service) {
			res, err := svc.UpsertShow(ctx, core.ShowInput{
				Title: spellings[i%len(spellings)],
				Corps: "Phantom Regiment",
				Year:  1976,
			})
			if err != nil {
				t.Errorf("UpsertShow: %v", err)
				return
			}
			if res.Created {
				created.Add(1)
			}
			ids[i] = res.Show.ID
		})

		if n := created.Load(); n != 1 {
			t.Errorf("expected exactly one creation, got %d", n)
		}
		for i, id := range ids {
			if id != ids[0] {
				t.Errorf("upsert %d returned show %d, expected %d", i, id, ids[0])
			}
		}
		shows, err := svcs[0].ListShows(ctx, core.ShowFilter{})
		if err != nil {
			t.Fatalf("ListShows: %v", err)
		}
		if len(shows) != 1 {
			t.Errorf("expected one show, got %d", len(shows))
		}
	})
}

func TestConcurrentVotes(t *testing.T) {
	forEachBackend(t, storage.CurrentSchemaVersion, func(t *testing.T, store storage.Storage, svcs []*core.Service) {
		ctx := context.Background()
		users := mustUsers(t, svcs[0], numConcurrent+1)
		author, voters := users[0], users[1:]

		res, err := svcs[0].UpsertShow(ctx, core.ShowInput{Title: "Kismet", Corps: "Blue Devils", Year: 2024})
		if err != nil {
			t.Fatalf("UpsertShow: %v", err)
		}
		showID := res.Show.ID
		if _, err := svcs[0].SetReview(ctx, showID, author, "Stunning."); err != nil {
			t.Fatalf("SetReview: %v", err)
		}

		// Every voter upvotes, then a third of them switch to a downvote.
		run(len(voters), svcs, func(i int, svc *core.Service) {
			if err := svc.CastVote(ctx, showID, author, voters[i], 1); err != nil {
				t.Errorf("CastVote: %v", err)
			}
			if i%3 == 0 {
				if err := svc.CastVote(ctx, showID, author, voters[i], -1); err != nil {
					t.Errorf("CastVote: %v", err)
				}
			}
		})

		down := (len(voters) + 2) / 3
		want := (len(voters) - down) - down
		net, err := svcs[0].NetScore(ctx, showID, author)
		if err != nil {
			t.Fatalf("NetScore: %v", err)
		}
		if net != want {
			t.Errorf("expected net score %d, got %d", want, net)
		}
	})
}

func TestConcurrentToggleSameVoter(t *testing.T) {
	forEachBackend(t, storage.CurrentSchemaVersion, func(t *testing.T, store storage.Storage, svcs []*core.Service) {
		ctx := context.Background()
		users := mustUsers(t, svcs[0], 2)
		author, voter := users[0], users[1]

		res, err := svcs[0].UpsertShow(ctx, core.ShowInput{Title: "Rome", Corps: "Cavaliers", Year: 2002})
		if err != nil {
			t.Fatalf("UpsertShow: %v", err)
		}
		if _, err := svcs[0].SetReview(ctx, res.Show.ID, author, "Precise."); err != nil {
			t.Fatalf("SetReview: %v", err)
		}

		// An even number of identical toggles always ends retracted.
		run(numConcurrent, svcs, func(i int, svc *core.Service) {
			if _, err := svc.ToggleVote(ctx, res.Show.ID, author, voter, 1); err != nil {
				t.Errorf("ToggleVote: %v", err)
			}
		})

		net, _ := svcs[0].NetScore(ctx, res.Show.ID, author)
		if net != 0 {
			t.Errorf("expected net score 0 after %d toggles, got %d", numConcurrent, net)
		}
	})
}

func TestConcurrentRatingsOneRowPerUser(t *testing.T) {
	forEachBackend(t, storage.CurrentSchemaVersion, func(t *testing.T, store storage.Storage, svcs []*core.Service) {
		ctx := context.Background()
		users := mustUsers(t, svcs[0], 1)

		res, err := svcs[0].UpsertShow(ctx, core.ShowInput{Title: "Rome", Corps: "Cavaliers", Year: 2002})
		if err != nil {
			t.Fatalf("UpsertShow: %v", err)
		}

		run(numConcurrent, svcs, func(i int, svc *core.Service) {
			if err := svc.SetRating(ctx, res.Show.ID, users[0], i%11); err != nil {
				t.Errorf("SetRating: %v", err)
			}
		})

		stats, err := svcs[0].ShowStats(ctx, res.Show.ID)
		if err != nil {
			t.Fatalf("ShowStats: %v", err)
		}
		if stats.RatingCount != 1 {
			t.Errorf("expected one rating, got %d", stats.RatingCount)
		}
	})
}

func TestConcurrentDeleteShowLeavesNoOrphans(t *testing.T) {
	forEachBackend(t, storage.CurrentSchemaVersion, func(t *testing.T, store storage.Storage, svcs []*core.Service) {
		ctx := context.Background()
		users := mustUsers(t, svcs[0], numConcurrent)

		res, err := svcs[0].UpsertShow(ctx, core.ShowInput{Title: "Rome", Corps: "Cavaliers", Year: 2002})
		if err != nil {
			t.Fatalf("UpsertShow: %v", err)
		}
		showID := res.Show.ID

		run(numConcurrent+1, svcs, func(i int, svc *core.Service) {
			if i == numConcurrent {
				if err := svc.DeleteShow(ctx, showID); err != nil {
					t.Errorf("DeleteShow: %v", err)
				}
				return
			}
			err := svc.SetRating(ctx, showID, users[i], 6)
			if err != nil && !errors.Is(err, core.ErrNotFound) {
				t.Errorf("SetRating: %v", err)
			}
			_, err = svc.SetReview(ctx, showID, users[i], "late")
			if err != nil && !errors.Is(err, core.ErrNotFound) {
				t.Errorf("SetReview: %v", err)
			}
		})

		if _, err := svcs[0].GetShow(ctx, showID); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected show deleted, got %v", err)
		}
		sum, err := store.GetRatingSummary(ctx, showID)
		if err != nil {
			t.Fatalf("GetRatingSummary: %v", err)
		}
		if sum.Count != 0 {
			t.Errorf("found %d orphaned ratings", sum.Count)
		}
		if n, _ := store.CountReviews(ctx, showID); n != 0 {
			t.Errorf("found %d orphaned reviews", n)
		}
	})
}

func TestConcurrentMigrationRunners(t *testing.T) {
	forEachBackend(t, storage.SchemaVersionStarScale, func(t *testing.T, store storage.Storage, svcs []*core.Service) {
		ctx := context.Background()
		users := mustUsers(t, svcs[0], 1)
		res, err := svcs[0].UpsertShow(ctx, core.ShowInput{Title: "Spirit of '76", Corps: "Phantom Regiment", Year: 1976})
		if err != nil {
			t.Fatalf("UpsertShow: %v", err)
		}
		if err := svcs[0].ImportLegacyRating(ctx, res.Show.ID, users[0], 3); err != nil {
			t.Fatalf("ImportLegacyRating: %v", err)
		}

		var succeeded atomic.Int32
		run(numConcurrent, svcs, func(i int, _ *core.Service) {
			_, err := migrate.NewRunner(store).Run(ctx, 0)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, storage.ErrMigrationAlreadyApplied):
			default:
				t.Errorf("Run: %v", err)
			}
		})
		if n := succeeded.Load(); n != 1 {
			t.Errorf("expected exactly one runner to migrate, got %d", n)
		}

		half, ok, err := svcs[0].GetRating(ctx, res.Show.ID, users[0])
		if err != nil || !ok {
			t.Fatalf("GetRating: ok=%v err=%v", ok, err)
		}
		if half != 6 {
			t.Errorf("expected 3 stars to read back as 6, got %d", half)
		}
	})
}
