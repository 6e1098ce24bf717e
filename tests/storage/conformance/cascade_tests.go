package conformance

import (
	"context"
	"errors"
	"testing"

	"github.com/axonops/showledger/internal/storage"
)

// RunCascadeTests verifies that deletes remove every dependent row and
// nothing else.
func RunCascadeTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("DeleteShow", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		a := mustUser(t, store, "a-user")
		b := mustUser(t, store, "b-user")
		gone := mustShow(t, store, "Gone", "Corps", 2001)
		kept := mustShow(t, store, "Kept", "Corps", 2002)
		for _, s := range []*storage.ShowRecord{gone, kept} {
			mustRating(t, store, s.ID, a.ID, 8)
			mustReview(t, store, s.ID, a.ID, "review")
			mustVote(t, store, s.ID, a.ID, b.ID, 1)
		}

		if err := store.DeleteShow(ctx, gone.ID); err != nil {
			t.Fatalf("DeleteShow: %v", err)
		}
		if _, err := store.GetShow(ctx, gone.ID); !errors.Is(err, storage.ErrShowNotFound) {
			t.Errorf("expected ErrShowNotFound, got %v", err)
		}
		if _, err := store.GetRating(ctx, gone.ID, a.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("rating survived show deletion: %v", err)
		}
		if _, err := store.GetReview(ctx, gone.ID, a.ID); !errors.Is(err, storage.ErrReviewNotFound) {
			t.Errorf("review survived show deletion: %v", err)
		}
		if tally := tallyOf(t, store, gone.ID, a.ID); tally != (storage.Tally{}) {
			t.Errorf("votes survived show deletion: %+v", tally)
		}

		if _, err := store.GetRating(ctx, kept.ID, a.ID); err != nil {
			t.Errorf("other show lost its rating: %v", err)
		}
		if tally := tallyOf(t, store, kept.ID, a.ID); tally.Up != 1 {
			t.Errorf("other show lost its votes: %+v", tally)
		}

		// The identity is free again.
		again := mustShow(t, store, "Gone", "Corps", 2001)
		if again.ID == gone.ID {
			t.Errorf("expected a new ID, got the deleted one")
		}

		if err := store.DeleteShow(ctx, gone.ID); !errors.Is(err, storage.ErrShowNotFound) {
			t.Errorf("expected ErrShowNotFound, got %v", err)
		}
	})

	t.Run("DeleteUser", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		gone := mustUser(t, store, "gone")
		other := mustUser(t, store, "other")
		third := mustUser(t, store, "third")
		show := mustShow(t, store, "Rome", "Cavaliers", 2002)

		mustRating(t, store, show.ID, gone.ID, 2)
		mustRating(t, store, show.ID, other.ID, 10)
		mustReview(t, store, show.ID, gone.ID, "by gone")
		mustReview(t, store, show.ID, other.ID, "by other")
		mustVote(t, store, show.ID, gone.ID, other.ID, 1)
		mustVote(t, store, show.ID, gone.ID, third.ID, 1)
		mustVote(t, store, show.ID, other.ID, gone.ID, -1)
		mustVote(t, store, show.ID, other.ID, third.ID, 1)

		if err := store.DeleteUser(ctx, gone.ID); err != nil {
			t.Fatalf("DeleteUser: %v", err)
		}
		if _, err := store.GetUserByID(ctx, gone.ID); !errors.Is(err, storage.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}

		sum, _ := store.GetRatingSummary(ctx, show.ID)
		if sum.Count != 1 || sum.Sum != 10 {
			t.Errorf("expected only the other user's rating, got %+v", sum)
		}
		if n, _ := store.CountReviews(ctx, show.ID); n != 1 {
			t.Errorf("expected 1 review, got %d", n)
		}
		if tally := tallyOf(t, store, show.ID, gone.ID); tally != (storage.Tally{}) {
			t.Errorf("votes on the deleted user's review survived: %+v", tally)
		}
		if tally := tallyOf(t, store, show.ID, other.ID); tally != (storage.Tally{Up: 1}) {
			t.Errorf("expected the deleted user's vote removed, got %+v", tally)
		}

		// The username is free again.
		mustUser(t, store, "gone")
	})

	t.Run("DeleteReview_RemovesVotes", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		author := mustUser(t, store, "author")
		voter := mustUser(t, store, "voter")
		show := mustShow(t, store, "Rome", "Cavaliers", 2002)
		mustReview(t, store, show.ID, author.ID, "review")
		mustVote(t, store, show.ID, author.ID, voter.ID, 1)

		if err := store.DeleteReview(ctx, show.ID, author.ID); err != nil {
			t.Fatalf("DeleteReview: %v", err)
		}
		if _, err := store.GetVote(ctx, show.ID, author.ID, voter.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("vote survived review deletion: %v", err)
		}

		// A new review by the same author starts with no votes.
		mustReview(t, store, show.ID, author.ID, "again")
		if tally := tallyOf(t, store, show.ID, author.ID); tally != (storage.Tally{}) {
			t.Errorf("expected a fresh tally, got %+v", tally)
		}
	})
}
