package conformance

import (
	"context"
	"errors"
	"testing"

	"github.com/axonops/showledger/internal/storage"
)

// RunRatingTests tests half-star rating storage and aggregation.
func RunRatingTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("PutRating_ReplacesCurrent", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		user := mustUser(t, store, "alice")
		show := mustShow(t, store, "Spirit of '76", "Phantom Regiment", 1976)

		mustRating(t, store, show.ID, user.ID, 7)
		mustRating(t, store, show.ID, user.ID, 4)

		got, err := store.GetRating(ctx, show.ID, user.ID)
		if err != nil {
			t.Fatalf("GetRating: %v", err)
		}
		if got.RatingHalf != 4 || got.UpdatedAt.IsZero() {
			t.Errorf("unexpected rating: %+v", got)
		}

		sum, _ := store.GetRatingSummary(ctx, show.ID)
		if sum.Count != 1 || sum.Sum != 4 {
			t.Errorf("expected one rating summing to 4, got %+v", sum)
		}
	})

	t.Run("PutRating_UnknownShowOrUser", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		user := mustUser(t, store, "alice")
		show := mustShow(t, store, "Rome", "Cavaliers", 2002)

		err := store.PutRating(ctx, &storage.RatingRecord{ShowID: 999, UserID: user.ID, RatingHalf: 5})
		if !errors.Is(err, storage.ErrShowNotFound) {
			t.Errorf("expected ErrShowNotFound, got %v", err)
		}
		err = store.PutRating(ctx, &storage.RatingRecord{ShowID: show.ID, UserID: 999, RatingHalf: 5})
		if !errors.Is(err, storage.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("DeleteRating", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		user := mustUser(t, store, "alice")
		show := mustShow(t, store, "Rome", "Cavaliers", 2002)
		mustRating(t, store, show.ID, user.ID, 10)

		if err := store.DeleteRating(ctx, show.ID, user.ID); err != nil {
			t.Fatalf("DeleteRating: %v", err)
		}
		if _, err := store.GetRating(ctx, show.ID, user.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := store.DeleteRating(ctx, show.ID, user.ID); err != nil {
			t.Errorf("deleting a missing rating should succeed, got %v", err)
		}
	})

	t.Run("Summaries", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		a := mustUser(t, store, "a-user")
		b := mustUser(t, store, "b-user")
		s1 := mustShow(t, store, "One", "Corps", 2001)
		s2 := mustShow(t, store, "Two", "Corps", 2002)
		s3 := mustShow(t, store, "Three", "Corps", 2003)

		mustRating(t, store, s1.ID, a.ID, 0)
		mustRating(t, store, s1.ID, b.ID, 10)
		mustRating(t, store, s3.ID, a.ID, 6)

		sum, _ := store.GetRatingSummary(ctx, s1.ID)
		if sum.Count != 2 || sum.Sum != 10 {
			t.Errorf("expected count 2 sum 10, got %+v", sum)
		}
		empty, err := store.GetRatingSummary(ctx, s2.ID)
		if err != nil {
			t.Fatalf("GetRatingSummary: %v", err)
		}
		if empty.Count != 0 || empty.Sum != 0 {
			t.Errorf("expected empty summary, got %+v", empty)
		}

		all, err := store.ListRatingSummaries(ctx)
		if err != nil {
			t.Fatalf("ListRatingSummaries: %v", err)
		}
		if len(all) != 2 || all[0].ShowID != s1.ID || all[1].ShowID != s3.ID {
			t.Fatalf("expected summaries for shows %d and %d, got %+v", s1.ID, s3.ID, all)
		}
		if all[1].Count != 1 || all[1].Sum != 6 {
			t.Errorf("unexpected summary: %+v", all[1])
		}
	})

	t.Run("ListRatingsByUser", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		user := mustUser(t, store, "alice")
		s1 := mustShow(t, store, "One", "Corps", 2001)
		s2 := mustShow(t, store, "Two", "Corps", 2002)
		mustRating(t, store, s1.ID, user.ID, 3)
		mustRating(t, store, s2.ID, user.ID, 8)

		ratings, err := store.ListRatingsByUser(ctx, user.ID, 0)
		if err != nil {
			t.Fatalf("ListRatingsByUser: %v", err)
		}
		if len(ratings) != 2 || ratings[0].ShowID != s2.ID {
			t.Fatalf("expected most recent rating first, got %+v", ratings)
		}

		limited, _ := store.ListRatingsByUser(ctx, user.ID, 1)
		if len(limited) != 1 {
			t.Errorf("expected 1 rating, got %d", len(limited))
		}
	})
}

// RunReviewTests tests review storage.
func RunReviewTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("PutReview_KeepsCreatedAt", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		user := mustUser(t, store, "alice")
		show := mustShow(t, store, "Rome", "Cavaliers", 2002)
		mustReview(t, store, show.ID, user.ID, "first")
		first, err := store.GetReview(ctx, show.ID, user.ID)
		if err != nil {
			t.Fatalf("GetReview: %v", err)
		}

		mustReview(t, store, show.ID, user.ID, "second")
		second, _ := store.GetReview(ctx, show.ID, user.ID)
		if second.Text != "second" {
			t.Errorf("expected replaced text, got %q", second.Text)
		}
		if !second.CreatedAt.Equal(first.CreatedAt) {
			t.Errorf("CreatedAt changed on edit: %v -> %v", first.CreatedAt, second.CreatedAt)
		}
		if second.UpdatedAt.Before(first.UpdatedAt) {
			t.Errorf("UpdatedAt went backwards: %v -> %v", first.UpdatedAt, second.UpdatedAt)
		}
		if n, _ := store.CountReviews(ctx, show.ID); n != 1 {
			t.Errorf("expected one review per user, got %d", n)
		}
	})

	t.Run("GetReview_Missing", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()

		if _, err := store.GetReview(context.Background(), 1, 1); !errors.Is(err, storage.ErrReviewNotFound) {
			t.Errorf("expected ErrReviewNotFound, got %v", err)
		}
	})

	t.Run("PutReview_UnknownShow", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()

		user := mustUser(t, store, "alice")
		err := store.PutReview(context.Background(), &storage.ReviewRecord{ShowID: 999, UserID: user.ID, Text: "x"})
		if !errors.Is(err, storage.ErrShowNotFound) {
			t.Errorf("expected ErrShowNotFound, got %v", err)
		}
	})

	t.Run("ListReviews", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		a := mustUser(t, store, "a-user")
		b := mustUser(t, store, "b-user")
		c := mustUser(t, store, "c-user")
		s1 := mustShow(t, store, "One", "Corps", 2001)
		s2 := mustShow(t, store, "Two", "Corps", 2002)

		mustReview(t, store, s1.ID, b.ID, "b on one")
		mustReview(t, store, s1.ID, a.ID, "a on one")
		mustReview(t, store, s2.ID, a.ID, "a on two")
		mustVote(t, store, s1.ID, a.ID, b.ID, 1)
		mustVote(t, store, s1.ID, a.ID, c.ID, -1)
		mustVote(t, store, s1.ID, b.ID, c.ID, 1)

		reviews, err := store.ListReviewsByShow(ctx, s1.ID)
		if err != nil {
			t.Fatalf("ListReviewsByShow: %v", err)
		}
		if len(reviews) != 2 || reviews[0].Review.UserID != a.ID || reviews[1].Review.UserID != b.ID {
			t.Fatalf("expected reviews ordered by author, got %+v", reviews)
		}
		if reviews[0].Tally != (storage.Tally{Up: 1, Down: 1}) {
			t.Errorf("unexpected tally for a: %+v", reviews[0].Tally)
		}
		if reviews[1].Tally != (storage.Tally{Up: 1}) {
			t.Errorf("unexpected tally for b: %+v", reviews[1].Tally)
		}

		mine, err := store.ListReviewsByUser(ctx, a.ID, 0)
		if err != nil {
			t.Fatalf("ListReviewsByUser: %v", err)
		}
		if len(mine) != 2 || mine[0].ShowID != s2.ID {
			t.Errorf("expected most recent review first, got %+v", mine)
		}
	})
}

// RunVoteTests tests review votes and tallies.
func RunVoteTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("Tally_NetScore", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()

		author := mustUser(t, store, "author")
		show := mustShow(t, store, "Spirit of '76", "Phantom Regiment", 1976)
		mustReview(t, store, show.ID, author.ID, "Timeless.")
		for i, v := range []int{1, 1, -1} {
			voter := mustUser(t, store, []string{"v1", "v2", "v3"}[i])
			mustVote(t, store, show.ID, author.ID, voter.ID, v)
		}

		tally := tallyOf(t, store, show.ID, author.ID)
		if tally.Up != 2 || tally.Down != 1 || tally.Net() != 1 {
			t.Errorf("expected 2 up 1 down, got %+v", tally)
		}
	})

	t.Run("PutVote_ReplacesCurrent", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		author := mustUser(t, store, "author")
		voter := mustUser(t, store, "voter")
		show := mustShow(t, store, "Rome", "Cavaliers", 2002)
		mustReview(t, store, show.ID, author.ID, "review")

		mustVote(t, store, show.ID, author.ID, voter.ID, 1)
		mustVote(t, store, show.ID, author.ID, voter.ID, -1)

		got, err := store.GetVote(ctx, show.ID, author.ID, voter.ID)
		if err != nil {
			t.Fatalf("GetVote: %v", err)
		}
		if got.Value != -1 {
			t.Errorf("expected -1, got %d", got.Value)
		}
		if tally := tallyOf(t, store, show.ID, author.ID); tally != (storage.Tally{Down: 1}) {
			t.Errorf("expected a single downvote, got %+v", tally)
		}

		if err := store.DeleteVote(ctx, show.ID, author.ID, voter.ID); err != nil {
			t.Fatalf("DeleteVote: %v", err)
		}
		if _, err := store.GetVote(ctx, show.ID, author.ID, voter.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := store.DeleteVote(ctx, show.ID, author.ID, voter.ID); err != nil {
			t.Errorf("deleting a missing vote should succeed, got %v", err)
		}
	})

	t.Run("ToggleVote", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		author := mustUser(t, store, "author")
		voter := mustUser(t, store, "voter")
		show := mustShow(t, store, "Rome", "Cavaliers", 2002)
		mustReview(t, store, show.ID, author.ID, "review")
		vote := func(v int) int {
			t.Helper()
			got, err := store.ToggleVote(ctx, &storage.VoteRecord{ShowID: show.ID, AuthorID: author.ID, VoterID: voter.ID, Value: v})
			if err != nil {
				t.Fatalf("ToggleVote: %v", err)
			}
			return got
		}

		if got := vote(1); got != 1 {
			t.Errorf("first toggle: expected 1, got %d", got)
		}
		if got := vote(-1); got != -1 {
			t.Errorf("opposite toggle: expected -1, got %d", got)
		}
		if got := vote(-1); got != 0 {
			t.Errorf("repeat toggle: expected retraction, got %d", got)
		}
		if tally := tallyOf(t, store, show.ID, author.ID); tally != (storage.Tally{}) {
			t.Errorf("expected empty tally, got %+v", tally)
		}
	})

	t.Run("PutVote_MissingReviewOrVoter", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		author := mustUser(t, store, "author")
		voter := mustUser(t, store, "voter")
		show := mustShow(t, store, "Rome", "Cavaliers", 2002)

		err := store.PutVote(ctx, &storage.VoteRecord{ShowID: show.ID, AuthorID: author.ID, VoterID: voter.ID, Value: 1})
		if !errors.Is(err, storage.ErrReviewNotFound) {
			t.Errorf("expected ErrReviewNotFound, got %v", err)
		}
		_, err = store.ToggleVote(ctx, &storage.VoteRecord{ShowID: show.ID, AuthorID: author.ID, VoterID: voter.ID, Value: 1})
		if !errors.Is(err, storage.ErrReviewNotFound) {
			t.Errorf("expected ErrReviewNotFound from ToggleVote, got %v", err)
		}

		mustReview(t, store, show.ID, author.ID, "review")
		err = store.PutVote(ctx, &storage.VoteRecord{ShowID: show.ID, AuthorID: author.ID, VoterID: 999, Value: 1})
		if !errors.Is(err, storage.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})
}
