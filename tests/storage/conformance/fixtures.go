package conformance

import (
	"context"
	"testing"

	"github.com/axonops/showledger/internal/identity"
	"github.com/axonops/showledger/internal/storage"
)

func mustUser(t *testing.T, store storage.Storage, name string) *storage.UserRecord {
	t.Helper()
	user := &storage.UserRecord{Username: name, PasswordHash: "hash-" + name}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return user
}

func mustShow(t *testing.T, store storage.Storage, title, corps string, year int) *storage.ShowRecord {
	t.Helper()
	key, err := identity.Normalize(title, corps, year)
	if err != nil {
		t.Fatalf("Normalize(%s): %v", title, err)
	}
	res, err := store.UpsertShow(context.Background(), &storage.ShowRecord{
		Title:   title,
		Corps:   corps,
		Year:    year,
		NormKey: key,
	}, storage.PosterFillMissing)
	if err != nil {
		t.Fatalf("UpsertShow(%s): %v", title, err)
	}
	return res.Show
}

func mustRating(t *testing.T, store storage.Storage, showID, userID int64, half int) {
	t.Helper()
	if err := store.PutRating(context.Background(), &storage.RatingRecord{ShowID: showID, UserID: userID, RatingHalf: half}); err != nil {
		t.Fatalf("PutRating: %v", err)
	}
}

func mustReview(t *testing.T, store storage.Storage, showID, userID int64, text string) *storage.ReviewRecord {
	t.Helper()
	review := &storage.ReviewRecord{ShowID: showID, UserID: userID, Text: text}
	if err := store.PutReview(context.Background(), review); err != nil {
		t.Fatalf("PutReview: %v", err)
	}
	return review
}

func mustVote(t *testing.T, store storage.Storage, showID, authorID, voterID int64, value int) {
	t.Helper()
	if err := store.PutVote(context.Background(), &storage.VoteRecord{ShowID: showID, AuthorID: authorID, VoterID: voterID, Value: value}); err != nil {
		t.Fatalf("PutVote: %v", err)
	}
}

func tallyOf(t *testing.T, store storage.Storage, showID, authorID int64) storage.Tally {
	t.Helper()
	tally, err := store.GetTally(context.Background(), showID, authorID)
	if err != nil {
		t.Fatalf("GetTally: %v", err)
	}
	return *tally
}
