package conformance

import (
	"context"
	"errors"
	"testing"

	"github.com/axonops/showledger/internal/storage"
)

// RunUserTests tests user CRUD operations.
func RunUserTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("CreateUser_AssignsID", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()

		user := mustUser(t, store, "alice")
		if user.ID == 0 {
			t.Error("expected non-zero ID")
		}
		if user.CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be set")
		}
	})

	t.Run("CreateUser_Duplicate", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()

		mustUser(t, store, "alice")
		err := store.CreateUser(context.Background(), &storage.UserRecord{Username: "alice", PasswordHash: "x"})
		if !errors.Is(err, storage.ErrUserExists) {
			t.Errorf("expected ErrUserExists, got %v", err)
		}
	})

	t.Run("GetUserByID_And_Username", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		user := mustUser(t, store, "bob")
		got, err := store.GetUserByID(ctx, user.ID)
		if err != nil {
			t.Fatalf("GetUserByID: %v", err)
		}
		if got.Username != "bob" || got.PasswordHash != "hash-bob" {
			t.Errorf("unexpected user: %+v", got)
		}

		got, err = store.GetUserByUsername(ctx, "bob")
		if err != nil {
			t.Fatalf("GetUserByUsername: %v", err)
		}
		if got.ID != user.ID {
			t.Errorf("ID mismatch: %d vs %d", got.ID, user.ID)
		}

		if _, err := store.GetUserByID(ctx, 999); !errors.Is(err, storage.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
		if _, err := store.GetUserByUsername(ctx, "nobody"); !errors.Is(err, storage.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("UpdateUser", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		user := mustUser(t, store, "carol")
		user.IsAdmin = true
		user.PasswordHash = "rotated"
		if err := store.UpdateUser(ctx, user); err != nil {
			t.Fatalf("UpdateUser: %v", err)
		}
		got, _ := store.GetUserByID(ctx, user.ID)
		if !got.IsAdmin || got.PasswordHash != "rotated" {
			t.Errorf("update not applied: %+v", got)
		}

		if err := store.UpdateUser(ctx, &storage.UserRecord{ID: 999, Username: "x"}); !errors.Is(err, storage.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})

	t.Run("UpdateUser_UsernameTaken", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()

		mustUser(t, store, "dave")
		erin := mustUser(t, store, "erin")
		erin.Username = "dave"
		if err := store.UpdateUser(context.Background(), erin); !errors.Is(err, storage.ErrUserExists) {
			t.Errorf("expected ErrUserExists, got %v", err)
		}
	})

	t.Run("ListUsers_And_Count", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()
		ctx := context.Background()

		if n, _ := store.CountUsers(ctx); n != 0 {
			t.Fatalf("expected empty store, got %d users", n)
		}
		a := mustUser(t, store, "a-user")
		b := mustUser(t, store, "b-user")

		users, err := store.ListUsers(ctx)
		if err != nil {
			t.Fatalf("ListUsers: %v", err)
		}
		if len(users) != 2 || users[0].ID != a.ID || users[1].ID != b.ID {
			t.Errorf("expected users ordered by ID, got %+v", users)
		}
		if n, _ := store.CountUsers(ctx); n != 2 {
			t.Errorf("expected 2 users, got %d", n)
		}
	})

	t.Run("DeleteUser_Missing", func(t *testing.T) {
		store := current(newStore)
		defer store.Close()

		if err := store.DeleteUser(context.Background(), 999); !errors.Is(err, storage.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})
}
