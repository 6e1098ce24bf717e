package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/axonops/showledger/internal/credential"
	"github.com/axonops/showledger/internal/events"
	"github.com/axonops/showledger/internal/storage"
)

// Username length bounds, in characters.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 64
)

// BootstrapResult reports the outcome of BootstrapAdmin.
type BootstrapResult struct {
	Created bool
	Message string
}

func normalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return "", fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidUser, MinUsernameLength, MaxUsernameLength)
	}
	if strings.IndexFunc(username, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: username must not contain whitespace", ErrInvalidUser)
	}
	return username, nil
}

func hashPassword(password string) (string, error) {
	hash, err := credential.Hash(password)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidUser, err)
	}
	return hash, nil
}

// CreateUser creates a user with a bcrypt-hashed password.
func (s *Service) CreateUser(ctx context.Context, username, password string, admin bool) (user *storage.UserRecord, err error) {
	defer s.observe("create_user", time.Now(), &err)

	username, err = normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	user = &storage.UserRecord{Username: username, PasswordHash: hash, IsAdmin: admin}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, translate(err)
	}
	s.logger.Info("user created",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
		slog.Bool("admin", admin),
	)
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *Service) GetUser(ctx context.Context, id int64) (*storage.UserRecord, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*storage.UserRecord, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, translate(err)
	}
	return user, nil
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]*storage.UserRecord, error) {
	return s.store.ListUsers(ctx)
}

// RotateCredential replaces a user's password.
func (s *Service) RotateCredential(ctx context.Context, id int64, password string) (err error) {
	defer s.observe("rotate_credential", time.Now(), &err)

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return translate(err)
	}
	user.PasswordHash = hash
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return translate(err)
	}
	s.logger.Info("user credential rotated", slog.Int64("user_id", id))
	return nil
}

// SetAdmin grants or revokes administrator rights.
func (s *Service) SetAdmin(ctx context.Context, id int64, admin bool) (err error) {
	defer s.observe("set_admin", time.Now(), &err)

	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return translate(err)
	}
	if user.IsAdmin == admin {
		return nil
	}
	user.IsAdmin = admin
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return translate(err)
	}
	s.logger.Info("user admin flag changed", slog.Int64("user_id", id), slog.Bool("admin", admin))
	return nil
}

// VerifyCredentials checks a username and password. Unknown users and wrong
// passwords both fail with credential.ErrMismatch.
func (s *Service) VerifyCredentials(ctx context.Context, username, password string) (*storage.UserRecord, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if isNotFound(err) {
		return nil, credential.ErrMismatch
	}
	if err != nil {
		return nil, err
	}
	if err := credential.Verify(user.PasswordHash, password); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser removes a user with their ratings, their reviews and the votes
// on them, and every vote they cast.
func (s *Service) DeleteUser(ctx context.Context, id int64) (err error) {
	defer s.observe("delete_user", time.Now(), &err)

	// Collected first so cached statistics of affected shows can be dropped.
	affected, err := s.showsTouchedBy(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return translate(err)
	}
	s.invalidateStats(ctx, affected...)
	s.logger.Info("user deleted", slog.Int64("user_id", id))

	ev := events.New(events.UserDeleted)
	ev.UserID = id
	s.publish(ctx, ev)
	return nil
}

func (s *Service) showsTouchedBy(ctx context.Context, userID int64) ([]int64, error) {
	seen := make(map[int64]bool)
	var ids []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	ratings, err := s.store.ListRatingsByUser(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	for _, r := range ratings {
		add(r.ShowID)
	}
	reviews, err := s.store.ListReviewsByUser(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	for _, r := range reviews {
		add(r.ShowID)
	}
	return ids, nil
}

// BootstrapAdmin creates an admin user if no users exist. It does nothing
// when the user table is not empty.
func (s *Service) BootstrapAdmin(ctx context.Context, username, password string) (*BootstrapResult, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if n > 0 {
		return &BootstrapResult{
			Created: false,
			Message: fmt.Sprintf("bootstrap skipped: %d user(s) already exist", n),
		}, nil
	}

	if username == "" {
		return nil, fmt.Errorf("bootstrap username is required")
	}
	if password == "" {
		return nil, fmt.Errorf("bootstrap password is required")
	}

	user, err := s.CreateUser(ctx, username, password, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap admin: %w", err)
	}
	return &BootstrapResult{
		Created: true,
		Message: fmt.Sprintf("bootstrap admin user '%s' created successfully", user.Username),
	}, nil
}
