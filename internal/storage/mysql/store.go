package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/axonops/showledger/internal/config"
	"github.com/axonops/showledger/internal/storage"
)

func init() {
	storage.Register(storage.StorageTypeMySQL, func(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
		return NewStore(ctx, ConfigFrom(cfg))
	})
}

// Config holds MySQL connection configuration.
type Config struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Database        string        `json:"database" yaml:"database"`
	Username        string        `json:"username" yaml:"username"`
	Password        string        `json:"password" yaml:"password"`
	TLS             string        `json:"tls" yaml:"tls"` // true, false, skip-verify, preferred, or custom config name
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`

	// InitialSchemaVersion seeds the marker of an empty database.
	InitialSchemaVersion int `json:"initial_schema_version" yaml:"initial_schema_version"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Host:                 "localhost",
		Port:                 3306,
		Database:             "showledger",
		Username:             "root",
		Password:             "",
		TLS:                  "false",
		MaxOpenConns:         25,
		MaxIdleConns:         5,
		ConnMaxLifetime:      5 * time.Minute,
		ConnMaxIdleTime:      5 * time.Minute,
		InitialSchemaVersion: storage.CurrentSchemaVersion,
	}
}

// ConfigFrom builds a Config from the application configuration, filling
// unset fields with defaults.
func ConfigFrom(cfg config.StorageConfig) Config {
	c := DefaultConfig()
	my := cfg.MySQL
	if my.Host != "" {
		c.Host = my.Host
	}
	if my.Port != 0 {
		c.Port = my.Port
	}
	if my.Database != "" {
		c.Database = my.Database
	}
	if my.User != "" {
		c.Username = my.User
	}
	c.Password = my.Password
	if my.TLS != "" {
		c.TLS = my.TLS
	}
	if my.MaxOpenConns != 0 {
		c.MaxOpenConns = my.MaxOpenConns
	}
	if my.MaxIdleConns != 0 {
		c.MaxIdleConns = my.MaxIdleConns
	}
	if my.ConnMaxLifetime != 0 {
		c.ConnMaxLifetime = time.Duration(my.ConnMaxLifetime) * time.Second
	}
	c.InitialSchemaVersion = storage.InitialSchemaVersion(cfg)
	return c
}

// DSN returns the connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC&tls=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.TLS,
	)
}

// Store implements the storage.Storage interface using MySQL.
type Store struct {
	db     *sql.DB
	config Config
}

// NewStore creates a new MySQL store.
func NewStore(ctx context.Context, config Config) (*Store, error) {
	db, err := sql.Open("mysql", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, config: config}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// migrate runs database migrations and seeds the schema version marker.
func (s *Store) migrate(ctx context.Context) error {
	for i, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	initial := s.config.InitialSchemaVersion
	if initial == 0 {
		initial = storage.CurrentSchemaVersion
	}
	if _, err := s.db.ExecContext(ctx, seedSchemaVersion, initial); err != nil {
		return fmt.Errorf("failed to seed schema version: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, retrying deadlocks and lock wait timeouts
// with exponential backoff and jitter.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	const maxRetries = 10
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.txAttempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		backoff := time.Duration(5<<attempt) * time.Millisecond
		if backoff > 500*time.Millisecond {
			backoff = 500 * time.Millisecond
		}
		jitter := time.Duration(float64(backoff) * (0.5 * float64(time.Now().UnixNano()%100) / 100))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}

	return fmt.Errorf("transaction failed after %d retries: %w", maxRetries, lastErr)
}

func (s *Store) txAttempt(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// now truncates to the DATETIME(6) precision so returned records match reads.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*storage.UserRecord, error) {
	var u storage.UserRecord
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanShow(row scanner) (*storage.ShowRecord, error) {
	var sh storage.ShowRecord
	if err := row.Scan(&sh.ID, &sh.Title, &sh.Corps, &sh.Year, &sh.NormKey, &sh.PosterURL, &sh.CreatedAt); err != nil {
		return nil, err
	}
	return &sh, nil
}

func scanReview(row scanner) (*storage.ReviewRecord, error) {
	var r storage.ReviewRecord
	if err := row.Scan(&r.ShowID, &r.UserID, &r.Text, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func lockRow(ctx context.Context, tx *sql.Tx, notFound error, query string, args ...any) error {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock row: %w", err)
	}
	return nil
}

// lockShowAndUser takes shared row locks so the referenced rows cannot be
// deleted before the transaction commits.
func lockShowAndUser(ctx context.Context, tx *sql.Tx, showID, userID int64) error {
	if err := lockRow(ctx, tx, storage.ErrShowNotFound, "SELECT 1 FROM shows WHERE id = ? LOCK IN SHARE MODE", showID); err != nil {
		return err
	}
	return lockRow(ctx, tx, storage.ErrUserNotFound, "SELECT 1 FROM users WHERE id = ? LOCK IN SHARE MODE", userID)
}

// CreateUser creates a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.UserRecord) error {
	ts := now()
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?)",
		user.Username, user.PasswordHash, user.IsAdmin, ts,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return storage.ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get user ID: %w", err)
	}
	user.ID = id
	user.CreatedAt = ts
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*storage.UserRecord, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, is_admin, created_at FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.UserRecord, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, is_admin, created_at FROM users WHERE username = ?", username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UpdateUser updates an existing user.
func (s *Store) UpdateUser(ctx context.Context, user *storage.UserRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, storage.ErrUserNotFound, "SELECT 1 FROM users WHERE id = ? FOR UPDATE", user.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE users SET username = ?, password_hash = ?, is_admin = ? WHERE id = ?",
			user.Username, user.PasswordHash, user.IsAdmin, user.ID,
		)
		if err != nil {
			if isDuplicateEntry(err) {
				return storage.ErrUserExists
			}
			return fmt.Errorf("failed to update user: %w", err)
		}
		return nil
	})
}

// DeleteUser deletes a user with their ratings, reviews and votes.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, storage.ErrUserNotFound, "SELECT 1 FROM users WHERE id = ? FOR UPDATE", id); err != nil {
			return err
		}
		steps := []struct {
			query string
			args  []any
		}{
			{"DELETE FROM review_votes WHERE voter_id = ? OR author_id = ?", []any{id, id}},
			{"DELETE FROM reviews WHERE user_id = ?", []any{id}},
			{"DELETE FROM ratings WHERE user_id = ?", []any{id}},
			{"DELETE FROM ratings_v1 WHERE user_id = ?", []any{id}},
			{"DELETE FROM users WHERE id = ?", []any{id}},
		}
		for _, step := range steps {
			if _, err := tx.ExecContext(ctx, step.query, step.args...); err != nil {
				return fmt.Errorf("failed to delete user data: %w", err)
			}
		}
		return nil
	})
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]*storage.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username, password_hash, is_admin, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*storage.UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

const selectShow = "SELECT id, title, corps, year, norm_key, poster_url, created_at FROM shows"

// UpsertShow inserts the show or returns the existing one with the same identity.
// On a duplicate norm_key, LAST_INSERT_ID(id) reports the existing row's ID and
// the affected row count is zero.
func (s *Store) UpsertShow(ctx context.Context, show *storage.ShowRecord, mode storage.PosterMode) (*storage.UpsertResult, error) {
	var result *storage.UpsertResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = &storage.UpsertResult{}
		ts := now()

		res, err := tx.ExecContext(ctx,
			"INSERT INTO shows (title, corps, year, norm_key, poster_url, created_at) VALUES (?, ?, ?, ?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)",
			show.Title, show.Corps, show.Year, show.NormKey, show.PosterURL, ts,
		)
		if err != nil {
			return fmt.Errorf("failed to insert show: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get show ID: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			rec := *show
			rec.ID = id
			rec.CreatedAt = ts
			result.Show = &rec
			result.Created = true
			return nil
		}

		existing, err := scanShow(tx.QueryRowContext(ctx, selectShow+" WHERE id = ? FOR UPDATE", id))
		if err != nil {
			return fmt.Errorf("failed to load existing show: %w", err)
		}
		if posterChange(existing.PosterURL, show.PosterURL, mode) {
			if _, err := tx.ExecContext(ctx, "UPDATE shows SET poster_url = ? WHERE id = ?", show.PosterURL, existing.ID); err != nil {
				return fmt.Errorf("failed to update poster: %w", err)
			}
			existing.PosterURL = show.PosterURL
			result.PosterUpdated = true
		}
		result.Show = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func posterChange(current, proposed string, mode storage.PosterMode) bool {
	if proposed == "" || proposed == current {
		return false
	}
	switch mode {
	case storage.PosterFillMissing:
		return current == ""
	case storage.PosterOverwrite:
		return true
	default:
		return false
	}
}

// GetShow retrieves a show by ID.
func (s *Store) GetShow(ctx context.Context, id int64) (*storage.ShowRecord, error) {
	sh, err := scanShow(s.db.QueryRowContext(ctx, selectShow+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrShowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get show: %w", err)
	}
	return sh, nil
}

// GetShowByNormKey retrieves a show by its identity key.
func (s *Store) GetShowByNormKey(ctx context.Context, normKey string) (*storage.ShowRecord, error) {
	sh, err := scanShow(s.db.QueryRowContext(ctx, selectShow+" WHERE norm_key = ?", normKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrShowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get show: %w", err)
	}
	return sh, nil
}

// UpdateShow replaces a show's descriptive fields and identity key.
func (s *Store) UpdateShow(ctx context.Context, show *storage.ShowRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanShow(tx.QueryRowContext(ctx, selectShow+" WHERE id = ? FOR UPDATE", show.ID))
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrShowNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load show: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE shows SET title = ?, corps = ?, year = ?, norm_key = ?, poster_url = ? WHERE id = ?",
			show.Title, show.Corps, show.Year, show.NormKey, show.PosterURL, show.ID,
		)
		if err != nil {
			if isDuplicateEntry(err) {
				return storage.ErrNormKeyConflict
			}
			return fmt.Errorf("failed to update show: %w", err)
		}
		show.CreatedAt = existing.CreatedAt
		return nil
	})
}

var showOrderClauses = map[storage.ShowOrder]string{
	storage.ShowOrderCreatedAsc:  "created_at ASC, id ASC",
	storage.ShowOrderCreatedDesc: "created_at DESC, id DESC",
	storage.ShowOrderYearDesc:    `year DESC, LOWER(corps), LOWER(title), id ASC`,
	storage.ShowOrderYearAsc:     `year ASC, LOWER(corps), LOWER(title), id ASC`,
	storage.ShowOrderCorps:       `LOWER(corps), year DESC, LOWER(title), id ASC`,
	storage.ShowOrderTitle:       `LOWER(title), id ASC`,
}

// ListShows returns shows matching the filter in the requested order.
func (s *Store) ListShows(ctx context.Context, params *storage.ListShowsParams) ([]*storage.ShowRecord, error) {
	if params == nil {
		params = &storage.ListShowsParams{}
	}

	query := selectShow
	var where []string
	var args []any
	if params.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, params.Year)
	}
	if params.CorpsKey != "" {
		where = append(where, "norm_key LIKE ?")
		args = append(args, storage.NormKeyCorpsPattern(params.CorpsKey))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	order, ok := showOrderClauses[params.Order]
	if !ok {
		order = showOrderClauses[storage.ShowOrderCreatedAsc]
	}
	query += " ORDER BY " + order

	// MySQL requires LIMIT with OFFSET; the maximum BIGINT UNSIGNED means unbounded.
	if params.Limit > 0 || params.Offset > 0 {
		limit := uint64(18446744073709551615)
		if params.Limit > 0 {
			limit = uint64(params.Limit)
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, params.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list shows: %w", err)
	}
	defer rows.Close()

	var shows []*storage.ShowRecord
	for rows.Next() {
		sh, err := scanShow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan show: %w", err)
		}
		shows = append(shows, sh)
	}
	return shows, rows.Err()
}

// DeleteShow deletes a show with its ratings, reviews and votes.
func (s *Store) DeleteShow(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockRow(ctx, tx, storage.ErrShowNotFound, "SELECT 1 FROM shows WHERE id = ? FOR UPDATE", id); err != nil {
			return err
		}
		for _, q := range []string{
			"DELETE FROM review_votes WHERE show_id = ?",
			"DELETE FROM reviews WHERE show_id = ?",
			"DELETE FROM ratings WHERE show_id = ?",
			"DELETE FROM ratings_v1 WHERE show_id = ?",
			"DELETE FROM shows WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("failed to delete show data: %w", err)
			}
		}
		return nil
	})
}

// PutRating creates or replaces a user's rating of a show.
func (s *Store) PutRating(ctx context.Context, rating *storage.RatingRecord) error {
	ts := now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockShowAndUser(ctx, tx, rating.ShowID, rating.UserID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO ratings (show_id, user_id, rating_half, updated_at) VALUES (?, ?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE rating_half = VALUES(rating_half), updated_at = VALUES(updated_at)",
			rating.ShowID, rating.UserID, rating.RatingHalf, ts,
		)
		if err != nil {
			return fmt.Errorf("failed to put rating: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	rating.UpdatedAt = ts
	return nil
}

// GetRating retrieves a user's rating of a show.
func (s *Store) GetRating(ctx context.Context, showID, userID int64) (*storage.RatingRecord, error) {
	var r storage.RatingRecord
	err := s.db.QueryRowContext(ctx,
		"SELECT show_id, user_id, rating_half, updated_at FROM ratings WHERE show_id = ? AND user_id = ?", showID, userID,
	).Scan(&r.ShowID, &r.UserID, &r.RatingHalf, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rating: %w", err)
	}
	return &r, nil
}

// DeleteRating removes a rating. Missing ratings are not an error.
func (s *Store) DeleteRating(ctx context.Context, showID, userID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ratings WHERE show_id = ? AND user_id = ?", showID, userID); err != nil {
		return fmt.Errorf("failed to delete rating: %w", err)
	}
	return nil
}

// ListRatingsByUser returns a user's ratings, most recently updated first.
func (s *Store) ListRatingsByUser(ctx context.Context, userID int64, limit int) ([]*storage.RatingRecord, error) {
	query := "SELECT show_id, user_id, rating_half, updated_at FROM ratings WHERE user_id = ? ORDER BY updated_at DESC, show_id DESC"
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	defer rows.Close()

	var ratings []*storage.RatingRecord
	for rows.Next() {
		var r storage.RatingRecord
		if err := rows.Scan(&r.ShowID, &r.UserID, &r.RatingHalf, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		ratings = append(ratings, &r)
	}
	return ratings, rows.Err()
}

// GetRatingSummary returns the count and sum of ratings for a show.
func (s *Store) GetRatingSummary(ctx context.Context, showID int64) (*storage.RatingSummary, error) {
	summary := &storage.RatingSummary{ShowID: showID}
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(rating_half), 0) FROM ratings WHERE show_id = ?", showID,
	).Scan(&summary.Count, &summary.Sum)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize ratings: %w", err)
	}
	return summary, nil
}

// ListRatingSummaries returns summaries for every show with at least one rating.
func (s *Store) ListRatingSummaries(ctx context.Context) ([]*storage.RatingSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT show_id, COUNT(*), SUM(rating_half) FROM ratings GROUP BY show_id ORDER BY show_id")
	if err != nil {
		return nil, fmt.Errorf("failed to summarize ratings: %w", err)
	}
	defer rows.Close()

	var summaries []*storage.RatingSummary
	for rows.Next() {
		var sum storage.RatingSummary
		if err := rows.Scan(&sum.ShowID, &sum.Count, &sum.Sum); err != nil {
			return nil, fmt.Errorf("failed to scan rating summary: %w", err)
		}
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

// PutReview creates or replaces a review, keeping the original creation time.
func (s *Store) PutReview(ctx context.Context, review *storage.ReviewRecord) error {
	ts := now()
	var createdAt time.Time
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockShowAndUser(ctx, tx, review.ShowID, review.UserID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO reviews (show_id, user_id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE body = VALUES(body), updated_at = VALUES(updated_at)",
			review.ShowID, review.UserID, review.Text, ts, ts,
		)
		if err != nil {
			return fmt.Errorf("failed to put review: %w", err)
		}
		return tx.QueryRowContext(ctx,
			"SELECT created_at FROM reviews WHERE show_id = ? AND user_id = ?", review.ShowID, review.UserID,
		).Scan(&createdAt)
	})
	if err != nil {
		return err
	}
	review.CreatedAt = createdAt
	review.UpdatedAt = ts
	return nil
}

// GetReview retrieves a review.
func (s *Store) GetReview(ctx context.Context, showID, userID int64) (*storage.ReviewRecord, error) {
	r, err := scanReview(s.db.QueryRowContext(ctx,
		"SELECT show_id, user_id, body, created_at, updated_at FROM reviews WHERE show_id = ? AND user_id = ?", showID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrReviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return r, nil
}

// DeleteReview removes a review with all of its votes.
func (s *Store) DeleteReview(ctx context.Context, showID, userID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM review_votes WHERE show_id = ? AND author_id = ?", showID, userID); err != nil {
			return fmt.Errorf("failed to delete review votes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM reviews WHERE show_id = ? AND user_id = ?", showID, userID); err != nil {
			return fmt.Errorf("failed to delete review: %w", err)
		}
		return nil
	})
}

// ListReviewsByShow returns every review of a show with its vote tally.
func (s *Store) ListReviewsByShow(ctx context.Context, showID int64) ([]*storage.ReviewTally, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT r.show_id, r.user_id, r.body, r.created_at, r.updated_at, "+
			"(SELECT COUNT(*) FROM review_votes v WHERE v.show_id = r.show_id AND v.author_id = r.user_id AND v.vote > 0), "+
			"(SELECT COUNT(*) FROM review_votes v WHERE v.show_id = r.show_id AND v.author_id = r.user_id AND v.vote < 0) "+
			"FROM reviews r WHERE r.show_id = ? ORDER BY r.user_id", showID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*storage.ReviewTally
	for rows.Next() {
		var rt storage.ReviewTally
		var r storage.ReviewRecord
		if err := rows.Scan(&r.ShowID, &r.UserID, &r.Text, &r.CreatedAt, &r.UpdatedAt, &rt.Tally.Up, &rt.Tally.Down); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		rt.Review = &r
		reviews = append(reviews, &rt)
	}
	return reviews, rows.Err()
}

// ListReviewsByUser returns a user's reviews, most recently updated first.
func (s *Store) ListReviewsByUser(ctx context.Context, userID int64, limit int) ([]*storage.ReviewRecord, error) {
	query := "SELECT show_id, user_id, body, created_at, updated_at FROM reviews WHERE user_id = ? ORDER BY updated_at DESC, show_id DESC"
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*storage.ReviewRecord
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// CountReviews returns the number of reviews of a show.
func (s *Store) CountReviews(ctx context.Context, showID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reviews WHERE show_id = ?", showID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count reviews: %w", err)
	}
	return n, nil
}

func lockVoteTarget(ctx context.Context, tx *sql.Tx, vote *storage.VoteRecord) error {
	if err := lockRow(ctx, tx, storage.ErrReviewNotFound,
		"SELECT 1 FROM reviews WHERE show_id = ? AND user_id = ? LOCK IN SHARE MODE", vote.ShowID, vote.AuthorID); err != nil {
		return err
	}
	return lockRow(ctx, tx, storage.ErrUserNotFound, "SELECT 1 FROM users WHERE id = ? LOCK IN SHARE MODE", vote.VoterID)
}

const upsertVote = "INSERT INTO review_votes (show_id, author_id, voter_id, vote, updated_at) VALUES (?, ?, ?, ?, ?) " +
	"ON DUPLICATE KEY UPDATE vote = VALUES(vote), updated_at = VALUES(updated_at)"

// PutVote creates or replaces a vote on an existing review.
func (s *Store) PutVote(ctx context.Context, vote *storage.VoteRecord) error {
	ts := now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockVoteTarget(ctx, tx, vote); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertVote, vote.ShowID, vote.AuthorID, vote.VoterID, vote.Value, ts); err != nil {
			return fmt.Errorf("failed to put vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	vote.UpdatedAt = ts
	return nil
}

// ToggleVote removes an identical vote or stores the new one.
func (s *Store) ToggleVote(ctx context.Context, vote *storage.VoteRecord) (int, error) {
	var result int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockVoteTarget(ctx, tx, vote); err != nil {
			return err
		}
		var current int
		err := tx.QueryRowContext(ctx,
			"SELECT vote FROM review_votes WHERE show_id = ? AND author_id = ? AND voter_id = ? FOR UPDATE",
			vote.ShowID, vote.AuthorID, vote.VoterID).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read vote: %w", err)
		}
		if err == nil && current == vote.Value {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM review_votes WHERE show_id = ? AND author_id = ? AND voter_id = ?",
				vote.ShowID, vote.AuthorID, vote.VoterID); err != nil {
				return fmt.Errorf("failed to retract vote: %w", err)
			}
			result = 0
			return nil
		}
		if _, err := tx.ExecContext(ctx, upsertVote, vote.ShowID, vote.AuthorID, vote.VoterID, vote.Value, now()); err != nil {
			return fmt.Errorf("failed to put vote: %w", err)
		}
		result = vote.Value
		return nil
	})
	return result, err
}

// GetVote retrieves a single vote.
func (s *Store) GetVote(ctx context.Context, showID, authorID, voterID int64) (*storage.VoteRecord, error) {
	var v storage.VoteRecord
	err := s.db.QueryRowContext(ctx,
		"SELECT show_id, author_id, voter_id, vote, updated_at FROM review_votes WHERE show_id = ? AND author_id = ? AND voter_id = ?",
		showID, authorID, voterID,
	).Scan(&v.ShowID, &v.AuthorID, &v.VoterID, &v.Value, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vote: %w", err)
	}
	return &v, nil
}

// DeleteVote removes a vote. Missing votes are not an error.
func (s *Store) DeleteVote(ctx context.Context, showID, authorID, voterID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM review_votes WHERE show_id = ? AND author_id = ? AND voter_id = ?", showID, authorID, voterID)
	if err != nil {
		return fmt.Errorf("failed to delete vote: %w", err)
	}
	return nil
}

// GetTally counts the current votes on a review.
func (s *Store) GetTally(ctx context.Context, showID, authorID int64) (*storage.Tally, error) {
	var t storage.Tally
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(vote > 0), 0), COALESCE(SUM(vote < 0), 0) FROM review_votes WHERE show_id = ? AND author_id = ?",
		showID, authorID,
	).Scan(&t.Up, &t.Down)
	if err != nil {
		return nil, fmt.Errorf("failed to tally votes: %w", err)
	}
	return &t, nil
}

// SchemaVersion returns the schema version marker.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version WHERE id = 1").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// UpgradeSchema converts legacy integer ratings to the half-star scale. The
// marker row is locked FOR UPDATE so concurrent runs serialize.
func (s *Store) UpgradeSchema(ctx context.Context, from, to int) error {
	if from != storage.SchemaVersionStarScale || to != storage.SchemaVersionHalfStarScale {
		return storage.ErrUnsupportedMigration
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current int
		if err := tx.QueryRowContext(ctx, "SELECT version FROM schema_version WHERE id = 1 FOR UPDATE").Scan(&current); err != nil {
			return fmt.Errorf("failed to lock schema version: %w", err)
		}
		if current >= to {
			return storage.ErrMigrationAlreadyApplied
		}
		if current != from {
			return storage.ErrSchemaVersionMismatch
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT IGNORE INTO ratings (show_id, user_id, rating_half, updated_at) "+
				"SELECT show_id, user_id, rating_int * 2, updated_at FROM ratings_v1"); err != nil {
			return fmt.Errorf("failed to convert ratings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM ratings_v1"); err != nil {
			return fmt.Errorf("failed to clear legacy ratings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE schema_version SET version = ? WHERE id = 1", to); err != nil {
			return fmt.Errorf("failed to write schema version: %w", err)
		}
		return nil
	})
}

// ImportLegacyRating stores a rating on the integer star scale. It is only
// accepted before the scale migration has run.
func (s *Store) ImportLegacyRating(ctx context.Context, rating *storage.LegacyRatingRecord) error {
	if rating.UpdatedAt.IsZero() {
		rating.UpdatedAt = now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current int
		if err := tx.QueryRowContext(ctx, "SELECT version FROM schema_version WHERE id = 1 LOCK IN SHARE MODE").Scan(&current); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		if current >= storage.SchemaVersionHalfStarScale {
			return storage.ErrMigrationAlreadyApplied
		}
		if err := lockShowAndUser(ctx, tx, rating.ShowID, rating.UserID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO ratings_v1 (show_id, user_id, rating_int, updated_at) VALUES (?, ?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE rating_int = VALUES(rating_int), updated_at = VALUES(updated_at)",
			rating.ShowID, rating.UserID, rating.RatingInt, rating.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to import legacy rating: %w", err)
		}
		return nil
	})
}

// CountLegacyRatings returns the number of unmigrated legacy ratings.
func (s *Store) CountLegacyRatings(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ratings_v1").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count legacy ratings: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsHealthy returns true if the database is reachable.
func (s *Store) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

// DB exposes the underlying connection pool for tests and tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// isDuplicateEntry checks for MySQL error 1062.
func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

// isRetryable checks for deadlocks (1213) and lock wait timeouts (1205).
func isRetryable(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == 1213 || myErr.Number == 1205
}

var _ storage.Storage = (*Store)(nil)
