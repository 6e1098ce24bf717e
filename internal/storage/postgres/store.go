package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/axonops/showledger/internal/config"
	"github.com/axonops/showledger/internal/storage"
)

func init() {
	storage.Register(storage.StorageTypePostgres, func(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
		return NewStore(ctx, ConfigFrom(cfg))
	})
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host            string        `json:"host" yaml:"host"`
	Port            int           `json:"port" yaml:"port"`
	Database        string        `json:"database" yaml:"database"`
	Username        string        `json:"username" yaml:"username"`
	Password        string        `json:"password" yaml:"password"`
	SSLMode         string        `json:"ssl_mode" yaml:"ssl_mode"`
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
		Port:                 5432,
		Database:             "showledger",
		Username:             "postgres",
		Password:             "",
		SSLMode:              "disable",
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
	pg := cfg.PostgreSQL
	if pg.Host != "" {
		c.Host = pg.Host
	}
	if pg.Port != 0 {
		c.Port = pg.Port
	}
	if pg.Database != "" {
		c.Database = pg.Database
	}
	if pg.User != "" {
		c.Username = pg.User
	}
	c.Password = pg.Password
	if pg.SSLMode != "" {
		c.SSLMode = pg.SSLMode
	}
	if pg.MaxOpenConns != 0 {
		c.MaxOpenConns = pg.MaxOpenConns
	}
	if pg.MaxIdleConns != 0 {
		c.MaxIdleConns = pg.MaxIdleConns
	}
	if pg.ConnMaxLifetime != 0 {
		c.ConnMaxLifetime = time.Duration(pg.ConnMaxLifetime) * time.Second
	}
	c.InitialSchemaVersion = storage.InitialSchemaVersion(cfg)
	return c
}

// DSN returns the connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode,
	)
}

// Store implements the storage.Storage interface using PostgreSQL.
type Store struct {
	db     *sql.DB
	config Config

	// Prepared statements for the hot read paths
	stmts *preparedStatements
}

// preparedStatements holds the prepared SQL statements.
type preparedStatements struct {
	getUserByID       *sql.Stmt
	getUserByUsername *sql.Stmt
	getShow           *sql.Stmt
	getShowByNormKey  *sql.Stmt
	getRating         *sql.Stmt
	getReview         *sql.Stmt
	getVote           *sql.Stmt
	getTally          *sql.Stmt
	getRatingSummary  *sql.Stmt
	countReviews      *sql.Stmt
	getSchemaVersion  *sql.Stmt
}

// NewStore creates a new PostgreSQL store.
func NewStore(ctx context.Context, config Config) (*Store, error) {
	db, err := sql.Open("postgres", config.DSN())
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

	store := &Store{
		db:     db,
		config: config,
	}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := store.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
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

// prepareStatements prepares the SQL statements used on hot read paths.
func (s *Store) prepareStatements(ctx context.Context) error {
	stmts := &preparedStatements{}
	var err error

	prepare := func(query string) *sql.Stmt {
		if err != nil {
			return nil
		}
		var stmt *sql.Stmt
		stmt, err = s.db.PrepareContext(ctx, query)
		return stmt
	}

	stmts.getUserByID = prepare(`SELECT id, username, password_hash, is_admin, created_at FROM users WHERE id = $1`)
	stmts.getUserByUsername = prepare(`SELECT id, username, password_hash, is_admin, created_at FROM users WHERE username = $1`)
	stmts.getShow = prepare(`SELECT id, title, corps, year, norm_key, poster_url, created_at FROM shows WHERE id = $1`)
	stmts.getShowByNormKey = prepare(`SELECT id, title, corps, year, norm_key, poster_url, created_at FROM shows WHERE norm_key = $1`)
	stmts.getRating = prepare(`SELECT show_id, user_id, rating_half, updated_at FROM ratings WHERE show_id = $1 AND user_id = $2`)
	stmts.getReview = prepare(`SELECT show_id, user_id, body, created_at, updated_at FROM reviews WHERE show_id = $1 AND user_id = $2`)
	stmts.getVote = prepare(`SELECT show_id, author_id, voter_id, vote, updated_at FROM review_votes WHERE show_id = $1 AND author_id = $2 AND voter_id = $3`)
	stmts.getTally = prepare(`SELECT COUNT(*) FILTER (WHERE vote > 0), COUNT(*) FILTER (WHERE vote < 0) FROM review_votes WHERE show_id = $1 AND author_id = $2`)
	stmts.getRatingSummary = prepare(`SELECT COUNT(*), COALESCE(SUM(rating_half), 0) FROM ratings WHERE show_id = $1`)
	stmts.countReviews = prepare(`SELECT COUNT(*) FROM reviews WHERE show_id = $1`)
	stmts.getSchemaVersion = prepare(`SELECT version FROM schema_version WHERE id = 1`)

	if err != nil {
		s.stmts = stmts
		s.closeStatements()
		return err
	}
	s.stmts = stmts
	return nil
}

// closeStatements closes all prepared statements.
func (s *Store) closeStatements() {
	if s.stmts == nil {
		return
	}
	for _, stmt := range []*sql.Stmt{
		s.stmts.getUserByID, s.stmts.getUserByUsername, s.stmts.getShow,
		s.stmts.getShowByNormKey, s.stmts.getRating, s.stmts.getReview,
		s.stmts.getVote, s.stmts.getTally, s.stmts.getRatingSummary,
		s.stmts.countReviews, s.stmts.getSchemaVersion,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

// withTx runs fn in a transaction, retrying serialization failures and
// deadlocks with exponential backoff and jitter.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	const maxRetries = 10
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.txAttempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		lastErr = err
		// Exponential backoff: 5ms, 10ms, 20ms, ... capped at 500ms, plus 0-50% jitter
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

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*storage.UserRecord, error) {
	var u storage.UserRecord
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func scanShow(row scanner) (*storage.ShowRecord, error) {
	var sh storage.ShowRecord
	if err := row.Scan(&sh.ID, &sh.Title, &sh.Corps, &sh.Year, &sh.NormKey, &sh.PosterURL, &sh.CreatedAt); err != nil {
		return nil, err
	}
	sh.CreatedAt = sh.CreatedAt.UTC()
	return &sh, nil
}

func scanReview(row scanner) (*storage.ReviewRecord, error) {
	var r storage.ReviewRecord
	if err := row.Scan(&r.ShowID, &r.UserID, &r.Text, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// lockShowAndUser takes shared row locks so the referenced rows cannot be
// deleted before the transaction commits.
func lockShowAndUser(ctx context.Context, tx *sql.Tx, showID, userID int64) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM shows WHERE id = $1 FOR SHARE`, showID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrShowNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check show: %w", err)
	}
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = $1 FOR SHARE`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	return nil
}

// CreateUser creates a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.UserRecord) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash, is_admin, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		user.Username, user.PasswordHash, user.IsAdmin, now,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = now
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*storage.UserRecord, error) {
	u, err := scanUser(s.stmts.getUserByID.QueryRowContext(ctx, id))
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
	u, err := scanUser(s.stmts.getUserByUsername.QueryRowContext(ctx, username))
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
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET username = $1, password_hash = $2, is_admin = $3 WHERE id = $4`,
		user.Username, user.PasswordHash, user.IsAdmin, user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrUserExists
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// DeleteUser deletes a user with their ratings, reviews and votes.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}

		for _, q := range []string{
			`DELETE FROM review_votes WHERE voter_id = $1 OR author_id = $1`,
			`DELETE FROM reviews WHERE user_id = $1`,
			`DELETE FROM ratings WHERE user_id = $1`,
			`DELETE FROM ratings_v1 WHERE user_id = $1`,
			`DELETE FROM users WHERE id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("failed to delete user data: %w", err)
			}
		}
		return nil
	})
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]*storage.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, password_hash, is_admin, created_at FROM users ORDER BY id`)
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
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// UpsertShow inserts the show or returns the existing one with the same identity.
// The unique norm_key index arbitrates concurrent inserts.
func (s *Store) UpsertShow(ctx context.Context, show *storage.ShowRecord, mode storage.PosterMode) (*storage.UpsertResult, error) {
	var result *storage.UpsertResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = &storage.UpsertResult{}
		now := time.Now().UTC()

		var id int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO shows (title, corps, year, norm_key, poster_url, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (norm_key) DO NOTHING
			 RETURNING id`,
			show.Title, show.Corps, show.Year, show.NormKey, show.PosterURL, now,
		).Scan(&id)
		if err == nil {
			rec := *show
			rec.ID = id
			rec.CreatedAt = now
			result.Show = &rec
			result.Created = true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to insert show: %w", err)
		}

		existing, err := scanShow(tx.QueryRowContext(ctx,
			`SELECT id, title, corps, year, norm_key, poster_url, created_at FROM shows WHERE norm_key = $1 FOR UPDATE`,
			show.NormKey))
		if err != nil {
			return fmt.Errorf("failed to load existing show: %w", err)
		}

		if posterChange(existing.PosterURL, show.PosterURL, mode) {
			if _, err := tx.ExecContext(ctx, `UPDATE shows SET poster_url = $1 WHERE id = $2`, show.PosterURL, existing.ID); err != nil {
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
	sh, err := scanShow(s.stmts.getShow.QueryRowContext(ctx, id))
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
	sh, err := scanShow(s.stmts.getShowByNormKey.QueryRowContext(ctx, normKey))
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
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx,
		`UPDATE shows SET title = $1, corps = $2, year = $3, norm_key = $4, poster_url = $5 WHERE id = $6 RETURNING created_at`,
		show.Title, show.Corps, show.Year, show.NormKey, show.PosterURL, show.ID,
	).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrShowNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrNormKeyConflict
		}
		return fmt.Errorf("failed to update show: %w", err)
	}
	show.CreatedAt = createdAt.UTC()
	return nil
}

var showOrderClauses = map[storage.ShowOrder]string{
	storage.ShowOrderCreatedAsc:  "created_at ASC, id ASC",
	storage.ShowOrderCreatedDesc: "created_at DESC, id DESC",
	storage.ShowOrderYearDesc:    `year DESC, LOWER(corps) COLLATE "C", LOWER(title) COLLATE "C", id ASC`,
	storage.ShowOrderYearAsc:     `year ASC, LOWER(corps) COLLATE "C", LOWER(title) COLLATE "C", id ASC`,
	storage.ShowOrderCorps:       `LOWER(corps) COLLATE "C", year DESC, LOWER(title) COLLATE "C", id ASC`,
	storage.ShowOrderTitle:       `LOWER(title) COLLATE "C", id ASC`,
}

// ListShows returns shows matching the filter in the requested order.
func (s *Store) ListShows(ctx context.Context, params *storage.ListShowsParams) ([]*storage.ShowRecord, error) {
	if params == nil {
		params = &storage.ListShowsParams{}
	}

	query := `SELECT id, title, corps, year, norm_key, poster_url, created_at FROM shows`
	var where []string
	var args []any
	if params.Year != 0 {
		args = append(args, params.Year)
		where = append(where, fmt.Sprintf("year = $%d", len(args)))
	}
	if params.CorpsKey != "" {
		args = append(args, storage.NormKeyCorpsPattern(params.CorpsKey))
		where = append(where, fmt.Sprintf("norm_key LIKE $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	order, ok := showOrderClauses[params.Order]
	if !ok {
		order = showOrderClauses[storage.ShowOrderCreatedAsc]
	}
	query += " ORDER BY " + order

	if params.Limit > 0 {
		args = append(args, params.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if params.Offset > 0 {
		args = append(args, params.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
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
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM shows WHERE id = $1 FOR UPDATE`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrShowNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock show: %w", err)
		}

		for _, q := range []string{
			`DELETE FROM review_votes WHERE show_id = $1`,
			`DELETE FROM reviews WHERE show_id = $1`,
			`DELETE FROM ratings WHERE show_id = $1`,
			`DELETE FROM ratings_v1 WHERE show_id = $1`,
			`DELETE FROM shows WHERE id = $1`,
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
	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockShowAndUser(ctx, tx, rating.ShowID, rating.UserID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO ratings (show_id, user_id, rating_half, updated_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (show_id, user_id) DO UPDATE SET rating_half = EXCLUDED.rating_half, updated_at = EXCLUDED.updated_at`,
			rating.ShowID, rating.UserID, rating.RatingHalf, now,
		)
		if err != nil {
			return fmt.Errorf("failed to put rating: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	rating.UpdatedAt = now
	return nil
}

// GetRating retrieves a user's rating of a show.
func (s *Store) GetRating(ctx context.Context, showID, userID int64) (*storage.RatingRecord, error) {
	var r storage.RatingRecord
	err := s.stmts.getRating.QueryRowContext(ctx, showID, userID).Scan(&r.ShowID, &r.UserID, &r.RatingHalf, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rating: %w", err)
	}
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// DeleteRating removes a rating. Missing ratings are not an error.
func (s *Store) DeleteRating(ctx context.Context, showID, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ratings WHERE show_id = $1 AND user_id = $2`, showID, userID); err != nil {
		return fmt.Errorf("failed to delete rating: %w", err)
	}
	return nil
}

// ListRatingsByUser returns a user's ratings, most recently updated first.
func (s *Store) ListRatingsByUser(ctx context.Context, userID int64, limit int) ([]*storage.RatingRecord, error) {
	query := `SELECT show_id, user_id, rating_half, updated_at FROM ratings WHERE user_id = $1 ORDER BY updated_at DESC, show_id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
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
		r.UpdatedAt = r.UpdatedAt.UTC()
		ratings = append(ratings, &r)
	}
	return ratings, rows.Err()
}

// GetRatingSummary returns the count and sum of ratings for a show.
func (s *Store) GetRatingSummary(ctx context.Context, showID int64) (*storage.RatingSummary, error) {
	summary := &storage.RatingSummary{ShowID: showID}
	if err := s.stmts.getRatingSummary.QueryRowContext(ctx, showID).Scan(&summary.Count, &summary.Sum); err != nil {
		return nil, fmt.Errorf("failed to summarize ratings: %w", err)
	}
	return summary, nil
}

// ListRatingSummaries returns summaries for every show with at least one rating.
func (s *Store) ListRatingSummaries(ctx context.Context) ([]*storage.RatingSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT show_id, COUNT(*), SUM(rating_half) FROM ratings GROUP BY show_id ORDER BY show_id`)
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
	now := time.Now().UTC()
	var createdAt time.Time
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockShowAndUser(ctx, tx, review.ShowID, review.UserID); err != nil {
			return err
		}
		err := tx.QueryRowContext(ctx,
			`INSERT INTO reviews (show_id, user_id, body, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
			 ON CONFLICT (show_id, user_id) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
			 RETURNING created_at`,
			review.ShowID, review.UserID, review.Text, now,
		).Scan(&createdAt)
		if err != nil {
			return fmt.Errorf("failed to put review: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	review.CreatedAt = createdAt.UTC()
	review.UpdatedAt = now
	return nil
}

// GetReview retrieves a review.
func (s *Store) GetReview(ctx context.Context, showID, userID int64) (*storage.ReviewRecord, error) {
	r, err := scanReview(s.stmts.getReview.QueryRowContext(ctx, showID, userID))
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
		if _, err := tx.ExecContext(ctx, `DELETE FROM review_votes WHERE show_id = $1 AND author_id = $2`, showID, userID); err != nil {
			return fmt.Errorf("failed to delete review votes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM reviews WHERE show_id = $1 AND user_id = $2`, showID, userID); err != nil {
			return fmt.Errorf("failed to delete review: %w", err)
		}
		return nil
	})
}

// ListReviewsByShow returns every review of a show with its vote tally.
func (s *Store) ListReviewsByShow(ctx context.Context, showID int64) ([]*storage.ReviewTally, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.show_id, r.user_id, r.body, r.created_at, r.updated_at,
		        COUNT(v.vote) FILTER (WHERE v.vote > 0),
		        COUNT(v.vote) FILTER (WHERE v.vote < 0)
		 FROM reviews r
		 LEFT JOIN review_votes v ON v.show_id = r.show_id AND v.author_id = r.user_id
		 WHERE r.show_id = $1
		 GROUP BY r.show_id, r.user_id, r.body, r.created_at, r.updated_at
		 ORDER BY r.user_id`, showID)
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
		r.CreatedAt = r.CreatedAt.UTC()
		r.UpdatedAt = r.UpdatedAt.UTC()
		rt.Review = &r
		reviews = append(reviews, &rt)
	}
	return reviews, rows.Err()
}

// ListReviewsByUser returns a user's reviews, most recently updated first.
func (s *Store) ListReviewsByUser(ctx context.Context, userID int64, limit int) ([]*storage.ReviewRecord, error) {
	query := `SELECT show_id, user_id, body, created_at, updated_at FROM reviews WHERE user_id = $1 ORDER BY updated_at DESC, show_id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
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
	if err := s.stmts.countReviews.QueryRowContext(ctx, showID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count reviews: %w", err)
	}
	return n, nil
}

// lockVoteTarget takes shared locks on the review and the voter.
func lockVoteTarget(ctx context.Context, tx *sql.Tx, vote *storage.VoteRecord) error {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM reviews WHERE show_id = $1 AND user_id = $2 FOR SHARE`, vote.ShowID, vote.AuthorID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrReviewNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check review: %w", err)
	}
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = $1 FOR SHARE`, vote.VoterID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check voter: %w", err)
	}
	return nil
}

const upsertVote = `INSERT INTO review_votes (show_id, author_id, voter_id, vote, updated_at) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (show_id, author_id, voter_id) DO UPDATE SET vote = EXCLUDED.vote, updated_at = EXCLUDED.updated_at`

// PutVote creates or replaces a vote on an existing review.
func (s *Store) PutVote(ctx context.Context, vote *storage.VoteRecord) error {
	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockVoteTarget(ctx, tx, vote); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertVote, vote.ShowID, vote.AuthorID, vote.VoterID, vote.Value, now); err != nil {
			return fmt.Errorf("failed to put vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	vote.UpdatedAt = now
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
			`SELECT vote FROM review_votes WHERE show_id = $1 AND author_id = $2 AND voter_id = $3 FOR UPDATE`,
			vote.ShowID, vote.AuthorID, vote.VoterID).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read vote: %w", err)
		}
		if err == nil && current == vote.Value {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM review_votes WHERE show_id = $1 AND author_id = $2 AND voter_id = $3`,
				vote.ShowID, vote.AuthorID, vote.VoterID); err != nil {
				return fmt.Errorf("failed to retract vote: %w", err)
			}
			result = 0
			return nil
		}
		if _, err := tx.ExecContext(ctx, upsertVote, vote.ShowID, vote.AuthorID, vote.VoterID, vote.Value, time.Now().UTC()); err != nil {
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
	err := s.stmts.getVote.QueryRowContext(ctx, showID, authorID, voterID).Scan(&v.ShowID, &v.AuthorID, &v.VoterID, &v.Value, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vote: %w", err)
	}
	v.UpdatedAt = v.UpdatedAt.UTC()
	return &v, nil
}

// DeleteVote removes a vote. Missing votes are not an error.
func (s *Store) DeleteVote(ctx context.Context, showID, authorID, voterID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM review_votes WHERE show_id = $1 AND author_id = $2 AND voter_id = $3`, showID, authorID, voterID)
	if err != nil {
		return fmt.Errorf("failed to delete vote: %w", err)
	}
	return nil
}

// GetTally counts the current votes on a review.
func (s *Store) GetTally(ctx context.Context, showID, authorID int64) (*storage.Tally, error) {
	var t storage.Tally
	if err := s.stmts.getTally.QueryRowContext(ctx, showID, authorID).Scan(&t.Up, &t.Down); err != nil {
		return nil, fmt.Errorf("failed to tally votes: %w", err)
	}
	return &t, nil
}

// SchemaVersion returns the schema version marker.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.stmts.getSchemaVersion.QueryRowContext(ctx).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// UpgradeSchema converts legacy integer ratings to the half-star scale.
// The marker table is locked exclusively so concurrent runs serialize and
// every rating write waits for the conversion to finish.
func (s *Store) UpgradeSchema(ctx context.Context, from, to int) error {
	if from != storage.SchemaVersionStarScale || to != storage.SchemaVersionHalfStarScale {
		return storage.ErrUnsupportedMigration
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `LOCK TABLE schema_version, ratings, ratings_v1 IN EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("failed to lock schema version: %w", err)
		}

		var current int
		if err := tx.QueryRowContext(ctx, `SELECT version FROM schema_version WHERE id = 1`).Scan(&current); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		if current >= to {
			return storage.ErrMigrationAlreadyApplied
		}
		if current != from {
			return storage.ErrSchemaVersionMismatch
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ratings (show_id, user_id, rating_half, updated_at)
			 SELECT show_id, user_id, rating_int * 2, updated_at FROM ratings_v1
			 ON CONFLICT (show_id, user_id) DO NOTHING`); err != nil {
			return fmt.Errorf("failed to convert ratings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM ratings_v1`); err != nil {
			return fmt.Errorf("failed to clear legacy ratings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = $1 WHERE id = 1`, to); err != nil {
			return fmt.Errorf("failed to write schema version: %w", err)
		}
		return nil
	})
}

// ImportLegacyRating stores a rating on the integer star scale. It is only
// accepted before the scale migration has run.
func (s *Store) ImportLegacyRating(ctx context.Context, rating *storage.LegacyRatingRecord) error {
	if rating.UpdatedAt.IsZero() {
		rating.UpdatedAt = time.Now().UTC()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current int
		if err := tx.QueryRowContext(ctx, `SELECT version FROM schema_version WHERE id = 1 FOR SHARE`).Scan(&current); err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		if current >= storage.SchemaVersionHalfStarScale {
			return storage.ErrMigrationAlreadyApplied
		}
		if err := lockShowAndUser(ctx, tx, rating.ShowID, rating.UserID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO ratings_v1 (show_id, user_id, rating_int, updated_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (show_id, user_id) DO UPDATE SET rating_int = EXCLUDED.rating_int, updated_at = EXCLUDED.updated_at`,
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
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ratings_v1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count legacy ratings: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.closeStatements()
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

// isUniqueViolation checks for SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isSerializationError checks for serialization failures (40001) and deadlocks (40P01).
func isSerializationError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

var _ storage.Storage = (*Store)(nil)
