// Package sqlite provides an embedded SQLite storage implementation using the
// pure Go modernc.org/sqlite driver.
package sqlite

// migrations contains the database schema migrations. Timestamps are stored
// as Unix nanoseconds.
//
// Foreign keys carry no ON DELETE CASCADE. DeleteShow, DeleteUser and
// DeleteReview remove dependent rows themselves, in child-first order.
var migrations = []string{
	// Migration 1: Users
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_admin INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,

	// Migration 2: Shows
	`CREATE TABLE IF NOT EXISTS shows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		corps TEXT NOT NULL,
		year INTEGER NOT NULL CHECK (year BETWEEN 1900 AND 2100),
		norm_key TEXT NOT NULL UNIQUE,
		poster_url TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_shows_year ON shows(year)`,
	`CREATE INDEX IF NOT EXISTS idx_shows_created_at ON shows(created_at, id)`,

	// Migration 3: Half-star ratings
	`CREATE TABLE IF NOT EXISTS ratings (
		show_id INTEGER NOT NULL REFERENCES shows(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		rating_half INTEGER NOT NULL CHECK (rating_half BETWEEN 0 AND 10),
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (show_id, user_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_ratings_user ON ratings(user_id, updated_at)`,

	// Migration 4: Legacy integer star ratings
	`CREATE TABLE IF NOT EXISTS ratings_v1 (
		show_id INTEGER NOT NULL REFERENCES shows(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		rating_int INTEGER NOT NULL CHECK (rating_int BETWEEN 1 AND 5),
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (show_id, user_id)
	)`,

	// Migration 5: Reviews
	`CREATE TABLE IF NOT EXISTS reviews (
		show_id INTEGER NOT NULL REFERENCES shows(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (show_id, user_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_reviews_user ON reviews(user_id, updated_at)`,

	// Migration 6: Review votes
	`CREATE TABLE IF NOT EXISTS review_votes (
		show_id INTEGER NOT NULL,
		author_id INTEGER NOT NULL,
		voter_id INTEGER NOT NULL REFERENCES users(id),
		vote INTEGER NOT NULL CHECK (vote IN (-1, 1)),
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (show_id, author_id, voter_id),
		FOREIGN KEY (show_id, author_id) REFERENCES reviews(show_id, user_id),
		CHECK (author_id <> voter_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_review_votes_voter ON review_votes(voter_id)`,

	// Migration 7: Schema version marker
	`CREATE TABLE IF NOT EXISTS schema_version (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	)`,
}

// seedSchemaVersion writes the marker once. A database that already holds
// legacy ratings predates the marker and starts at the star scale. The WHERE
// clause keeps the upsert unambiguous to the SQLite parser.
const seedSchemaVersion = `INSERT INTO schema_version (id, version)
	SELECT 1, CASE WHEN EXISTS (SELECT 1 FROM ratings_v1) THEN 1 ELSE ? END WHERE 1
	ON CONFLICT (id) DO NOTHING`
