// Package postgres provides a PostgreSQL storage implementation.
package postgres

// migrations contains the database schema migrations. Every statement is
// idempotent and runs on each startup.
//
// Foreign keys carry no ON DELETE CASCADE. DeleteShow, DeleteUser and
// DeleteReview remove dependent rows themselves, in child-first order.
var migrations = []string{
	// Migration 1: Users
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(64) NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	// Migration 2: Shows
	`CREATE TABLE IF NOT EXISTS shows (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		corps TEXT NOT NULL,
		year INTEGER NOT NULL CHECK (year BETWEEN 1900 AND 2100),
		norm_key VARCHAR(1024) NOT NULL UNIQUE,
		poster_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_shows_year ON shows(year)`,
	`CREATE INDEX IF NOT EXISTS idx_shows_corps ON shows(LOWER(corps))`,
	`CREATE INDEX IF NOT EXISTS idx_shows_created_at ON shows(created_at, id)`,

	// Migration 3: Half-star ratings
	`CREATE TABLE IF NOT EXISTS ratings (
		show_id BIGINT NOT NULL REFERENCES shows(id),
		user_id BIGINT NOT NULL REFERENCES users(id),
		rating_half SMALLINT NOT NULL CHECK (rating_half BETWEEN 0 AND 10),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (show_id, user_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_ratings_user ON ratings(user_id, updated_at)`,

	// Migration 4: Legacy integer star ratings
	`CREATE TABLE IF NOT EXISTS ratings_v1 (
		show_id BIGINT NOT NULL REFERENCES shows(id),
		user_id BIGINT NOT NULL REFERENCES users(id),
		rating_int SMALLINT NOT NULL CHECK (rating_int BETWEEN 1 AND 5),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (show_id, user_id)
	)`,

	// Migration 5: Reviews
	`CREATE TABLE IF NOT EXISTS reviews (
		show_id BIGINT NOT NULL REFERENCES shows(id),
		user_id BIGINT NOT NULL REFERENCES users(id),
		body TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (show_id, user_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_reviews_user ON reviews(user_id, updated_at)`,

	// Migration 6: Review votes
	`CREATE TABLE IF NOT EXISTS review_votes (
		show_id BIGINT NOT NULL,
		author_id BIGINT NOT NULL,
		voter_id BIGINT NOT NULL REFERENCES users(id),
		vote SMALLINT NOT NULL CHECK (vote IN (-1, 1)),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		PRIMARY KEY (show_id, author_id, voter_id),
		FOREIGN KEY (show_id, author_id) REFERENCES reviews(show_id, user_id),
		CHECK (author_id <> voter_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_review_votes_voter ON review_votes(voter_id)`,

	// Migration 7: Schema version marker
	`CREATE TABLE IF NOT EXISTS schema_version (
		id SMALLINT PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	)`,
}

// seedSchemaVersion writes the marker once. A database that already holds
// legacy ratings predates the marker and starts at the star scale.
const seedSchemaVersion = `INSERT INTO schema_version (id, version)
	SELECT 1, CASE WHEN EXISTS (SELECT 1 FROM ratings_v1) THEN 1 ELSE $1 END
	ON CONFLICT (id) DO NOTHING`
