// Package mysql provides a MySQL storage implementation.
package mysql

// migrations contains the database schema migrations.
//
// Foreign keys carry no ON DELETE CASCADE. DeleteShow, DeleteUser and
// DeleteReview remove dependent rows themselves, in child-first order.
var migrations = []string{
	// Migration 1: Users
	"CREATE TABLE IF NOT EXISTS users (" +
		"id BIGINT AUTO_INCREMENT PRIMARY KEY," +
		"username VARCHAR(64) COLLATE utf8mb4_bin NOT NULL," +
		"password_hash VARCHAR(255) NOT NULL," +
		"is_admin BOOLEAN NOT NULL DEFAULT FALSE," +
		"created_at DATETIME(6) NOT NULL," +
		"UNIQUE KEY idx_users_username (username)" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",

	// Migration 2: Shows
	"CREATE TABLE IF NOT EXISTS shows (" +
		"id BIGINT AUTO_INCREMENT PRIMARY KEY," +
		"title VARCHAR(512) NOT NULL," +
		"corps VARCHAR(255) NOT NULL," +
		"year INT NOT NULL," +
		"norm_key VARCHAR(768) COLLATE utf8mb4_bin NOT NULL," +
		"poster_url VARCHAR(2048) NOT NULL DEFAULT ''," +
		"created_at DATETIME(6) NOT NULL," +
		"UNIQUE KEY idx_shows_norm_key (norm_key)," +
		"INDEX idx_shows_year (year)," +
		"INDEX idx_shows_created_at (created_at, id)," +
		"CONSTRAINT chk_shows_year CHECK (year BETWEEN 1900 AND 2100)" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",

	// Migration 3: Half-star ratings
	"CREATE TABLE IF NOT EXISTS ratings (" +
		"show_id BIGINT NOT NULL," +
		"user_id BIGINT NOT NULL," +
		"rating_half TINYINT NOT NULL," +
		"updated_at DATETIME(6) NOT NULL," +
		"PRIMARY KEY (show_id, user_id)," +
		"INDEX idx_ratings_user (user_id, updated_at)," +
		"FOREIGN KEY (show_id) REFERENCES shows(id)," +
		"FOREIGN KEY (user_id) REFERENCES users(id)," +
		"CONSTRAINT chk_ratings_half CHECK (rating_half BETWEEN 0 AND 10)" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",

	// Migration 4: Legacy integer star ratings
	"CREATE TABLE IF NOT EXISTS ratings_v1 (" +
		"show_id BIGINT NOT NULL," +
		"user_id BIGINT NOT NULL," +
		"rating_int TINYINT NOT NULL," +
		"updated_at DATETIME(6) NOT NULL," +
		"PRIMARY KEY (show_id, user_id)," +
		"INDEX idx_ratings_v1_user (user_id)," +
		"FOREIGN KEY (show_id) REFERENCES shows(id)," +
		"FOREIGN KEY (user_id) REFERENCES users(id)," +
		"CONSTRAINT chk_ratings_v1_int CHECK (rating_int BETWEEN 1 AND 5)" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",

	// Migration 5: Reviews
	"CREATE TABLE IF NOT EXISTS reviews (" +
		"show_id BIGINT NOT NULL," +
		"user_id BIGINT NOT NULL," +
		"body TEXT NOT NULL," +
		"created_at DATETIME(6) NOT NULL," +
		"updated_at DATETIME(6) NOT NULL," +
		"PRIMARY KEY (show_id, user_id)," +
		"INDEX idx_reviews_user (user_id, updated_at)," +
		"FOREIGN KEY (show_id) REFERENCES shows(id)," +
		"FOREIGN KEY (user_id) REFERENCES users(id)" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",

	// Migration 6: Review votes
	"CREATE TABLE IF NOT EXISTS review_votes (" +
		"show_id BIGINT NOT NULL," +
		"author_id BIGINT NOT NULL," +
		"voter_id BIGINT NOT NULL," +
		"vote TINYINT NOT NULL," +
		"updated_at DATETIME(6) NOT NULL," +
		"PRIMARY KEY (show_id, author_id, voter_id)," +
		"INDEX idx_review_votes_voter (voter_id)," +
		"FOREIGN KEY (show_id, author_id) REFERENCES reviews(show_id, user_id)," +
		"FOREIGN KEY (voter_id) REFERENCES users(id)," +
		"CONSTRAINT chk_review_votes_vote CHECK (vote IN (-1, 1))," +
		"CONSTRAINT chk_review_votes_self CHECK (author_id <> voter_id)" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",

	// Migration 7: Schema version marker
	"CREATE TABLE IF NOT EXISTS schema_version (" +
		"id TINYINT PRIMARY KEY," +
		"version INT NOT NULL," +
		"CONSTRAINT chk_schema_version_id CHECK (id = 1)" +
		") ENGINE=InnoDB",
}

// seedSchemaVersion writes the marker once. A database that already holds
// legacy ratings predates the marker and starts at the star scale.
const seedSchemaVersion = "INSERT IGNORE INTO schema_version (id, version) " +
	"SELECT 1, CASE WHEN EXISTS (SELECT 1 FROM ratings_v1) THEN 1 ELSE ? END"
