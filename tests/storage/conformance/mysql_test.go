//go:build conformance

package conformance

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/go-sql-driver/mysql"

	"github.com/axonops/showledger/internal/storage"
	"github.com/axonops/showledger/internal/storage/mysql"
)

func TestMySQLBackend(t *testing.T) {
	cfg := mysql.DefaultConfig()
	cfg.Host = getEnvOrDefault("MYSQL_HOST", "localhost")
	cfg.Port = getEnvOrDefaultInt("MYSQL_PORT", 3306)
	cfg.Username = getEnvOrDefault("MYSQL_USER", "showledger")
	cfg.Password = getEnvOrDefault("MYSQL_PASSWORD", "showledger")
	cfg.Database = getEnvOrDefault("MYSQL_DATABASE", "showledger")

	store, err := mysql.NewStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create MySQL store: %v", err)
	}
	defer store.Close()

	RunAll(t, func(schemaVersion int) storage.Storage {
		resetMySQL(t, cfg, schemaVersion)
		return &noCloseStore{store}
	})
}

func resetMySQL(t *testing.T, cfg mysql.Config, schemaVersion int) {
	t.Helper()

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		t.Fatalf("Failed to connect to MySQL for cleanup: %v", err)
	}
	defer db.Close()
	// FOREIGN_KEY_CHECKS is per session.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		t.Fatalf("Failed to disable FK checks: %v", err)
	}

	tables := []string{"review_votes", "reviews", "ratings_v1", "ratings", "shows", "users"}
	for _, table := range tables {
		if _, err := db.Exec("TRUNCATE TABLE `" + table + "`"); err != nil {
			t.Fatalf("Failed to truncate MySQL table %s: %v", table, err)
		}
	}

	if _, err := db.Exec("SET FOREIGN_KEY_CHECKS = 1"); err != nil {
		t.Fatalf("Failed to enable FK checks: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = ? WHERE id = 1", schemaVersion); err != nil {
		t.Fatalf("Failed to reset schema version: %v", err)
	}
}
