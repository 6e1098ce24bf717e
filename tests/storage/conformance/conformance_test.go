package conformance

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/axonops/showledger/internal/storage"
	"github.com/axonops/showledger/internal/storage/memory"
	"github.com/axonops/showledger/internal/storage/sqlite"
)

func TestMemoryBackend(t *testing.T) {
	RunAll(t, func(schemaVersion int) storage.Storage {
		return memory.NewStore(memory.WithSchemaVersion(schemaVersion))
	})
}

func TestSQLiteBackend(t *testing.T) {
	dir := t.TempDir()
	var n atomic.Int64

	RunAll(t, func(schemaVersion int) storage.Storage {
		cfg := sqlite.DefaultConfig()
		cfg.Path = filepath.Join(dir, fmt.Sprintf("conformance-%d.db", n.Add(1)))
		cfg.InitialSchemaVersion = schemaVersion
		store, err := sqlite.NewStore(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Failed to create SQLite store: %v", err)
		}
		return store
	})
}
