package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/axonops/showledger/internal/config"
)

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeMemory   StorageType = "memory"
	StorageTypeSQLite   StorageType = "sqlite"
	StorageTypePostgres StorageType = "postgresql"
	StorageTypeMySQL    StorageType = "mysql"
)

// Factory creates a Storage instance from configuration.
type Factory func(ctx context.Context, cfg config.StorageConfig) (Storage, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[StorageType]Factory)
)

// Register registers a storage factory. Backends call it from init.
func Register(storageType StorageType, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[storageType] = factory
}

// Create creates a new Storage instance based on the configured type.
func Create(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	factoriesMu.RLock()
	factory, ok := factories[StorageType(cfg.Type)]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
	return factory(ctx, cfg)
}

// SupportedTypes returns the registered storage types in sorted order.
func SupportedTypes() []StorageType {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	types := make([]StorageType, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// IsSupported returns true if the storage type is supported.
func IsSupported(storageType StorageType) bool {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	_, ok := factories[storageType]
	return ok
}

// InitialSchemaVersion returns the version a fresh store is seeded with.
func InitialSchemaVersion(cfg config.StorageConfig) int {
	if cfg.LegacyRatingScale {
		return SchemaVersionStarScale
	}
	return CurrentSchemaVersion
}
