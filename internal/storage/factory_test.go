package storage

import (
	"context"
	"testing"

	"github.com/axonops/showledger/internal/config"
)

func withFactories(t *testing.T) {
	t.Helper()
	factoriesMu.Lock()
	orig := factories
	factories = make(map[StorageType]Factory)
	factoriesMu.Unlock()
	t.Cleanup(func() {
		factoriesMu.Lock()
		factories = orig
		factoriesMu.Unlock()
	})
}

func TestRegister_AndCreate(t *testing.T) {
	withFactories(t)

	var got config.StorageConfig
	mockFactory := func(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
		got = cfg
		return nil, nil
	}

	Register("test-backend", mockFactory)

	_, err := Create(context.Background(), config.StorageConfig{Type: "test-backend", LegacyRatingScale: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != "test-backend" || !got.LegacyRatingScale {
		t.Errorf("factory received wrong config: %+v", got)
	}
}

func TestCreate_UnknownType(t *testing.T) {
	withFactories(t)

	_, err := Create(context.Background(), config.StorageConfig{Type: "nonexistent"})
	if err == nil {
		t.Error("expected error for unknown storage type")
	}
}

func TestSupportedTypes(t *testing.T) {
	withFactories(t)

	dummyFactory := func(ctx context.Context, cfg config.StorageConfig) (Storage, error) { return nil, nil }
	Register("type-b", dummyFactory)
	Register("type-a", dummyFactory)

	types := SupportedTypes()
	if len(types) != 2 {
		t.Fatalf("expected 2 types, got %d", len(types))
	}
	if types[0] != "type-a" || types[1] != "type-b" {
		t.Errorf("expected sorted types, got %v", types)
	}
	if !IsSupported("type-a") {
		t.Error("expected type-a to be supported")
	}
	if IsSupported("type-c") {
		t.Error("expected type-c to be unsupported")
	}
}

func TestInitialSchemaVersion(t *testing.T) {
	if v := InitialSchemaVersion(config.StorageConfig{}); v != CurrentSchemaVersion {
		t.Errorf("expected %d, got %d", CurrentSchemaVersion, v)
	}
	if v := InitialSchemaVersion(config.StorageConfig{LegacyRatingScale: true}); v != SchemaVersionStarScale {
		t.Errorf("expected %d, got %d", SchemaVersionStarScale, v)
	}
}

func TestTally_Net(t *testing.T) {
	if n := (Tally{Up: 2, Down: 1}).Net(); n != 1 {
		t.Errorf("expected net 1, got %d", n)
	}
}
