package cache

import (
	"context"
	"testing"
	"time"

	"github.com/axonops/showledger/internal/config"
)

type stats struct {
	Count int      `json:"count"`
	Mean  *float64 `json:"mean"`
}

func TestMemory_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Hour)

	mean := 7.0
	if err := c.Set(ctx, "show:1", stats{Count: 1, Mean: &mean}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got stats
	ok, err := c.Get(ctx, "show:1", &got)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v; want hit", ok, err)
	}
	if got.Count != 1 || got.Mean == nil || *got.Mean != 7 {
		t.Errorf("Get returned %+v", got)
	}

	ok, err = c.Get(ctx, "nonexistent", &got)
	if err != nil || ok {
		t.Errorf("Expected miss for nonexistent key, got %v, %v", ok, err)
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Hour)

	in := []int{1, 2, 3}
	_ = c.Set(ctx, "k", in)
	in[0] = 99

	var out []int
	if ok, _ := c.Get(ctx, "k", &out); !ok {
		t.Fatal("Expected hit")
	}
	if out[0] != 1 {
		t.Errorf("Cached value changed with caller's slice: %v", out)
	}
}

func TestMemory_Expiration(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "key1", "value1")

	var v string
	if ok, _ := c.Get(ctx, "key1", &v); !ok {
		t.Error("Expected to find key1 immediately")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := c.Get(ctx, "key1", &v); ok {
		t.Error("Expected key1 to be expired")
	}
	if c.Len() != 0 {
		t.Errorf("Expected expired entry to be removed, len = %d", c.Len())
	}
}

func TestMemory_LRUEviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(3, time.Hour)

	_ = c.Set(ctx, "key1", 1)
	_ = c.Set(ctx, "key2", 2)
	_ = c.Set(ctx, "key3", 3)

	// Access key1 to make it recently used
	var v int
	c.Get(ctx, "key1", &v)

	// key2 is now the least recently used
	_ = c.Set(ctx, "key4", 4)

	if c.Len() != 3 {
		t.Errorf("Expected size 3, got %d", c.Len())
	}
	if ok, _ := c.Get(ctx, "key1", &v); !ok {
		t.Error("Expected key1 to still exist")
	}
	if ok, _ := c.Get(ctx, "key2", &v); ok {
		t.Error("Expected key2 to be evicted")
	}
	if ok, _ := c.Get(ctx, "key4", &v); !ok {
		t.Error("Expected key4 to exist")
	}
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Hour)

	_ = c.Set(ctx, "a", 1)
	_ = c.Set(ctx, "b", 2)
	if err := c.Delete(ctx, "a", "b", "missing"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var v int
	if ok, _ := c.Get(ctx, "a", &v); ok {
		t.Error("Expected a to be deleted")
	}
	if c.Len() != 0 {
		t.Errorf("Expected empty cache, got %d", c.Len())
	}
}

func TestMemory_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "old1", 1)
	_ = c.Set(ctx, "old2", 2)
	now = now.Add(30 * time.Second)
	_ = c.Set(ctx, "fresh", 3)
	now = now.Add(45 * time.Second)

	if removed := c.CleanupExpired(); removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 remaining, got %d", c.Len())
	}
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c Store = Nop{}
	_ = c.Set(ctx, "k", 1)
	var v int
	if ok, err := c.Get(ctx, "k", &v); ok || err != nil {
		t.Errorf("Nop.Get = %v, %v", ok, err)
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	c, err := New(ctx, config.CacheConfig{Type: "none"})
	if err != nil || c.Name() != "none" {
		t.Errorf("New(none) = %v, %v", c, err)
	}

	c, err = New(ctx, config.CacheConfig{Type: "memory", Capacity: 5, TTL: 30})
	if err != nil || c.Name() != "memory" {
		t.Errorf("New(memory) = %v, %v", c, err)
	}

	if _, err := New(ctx, config.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("Expected error for unsupported cache type")
	}
}
