package cache

import (
	"context"
	"fmt"

	"github.com/axonops/showledger/internal/config"
)

// New builds the Store selected by the configuration.
func New(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "memory":
		return NewMemory(cfg.Capacity, cfg.CacheTTL()), nil
	case "redis":
		return NewRedis(ctx, RedisOptions{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.CacheTTL(),
		})
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
