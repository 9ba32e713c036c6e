package app

import (
	"context"
	"fmt"

	"github.com/yungbote/splitstore/internal/data/cache"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

// Clients are the structure cache tiers in front of the database.
type Clients struct {
	Memory *cache.MemoryCache
	Redis  *cache.RedisCache
	Cache  cache.StructureCache
}

func wireClients(ctx context.Context, log *logger.Logger, cfg CacheConfig) (Clients, error) {
	log.Info("Wiring clients...")
	if !cfg.Enabled {
		log.Info("Structure cache disabled")
		return Clients{Cache: cache.Noop()}, nil
	}

	// Ristretto
	mem, err := cache.NewMemoryCache(cfg.MaxCost)
	if err != nil {
		return Clients{}, fmt.Errorf("init memory cache: %w", err)
	}

	// Redis
	var shared *cache.RedisCache
	if cfg.RedisAddr != "" {
		shared, err = cache.NewRedisCache(ctx, log, cfg.RedisAddr, cfg.RedisTTL)
		if err != nil {
			mem.Close()
			return Clients{}, fmt.Errorf("init redis cache: %w", err)
		}
	}

	c := Clients{Memory: mem, Redis: shared}
	if shared != nil {
		c.Cache = cache.Tiered(mem, shared)
	} else {
		c.Cache = cache.Tiered(mem)
	}
	return c, nil
}

func (c Clients) Close() {
	if c.Memory != nil {
		c.Memory.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
