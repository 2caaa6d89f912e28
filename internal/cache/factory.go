package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pagefront/internal/config"
)

// NewStore creates the store selected by cfg.Cache.Type. An unreachable Redis
// is logged but not fatal: the cache is advisory and lookups degrade to misses.
func NewStore(cfg *config.Config, log *zap.Logger) (Store, error) {
	if !cfg.Cache.UseOutputCache {
		log.Info("Output cache disabled")
		return NewNoopStore(), nil
	}

	switch cfg.Cache.Type {
	case "memory":
		log.Info("Using memory cache",
			zap.Int("shards", cfg.Cache.Shards),
			zap.Int("max_entries", cfg.Cache.MaxEntries),
			zap.Duration("ttl", cfg.Cache.TTL),
		)
		return NewMemoryStore(cfg.Cache.Shards, cfg.Cache.MaxEntries), nil
	case "file":
		log.Info("Using file cache", zap.String("dir", cfg.Cache.FileDir), zap.Duration("ttl", cfg.Cache.TTL))
		store, err := NewFileStore(cfg.Cache.FileDir, cfg.Cache.Shards)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		log.Info("Using redis cache", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
		store := NewRedisStore(RedisStoreConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			log.Warn("Redis cache not reachable, serving uncached until it recovers", zap.Error(err))
		}
		return store, nil
	case "disabled":
		log.Info("Cache disabled")
		return NewNoopStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: memory, file, redis, disabled)", cfg.Cache.Type)
	}
}
