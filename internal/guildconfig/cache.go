package guildconfig

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"bastion/internal/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Cache interface {
	Get(ctx context.Context, guildID string) (storage.GuildConfig, bool)
	Set(ctx context.Context, cfg storage.GuildConfig)
	Invalidate(ctx context.Context, guildID string)
}

type memoryEntry struct {
	cfg     storage.GuildConfig
	expires time.Time
}

// MemoryCache keeps configs in process for ttl.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, guildID string) (storage.GuildConfig, bool) {
	c.mu.RLock()
	entry, ok := c.entries[guildID]
	c.mu.RUnlock()
	if !ok {
		return storage.GuildConfig{}, false
	}
	if c.ttl > 0 && c.now().After(entry.expires) {
		c.Invalidate(context.Background(), guildID)
		return storage.GuildConfig{}, false
	}
	return entry.cfg, true
}

func (c *MemoryCache) Set(_ context.Context, cfg storage.GuildConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cfg.GuildID] = memoryEntry{cfg: cfg, expires: c.now().Add(c.ttl)}
}

func (c *MemoryCache) Invalidate(_ context.Context, guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, guildID)
}

// RedisCache shares configs between restarts. Redis failures degrade to cache
// misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(ctx context.Context, addr string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}, nil
}

func redisKey(guildID string) string {
	return "bastion:guild_config:" + guildID
}

func (c *RedisCache) Get(ctx context.Context, guildID string) (storage.GuildConfig, bool) {
	data, err := c.client.Get(ctx, redisKey(guildID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("guild config cache read failed", zap.String("guild_id", guildID), zap.Error(err))
		}
		return storage.GuildConfig{}, false
	}
	var cfg storage.GuildConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return storage.GuildConfig{}, false
	}
	return cfg, true
}

func (c *RedisCache) Set(ctx context.Context, cfg storage.GuildConfig) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKey(cfg.GuildID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("guild config cache write failed", zap.String("guild_id", cfg.GuildID), zap.Error(err))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, guildID string) {
	if err := c.client.Del(ctx, redisKey(guildID)).Err(); err != nil {
		c.logger.Warn("guild config cache invalidate failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
