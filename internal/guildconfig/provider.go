package guildconfig

import (
	"context"
	"strings"
	"sync"

	"bastion/internal/metrics"
	"bastion/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Store interface {
	GetGuildConfig(ctx context.Context, guildID string) (storage.GuildConfig, error)
	UpsertGuildConfig(ctx context.Context, cfg storage.GuildConfig) error
}

// Provider is the single read path for guild settings. Writes go through
// Update so the cache entry is dropped after every change.
type Provider struct {
	store         Store
	cache         Cache
	group         singleflight.Group
	defaultPrefix string
	logger        *zap.Logger

	mu sync.Mutex
	// generations counts writes per guild. A load only keeps its cache entry
	// when no write happened while it ran.
	generations map[string]uint64
}

func NewProvider(store Store, cache Cache, defaultPrefix string, logger *zap.Logger) *Provider {
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	return &Provider{
		store:         store,
		cache:         cache,
		defaultPrefix: defaultPrefix,
		logger:        logger,
		generations:   make(map[string]uint64),
	}
}

func (p *Provider) Get(ctx context.Context, guildID string) (storage.GuildConfig, error) {
	if cfg, ok := p.cache.Get(ctx, guildID); ok {
		metrics.GuildConfigCacheHitsTotal.Inc()
		return cfg, nil
	}
	metrics.GuildConfigCacheMissesTotal.Inc()

	value, err, _ := p.group.Do(guildID, func() (any, error) {
		gen := p.generation(guildID)
		cfg, err := p.store.GetGuildConfig(ctx, guildID)
		if err != nil {
			return storage.GuildConfig{}, err
		}
		if p.generation(guildID) == gen {
			p.cache.Set(ctx, cfg)
			// an Update may have landed between the check and Set
			if p.generation(guildID) != gen {
				p.cache.Invalidate(ctx, guildID)
			}
		}
		return cfg, nil
	})
	if err != nil {
		return storage.GuildConfig{}, err
	}
	return value.(storage.GuildConfig), nil
}

// Prefix returns the guild's command prefix or the bot-wide default.
func (p *Provider) Prefix(cfg storage.GuildConfig) string {
	if cfg.Prefix != nil && *cfg.Prefix != "" {
		return *cfg.Prefix
	}
	return p.defaultPrefix
}

// Update reads the stored config, applies fn, writes it back and invalidates
// the cached copy.
func (p *Provider) Update(ctx context.Context, guildID string, fn func(*storage.GuildConfig)) (storage.GuildConfig, error) {
	cfg, err := p.store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return storage.GuildConfig{}, err
	}
	cfg.GuildID = guildID
	fn(&cfg)
	if err := p.store.UpsertGuildConfig(ctx, cfg); err != nil {
		return storage.GuildConfig{}, err
	}
	p.bump(guildID)
	p.group.Forget(guildID)
	p.cache.Invalidate(ctx, guildID)
	p.logger.Info("guild config updated", zap.String("guild_id", guildID))
	return cfg, nil
}

func (p *Provider) generation(guildID string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generations[guildID]
}

func (p *Provider) bump(guildID string) {
	p.mu.Lock()
	p.generations[guildID]++
	p.mu.Unlock()
}

func (p *Provider) SetMuteRole(ctx context.Context, guildID string, roleID *string) (storage.GuildConfig, error) {
	return p.Update(ctx, guildID, func(cfg *storage.GuildConfig) { cfg.MuteRoleID = clean(roleID) })
}

func (p *Provider) SetModLogChannel(ctx context.Context, guildID string, channelID *string) (storage.GuildConfig, error) {
	return p.Update(ctx, guildID, func(cfg *storage.GuildConfig) { cfg.ModLogChannelID = clean(channelID) })
}

func (p *Provider) SetPrefix(ctx context.Context, guildID string, prefix *string) (storage.GuildConfig, error) {
	return p.Update(ctx, guildID, func(cfg *storage.GuildConfig) { cfg.Prefix = clean(prefix) })
}

func clean(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
