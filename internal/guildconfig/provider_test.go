package guildconfig

import (
	"context"
	"sync"
	"testing"
	"time"

	"bastion/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingStore struct {
	*storage.Store
	reads int
}

func (s *countingStore) GetGuildConfig(ctx context.Context, guildID string) (storage.GuildConfig, error) {
	s.reads++
	return s.Store.GetGuildConfig(ctx, guildID)
}

func newTestProvider(t *testing.T) (*Provider, *countingStore) {
	t.Helper()
	store, err := storage.New(storage.Options{Driver: storage.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())

	counting := &countingStore{Store: store}
	return NewProvider(counting, NewMemoryCache(time.Minute), "/", zap.NewNop()), counting
}

func TestProviderCachesReads(t *testing.T) {
	provider, store := newTestProvider(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cfg, err := provider.Get(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, "g1", cfg.GuildID)
		assert.Nil(t, cfg.MuteRoleID)
	}
	assert.Equal(t, 1, store.reads)
}

func TestProviderUpdateInvalidates(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	_, err := provider.Get(ctx, "g1")
	require.NoError(t, err)

	role := " role-1 "
	_, err = provider.SetMuteRole(ctx, "g1", &role)
	require.NoError(t, err)

	cfg, err := provider.Get(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, cfg.MuteRoleID)
	assert.Equal(t, "role-1", *cfg.MuteRoleID)

	_, err = provider.SetMuteRole(ctx, "g1", nil)
	require.NoError(t, err)
	cfg, err = provider.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, cfg.MuteRoleID)
}

// gatedStore holds the first read it serves until release is closed. The row
// is read before blocking, so the held load returns what was stored then.
type gatedStore struct {
	*storage.Store
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (s *gatedStore) GetGuildConfig(ctx context.Context, guildID string) (storage.GuildConfig, error) {
	cfg, err := s.Store.GetGuildConfig(ctx, guildID)
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.loaded)
		<-s.release
	}
	return cfg, err
}

func TestProviderDropsLoadOverlappingUpdate(t *testing.T) {
	store, err := storage.New(storage.Options{Driver: storage.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate())

	gated := &gatedStore{Store: store, loaded: make(chan struct{}), release: make(chan struct{})}
	provider := NewProvider(gated, NewMemoryCache(time.Minute), "/", zap.NewNop())
	ctx := context.Background()

	done := make(chan storage.GuildConfig)
	go func() {
		cfg, _ := provider.Get(ctx, "g1")
		done <- cfg
	}()
	<-gated.loaded

	role := "role-2"
	_, err = provider.SetMuteRole(ctx, "g1", &role)
	require.NoError(t, err)

	close(gated.release)
	stale := <-done
	assert.Nil(t, stale.MuteRoleID)

	cfg, err := provider.Get(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, cfg.MuteRoleID)
	assert.Equal(t, "role-2", *cfg.MuteRoleID)
}

func TestProviderPrefix(t *testing.T) {
	provider, _ := newTestProvider(t)
	ctx := context.Background()

	cfg, err := provider.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "/", provider.Prefix(cfg))

	bang := "!"
	cfg, err = provider.SetPrefix(ctx, "g1", &bang)
	require.NoError(t, err)
	assert.Equal(t, "!", provider.Prefix(cfg))
}

func TestMemoryCacheExpires(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	now := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	cache.Set(ctx, storage.GuildConfig{GuildID: "g1"})
	_, ok := cache.Get(ctx, "g1")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get(ctx, "g1")
	assert.False(t, ok)
}
