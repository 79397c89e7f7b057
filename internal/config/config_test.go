package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
discord_token: from-file
default_prefix: "!"
database:
  driver: PostgreSQL
  dsn: postgres://localhost/bastion
cache:
  backend: nonsense
moderation:
  pending_ttl_minutes: 3
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("SWEEP_INTERVAL_SECONDS", "15")
	t.Setenv("HEALTH_ENABLED", "yes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.DiscordToken)
	assert.Equal(t, "!", cfg.DefaultPrefix)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 3, cfg.Moderation.PendingTTLMinutes)
	assert.Equal(t, 15, cfg.Moderation.SweepIntervalSeconds)
	assert.Equal(t, 50, cfg.Moderation.MaxRange)
	assert.True(t, cfg.Health.Enabled)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("LEVELING_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	assert.Error(t, err)
}

func TestBuildLoggerFallsBackToInfo(t *testing.T) {
	logger, err := BuildLogger("verbose")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(parseLevel("info")))
	assert.False(t, logger.Core().Enabled(parseLevel("debug")))
}
