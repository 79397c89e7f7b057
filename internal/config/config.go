package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string           `yaml:"discord_token"`
	LogLevel      string           `yaml:"log_level"`
	DefaultPrefix string           `yaml:"default_prefix"`
	Database      DatabaseConfig   `yaml:"database"`
	Cache         CacheConfig      `yaml:"cache"`
	Moderation    ModerationConfig `yaml:"moderation"`
	Leveling      LevelingConfig   `yaml:"leveling"`
	Health        HealthConfig     `yaml:"health"`
	Audit         AuditConfig      `yaml:"audit"`
	Notifications NotifyConfig     `yaml:"notifications"`
}

type DatabaseConfig struct {
	Driver         string `yaml:"driver"`
	DSN            string `yaml:"dsn"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
}

type CacheConfig struct {
	Backend    string `yaml:"backend"`
	RedisAddr  string `yaml:"redis_addr"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type ModerationConfig struct {
	PendingTTLMinutes    int `yaml:"pending_ttl_minutes"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	MaxRange             int `yaml:"max_range"`
}

type LevelingConfig struct {
	Timezone string `yaml:"timezone"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type AuditConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

type NotifyConfig struct {
	EmbedColors EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Ban    int `yaml:"ban"`
	Unban  int `yaml:"unban"`
	Mute   int `yaml:"mute"`
	Unmute int `yaml:"unmute"`
	Info   int `yaml:"info"`
	Error  int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		DefaultPrefix: "/",
		Database: DatabaseConfig{
			Driver:         "sqlite",
			DSN:            "/data/bastion.db",
			TimeoutSeconds: 5,
			MaxOpenConns:   10,
		},
		Cache:      CacheConfig{Backend: "memory", RedisAddr: "localhost:6379", TTLSeconds: 300},
		Moderation: ModerationConfig{PendingTTLMinutes: 10, SweepIntervalSeconds: 60, MaxRange: 50},
		Leveling:   LevelingConfig{Timezone: "UTC"},
		Health:     HealthConfig{Enabled: false, Addr: ":8080"},
		Audit:      AuditConfig{RetentionDays: 90},
		Notifications: NotifyConfig{
			EmbedColors: EmbedColors{
				Ban:    0xEF4444,
				Unban:  0x22C55E,
				Mute:   0xF59E0B,
				Unmute: 0x3B82F6,
				Info:   0x6366F1,
				Error:  0xF97316,
			},
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	// a missing .env is normal outside local development
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}

	cfg.Database.Driver = normalizeDriver(cfg.Database.Driver)
	cfg.Cache.Backend = normalizeBackend(cfg.Cache.Backend)
	if _, err := time.LoadLocation(cfg.Leveling.Timezone); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultPrefix = envString("DEFAULT_PREFIX", cfg.DefaultPrefix)
	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envString("DATABASE_DSN", cfg.Database.DSN)
	cfg.Database.TimeoutSeconds = envInt("DATABASE_TIMEOUT_SECONDS", cfg.Database.TimeoutSeconds)
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Cache.Backend = envString("CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.RedisAddr = envString("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.TTLSeconds = envInt("CACHE_TTL_SECONDS", cfg.Cache.TTLSeconds)
	cfg.Moderation.PendingTTLMinutes = envInt("PENDING_TTL_MINUTES", cfg.Moderation.PendingTTLMinutes)
	cfg.Moderation.SweepIntervalSeconds = envInt("SWEEP_INTERVAL_SECONDS", cfg.Moderation.SweepIntervalSeconds)
	cfg.Moderation.MaxRange = envInt("MODERATION_MAX_RANGE", cfg.Moderation.MaxRange)
	cfg.Leveling.Timezone = envString("LEVELING_TIMEZONE", cfg.Leveling.Timezone)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Audit.RetentionDays = envInt("AUDIT_RETENTION_DAYS", cfg.Audit.RetentionDays)
}

// Location returns the time zone used for day, week and month boundaries.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Leveling.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.Database.TimeoutSeconds) * time.Second
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func normalizeDriver(value string) string {
	switch strings.ToLower(value) {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	default:
		return "sqlite"
	}
}

func normalizeBackend(value string) string {
	switch strings.ToLower(value) {
	case "redis":
		return "redis"
	default:
		return "memory"
	}
}
