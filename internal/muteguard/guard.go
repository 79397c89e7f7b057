package muteguard

import (
	"context"

	"bastion/internal/metrics"
	"bastion/internal/modules/audit"
	"bastion/internal/platform"
	"bastion/internal/storage"

	"go.uber.org/zap"
)

type Store interface {
	AddMuteEvasion(ctx context.Context, guildID, userID string) error
	TakeMuteEvasion(ctx context.Context, guildID, userID string) (bool, error)
}

type GuildConfigs interface {
	Get(ctx context.Context, guildID string) (storage.GuildConfig, error)
}

type RoleClient interface {
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
}

// Guard re-mutes members who leave while muted and come back.
type Guard struct {
	store   Store
	configs GuildConfigs
	client  RoleClient
	audit   *audit.Logger
	logger  *zap.Logger
}

func New(store Store, configs GuildConfigs, client RoleClient, auditLogger *audit.Logger, logger *zap.Logger) *Guard {
	return &Guard{store: store, configs: configs, client: client, audit: auditLogger, logger: logger}
}

// HandleMemberRemove marks the member when they held the mute role on the
// way out. roles is the member's role set before removal.
func (g *Guard) HandleMemberRemove(ctx context.Context, guildID, userID string, roles []string) {
	cfg, err := g.configs.Get(ctx, guildID)
	if err != nil {
		g.logger.Warn("guild config lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	if cfg.MuteRoleID == nil || !hasRole(roles, *cfg.MuteRoleID) {
		return
	}

	if err := g.store.AddMuteEvasion(ctx, guildID, userID); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("add_mute_evasion").Inc()
		g.logger.Warn("mute evasion not recorded", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return
	}
	metrics.MuteEvasionsTotal.WithLabelValues("recorded").Inc()
	g.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventMuteEvasion, "left while muted")
}

// HandleMemberAdd applies the guild's current mute role to a marked member
// and consumes the marker. The marker is consumed even when the role cannot
// be applied. It reports whether a role was applied.
func (g *Guard) HandleMemberAdd(ctx context.Context, guildID, userID string) bool {
	log := g.logger.With(zap.String("guild_id", guildID), zap.String("user_id", userID))

	marked, err := g.store.TakeMuteEvasion(ctx, guildID, userID)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("take_mute_evasion").Inc()
		log.Warn("mute evasion lookup failed", zap.Error(err))
		return false
	}
	if !marked {
		return false
	}

	cfg, err := g.configs.Get(ctx, guildID)
	if err != nil {
		metrics.MuteEvasionsTotal.WithLabelValues("failed").Inc()
		log.Warn("re-mute skipped, guild config unavailable", zap.Error(err))
		return false
	}
	if cfg.MuteRoleID == nil {
		log.Info("re-mute skipped, mute role no longer configured")
		return false
	}

	if err := g.client.AddRole(ctx, guildID, userID, *cfg.MuteRoleID, "rejoined while muted"); err != nil {
		metrics.MuteEvasionsTotal.WithLabelValues("failed").Inc()
		log.Warn("re-mute failed", zap.String("detail", platform.Describe(err)), zap.Error(err))
		return false
	}
	metrics.MuteEvasionsTotal.WithLabelValues("reapplied").Inc()
	g.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventMuteRestored, "role="+*cfg.MuteRoleID)
	return true
}

func hasRole(roles []string, roleID string) bool {
	for _, role := range roles {
		if role == roleID {
			return true
		}
	}
	return false
}
