package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bastion/internal/config"
	"bastion/internal/metrics"
	"bastion/internal/modules/audit"
	"bastion/internal/platform"
	"bastion/internal/storage"

	"go.uber.org/zap"
)

type CaseStore interface {
	CreateCase(ctx context.Context, c storage.Case) (storage.Case, error)
	GetCase(ctx context.Context, id int64) (*storage.Case, error)
	SetCaseReason(ctx context.Context, id int64, reason, executorID string) error
	SetLogMessage(ctx context.Context, id int64, ref storage.MessageRef) error
	ClearLogMessage(ctx context.Context, id int64, messageID string) error
	ClaimPending(ctx context.Context, guildID string, kind storage.ActionKind, userID string) (*storage.Case, error)
	ConfirmCase(ctx context.Context, id int64) (bool, error)
	DeleteCase(ctx context.Context, guildID string, kind storage.ActionKind, userID string, caseNumber int) error
	LatestCaseNumber(ctx context.Context, guildID string) (int, error)
	FindRange(ctx context.Context, guildID string, lo, hi int) ([]storage.Case, error)
	StalePending(ctx context.Context, cutoff time.Time, limit int) ([]storage.Case, error)
	CountPending(ctx context.Context) (int, error)
}

type GuildConfigs interface {
	Get(ctx context.Context, guildID string) (storage.GuildConfig, error)
	Prefix(cfg storage.GuildConfig) string
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Target identifies the member an action applies to. Tag is the display
// snapshot stored with the case.
type Target struct {
	ID  string
	Tag string
}

// Reconciler keeps exactly one case per real moderation action, whether the
// bot's own command or a platform event saw it first. Commands only create
// pending cases or roll them back; platform events are the only path that
// confirms them.
type Reconciler struct {
	store   CaseStore
	configs GuildConfigs
	client  platform.Client
	audit   *audit.Logger
	colors  config.EmbedColors
	clock   Clock
	logger  *zap.Logger
}

func NewReconciler(store CaseStore, configs GuildConfigs, client platform.Client, auditLogger *audit.Logger, colors config.EmbedColors, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		configs: configs,
		client:  client,
		audit:   auditLogger,
		colors:  colors,
		clock:   realClock{},
		logger:  logger,
	}
}

func (r *Reconciler) WithClock(clock Clock) {
	r.clock = clock
}

func (r *Reconciler) RecordCommandBan(ctx context.Context, guildID string, target Target, executorID string, reason *string) (storage.Case, error) {
	return r.recordCommand(ctx, storage.ActionBan, guildID, target, executorID, reason, nil, func(ctx context.Context, _ storage.GuildConfig) error {
		return r.client.Ban(ctx, guildID, target.ID, auditReason(reason))
	})
}

func (r *Reconciler) RecordCommandUnban(ctx context.Context, guildID string, target Target, executorID string, reason *string) (storage.Case, error) {
	return r.recordCommand(ctx, storage.ActionUnban, guildID, target, executorID, reason, nil, func(ctx context.Context, _ storage.GuildConfig) error {
		return r.client.Unban(ctx, guildID, target.ID, auditReason(reason))
	})
}

func (r *Reconciler) RecordCommandMute(ctx context.Context, guildID string, target Target, executorID string, reason *string) (storage.Case, error) {
	return r.recordCommand(ctx, storage.ActionMute, guildID, target, executorID, reason, r.expectMuted(guildID, target, false), func(ctx context.Context, cfg storage.GuildConfig) error {
		return r.client.AddRole(ctx, guildID, target.ID, *cfg.MuteRoleID, auditReason(reason))
	})
}

func (r *Reconciler) RecordCommandUnmute(ctx context.Context, guildID string, target Target, executorID string, reason *string) (storage.Case, error) {
	return r.recordCommand(ctx, storage.ActionUnmute, guildID, target, executorID, reason, r.expectMuted(guildID, target, true), func(ctx context.Context, cfg storage.GuildConfig) error {
		return r.client.RemoveRole(ctx, guildID, target.ID, *cfg.MuteRoleID, auditReason(reason))
	})
}

type enforceFunc func(ctx context.Context, cfg storage.GuildConfig) error

// expectMuted refuses a mute of a member who already holds the mute role, and
// an unmute of one who does not. Discord accepts both calls but sends no member
// update, so the pending case would never be adopted. A failed role lookup is
// left to the enforcement call to report.
func (r *Reconciler) expectMuted(guildID string, target Target, muted bool) enforceFunc {
	return func(ctx context.Context, cfg storage.GuildConfig) error {
		roles, err := r.client.MemberRoles(ctx, guildID, target.ID)
		if err != nil {
			r.logger.Debug("member roles unavailable", zap.String("guild_id", guildID), zap.String("user_id", target.ID), zap.Error(err))
			return nil
		}
		has := containsRole(roles, *cfg.MuteRoleID)
		switch {
		case has && !muted:
			return userErrorf("That user is already muted.")
		case !has && muted:
			return userErrorf("That user is not muted.")
		}
		return nil
	}
}

func (r *Reconciler) recordCommand(ctx context.Context, kind storage.ActionKind, guildID string, target Target, executorID string, reason *string, check, enforce enforceFunc) (storage.Case, error) {
	log := r.logger.With(zap.String("guild_id", guildID), zap.String("user_id", target.ID), zap.String("kind", string(kind)))

	cfg, err := r.configs.Get(ctx, guildID)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("guild_config").Inc()
		log.Warn("guild config lookup failed", zap.Error(err))
		return storage.Case{}, fmt.Errorf("load guild config: %w", err)
	}
	if (kind == storage.ActionMute || kind == storage.ActionUnmute) && cfg.MuteRoleID == nil {
		return storage.Case{}, userErrorf("No mute role is configured for this server.")
	}
	if check != nil {
		if err := check(ctx, cfg); err != nil {
			return storage.Case{}, err
		}
	}

	executor := executorID
	pending, err := r.store.CreateCase(ctx, storage.Case{
		GuildID:       guildID,
		TargetUserID:  target.ID,
		TargetUserTag: target.Tag,
		ExecutorID:    &executor,
		Kind:          kind,
		Reason:        reason,
		ActionTime:    r.clock.Now(),
		Pending:       true,
	})
	if err != nil {
		if errors.Is(err, storage.ErrPendingExists) {
			return storage.Case{}, userErrorf("A %s for that user is already in progress.", kind)
		}
		metrics.StoreErrorsTotal.WithLabelValues("create_case").Inc()
		log.Warn("pending case not created", zap.Error(err))
		return storage.Case{}, fmt.Errorf("create case: %w", err)
	}

	if err := enforce(ctx, cfg); err != nil {
		r.rollback(ctx, pending, log)
		return storage.Case{}, &UserError{Message: platform.Describe(err), Err: err}
	}

	metrics.CasesTotal.WithLabelValues(string(kind), "command").Inc()
	r.audit.Log(ctx, audit.LevelInfo, guildID, target.ID, audit.EventCaseCreated, fmt.Sprintf("kind=%s case=%d executor=%s", kind, pending.CaseNumber, executorID))
	return pending, nil
}

// rollback removes a pending case whose enforcement call failed. If a platform
// event already confirmed it the delete finds nothing and the case stays.
func (r *Reconciler) rollback(ctx context.Context, c storage.Case, log *zap.Logger) {
	err := r.store.DeleteCase(ctx, c.GuildID, c.Kind, c.TargetUserID, c.CaseNumber)
	switch {
	case err == nil:
		metrics.CaseRollbacksTotal.WithLabelValues(string(c.Kind)).Inc()
		r.audit.Log(ctx, audit.LevelWarn, c.GuildID, c.TargetUserID, audit.EventCaseRolledBack, fmt.Sprintf("kind=%s case=%d", c.Kind, c.CaseNumber))
	case errors.Is(err, storage.ErrNotFound):
		log.Info("rollback skipped, case already confirmed", zap.Int("case_number", c.CaseNumber))
	default:
		metrics.StoreErrorsTotal.WithLabelValues("delete_case").Inc()
		log.Error("rollback failed", zap.Int("case_number", c.CaseNumber), zap.Error(err))
	}
}

func (r *Reconciler) ReconcilePlatformBan(ctx context.Context, guildID string, target Target) (storage.Case, error) {
	return r.reconcile(ctx, storage.ActionBan, guildID, target)
}

func (r *Reconciler) ReconcilePlatformUnban(ctx context.Context, guildID string, target Target) (storage.Case, error) {
	return r.reconcile(ctx, storage.ActionUnban, guildID, target)
}

// ReconcilePlatformMemberUpdate turns a change of the configured mute role
// between before and after into a mute or unmute case. Without a configured
// mute role, or when the role did not change, it returns nil.
func (r *Reconciler) ReconcilePlatformMemberUpdate(ctx context.Context, guildID string, target Target, before, after []string) (*storage.Case, error) {
	cfg, err := r.configs.Get(ctx, guildID)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("guild_config").Inc()
		r.logger.Warn("guild config lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return nil, err
	}
	if cfg.MuteRoleID == nil {
		return nil, nil
	}

	had, has := containsRole(before, *cfg.MuteRoleID), containsRole(after, *cfg.MuteRoleID)
	var kind storage.ActionKind
	switch {
	case !had && has:
		kind = storage.ActionMute
	case had && !has:
		kind = storage.ActionUnmute
	default:
		return nil, nil
	}

	c, err := r.reconcile(ctx, kind, guildID, target)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Reconciler) reconcile(ctx context.Context, kind storage.ActionKind, guildID string, target Target) (storage.Case, error) {
	log := r.logger.With(zap.String("guild_id", guildID), zap.String("user_id", target.ID), zap.String("kind", string(kind)))

	claimed, err := r.store.ClaimPending(ctx, guildID, kind, target.ID)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("claim_pending").Inc()
		log.Warn("platform event dropped", zap.Error(err))
		return storage.Case{}, err
	}

	var c storage.Case
	if claimed != nil {
		c = *claimed
		metrics.CasesAdoptedTotal.WithLabelValues(string(kind)).Inc()
		r.audit.Log(ctx, audit.LevelInfo, guildID, target.ID, audit.EventCaseAdopted, fmt.Sprintf("kind=%s case=%d", kind, c.CaseNumber))
	} else {
		c, err = r.store.CreateCase(ctx, storage.Case{
			GuildID:       guildID,
			TargetUserID:  target.ID,
			TargetUserTag: target.Tag,
			Kind:          kind,
			ActionTime:    r.clock.Now(),
		})
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("create_case").Inc()
			log.Warn("platform event dropped", zap.Error(err))
			return storage.Case{}, err
		}
		metrics.CasesTotal.WithLabelValues(string(kind), "platform").Inc()
		r.audit.Log(ctx, audit.LevelInfo, guildID, target.ID, audit.EventCaseCreated, fmt.Sprintf("kind=%s case=%d executor=unknown", kind, c.CaseNumber))
	}

	return r.publish(ctx, c), nil
}

// publish posts the log entry for a confirmed case and stores the message
// reference. Posting failures leave the case without a reference.
func (r *Reconciler) publish(ctx context.Context, c storage.Case) storage.Case {
	log := r.logger.With(zap.String("guild_id", c.GuildID), zap.Int("case_number", c.CaseNumber))

	cfg, err := r.configs.Get(ctx, c.GuildID)
	if err != nil {
		log.Warn("mod log skipped, guild config unavailable", zap.Error(err))
		return c
	}
	if cfg.ModLogChannelID == nil {
		return c
	}

	ref, err := r.client.SendEmbed(ctx, *cfg.ModLogChannelID, RenderCase(c, r.configs.Prefix(cfg), r.colors))
	if err != nil {
		metrics.ModLogFailuresTotal.Inc()
		log.Warn("mod log post failed", zap.Error(err))
		r.audit.Log(ctx, audit.LevelWarn, c.GuildID, c.TargetUserID, audit.EventLogFailed, platform.Describe(err))
		return c
	}

	c.LogMessage = &ref
	if err := r.store.SetLogMessage(ctx, c.ID, ref); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("set_log_message").Inc()
		log.Warn("log reference not stored", zap.Error(err))
		return c
	}

	// A reason edited while the entry was posted saw no log message to edit.
	current, err := r.store.GetCase(ctx, c.ID)
	if err != nil || current == nil {
		return c
	}
	if !sameValue(current.Reason, c.Reason) || !sameValue(current.ExecutorID, c.ExecutorID) {
		if err := r.client.EditEmbed(ctx, ref, RenderCase(*current, r.configs.Prefix(cfg), r.colors)); err != nil {
			metrics.ModLogFailuresTotal.Inc()
			log.Warn("mod log refresh failed", zap.Error(err))
		}
	}
	return *current
}

func sameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func containsRole(roles []string, roleID string) bool {
	for _, role := range roles {
		if role == roleID {
			return true
		}
	}
	return false
}

func auditReason(reason *string) string {
	if reason == nil {
		return ""
	}
	return *reason
}
