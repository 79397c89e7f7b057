package audit

import (
	"context"
	"time"

	"bastion/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

const (
	EventCaseCreated    = "case_created"
	EventCaseAdopted    = "case_adopted"
	EventCaseRolledBack = "case_rolled_back"
	EventCaseSwept      = "case_swept"
	EventReasonUpdated  = "reason_updated"
	EventMuteEvasion    = "mute_evasion"
	EventMuteRestored   = "mute_restored"
	EventConfigChanged  = "config_changed"
	EventLogFailed      = "mod_log_failed"
)

type Recorder interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
}

type Logger struct {
	store  Recorder
	logger *zap.Logger
	now    func() time.Time
}

func NewLogger(store Recorder, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger, now: time.Now}
}

// Log persists one audit row. The row is best effort: a store failure is
// logged and the caller carries on.
func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	if l == nil {
		return
	}
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit write failed", zap.String("guild_id", guildID), zap.String("event", event), zap.Error(err))
		}
	}
	l.logger.Info("audit", zap.String("level", level), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
}
