package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Pruner interface {
	CleanupAuditLogs(ctx context.Context, retentionDays int) error
}

// Retention drops audit rows older than the configured number of days.
type Retention struct {
	store    Pruner
	days     int
	interval time.Duration
	logger   *zap.Logger
}

func NewRetention(store Pruner, days int, interval time.Duration, logger *zap.Logger) *Retention {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Retention{store: store, days: days, interval: interval, logger: logger}
}

func (r *Retention) Prune(ctx context.Context) {
	if r.days <= 0 {
		return
	}
	if err := r.store.CleanupAuditLogs(ctx, r.days); err != nil {
		r.logger.Warn("audit cleanup failed", zap.Int("retention_days", r.days), zap.Error(err))
	}
}

// Run prunes once at startup and then on every tick until ctx is done.
func (r *Retention) Run(ctx context.Context) error {
	r.Prune(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Prune(ctx)
		}
	}
}
