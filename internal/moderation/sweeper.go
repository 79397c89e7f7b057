package moderation

import (
	"context"
	"fmt"
	"time"

	"bastion/internal/metrics"
	"bastion/internal/modules/audit"

	"go.uber.org/zap"
)

const sweepBatch = 100

// SweepPending confirms pending cases older than ttl. Their enforcement call
// succeeded, so the action took effect and only the confirming event was
// lost. Returns the number of cases confirmed.
func (r *Reconciler) SweepPending(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := r.clock.Now().Add(-ttl)
	stale, err := r.store.StalePending(ctx, cutoff, sweepBatch)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("stale_pending").Inc()
		return 0, fmt.Errorf("list stale cases: %w", err)
	}

	confirmed := 0
	for _, c := range stale {
		ok, err := r.store.ConfirmCase(ctx, c.ID)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("confirm_case").Inc()
			r.logger.Warn("sweep confirm failed", zap.String("guild_id", c.GuildID), zap.Int("case_number", c.CaseNumber), zap.Error(err))
			continue
		}
		if !ok {
			// adopted by a platform event since the listing
			continue
		}
		c.Pending = false
		confirmed++
		metrics.CasesSweptTotal.Inc()
		r.audit.Log(ctx, audit.LevelWarn, c.GuildID, c.TargetUserID, audit.EventCaseSwept, fmt.Sprintf("kind=%s case=%d", c.Kind, c.CaseNumber))
		r.publish(ctx, c)
	}

	if pending, err := r.store.CountPending(ctx); err == nil {
		metrics.PendingCases.Set(float64(pending))
	}
	return confirmed, nil
}

// Sweeper runs SweepPending on a fixed interval until its context ends.
type Sweeper struct {
	reconciler *Reconciler
	interval   time.Duration
	ttl        time.Duration
	logger     *zap.Logger
}

func NewSweeper(reconciler *Reconciler, interval, ttl time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{reconciler: reconciler, interval: interval, ttl: ttl, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.reconciler.SweepPending(ctx, s.ttl)
			if err != nil {
				s.logger.Warn("pending sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("pending cases confirmed by sweep", zap.Int("count", n))
			}
		}
	}
}
