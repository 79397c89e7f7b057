package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"bastion/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryRecorder struct {
	entries []storage.AuditLog
	err     error
}

func (m *memoryRecorder) AddAuditLog(_ context.Context, log storage.AuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, log)
	return nil
}

func TestLogPersistsEntry(t *testing.T) {
	rec := &memoryRecorder{}
	logger := NewLogger(rec, zap.NewNop())
	stamp := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	logger.now = func() time.Time { return stamp }

	logger.Log(context.Background(), LevelInfo, "g1", "u1", EventCaseCreated, "ban case=1")

	require.Len(t, rec.entries, 1)
	entry := rec.entries[0]
	assert.Equal(t, "g1", entry.GuildID)
	assert.Equal(t, EventCaseCreated, entry.Event)
	assert.Equal(t, stamp, entry.CreatedAt)
}

func TestLogSurvivesStoreFailure(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("disk full")}
	logger := NewLogger(rec, zap.NewNop())

	assert.NotPanics(t, func() {
		logger.Log(context.Background(), LevelWarn, "g1", "u1", EventLogFailed, "")
	})

	var nilLogger *Logger
	assert.NotPanics(t, func() {
		nilLogger.Log(context.Background(), LevelWarn, "g1", "u1", EventLogFailed, "")
	})
}

type countingPruner struct {
	calls []int
	err   error
}

func (c *countingPruner) CleanupAuditLogs(_ context.Context, retentionDays int) error {
	c.calls = append(c.calls, retentionDays)
	return c.err
}

func TestRetentionPrune(t *testing.T) {
	pruner := &countingPruner{}
	NewRetention(pruner, 30, time.Hour, zap.NewNop()).Prune(context.Background())
	assert.Equal(t, []int{30}, pruner.calls)

	disabled := &countingPruner{}
	NewRetention(disabled, 0, time.Hour, zap.NewNop()).Prune(context.Background())
	assert.Empty(t, disabled.calls)

	failing := &countingPruner{err: errors.New("locked")}
	NewRetention(failing, 7, time.Hour, zap.NewNop()).Prune(context.Background())
	assert.Equal(t, []int{7}, failing.calls)
}

func TestRetentionRunStopsOnCancel(t *testing.T) {
	pruner := &countingPruner{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRetention(pruner, 30, time.Hour, zap.NewNop()).Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []int{30}, pruner.calls)
}
