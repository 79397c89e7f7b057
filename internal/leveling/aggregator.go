package leveling

import (
	"context"
	"errors"
	"time"

	"bastion/internal/metrics"
	"bastion/internal/storage"

	"go.uber.org/zap"
)

var ErrNoActivity = errors.New("no recorded activity")

type LevelStore interface {
	IncrementLevel(ctx context.Context, guildID, userID string, now time.Time, keys storage.BucketKeys) (storage.LevelRecord, error)
	GetLevel(ctx context.Context, guildID, userID string) (*storage.LevelRecord, error)
	CountRank(ctx context.Context, guildID, userID string, window storage.Window, key, value int) (storage.RankCounts, error)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Aggregator struct {
	store  LevelStore
	loc    *time.Location
	clock  Clock
	logger *zap.Logger
}

func NewAggregator(store LevelStore, loc *time.Location, logger *zap.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: store, loc: loc, clock: realClock{}, logger: logger}
}

func (a *Aggregator) WithClock(clock Clock) {
	a.clock = clock
}

// RecordMessage counts one message by userID in guildID.
func (a *Aggregator) RecordMessage(ctx context.Context, guildID, userID string) (storage.LevelRecord, error) {
	now := a.clock.Now().In(a.loc)
	record, err := a.store.IncrementLevel(ctx, guildID, userID, now, KeysFor(now))
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("increment_level").Inc()
		a.logger.Warn("level increment dropped", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return storage.LevelRecord{}, err
	}
	metrics.MessagesRecordedTotal.Inc()
	return record, nil
}

type WindowRank struct {
	Count int
	// Percentile is the share of other members in the same bucket whose count
	// is at or below Count.
	Percentile float64
	Position   int
	Others     int
}

type RankSnapshot struct {
	GuildID  string
	UserID   string
	XP       int
	Level    int
	Progress float64
	XPToNext int
	LastMsg  time.Time
	Windows  map[storage.Window]WindowRank
}

var rankWindows = []storage.Window{storage.WindowDay, storage.WindowWeek, storage.WindowMonth, storage.WindowAllTime}

// Rank computes the member's level and per-window percentile ranks against the
// current bucket population. Nothing is cached.
func (a *Aggregator) Rank(ctx context.Context, guildID, userID string) (RankSnapshot, error) {
	record, err := a.store.GetLevel(ctx, guildID, userID)
	if err != nil {
		return RankSnapshot{}, err
	}
	if record == nil {
		return RankSnapshot{}, ErrNoActivity
	}

	now := a.clock.Now().In(a.loc)
	current := Normalize(*record, now, a.loc)
	keys := KeysFor(now)

	xp := current.MsgAllTime
	level := LevelForXP(xp)
	snapshot := RankSnapshot{
		GuildID:  guildID,
		UserID:   userID,
		XP:       xp,
		Level:    level,
		Progress: Progress(xp, level),
		XPToNext: XPToNext(xp, level),
		LastMsg:  record.LastMsg,
		Windows:  make(map[storage.Window]WindowRank, len(rankWindows)),
	}

	for _, window := range rankWindows {
		value, key := windowValue(current, keys, window)
		counts, err := a.store.CountRank(ctx, guildID, userID, window, key, value)
		if err != nil {
			return RankSnapshot{}, err
		}
		snapshot.Windows[window] = WindowRank{
			Count:      value,
			Percentile: percentile(counts, value),
			Position:   counts.Above + 1,
			Others:     counts.Others,
		}
	}
	return snapshot, nil
}

func windowValue(record storage.LevelRecord, keys storage.BucketKeys, window storage.Window) (int, int) {
	switch window {
	case storage.WindowDay:
		return record.MsgDay, keys.Day
	case storage.WindowWeek:
		return record.MsgWeek, keys.Week
	case storage.WindowMonth:
		return record.MsgMonth, keys.Month
	default:
		// all-time rank is partitioned by ISO week
		return record.MsgAllTime, keys.Week
	}
}

func percentile(counts storage.RankCounts, value int) float64 {
	if counts.Others == 0 {
		if value > 0 {
			return 100
		}
		return 0
	}
	return float64(counts.AtOrBelow) / float64(counts.Others) * 100
}
