package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BucketKeys identify the calendar day, ISO week and month a timestamp falls in.
// Two timestamps share a bucket exactly when their keys are equal.
type BucketKeys struct {
	Day   int
	Week  int
	Month int
}

type LevelRecord struct {
	GuildID    string
	UserID     string
	MsgAllTime int
	MsgMonth   int
	MsgWeek    int
	MsgDay     int
	LastMsg    time.Time
	Keys       BucketKeys
}

type levelRow struct {
	GuildID    string `db:"guild_id"`
	UserID     string `db:"user_id"`
	MsgAllTime int    `db:"msg_all_time"`
	MsgMonth   int    `db:"msg_month"`
	MsgWeek    int    `db:"msg_week"`
	MsgDay     int    `db:"msg_day"`
	LastMsg    int64  `db:"last_msg"`
	DayKey     int    `db:"day_key"`
	WeekKey    int    `db:"week_key"`
	MonthKey   int    `db:"month_key"`
}

const levelColumns = `guild_id, user_id, msg_all_time, msg_month, msg_week, msg_day, last_msg, day_key, week_key, month_key`

func (r levelRow) toRecord() LevelRecord {
	return LevelRecord{
		GuildID:    r.GuildID,
		UserID:     r.UserID,
		MsgAllTime: r.MsgAllTime,
		MsgMonth:   r.MsgMonth,
		MsgWeek:    r.MsgWeek,
		MsgDay:     r.MsgDay,
		LastMsg:    time.Unix(r.LastMsg, 0),
		Keys:       BucketKeys{Day: r.DayKey, Week: r.WeekKey, Month: r.MonthKey},
	}
}

// Window selects which counter and which bucket partition a rank query uses.
type Window string

const (
	WindowDay     Window = "day"
	WindowWeek    Window = "week"
	WindowMonth   Window = "month"
	WindowAllTime Window = "all"
)

var windowColumns = map[Window][2]string{
	WindowDay:   {"msg_day", "day_key"},
	WindowWeek:  {"msg_week", "week_key"},
	WindowMonth: {"msg_month", "month_key"},
	// All-time rank keeps the weekly partition the bot has always used.
	WindowAllTime: {"msg_all_time", "week_key"},
}

// IncrementLevel records one message in a single upsert. Counters whose bucket
// key differs from keys restart at 1, the rest grow by 1. The statement is
// atomic per row, so concurrent messages from one user never lose increments.
func (s *Store) IncrementLevel(ctx context.Context, guildID, userID string, now time.Time, keys BucketKeys) (LevelRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var row levelRow
	err := s.db.GetContext(ctx, &row, s.q(`
		INSERT INTO user_levels (`+levelColumns+`)
		VALUES (?, ?, 1, 1, 1, 1, ?, ?, ?, ?)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			msg_all_time = user_levels.msg_all_time + 1,
			msg_month = CASE WHEN user_levels.month_key = excluded.month_key THEN user_levels.msg_month + 1 ELSE 1 END,
			msg_week = CASE WHEN user_levels.week_key = excluded.week_key THEN user_levels.msg_week + 1 ELSE 1 END,
			msg_day = CASE WHEN user_levels.day_key = excluded.day_key THEN user_levels.msg_day + 1 ELSE 1 END,
			last_msg = excluded.last_msg,
			day_key = excluded.day_key,
			week_key = excluded.week_key,
			month_key = excluded.month_key
		RETURNING `+levelColumns),
		guildID, userID, now.Unix(), keys.Day, keys.Week, keys.Month)
	if err != nil {
		return LevelRecord{}, fmt.Errorf("increment level: %w", err)
	}
	return row.toRecord(), nil
}

func (s *Store) GetLevel(ctx context.Context, guildID, userID string) (*LevelRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var row levelRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+levelColumns+` FROM user_levels WHERE guild_id = ? AND user_id = ?`), guildID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get level: %w", err)
	}
	record := row.toRecord()
	return &record, nil
}

// RankCounts describes the other members of a bucket partition relative to one value.
type RankCounts struct {
	AtOrBelow int
	Above     int
	Others    int
}

// CountRank compares value against every other user in the guild whose bucket
// key for the window equals key.
func (s *Store) CountRank(ctx context.Context, guildID, userID string, window Window, key, value int) (RankCounts, error) {
	cols, ok := windowColumns[window]
	if !ok {
		return RankCounts{}, fmt.Errorf("unknown rank window %q", window)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var counts struct {
		AtOrBelow sql.NullInt64 `db:"at_or_below"`
		Above     sql.NullInt64 `db:"above"`
		Others    int           `db:"others"`
	}
	err := s.db.GetContext(ctx, &counts, s.q(`SELECT
			SUM(CASE WHEN `+cols[0]+` <= ? THEN 1 ELSE 0 END) AS at_or_below,
			SUM(CASE WHEN `+cols[0]+` > ? THEN 1 ELSE 0 END) AS above,
			COUNT(*) AS others
		FROM user_levels
		WHERE guild_id = ? AND `+cols[1]+` = ? AND user_id <> ?`),
		value, value, guildID, key, userID)
	if err != nil {
		return RankCounts{}, fmt.Errorf("count rank: %w", err)
	}
	return RankCounts{
		AtOrBelow: int(counts.AtOrBelow.Int64),
		Above:     int(counts.Above.Int64),
		Others:    counts.Others,
	}, nil
}
