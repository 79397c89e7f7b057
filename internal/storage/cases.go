package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type ActionKind string

const (
	ActionBan    ActionKind = "ban"
	ActionUnban  ActionKind = "unban"
	ActionMute   ActionKind = "mute"
	ActionUnmute ActionKind = "unmute"
)

var ActionKinds = []ActionKind{ActionBan, ActionUnban, ActionMute, ActionUnmute}

func (k ActionKind) Valid() bool {
	switch k {
	case ActionBan, ActionUnban, ActionMute, ActionUnmute:
		return true
	}
	return false
}

// MessageRef points at a posted mod-log message so it can be edited later.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Case is a single moderation action. CaseNumber is the guild-visible id;
// ID is the storage row id.
type Case struct {
	ID            int64
	GuildID       string
	CaseNumber    int
	TargetUserID  string
	TargetUserTag string
	ExecutorID    *string
	Kind          ActionKind
	Reason        *string
	ActionTime    time.Time
	LogMessage    *MessageRef
	Pending       bool
}

type caseRow struct {
	ID            int64          `db:"id"`
	GuildID       string         `db:"guild_id"`
	CaseNumber    int            `db:"case_number"`
	TargetUserID  string         `db:"target_user_id"`
	TargetUserTag string         `db:"target_user_tag"`
	ExecutorID    sql.NullString `db:"executor_id"`
	Kind          string         `db:"action_kind"`
	Reason        sql.NullString `db:"reason"`
	ActionTime    int64          `db:"action_time"`
	LogChannelID  sql.NullString `db:"log_channel_id"`
	LogMessageID  sql.NullString `db:"log_message_id"`
	Pending       bool           `db:"pending"`
}

const caseColumns = `id, guild_id, case_number, target_user_id, target_user_tag, executor_id,
	action_kind, reason, action_time, log_channel_id, log_message_id, pending`

func (r caseRow) toCase() Case {
	c := Case{
		ID:            r.ID,
		GuildID:       r.GuildID,
		CaseNumber:    r.CaseNumber,
		TargetUserID:  r.TargetUserID,
		TargetUserTag: r.TargetUserTag,
		ExecutorID:    optional(r.ExecutorID.String, r.ExecutorID.Valid),
		Kind:          ActionKind(r.Kind),
		Reason:        optional(r.Reason.String, r.Reason.Valid),
		ActionTime:    time.Unix(r.ActionTime, 0),
		Pending:       r.Pending,
	}
	if r.LogChannelID.Valid && r.LogMessageID.Valid {
		c.LogMessage = &MessageRef{ChannelID: r.LogChannelID.String, MessageID: r.LogMessageID.String}
	}
	return c
}

func logRefArgs(ref *MessageRef) (any, any) {
	if ref == nil {
		return nil, nil
	}
	return ref.ChannelID, ref.MessageID
}

// CreateCase allocates the next case number for the guild and inserts the case
// in one transaction. A second pending case for the same guild, kind and target
// fails with ErrPendingExists and consumes no case number.
func (s *Store) CreateCase(ctx context.Context, c Case) (Case, error) {
	if !c.Kind.Valid() {
		return Case{}, fmt.Errorf("invalid action kind %q", c.Kind)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Case{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var number int
	err = tx.QueryRowxContext(ctx, s.q(`
		INSERT INTO case_sequences (guild_id, last_number)
		VALUES (?, (SELECT COALESCE(MAX(case_number), 0) + 1 FROM mod_cases WHERE guild_id = ?))
		ON CONFLICT (guild_id) DO UPDATE SET last_number = case_sequences.last_number + 1
		RETURNING last_number
	`), c.GuildID, c.GuildID).Scan(&number)
	if err != nil {
		return Case{}, fmt.Errorf("allocate case number: %w", err)
	}

	if c.ActionTime.IsZero() {
		c.ActionTime = time.Now()
	}
	channelID, messageID := logRefArgs(c.LogMessage)
	err = tx.QueryRowxContext(ctx, s.q(`
		INSERT INTO mod_cases (guild_id, case_number, target_user_id, target_user_tag, executor_id,
			action_kind, reason, action_time, log_channel_id, log_message_id, pending)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), c.GuildID, number, c.TargetUserID, c.TargetUserTag, nullable(c.ExecutorID),
		string(c.Kind), nullable(c.Reason), c.ActionTime.Unix(), channelID, messageID, c.Pending).Scan(&c.ID)
	if err != nil {
		if isUniqueViolation(err, "mod_cases_pending_key") {
			err = ErrPendingExists
			return Case{}, err
		}
		return Case{}, fmt.Errorf("insert case: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return Case{}, err
	}

	c.CaseNumber = number
	c.ActionTime = time.Unix(c.ActionTime.Unix(), 0)
	return c, nil
}

// SetCaseReason sets the reason and responsible moderator of a case. The
// pending flag and log reference are left as they are.
func (s *Store) SetCaseReason(ctx context.Context, id int64, reason, executorID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, s.q(`UPDATE mod_cases SET reason = ?, executor_id = ? WHERE id = ?`), reason, executorID, id)
	if err != nil {
		return fmt.Errorf("set reason of case %d: %w", id, err)
	}
	return expectRow(result)
}

// SetLogMessage records the posted log entry of a case.
func (s *Store) SetLogMessage(ctx context.Context, id int64, ref MessageRef) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, s.q(`UPDATE mod_cases SET log_channel_id = ?, log_message_id = ? WHERE id = ?`),
		ref.ChannelID, ref.MessageID, id)
	if err != nil {
		return fmt.Errorf("set log message of case %d: %w", id, err)
	}
	return expectRow(result)
}

// ClearLogMessage detaches messageID from the case. A case that points at a
// different message by now keeps it.
func (s *Store) ClearLogMessage(ctx context.Context, id int64, messageID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.q(`UPDATE mod_cases SET log_channel_id = NULL, log_message_id = NULL
		WHERE id = ? AND log_message_id = ?`), id, messageID)
	if err != nil {
		return fmt.Errorf("clear log message of case %d: %w", id, err)
	}
	return nil
}

func (s *Store) GetCase(ctx context.Context, id int64) (*Case, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var row caseRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+caseColumns+` FROM mod_cases WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get case %d: %w", id, err)
	}
	c := row.toCase()
	return &c, nil
}

func (s *Store) FindPending(ctx context.Context, guildID string, kind ActionKind, userID string) (*Case, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var row caseRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+caseColumns+` FROM mod_cases
		WHERE guild_id = ? AND action_kind = ? AND target_user_id = ? AND pending = ?`),
		guildID, string(kind), userID, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending case: %w", err)
	}
	c := row.toCase()
	return &c, nil
}

// ClaimPending atomically flips the matching pending case to confirmed and
// returns it. Only one of several concurrent callers receives the case.
func (s *Store) ClaimPending(ctx context.Context, guildID string, kind ActionKind, userID string) (*Case, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var row caseRow
	err := s.db.GetContext(ctx, &row, s.q(`UPDATE mod_cases SET pending = ?
		WHERE guild_id = ? AND action_kind = ? AND target_user_id = ? AND pending = ?
		RETURNING `+caseColumns),
		false, guildID, string(kind), userID, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending case: %w", err)
	}
	c := row.toCase()
	return &c, nil
}

// ConfirmCase flips one pending case by row id. It reports false when the
// case was already confirmed by someone else.
func (s *Store) ConfirmCase(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, s.q(`UPDATE mod_cases SET pending = ? WHERE id = ? AND pending = ?`), false, id, true)
	if err != nil {
		return false, fmt.Errorf("confirm case %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// LatestCaseNumber returns the highest case number in the guild, or 0.
func (s *Store) LatestCaseNumber(ctx context.Context, guildID string) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var latest int
	err := s.db.GetContext(ctx, &latest, s.q(`SELECT COALESCE(MAX(case_number), 0) FROM mod_cases WHERE guild_id = ?`), guildID)
	if err != nil {
		return 0, fmt.Errorf("latest case number: %w", err)
	}
	return latest, nil
}

// FindRange returns cases with lo <= case_number <= hi ordered ascending.
func (s *Store) FindRange(ctx context.Context, guildID string, lo, hi int) ([]Case, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rows []caseRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+caseColumns+` FROM mod_cases
		WHERE guild_id = ? AND case_number >= ? AND case_number <= ?
		ORDER BY case_number ASC`), guildID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("find case range %d-%d: %w", lo, hi, err)
	}
	cases := make([]Case, 0, len(rows))
	for _, row := range rows {
		cases = append(cases, row.toCase())
	}
	return cases, nil
}

// DeleteCase removes a case that is still pending. Confirmed cases are never
// deleted.
func (s *Store) DeleteCase(ctx context.Context, guildID string, kind ActionKind, userID string, caseNumber int) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM mod_cases
		WHERE guild_id = ? AND action_kind = ? AND target_user_id = ? AND case_number = ? AND pending = ?`),
		guildID, string(kind), userID, caseNumber, true)
	if err != nil {
		return fmt.Errorf("delete case %d: %w", caseNumber, err)
	}
	return expectRow(result)
}

// StalePending lists pending cases created before cutoff, oldest first.
func (s *Store) StalePending(ctx context.Context, cutoff time.Time, limit int) ([]Case, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rows []caseRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+caseColumns+` FROM mod_cases
		WHERE pending = ? AND action_time < ?
		ORDER BY action_time ASC LIMIT ?`), true, cutoff.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending cases: %w", err)
	}
	cases := make([]Case, 0, len(rows))
	for _, row := range rows {
		cases = append(cases, row.toCase())
	}
	return cases, nil
}

func (s *Store) CountPending(ctx context.Context) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var count int
	if err := s.db.GetContext(ctx, &count, s.q(`SELECT COUNT(*) FROM mod_cases WHERE pending = ?`), true); err != nil {
		return 0, fmt.Errorf("count pending cases: %w", err)
	}
	return count, nil
}

func (s *Store) CountPendingInGuild(ctx context.Context, guildID string) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var count int
	err := s.db.GetContext(ctx, &count, s.q(`SELECT COUNT(*) FROM mod_cases WHERE guild_id = ? AND pending = ?`), guildID, true)
	if err != nil {
		return 0, fmt.Errorf("count pending cases: %w", err)
	}
	return count, nil
}

// CaseCounts groups the guild's confirmed cases since the given time by kind.
func (s *Store) CaseCounts(ctx context.Context, guildID string, since time.Time) (map[ActionKind]int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, s.q(`SELECT action_kind, COUNT(*) FROM mod_cases
		WHERE guild_id = ? AND action_time >= ? AND pending = ?
		GROUP BY action_kind`), guildID, since.Unix(), false)
	if err != nil {
		return nil, fmt.Errorf("case counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[ActionKind]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		counts[ActionKind(kind)] = count
	}
	return counts, rows.Err()
}

func expectRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
