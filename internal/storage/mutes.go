package storage

import (
	"context"
	"fmt"
)

// AddMuteEvasion marks a member who left while holding the mute role.
func (s *Store) AddMuteEvasion(ctx context.Context, guildID, userID string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO mute_evasions (guild_id, user_id) VALUES (?, ?)
		ON CONFLICT (guild_id, user_id) DO NOTHING`), guildID, userID)
	if err != nil {
		return fmt.Errorf("add mute evasion: %w", err)
	}
	return nil
}

func (s *Store) HasMuteEvasion(ctx context.Context, guildID, userID string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var count int
	err := s.db.GetContext(ctx, &count, s.q(`SELECT COUNT(*) FROM mute_evasions WHERE guild_id = ? AND user_id = ?`), guildID, userID)
	if err != nil {
		return false, fmt.Errorf("check mute evasion: %w", err)
	}
	return count > 0, nil
}

// TakeMuteEvasion deletes the marker and reports whether one existed. Only one
// of several concurrent callers sees true.
func (s *Store) TakeMuteEvasion(ctx context.Context, guildID, userID string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM mute_evasions WHERE guild_id = ? AND user_id = ?`), guildID, userID)
	if err != nil {
		return false, fmt.Errorf("take mute evasion: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
