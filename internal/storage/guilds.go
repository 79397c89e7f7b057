package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GuildConfig holds the per-guild settings the moderation core reads. Unset
// fields are nil rather than empty strings.
type GuildConfig struct {
	GuildID         string  `json:"guild_id"`
	MuteRoleID      *string `json:"mute_role_id,omitempty"`
	ModLogChannelID *string `json:"mod_log_channel_id,omitempty"`
	Prefix          *string `json:"prefix,omitempty"`
}

type guildRow struct {
	GuildID         string         `db:"guild_id"`
	MuteRoleID      sql.NullString `db:"mute_role_id"`
	ModLogChannelID sql.NullString `db:"mod_log_channel_id"`
	Prefix          sql.NullString `db:"command_prefix"`
}

// GetGuildConfig returns the stored config, or an empty one for unknown guilds.
func (s *Store) GetGuildConfig(ctx context.Context, guildID string) (GuildConfig, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var row guildRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT guild_id, mute_role_id, mod_log_channel_id, command_prefix
		FROM guild_config WHERE guild_id = ?`), guildID)
	if errors.Is(err, sql.ErrNoRows) {
		return GuildConfig{GuildID: guildID}, nil
	}
	if err != nil {
		return GuildConfig{}, fmt.Errorf("get guild config: %w", err)
	}
	return GuildConfig{
		GuildID:         row.GuildID,
		MuteRoleID:      optional(row.MuteRoleID.String, row.MuteRoleID.Valid),
		ModLogChannelID: optional(row.ModLogChannelID.String, row.ModLogChannelID.Valid),
		Prefix:          optional(row.Prefix.String, row.Prefix.Valid),
	}, nil
}

func (s *Store) UpsertGuildConfig(ctx context.Context, cfg GuildConfig) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO guild_config (guild_id, mute_role_id, mod_log_channel_id, command_prefix)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			mute_role_id = excluded.mute_role_id,
			mod_log_channel_id = excluded.mod_log_channel_id,
			command_prefix = excluded.command_prefix
	`), cfg.GuildID, nullable(cfg.MuteRoleID), nullable(cfg.ModLogChannelID), nullable(cfg.Prefix))
	if err != nil {
		return fmt.Errorf("upsert guild config: %w", err)
	}
	return nil
}
