package platform

import (
	"context"

	"bastion/internal/storage"

	"github.com/bwmarrin/discordgo"
)

// Client is the subset of the Discord REST API the moderation core relies on.
type Client interface {
	SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (storage.MessageRef, error)
	EditEmbed(ctx context.Context, ref storage.MessageRef, embed *discordgo.MessageEmbed) error
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
	Unban(ctx context.Context, guildID, userID, reason string) error
	MemberRoles(ctx context.Context, guildID, userID string) ([]string, error)
}

type Discord struct {
	session *discordgo.Session
}

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

func options(ctx context.Context, reason string) []discordgo.RequestOption {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return opts
}

func (d *Discord) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) (storage.MessageRef, error) {
	msg, err := d.session.ChannelMessageSendEmbed(channelID, embed, options(ctx, "")...)
	if err != nil {
		return storage.MessageRef{}, err
	}
	return storage.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

func (d *Discord) EditEmbed(ctx context.Context, ref storage.MessageRef, embed *discordgo.MessageEmbed) error {
	_, err := d.session.ChannelMessageEditEmbed(ref.ChannelID, ref.MessageID, embed, options(ctx, "")...)
	return err
}

func (d *Discord) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID, options(ctx, reason)...)
}

func (d *Discord) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID, options(ctx, reason)...)
}

func (d *Discord) Ban(ctx context.Context, guildID, userID, reason string) error {
	return d.session.GuildBanCreateWithReason(guildID, userID, reason, 0, options(ctx, "")...)
}

func (d *Discord) Unban(ctx context.Context, guildID, userID, reason string) error {
	return d.session.GuildBanDelete(guildID, userID, options(ctx, reason)...)
}

// MemberRoles returns the member's current role ids, from the state cache when
// the member is in it.
func (d *Discord) MemberRoles(ctx context.Context, guildID, userID string) ([]string, error) {
	if d.session.State != nil {
		if member, err := d.session.State.Member(guildID, userID); err == nil {
			return member.Roles, nil
		}
	}
	member, err := d.session.GuildMember(guildID, userID, options(ctx, "")...)
	if err != nil {
		return nil, err
	}
	return member.Roles, nil
}
