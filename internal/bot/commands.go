package bot

import "github.com/bwmarrin/discordgo"

var (
	permBan    int64 = discordgo.PermissionBanMembers
	permRoles  int64 = discordgo.PermissionManageRoles
	permManage int64 = discordgo.PermissionManageServer
	permAudit  int64 = discordgo.PermissionViewAuditLogs
)

func userOption(description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: description,
		Required:    required,
	}
}

func reasonOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: "Reason shown in the mod log",
		Required:    false,
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "ban",
			Description:              "Ban a member and open a case",
			DefaultMemberPermissions: &permBan,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("Member to ban", true), reasonOption()},
		},
		{
			Name:                     "unban",
			Description:              "Lift a ban and open a case",
			DefaultMemberPermissions: &permBan,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("User to unban", true), reasonOption()},
		},
		{
			Name:                     "mute",
			Description:              "Give a member the mute role and open a case",
			DefaultMemberPermissions: &permRoles,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("Member to mute", true), reasonOption()},
		},
		{
			Name:                     "unmute",
			Description:              "Remove the mute role and open a case",
			DefaultMemberPermissions: &permRoles,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("Member to unmute", true), reasonOption()},
		},
		{
			Name:                     "reason",
			Description:              "Set the reason for one or more cases",
			DefaultMemberPermissions: &permAudit,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "cases",
					Description: "Case number, range like 3-7, or latest",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "text",
					Description: "The reason",
					Required:    true,
				},
			},
		},
		{
			Name:        "rank",
			Description: "Show message level and rank",
			Options:     []*discordgo.ApplicationCommandOption{userOption("Member to look up", false)},
		},
		{
			Name:                     "modlog",
			Description:              "Set or clear the mod log channel",
			DefaultMemberPermissions: &permManage,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Channel for case entries, omit to clear",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					Required:     false,
				},
			},
		},
		{
			Name:                     "muterole",
			Description:              "Set or clear the mute role",
			DefaultMemberPermissions: &permManage,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role given to muted members, omit to clear",
					Required:    false,
				},
			},
		},
		{
			Name:                     "prefix",
			Description:              "Set the prefix shown in mod log hints",
			DefaultMemberPermissions: &permManage,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "value",
					Description: "New prefix, omit to reset",
					Required:    false,
				},
			},
		},
		{
			Name:                     "modstats",
			Description:              "Summarize recent moderation cases",
			DefaultMemberPermissions: &permAudit,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "days",
					Description: "Look back this many days (default 7)",
					Required:    false,
				},
			},
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := commandDefinitions()

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
