package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bastion/internal/leveling"
	"bastion/internal/moderation"
	"bastion/internal/modules/audit"
	"bastion/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type optionMap map[string]*discordgo.ApplicationCommandInteractionDataOption

func options(data discordgo.ApplicationCommandInteractionData) optionMap {
	opts := make(optionMap, len(data.Options))
	for _, opt := range data.Options {
		opts[opt.Name] = opt
	}
	return opts
}

func (o optionMap) text(name string) (string, bool) {
	opt, ok := o[name]
	if !ok {
		return "", false
	}
	value, ok := opt.Value.(string)
	return value, ok
}

func (o optionMap) integer(name string, fallback int) int {
	opt, ok := o[name]
	if !ok || opt.Type != discordgo.ApplicationCommandOptionInteger {
		return fallback
	}
	return int(opt.IntValue())
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" {
		b.respond(session, interaction, "Commands only work inside a server.", true)
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	opts := options(data)
	switch data.Name {
	case "ban", "unban", "mute", "unmute":
		b.handleActionCommand(ctx, session, interaction, data, opts)
	case "reason":
		b.handleReasonCommand(ctx, session, interaction, opts)
	case "rank":
		b.handleRankCommand(ctx, session, interaction, data, opts)
	case "modlog", "muterole", "prefix":
		b.handleConfigCommand(ctx, session, interaction, data.Name, opts)
	case "modstats":
		b.handleModStatsCommand(ctx, session, interaction, opts)
	}
}

func invokerID(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

// resolvedUser prefers the user object Discord resolved with the command.
func resolvedUser(data discordgo.ApplicationCommandInteractionData, opts optionMap) *discordgo.User {
	id, ok := opts.text("user")
	if !ok || id == "" {
		return nil
	}
	if data.Resolved != nil {
		if user, ok := data.Resolved.Users[id]; ok && user != nil {
			return user
		}
	}
	return &discordgo.User{ID: id}
}

func (b *Bot) handleActionCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData, opts optionMap) {
	title := "Moderation"
	user := resolvedUser(data, opts)
	if user == nil {
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Pick a user.", b.cfg.Notifications.EmbedColors.Error, nil), true)
		return
	}

	var reason *string
	if text, ok := opts.text("reason"); ok && text != "" {
		reason = &text
	}

	target := targetOf(user)
	executor := invokerID(interaction)
	var (
		c   storage.Case
		err error
	)
	switch data.Name {
	case "ban":
		c, err = b.reconciler.RecordCommandBan(ctx, interaction.GuildID, target, executor, reason)
	case "unban":
		c, err = b.reconciler.RecordCommandUnban(ctx, interaction.GuildID, target, executor, reason)
	case "mute":
		c, err = b.reconciler.RecordCommandMute(ctx, interaction.GuildID, target, executor, reason)
	case "unmute":
		c, err = b.reconciler.RecordCommandUnmute(ctx, interaction.GuildID, target, executor, reason)
	}
	if err != nil {
		b.respondError(session, interaction, title, err)
		return
	}

	description := fmt.Sprintf("%s applied to <@%s>, case #%d.", c.Kind, target.ID, c.CaseNumber)
	b.respondEmbed(session, interaction, b.commandEmbed(title, description, b.cfg.Notifications.EmbedColors.Info, nil), true)
}

func (b *Bot) handleReasonCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts optionMap) {
	title := "Reason"
	input, _ := opts.text("cases")
	text, _ := opts.text("text")

	selector, err := moderation.ParseCaseSelector(input, b.cfg.Moderation.MaxRange)
	if err != nil {
		b.respondError(session, interaction, title, err)
		return
	}
	result, err := b.reconciler.SetReason(ctx, interaction.GuildID, selector, text, invokerID(interaction))
	if err != nil {
		b.respondError(session, interaction, title, err)
		return
	}

	color := b.cfg.Notifications.EmbedColors.Info
	if len(result.Failures) > 0 {
		color = b.cfg.Notifications.EmbedColors.Error
	}
	b.respondEmbed(session, interaction, b.commandEmbed(title, result.Summary(), color, nil), true)
}

func (b *Bot) handleRankCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData, opts optionMap) {
	title := "Rank"
	userID := invokerID(interaction)
	if user := resolvedUser(data, opts); user != nil {
		userID = user.ID
	}

	snapshot, err := b.levels.Rank(ctx, interaction.GuildID, userID)
	if err != nil {
		if errors.Is(err, leveling.ErrNoActivity) {
			b.respondEmbed(session, interaction, b.commandEmbed(title, fmt.Sprintf("<@%s> has not sent any messages yet.", userID), b.cfg.Notifications.EmbedColors.Info, nil), false)
			return
		}
		b.respondError(session, interaction, title, err)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed(title, fmt.Sprintf("<@%s>", userID), b.cfg.Notifications.EmbedColors.Info, rankFields(snapshot)), false)
}

var windowLabels = []struct {
	window storage.Window
	label  string
}{
	{storage.WindowDay, "Today"},
	{storage.WindowWeek, "This week"},
	{storage.WindowMonth, "This month"},
	{storage.WindowAllTime, "All time"},
}

func rankFields(snapshot leveling.RankSnapshot) []*discordgo.MessageEmbedField {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Level", Value: fmt.Sprintf("%d", snapshot.Level), Inline: true},
		{Name: "XP", Value: fmt.Sprintf("%d", snapshot.XP), Inline: true},
		{Name: "Progress", Value: fmt.Sprintf("%.1f%% (%d XP to next)", snapshot.Progress, snapshot.XPToNext), Inline: true},
	}
	for _, entry := range windowLabels {
		rank, ok := snapshot.Windows[entry.window]
		if !ok {
			continue
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   entry.label,
			Value:  fmt.Sprintf("%d messages, #%d, ahead of %.0f%%", rank.Count, rank.Position, rank.Percentile),
			Inline: true,
		})
	}
	return fields
}

func (b *Bot) handleConfigCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, name string, opts optionMap) {
	title := "Settings"
	var (
		value *string
		label string
		err   error
	)
	switch name {
	case "modlog":
		if id, ok := opts.text("channel"); ok && id != "" {
			value = &id
		}
		label = "Mod log channel"
		_, err = b.configs.SetModLogChannel(ctx, interaction.GuildID, value)
	case "muterole":
		if id, ok := opts.text("role"); ok && id != "" {
			value = &id
		}
		label = "Mute role"
		_, err = b.configs.SetMuteRole(ctx, interaction.GuildID, value)
	case "prefix":
		if prefix, ok := opts.text("value"); ok && prefix != "" {
			value = &prefix
		}
		label = "Prefix"
		_, err = b.configs.SetPrefix(ctx, interaction.GuildID, value)
	}
	if err != nil {
		b.logger.Warn("guild config update failed", zap.String("guild_id", interaction.GuildID), zap.String("setting", name), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Could not save the setting.", b.cfg.Notifications.EmbedColors.Error, nil), true)
		return
	}

	shown := "cleared"
	if value != nil {
		switch name {
		case "modlog":
			shown = "<#" + *value + ">"
		case "muterole":
			shown = "<@&" + *value + ">"
		default:
			shown = *value
		}
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, invokerID(interaction), audit.EventConfigChanged, fmt.Sprintf("%s=%s", name, shown))
	fields := []*discordgo.MessageEmbedField{{Name: label, Value: shown, Inline: true}}
	b.respondEmbed(session, interaction, b.commandEmbed(title, "Setting updated.", b.cfg.Notifications.EmbedColors.Info, fields), true)
}

func (b *Bot) handleModStatsCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts optionMap) {
	title := "Moderation stats"
	days := opts.integer("days", 7)
	if days <= 0 || days > 365 {
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Days must be between 1 and 365.", b.cfg.Notifications.EmbedColors.Error, nil), true)
		return
	}

	report, err := b.analytics.Report(ctx, interaction.GuildID, time.Now().AddDate(0, 0, -days))
	if err != nil {
		b.respondError(session, interaction, title, err)
		return
	}
	description := fmt.Sprintf("Last %d days: %d cases.", days, report.Total)
	b.respondEmbed(session, interaction, b.commandEmbed(title, description, b.cfg.Notifications.EmbedColors.Info, statsFields(report.ByKind, report.Pending)), true)
}

func statsFields(byKind map[storage.ActionKind]int, pending int) []*discordgo.MessageEmbedField {
	fields := make([]*discordgo.MessageEmbedField, 0, len(storage.ActionKinds)+1)
	for _, kind := range storage.ActionKinds {
		fields = append(fields, &discordgo.MessageEmbedField{Name: string(kind), Value: fmt.Sprintf("%d", byKind[kind]), Inline: true})
	}
	fields = append(fields, &discordgo.MessageEmbedField{Name: "pending", Value: fmt.Sprintf("%d", pending), Inline: true})
	return fields
}
