package moderation

import (
	"fmt"
	"strings"
	"time"

	"bastion/internal/config"
	"bastion/internal/storage"

	"github.com/bwmarrin/discordgo"
)

func kindTitle(kind storage.ActionKind) string {
	name := string(kind)
	if name == "" {
		return "Unknown"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func kindColor(kind storage.ActionKind, colors config.EmbedColors) int {
	switch kind {
	case storage.ActionBan:
		return colors.Ban
	case storage.ActionUnban:
		return colors.Unban
	case storage.ActionMute:
		return colors.Mute
	case storage.ActionUnmute:
		return colors.Unmute
	default:
		return colors.Info
	}
}

// RenderCase builds the mod-log entry for a case. Unattributed cases carry a
// hint telling the responsible moderator how to claim them.
func RenderCase(c storage.Case, prefix string, colors config.EmbedColors) *discordgo.MessageEmbed {
	moderator := "Unknown"
	if c.ExecutorID != nil {
		moderator = fmt.Sprintf("<@%s>", *c.ExecutorID)
	}

	reason := ""
	if c.Reason != nil {
		reason = *c.Reason
	}
	if reason == "" {
		if c.ExecutorID == nil {
			reason = fmt.Sprintf("Responsible moderator, please use %sreason %d <reason>", prefix, c.CaseNumber)
		} else {
			reason = "No reason given"
		}
	}

	user := c.TargetUserID
	if c.TargetUserTag != "" {
		user = fmt.Sprintf("%s (%s)", c.TargetUserTag, c.TargetUserID)
	}

	return &discordgo.MessageEmbed{
		Title: fmt.Sprintf("%s | Case #%d", kindTitle(c.Kind), c.CaseNumber),
		Color: kindColor(c.Kind, colors),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: user, Inline: true},
			{Name: "Moderator", Value: moderator, Inline: true},
			{Name: "Reason", Value: reason},
		},
		Timestamp: c.ActionTime.UTC().Format(time.RFC3339),
	}
}
