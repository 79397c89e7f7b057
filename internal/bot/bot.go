package bot

import (
	"context"
	"errors"
	"time"

	"bastion/internal/analytics"
	"bastion/internal/config"
	"bastion/internal/guildconfig"
	"bastion/internal/leveling"
	"bastion/internal/moderation"
	"bastion/internal/modules/audit"
	"bastion/internal/muteguard"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Services are the engines the bot dispatches into.
type Services struct {
	Configs    *guildconfig.Provider
	Reconciler *moderation.Reconciler
	Levels     *leveling.Aggregator
	Guard      *muteguard.Guard
	Analytics  *analytics.Service
	Audit      *audit.Logger
}

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	session    *discordgo.Session
	configs    *guildconfig.Provider
	reconciler *moderation.Reconciler
	levels     *leveling.Aggregator
	guard      *muteguard.Guard
	analytics  *analytics.Service
	audit      *audit.Logger
	members    *roleTracker

	memberAdd    []memberHandler
	memberRemove []memberHandler
	memberUpdate []memberHandler
}

// memberEvent is what the member handlers see. Before is only meaningful when
// Known is set.
type memberEvent struct {
	GuildID string
	User    *discordgo.User
	Before  []string
	Known   bool
	After   []string
}

type memberHandler func(ctx context.Context, event memberEvent)

func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans
	return session, nil
}

func New(cfg config.Config, logger *zap.Logger, session *discordgo.Session, services Services) *Bot {
	b := &Bot{
		cfg:        cfg,
		logger:     logger,
		session:    session,
		configs:    services.Configs,
		reconciler: services.Reconciler,
		levels:     services.Levels,
		guard:      services.Guard,
		analytics:  services.Analytics,
		audit:      services.Audit,
		members:    newRoleTracker(),
	}

	// Order matters: the guard reads the departing roles before the tracker
	// forgets them, and the mute diff runs against the roles tracked before
	// this update.
	b.memberAdd = []memberHandler{b.trackMember, b.restoreMute}
	b.memberRemove = []memberHandler{b.recordMuteEvasion, b.forgetMember}
	b.memberUpdate = []memberHandler{b.reconcileMuteRole, b.trackMember}
	return b
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onGuildDelete)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildBanAdd)
	b.session.AddHandler(b.onGuildBanRemove)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil {
		return
	}
	b.members.loadGuild(event.Guild.ID, event.Guild.Members)
}

func (b *Bot) onGuildDelete(session *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Guild == nil || event.Guild.Unavailable {
		return
	}
	b.members.dropGuild(event.Guild.ID)
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}
	// failures are logged by the aggregator and the message is not counted
	_, _ = b.levels.RecordMessage(context.Background(), msg.GuildID, msg.Author.ID)
}

func (b *Bot) onGuildBanAdd(session *discordgo.Session, event *discordgo.GuildBanAdd) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	_, _ = b.reconciler.ReconcilePlatformBan(context.Background(), event.GuildID, targetOf(event.User))
}

func (b *Bot) onGuildBanRemove(session *discordgo.Session, event *discordgo.GuildBanRemove) {
	if event.GuildID == "" || event.User == nil {
		return
	}
	_, _ = b.reconciler.ReconcilePlatformUnban(context.Background(), event.GuildID, targetOf(event.User))
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	b.dispatch(b.memberAdd, memberEvent{GuildID: event.GuildID, User: event.User, After: event.Roles})
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	before, known := b.members.roles(event.GuildID, event.User.ID)
	b.dispatch(b.memberRemove, memberEvent{GuildID: event.GuildID, User: event.User, Before: before, Known: known})
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	ev := memberEvent{GuildID: event.GuildID, User: event.User, After: event.Roles}
	if event.BeforeUpdate != nil {
		ev.Before, ev.Known = event.BeforeUpdate.Roles, true
	} else {
		ev.Before, ev.Known = b.members.roles(event.GuildID, event.User.ID)
	}
	b.dispatch(b.memberUpdate, ev)
}

func (b *Bot) dispatch(handlers []memberHandler, event memberEvent) {
	ctx := context.Background()
	for _, handle := range handlers {
		handle(ctx, event)
	}
}

func (b *Bot) trackMember(_ context.Context, event memberEvent) {
	b.members.set(event.GuildID, event.User.ID, event.After)
}

func (b *Bot) forgetMember(_ context.Context, event memberEvent) {
	b.members.forget(event.GuildID, event.User.ID)
}

func (b *Bot) restoreMute(ctx context.Context, event memberEvent) {
	b.guard.HandleMemberAdd(ctx, event.GuildID, event.User.ID)
}

func (b *Bot) recordMuteEvasion(ctx context.Context, event memberEvent) {
	if !event.Known {
		return
	}
	b.guard.HandleMemberRemove(ctx, event.GuildID, event.User.ID, event.Before)
}

func (b *Bot) reconcileMuteRole(ctx context.Context, event memberEvent) {
	if !event.Known {
		b.logger.Debug("member update without prior roles", zap.String("guild_id", event.GuildID), zap.String("user_id", event.User.ID))
		return
	}
	_, _ = b.reconciler.ReconcilePlatformMemberUpdate(ctx, event.GuildID, targetOf(event.User), event.Before, event.After)
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

func (b *Bot) respondError(session *discordgo.Session, interaction *discordgo.InteractionCreate, title string, err error) {
	b.respondEmbed(session, interaction, b.commandEmbed(title, b.userMessage(err), b.cfg.Notifications.EmbedColors.Error, nil), true)
}

func (b *Bot) userMessage(err error) string {
	var userErr *moderation.UserError
	if errors.As(err, &userErr) {
		return userErr.Message
	}
	b.logger.Warn("command failed", zap.Error(err))
	return "Something went wrong, try again later."
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func targetOf(user *discordgo.User) moderation.Target {
	return moderation.Target{ID: user.ID, Tag: user.String()}
}
