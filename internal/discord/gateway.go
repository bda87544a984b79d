// Package discord connects the moderation engine to Discord. It converts
// gateway events into moderation types, carries out actions over the REST
// API, and serves the moderator slash commands.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/whisper/automod/internal/config"
	"github.com/whisper/automod/internal/moderation"
)

// Intents requested from the gateway. Message content is a privileged
// intent and must be enabled for the application.
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsMessageContent

// EventHandler evaluates converted events.
type EventHandler interface {
	HandleMessage(ctx context.Context, msg *moderation.MessageInfo) *moderation.FilterFailure
	HandleMessageEdit(ctx context.Context, msg *moderation.MessageInfo) *moderation.FilterFailure
	HandleReaction(ctx context.Context, r *moderation.ReactionInfo) *moderation.FilterFailure
	HandleMember(ctx context.Context, m *moderation.MemberInfo) *moderation.FilterFailure
}

// Gateway owns the Discord session.
type Gateway struct {
	session  *discordgo.Session
	client   *Client
	handler  EventHandler
	commands *Commands
	logger   *slog.Logger

	mu  sync.Mutex
	ctx context.Context
}

// NewGateway creates a session for a bot token. Nothing connects until Open.
func NewGateway(token string, logger *slog.Logger) (*Gateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	session.Identify.Intents = Intents
	return &Gateway{
		session: session,
		client:  NewClient(session),
		logger:  logger.With(slog.String("component", "discord")),
		ctx:     context.Background(),
	}, nil
}

// Client returns the REST client sharing the gateway's session.
func (g *Gateway) Client() *Client { return g.client }

// Open registers the event handlers and connects. Handlers run with ctx.
func (g *Gateway) Open(ctx context.Context, handler EventHandler, commands *Commands) error {
	g.mu.Lock()
	g.ctx = ctx
	g.handler = handler
	g.commands = commands
	g.mu.Unlock()

	g.session.AddHandler(g.onReady)
	g.session.AddHandler(g.onMessageCreate)
	g.session.AddHandler(g.onMessageUpdate)
	g.session.AddHandler(g.onReactionAdd)
	g.session.AddHandler(g.onMemberAdd)
	g.session.AddHandler(g.onInteraction)

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (g *Gateway) Close() error {
	return g.session.Close()
}

func (g *Gateway) context() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	g.logger.Info("gateway ready", slog.String("user", r.User.Username), slog.Int("guilds", len(r.Guilds)))
	if g.commands != nil {
		g.SyncCommands(g.commands.snapshots.Current())
	}
}

func (g *Gateway) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if msg := MessageInfo(m.Message); msg != nil && msg.GuildID != "" {
		g.handler.HandleMessage(g.context(), msg)
	}
}

func (g *Gateway) onMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if msg := MessageInfo(m.Message); msg != nil && msg.GuildID != "" {
		g.handler.HandleMessageEdit(g.context(), msg)
	}
}

func (g *Gateway) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if info := ReactionInfo(r); info != nil && info.GuildID != "" {
		g.handler.HandleReaction(g.context(), info)
	}
}

func (g *Gateway) onMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if info := MemberInfo(m.Member); info != nil {
		g.handler.HandleMember(g.context(), info)
	}
}

func (g *Gateway) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	inv, ok := invocation(i)
	if !ok || g.commands == nil {
		return
	}
	resp := g.commands.Run(g.context(), inv)
	if err := s.InteractionRespond(i.Interaction, interactionResponse(resp)); err != nil {
		g.logger.Error("respond to command", slog.String("command", inv.Name), slog.Any("error", err))
	}
}

// SyncCommands registers the slash commands in guilds that enable them and
// removes them everywhere else in snap.
func (g *Gateway) SyncCommands(snap *config.Snapshot) {
	if g.session.State == nil || g.session.State.User == nil {
		return
	}
	appID := g.session.State.User.ID
	for _, id := range snap.GuildIDs() {
		guild, _ := snap.Guild(id)
		commands := []*discordgo.ApplicationCommand{}
		if guild.CommandRoles != nil {
			commands = ApplicationCommands
		}
		if _, err := g.session.ApplicationCommandBulkOverwrite(appID, id, commands); err != nil {
			g.logger.Error("sync commands", slog.String("guild", id), slog.Any("error", err))
		}
	}
}

// notifier posts operational notices.
type notifier interface {
	Notify(ctx context.Context, channelID, title, body string, pingRoles []string) error
}

// NotifyGuilds posts a notice to the notification channel of every guild in
// snap that has one.
func NotifyGuilds(ctx context.Context, n notifier, snap *config.Snapshot, title, body string, logger *slog.Logger) {
	for _, id := range snap.GuildIDs() {
		guild, _ := snap.Guild(id)
		if guild.Notifications == nil {
			continue
		}
		var roles []string
		if guild.Notifications.PingRoles != nil {
			roles = *guild.Notifications.PingRoles
		}
		if err := n.Notify(ctx, guild.Notifications.Channel, title, body, roles); err != nil {
			logger.Error("send notification", slog.String("guild", id), slog.String("title", title), slog.Any("error", err))
		}
	}
}

// ReloadHook returns a config.ReloadHook that posts failed reloads to the
// guilds of the snapshot still in effect, and re-syncs slash commands after
// successful ones.
func (g *Gateway) ReloadHook(ctx context.Context) config.ReloadHook {
	return func(snap *config.Snapshot, err error) {
		if err != nil {
			NotifyGuilds(ctx, g.client, snap, "Configuration reload failed", ReloadFailureBody(err), g.logger)
			return
		}
		g.SyncCommands(snap)
	}
}
