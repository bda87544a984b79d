package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"

	"github.com/whisper/automod/internal/moderation"
)

// Embed colors.
const (
	colorFiltered = 0xd9534f
	colorNotice   = 0xf0ad4e
	colorOK       = 0x32a852
)

// Embed text limits, in characters.
const (
	maxFieldValue  = 1024
	maxDescription = 4096
)

// truncate cuts s to at most limit characters, ending with an ellipsis when
// anything was removed.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return lo.Substring(s, 0, uint(limit-1)) + "…"
}

func field(name, value string) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: truncate(value, maxFieldValue)}
}

// restAPI is the subset of *discordgo.Session the client uses.
type restAPI interface {
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	MessageReactionsRemoveEmoji(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
}

// Client performs moderation actions through the Discord REST API.
type Client struct {
	api restAPI
}

// NewClient returns a Client using session for REST calls.
func NewClient(session *discordgo.Session) *Client {
	return &Client{api: session}
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.api.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: delete message %s: %w", messageID, err)
	}
	return nil
}

func (c *Client) DeleteReaction(ctx context.Context, channelID, messageID string, emoji moderation.ReactionEmoji) error {
	if err := c.api.MessageReactionsRemoveEmoji(channelID, messageID, emojiAPIName(emoji), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: delete reaction on %s: %w", messageID, err)
	}
	return nil
}

// SendMessage posts content. Only user mentions ping; role and everyone
// mentions in templates are rendered but silent.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) error {
	_, err := c.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: send message to %s: %w", channelID, err)
	}
	return nil
}

func (c *Client) SendLog(ctx context.Context, log moderation.SendLog) error {
	_, err := c.api.ChannelMessageSendComplex(log.ChannelID, &discordgo.MessageSend{
		Embeds:          []*discordgo.MessageEmbed{LogEmbed(log)},
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: send log to %s: %w", log.ChannelID, err)
	}
	return nil
}

// Ban bans the user. Discord's API takes whole days of history to delete,
// so deleteMessageSeconds is rounded down to days.
func (c *Client) Ban(ctx context.Context, guildID, userID, reason string, deleteMessageSeconds int) error {
	days := deleteMessageSeconds / int((24 * time.Hour).Seconds())
	if err := c.api.GuildBanCreateWithReason(guildID, userID, reason, days, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: ban %s: %w", userID, err)
	}
	return nil
}

func (c *Client) Kick(ctx context.Context, guildID, userID, reason string) error {
	if err := c.api.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: kick %s: %w", userID, err)
	}
	return nil
}

func (c *Client) Timeout(ctx context.Context, guildID, userID, reason string, until time.Time) error {
	if err := c.api.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)); err != nil {
		return fmt.Errorf("discord: timeout %s: %w", userID, err)
	}
	return nil
}

// Notify posts an operational notice to channelID, mentioning pingRoles in a
// CC field.
func (c *Client) Notify(ctx context.Context, channelID, title, body string, pingRoles []string) error {
	_, err := c.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{NoticeEmbed(title, body, pingRoles)},
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Roles: pingRoles,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: notify %s: %w", channelID, err)
	}
	return nil
}

// LogEmbed renders a moderation report. Reactions get a Reaction field in
// place of the message body.
func LogEmbed(log moderation.SendLog) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Message filtered",
		Color: colorFiltered,
		Fields: []*discordgo.MessageEmbedField{
			field("Filter", log.FilterName),
			field("Author", moderation.UserMention(log.AuthorID)),
		},
	}
	if log.SourceChannelID != "" {
		embed.Fields = append(embed.Fields, field("Channel", "<#"+log.SourceChannelID+">"))
	}
	embed.Fields = append(embed.Fields, field("Reason", log.Reason))

	switch log.Context {
	case moderation.ContextReaction:
		embed.Title = "Reaction filtered"
		embed.Fields = append(embed.Fields, field("Reaction", log.Reaction))
	case moderation.ContextUsername:
		embed.Title = "Username filtered"
		embed.Fields = append(embed.Fields, field("Context", string(log.Context)))
		if log.Content != "" {
			embed.Fields = append(embed.Fields, field("Username", log.Content))
		}
	default:
		embed.Fields = append(embed.Fields, field("Context", string(log.Context)))
		if log.Content != "" {
			embed.Description = "```" + truncate(log.Content, maxDescription-6) + "```"
		} else {
			embed.Description = "<no content>"
		}
	}

	if log.Infractions > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Infractions (24h)",
			Value:  strconv.Itoa(log.Infractions),
			Inline: true,
		})
	}
	return embed
}

// NoticeEmbed renders an operational notice.
func NoticeEmbed(title, body string, pingRoles []string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: title, Description: truncate(body, maxDescription), Color: colorNotice}
	if len(pingRoles) > 0 {
		mentions := make([]string, len(pingRoles))
		for i, r := range pingRoles {
			mentions[i] = "<@&" + r + ">"
		}
		embed.Fields = []*discordgo.MessageEmbedField{field("CC", strings.Join(mentions, " "))}
	}
	return embed
}
