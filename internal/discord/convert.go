package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"

	"github.com/whisper/automod/internal/moderation"
)

// MessageInfo converts a gateway message. It returns nil for messages
// without an author, such as the partial updates Discord sends when it
// unfurls an embed.
func MessageInfo(m *discordgo.Message) *moderation.MessageInfo {
	if m == nil || m.Author == nil {
		return nil
	}
	info := &moderation.MessageInfo{
		ID:          m.ID,
		GuildID:     m.GuildID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.Author.ID,
		AuthorIsBot: m.Author.Bot,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		Attachments: lo.Map(m.Attachments, func(a *discordgo.MessageAttachment, _ int) moderation.Attachment {
			return moderation.Attachment{Filename: a.Filename, ContentType: a.ContentType}
		}),
		Stickers: lo.Map(m.StickerItems, func(s *discordgo.StickerItem, _ int) moderation.Sticker {
			return moderation.Sticker{ID: s.ID, Name: s.Name}
		}),
		Mentions: lo.Map(m.Mentions, func(u *discordgo.User, _ int) moderation.Mention {
			return moderation.Mention{ID: u.ID, Name: displayName(u)}
		}),
	}
	if m.Member != nil {
		info.AuthorRoles = m.Member.Roles
	}
	return info
}

// ReactionInfo converts a reaction add event.
func ReactionInfo(r *discordgo.MessageReactionAdd) *moderation.ReactionInfo {
	if r == nil || r.MessageReaction == nil {
		return nil
	}
	info := &moderation.ReactionInfo{
		MessageID: r.MessageID,
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		AuthorID:  r.UserID,
		Emoji: moderation.ReactionEmoji{
			ID:       r.Emoji.ID,
			Name:     r.Emoji.Name,
			Animated: r.Emoji.Animated,
		},
	}
	if r.Member != nil {
		info.AuthorRoles = r.Member.Roles
		if r.Member.User != nil {
			info.AuthorIsBot = r.Member.User.Bot
		}
	}
	return info
}

// MemberInfo converts a guild member join.
func MemberInfo(m *discordgo.Member) *moderation.MemberInfo {
	if m == nil || m.User == nil {
		return nil
	}
	return &moderation.MemberInfo{
		GuildID:  m.GuildID,
		UserID:   m.User.ID,
		Username: m.User.Username,
		Roles:    m.Roles,
		IsBot:    m.User.Bot,
	}
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// emojiAPIName is the form the reactions endpoints expect: the glyph for
// Unicode emoji, name:id for custom ones.
func emojiAPIName(e moderation.ReactionEmoji) string {
	if e.IsCustom() {
		return e.Name + ":" + e.ID
	}
	return e.Name
}
