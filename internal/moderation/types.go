package moderation

import "time"

// EventContext names the kind of event a filter failure was raised for. The
// string values appear verbatim in logs and moderator notifications.
type EventContext string

const (
	ContextMessageCreate EventContext = "message create"
	ContextMessageEdit   EventContext = "message edit"
	ContextReaction      EventContext = "reaction"
	ContextUsername      EventContext = "username"
)

// Attachment is a file attached to a message. An empty ContentType means the
// platform did not report one.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

// Sticker is a sticker sent with a message.
type Sticker struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Mention is a user mentioned in a message, used to render previews
// without re-pinging the mentioned user.
type Mention struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageInfo is a read-only view of a created or edited message.
type MessageInfo struct {
	ID          string       `json:"id"`
	GuildID     string       `json:"guild_id"`
	ChannelID   string       `json:"channel_id"`
	AuthorID    string       `json:"author_id"`
	AuthorRoles []string     `json:"author_roles,omitempty"`
	AuthorIsBot bool         `json:"author_is_bot,omitempty"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Stickers    []Sticker    `json:"stickers,omitempty"`
	Mentions    []Mention    `json:"mentions,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// ReactionEmoji identifies the emoji used in a reaction. Default (Unicode)
// emoji have an empty ID and carry the glyph in Name; custom emoji carry
// both.
type ReactionEmoji struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Animated bool   `json:"animated,omitempty"`
}

// IsCustom reports whether the emoji is a guild custom emoji.
func (e ReactionEmoji) IsCustom() bool {
	return e.ID != ""
}

// ReactionInfo is a read-only view of a reaction added to a message.
type ReactionInfo struct {
	MessageID   string        `json:"message_id"`
	GuildID     string        `json:"guild_id"`
	ChannelID   string        `json:"channel_id"`
	AuthorID    string        `json:"author_id"`
	AuthorRoles []string      `json:"author_roles,omitempty"`
	AuthorIsBot bool          `json:"author_is_bot,omitempty"`
	Emoji       ReactionEmoji `json:"emoji"`
}

// MemberInfo describes a member who just joined a guild.
type MemberInfo struct {
	GuildID  string   `json:"guild_id"`
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles,omitempty"`
	IsBot    bool     `json:"is_bot,omitempty"`
}

// FilterResult is the outcome of evaluating a rule or a filter against an
// event. A zero value means the event passed.
type FilterResult struct {
	Blocked bool
	Reason  string
}

func blocked(reason string) FilterResult {
	return FilterResult{Blocked: true, Reason: reason}
}
