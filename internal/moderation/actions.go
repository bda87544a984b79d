package moderation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Template tokens recognised in action text.
const (
	TokenUserID         = "$USER_ID"
	TokenFilterReason   = "$FILTER_REASON"
	TokenMessagePreview = "$MESSAGE_PREVIEW"
)

// MaxMessageLength is the platform ceiling on message content, in bytes.
const MaxMessageLength = 2000

const ellipsis = "…"

// FilterAction is an action template from configuration. It is bound to an
// event by the Synthesize functions.
type FilterAction interface {
	isFilterAction()
}

// DeleteAction removes the offending message or reaction.
type DeleteAction struct{}

// SendMessageAction posts Content to ChannelID after template substitution.
type SendMessageAction struct {
	ChannelID     string
	Content       string
	RequiresArmed bool
}

// SendLogAction posts a structured report to a moderation channel.
type SendLogAction struct {
	ChannelID string
}

// BanAction bans the author.
type BanAction struct {
	Reason               string
	DeleteMessageSeconds int
}

// KickAction removes the author from the guild.
type KickAction struct {
	Reason string
}

// TimeoutAction mutes the author for Duration.
type TimeoutAction struct {
	Reason   string
	Duration time.Duration
}

func (DeleteAction) isFilterAction()      {}
func (SendMessageAction) isFilterAction() {}
func (SendLogAction) isFilterAction()     {}
func (BanAction) isFilterAction()         {}
func (KickAction) isFilterAction()        {}
func (TimeoutAction) isFilterAction()     {}

// Action is a concrete, event-bound action ready to be executed.
type Action interface {
	// Kind is a stable identifier used for logs and metrics.
	Kind() string
	// RequiresArmed reports whether the action may only run while the
	// system is armed.
	RequiresArmed() bool
}

// DeleteMessage deletes a message.
type DeleteMessage struct {
	ChannelID string
	MessageID string
}

// DeleteReaction removes every reaction of Emoji from a message.
type DeleteReaction struct {
	ChannelID string
	MessageID string
	Emoji     ReactionEmoji
}

// SendMessage posts Content to ChannelID.
type SendMessage struct {
	ChannelID string
	Content   string
	ArmedOnly bool
}

// SendLog is a moderation report. Content is empty for reactions and
// username checks; Reaction is set for reactions only.
type SendLog struct {
	ChannelID       string
	GuildID         string
	FilterName      string
	AuthorID        string
	SourceChannelID string
	Reason          string
	Context         EventContext
	Content         string
	Reaction        string
	Infractions     int
}

// Ban bans UserID from GuildID.
type Ban struct {
	GuildID              string
	UserID               string
	Reason               string
	DeleteMessageSeconds int
}

// Kick removes UserID from GuildID.
type Kick struct {
	GuildID string
	UserID  string
	Reason  string
}

// Timeout mutes UserID in GuildID until Until.
type Timeout struct {
	GuildID string
	UserID  string
	Reason  string
	Until   time.Time
}

func (DeleteMessage) Kind() string  { return "delete_message" }
func (DeleteReaction) Kind() string { return "delete_reaction" }
func (SendMessage) Kind() string    { return "send_message" }
func (SendLog) Kind() string        { return "send_log" }
func (Ban) Kind() string            { return "ban" }
func (Kick) Kind() string           { return "kick" }
func (Timeout) Kind() string        { return "timeout" }

func (DeleteMessage) RequiresArmed() bool  { return true }
func (DeleteReaction) RequiresArmed() bool { return true }
func (a SendMessage) RequiresArmed() bool  { return a.ArmedOnly }
func (SendLog) RequiresArmed() bool        { return false }
func (Ban) RequiresArmed() bool            { return true }
func (Kick) RequiresArmed() bool           { return true }
func (Timeout) RequiresArmed() bool        { return true }

// IsDelete reports whether a deletes the offending content.
func IsDelete(a Action) bool {
	switch a.(type) {
	case DeleteMessage, DeleteReaction:
		return true
	}
	return false
}

// DedupeDeletes returns actions with every delete after the first removed.
// Order is otherwise preserved.
func DedupeDeletes(actions []Action) []Action {
	out := actions[:0:0]
	seen := false
	for _, a := range actions {
		if IsDelete(a) {
			if seen {
				continue
			}
			seen = true
		}
		out = append(out, a)
	}
	return out
}

// UserMention renders a user mention.
func UserMention(userID string) string {
	return "<@" + userID + ">"
}

// substitute applies the user and reason tokens, in that order.
func substitute(template, userID, reason string) string {
	out := strings.ReplaceAll(template, TokenUserID, UserMention(userID))
	return strings.ReplaceAll(out, TokenFilterReason, reason)
}

// formatPreview replaces the first preview token in template with content,
// truncated at a rune boundary so that the result fits in MaxMessageLength.
// It must run after every other substitution.
func formatPreview(template, content string) string {
	if !strings.Contains(template, TokenMessagePreview) {
		return template
	}
	available := MaxMessageLength - (len(template) - len(TokenMessagePreview))
	if len(content) > available {
		cut := available - len(ellipsis)
		if cut < 0 {
			content = ""
		} else {
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut] + ellipsis
		}
	}
	return strings.Replace(template, TokenMessagePreview, content, 1)
}

// cleanMentions rewrites user mentions in content as plain "@name" so that
// previews do not notify the mentioned users again.
func cleanMentions(content string, mentions []Mention) string {
	for _, m := range mentions {
		name := "@" + m.Name
		content = strings.ReplaceAll(content, "<@"+m.ID+">", name)
		content = strings.ReplaceAll(content, "<@!"+m.ID+">", name)
	}
	return content
}

// ReactionString renders a reaction emoji the way the platform displays it.
func ReactionString(e ReactionEmoji) string {
	if !e.IsCustom() {
		return e.Name
	}
	prefix := ""
	if e.Animated {
		prefix = "a"
	}
	return fmt.Sprintf("<%s:%s:%s>", prefix, e.Name, e.ID)
}

// SynthesizeMessageActions binds actions to msg. The result holds at most
// one delete.
func SynthesizeMessageActions(actions []FilterAction, msg *MessageInfo, filterName, reason string, ctx EventContext, now time.Time) []Action {
	out := make([]Action, 0, len(actions))
	for _, fa := range actions {
		switch a := fa.(type) {
		case DeleteAction:
			out = append(out, DeleteMessage{ChannelID: msg.ChannelID, MessageID: msg.ID})
		case SendMessageAction:
			content := substitute(a.Content, msg.AuthorID, reason)
			content = formatPreview(content, cleanMentions(msg.Content, msg.Mentions))
			out = append(out, SendMessage{ChannelID: a.ChannelID, Content: content, ArmedOnly: a.RequiresArmed})
		case SendLogAction:
			out = append(out, SendLog{
				ChannelID:       a.ChannelID,
				GuildID:         msg.GuildID,
				FilterName:      filterName,
				AuthorID:        msg.AuthorID,
				SourceChannelID: msg.ChannelID,
				Reason:          reason,
				Context:         ctx,
				Content:         msg.Content,
			})
		default:
			if a, ok := memberAction(fa, msg.GuildID, msg.AuthorID, reason, now); ok {
				out = append(out, a)
			}
		}
	}
	return DedupeDeletes(out)
}

// SynthesizeReactionActions binds actions to r. Member actions (ban, kick,
// timeout) do not apply to reactions and are dropped.
func SynthesizeReactionActions(actions []FilterAction, r *ReactionInfo, filterName, reason string) []Action {
	out := make([]Action, 0, len(actions))
	emoji := ReactionString(r.Emoji)
	for _, fa := range actions {
		switch a := fa.(type) {
		case DeleteAction:
			out = append(out, DeleteReaction{ChannelID: r.ChannelID, MessageID: r.MessageID, Emoji: r.Emoji})
		case SendMessageAction:
			content := substitute(a.Content, r.AuthorID, reason)
			content = formatPreview(content, emoji)
			out = append(out, SendMessage{ChannelID: a.ChannelID, Content: content, ArmedOnly: a.RequiresArmed})
		case SendLogAction:
			out = append(out, SendLog{
				ChannelID:       a.ChannelID,
				GuildID:         r.GuildID,
				FilterName:      filterName,
				AuthorID:        r.AuthorID,
				SourceChannelID: r.ChannelID,
				Reason:          reason,
				Context:         ContextReaction,
				Reaction:        emoji,
			})
		}
	}
	return DedupeDeletes(out)
}

// SynthesizeMemberActions binds actions to a joining member. There is no
// content to delete, so delete actions are dropped.
func SynthesizeMemberActions(actions []FilterAction, m *MemberInfo, filterName, reason string, now time.Time) []Action {
	out := make([]Action, 0, len(actions))
	for _, fa := range actions {
		switch a := fa.(type) {
		case SendMessageAction:
			content := substitute(a.Content, m.UserID, reason)
			content = formatPreview(content, m.Username)
			out = append(out, SendMessage{ChannelID: a.ChannelID, Content: content, ArmedOnly: a.RequiresArmed})
		case SendLogAction:
			out = append(out, SendLog{
				ChannelID:  a.ChannelID,
				GuildID:    m.GuildID,
				FilterName: filterName,
				AuthorID:   m.UserID,
				Reason:     reason,
				Context:    ContextUsername,
				Content:    m.Username,
			})
		default:
			if a, ok := memberAction(fa, m.GuildID, m.UserID, reason, now); ok {
				out = append(out, a)
			}
		}
	}
	return out
}

// memberAction binds the ban, kick and timeout templates.
func memberAction(fa FilterAction, guildID, userID, reason string, now time.Time) (Action, bool) {
	switch a := fa.(type) {
	case BanAction:
		return Ban{
			GuildID:              guildID,
			UserID:               userID,
			Reason:               strings.ReplaceAll(a.Reason, TokenFilterReason, reason),
			DeleteMessageSeconds: a.DeleteMessageSeconds,
		}, true
	case KickAction:
		return Kick{
			GuildID: guildID,
			UserID:  userID,
			Reason:  strings.ReplaceAll(a.Reason, TokenFilterReason, reason),
		}, true
	case TimeoutAction:
		return Timeout{
			GuildID: guildID,
			UserID:  userID,
			Reason:  strings.ReplaceAll(a.Reason, TokenFilterReason, reason),
			Until:   now.Add(a.Duration),
		}, true
	}
	return nil, false
}
