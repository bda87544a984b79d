package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/whisper/automod/internal/moderation"
)

// Discord limits enforced at load time.
const (
	maxBanDeleteSeconds = 7 * 24 * 60 * 60
	maxTimeout          = 28 * 24 * time.Hour
)

// Guild is the compiled, immutable policy of one guild plus the operational
// settings that sit beside it.
type Guild struct {
	ID            string
	Filters       *moderation.GuildFilters
	Notifications *Notifications
	// CommandRoles is nil when slash commands are not configured.
	CommandRoles moderation.Set
}

// CanRunCommands reports whether a member holding roles may use moderator
// commands in this guild.
func (g *Guild) CanRunCommands(roles []string) bool {
	if g.CommandRoles == nil {
		return false
	}
	return lo.ContainsBy(roles, g.CommandRoles.Has)
}

// filterKind restricts which rule and action types a filter may use.
type filterKind int

const (
	messageFilter filterKind = iota
	reactionFilter
	usernameFilter
)

func (k filterKind) String() string {
	switch k {
	case reactionFilter:
		return "reaction filter"
	case usernameFilter:
		return "username filter"
	default:
		return "message filter"
	}
}

// compiler turns a GuildConfig into moderation types and records every
// problem it finds along the way instead of stopping at the first one.
type compiler struct {
	guild    string
	problems []string
}

func (c *compiler) problemf(where, format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf("in guild %s, %s: %s", c.guild, where, fmt.Sprintf(format, args...)))
}

// Compile validates raw and builds the guild's policy. A non-empty problem
// list means the result must not be used.
func Compile(guildID string, raw *GuildConfig) (*Guild, []string) {
	c := &compiler{guild: guildID}
	g := &Guild{ID: guildID, Filters: &moderation.GuildFilters{IncludeBots: raw.IncludeBots}}

	if raw.SlashCommands != nil {
		if len(raw.SlashCommands.Roles) == 0 {
			c.problemf("slash_commands", "roles is empty; no roles will be able to use slash commands")
		}
		g.CommandRoles = moderation.NewSet(raw.SlashCommands.Roles...)
	}

	if n := raw.Notifications; n != nil {
		if n.Channel == "" {
			c.problemf("notifications", "channel is missing")
		}
		if n.PingRoles != nil && len(*n.PingRoles) == 0 {
			c.problemf("notifications", "ping_roles is specified but is empty; omit the key")
		}
		g.Notifications = n
	}

	if raw.DefaultScoping != nil {
		g.Filters.DefaultScoping = c.scoping("default_scoping", raw.DefaultScoping)
	}

	hasDefaults := false
	if raw.DefaultActions != nil {
		if len(*raw.DefaultActions) == 0 {
			c.problemf("default_actions", "specified but empty")
		} else {
			hasDefaults = true
			g.Filters.DefaultActions = c.actions("default_actions", *raw.DefaultActions, messageFilter)
		}
	}

	if raw.Messages != nil {
		if len(*raw.Messages) == 0 {
			c.problemf("messages", "specified but empty; omit the key")
		}
		g.Filters.Messages = c.filters(*raw.Messages, messageFilter, hasDefaults)
	}

	if raw.Reactions != nil {
		if len(*raw.Reactions) == 0 {
			c.problemf("reactions", "specified but empty; omit the key to disable reaction filtering")
		}
		g.Filters.Reactions = c.filters(*raw.Reactions, reactionFilter, hasDefaults)
	}

	if raw.Spam != nil {
		g.Filters.Spam = c.spam(raw.Spam, hasDefaults)
	}

	if raw.Usernames != nil {
		u := *raw.Usernames
		if u.Name == "" {
			u.Name = moderation.UsernameFilterName
		}
		f := c.filter("usernames", u, usernameFilter, hasDefaults)
		g.Filters.Usernames = &f
	}

	return g, c.problems
}

func (c *compiler) filters(raw []FilterConfig, kind filterKind, hasDefaults bool) []moderation.Filter {
	seen := make(map[string]int, len(raw))
	out := make([]moderation.Filter, 0, len(raw))
	for i, fc := range raw {
		where := fmt.Sprintf("%s %d", kind, i)
		if fc.Name == "" {
			c.problemf(where, "name is missing")
		} else {
			where = fmt.Sprintf("%s %q", kind, fc.Name)
			if prev, dup := seen[fc.Name]; dup {
				c.problemf(where, "name is also used by %s %d", kind, prev)
			}
			seen[fc.Name] = i
		}
		out = append(out, c.filter(where, fc, kind, hasDefaults))
	}
	return out
}

func (c *compiler) filter(where string, raw FilterConfig, kind filterKind, hasDefaults bool) moderation.Filter {
	f := moderation.Filter{Name: raw.Name}

	if len(raw.Rules) == 0 {
		c.problemf(where, "has no rules")
	}
	for i, rc := range raw.Rules {
		if r := c.rule(fmt.Sprintf("%s rule %d", where, i), rc, kind); r != nil {
			f.Rules = append(f.Rules, r)
		}
	}

	if raw.Scoping != nil {
		if kind == usernameFilter {
			c.problemf(where, "scoping does not apply to usernames")
		} else {
			f.Scoping = c.scoping(where+" scoping", raw.Scoping)
		}
	}

	switch {
	case raw.Actions == nil:
		if !hasDefaults {
			c.problemf(where, "does not specify actions, but this guild has no default actions")
		}
	case len(*raw.Actions) == 0:
		c.problemf(where, "has an empty actions list; omit the key to use default actions")
	default:
		f.Actions = c.actions(where+" actions", *raw.Actions, kind)
	}
	return f
}

func (c *compiler) scoping(where string, raw *ScopingConfig) *moderation.Scoping {
	s := &moderation.Scoping{Channels: moderation.Unrestricted{}}

	if raw.IncludeChannels != nil && raw.ExcludeChannels != nil {
		c.problemf(where, "specifies both include_channels and exclude_channels; specify only one")
	}
	switch {
	case raw.IncludeChannels != nil:
		if len(*raw.IncludeChannels) == 0 {
			c.problemf(where, "include_channels is empty; omit the key instead")
		}
		s.Channels = moderation.IncludeChannels{Channels: moderation.NewSet(*raw.IncludeChannels...)}
	case raw.ExcludeChannels != nil:
		if len(*raw.ExcludeChannels) == 0 {
			c.problemf(where, "exclude_channels is empty; omit the key instead")
		}
		s.Channels = moderation.ExcludeChannels{Channels: moderation.NewSet(*raw.ExcludeChannels...)}
	}

	if raw.ExcludeRoles != nil {
		if len(*raw.ExcludeRoles) == 0 {
			c.problemf(where, "exclude_roles is empty; omit the key instead")
		}
		s.ExcludeRoles = moderation.NewSet(*raw.ExcludeRoles...)
	}
	return s
}

func (c *compiler) spam(raw *SpamConfig, hasDefaults bool) *moderation.SpamConfig {
	s := &moderation.SpamConfig{Interval: time.Duration(raw.Interval) * time.Second}
	if raw.Interval <= 0 {
		c.problemf("spam", "interval must be a positive number of seconds")
	}

	thresholds := []struct {
		name string
		raw  *int
		dst  **uint8
	}{
		{"emoji", raw.Emoji, &s.Emoji},
		{"links", raw.Links, &s.Links},
		{"attachments", raw.Attachments, &s.Attachments},
		{"spoilers", raw.Spoilers, &s.Spoilers},
		{"mentions", raw.Mentions, &s.Mentions},
		{"duplicates", raw.Duplicates, &s.Duplicates},
	}
	configured := 0
	for _, t := range thresholds {
		if t.raw == nil {
			continue
		}
		configured++
		if *t.raw < 0 || *t.raw > 255 {
			c.problemf("spam", "%s threshold %d is outside 0..255", t.name, *t.raw)
			continue
		}
		*t.dst = lo.ToPtr(uint8(*t.raw))
	}
	if configured == 0 {
		c.problemf("spam", "no spam thresholds are specified; spam filtering will have no effect")
	}

	if raw.Scoping != nil {
		s.Scoping = c.scoping("spam scoping", raw.Scoping)
	}

	switch {
	case raw.Actions == nil:
		if !hasDefaults {
			c.problemf("spam", "no actions are specified and there are no default actions for this guild")
		}
	case len(*raw.Actions) == 0:
		c.problemf("spam", "actions is specified but empty")
	default:
		s.Actions = c.actions("spam actions", *raw.Actions, messageFilter)
	}
	return s
}

// ruleKinds lists the rule types each filter kind accepts.
var ruleKinds = map[filterKind][]string{
	messageFilter:  {"words", "substring", "regex", "zalgo", "mime_type", "invite", "link", "sticker_id", "sticker_name", "emoji_name"},
	reactionFilter: {"default", "custom_id", "custom_name"},
	usernameFilter: {"words", "substring", "regex"},
}

func (c *compiler) rule(where string, raw RuleConfig, kind filterKind) moderation.Rule {
	if !lo.Contains(ruleKinds[kind], raw.Type) {
		c.problemf(where, "unknown %s rule type %q", kind, raw.Type)
		return nil
	}

	switch raw.Type {
	case "words":
		if re := c.alternation(where, "words", raw.Words, moderation.CompileWords); re != nil {
			return moderation.WordsRule{Pattern: re}
		}
	case "substring":
		if re := c.alternation(where, "substrings", raw.Substrings, moderation.CompileSubstrings); re != nil {
			return moderation.SubstringRule{Pattern: re}
		}
	case "regex":
		return c.regexRule(where, raw.Regexes)
	case "zalgo":
		return moderation.ZalgoRule{}
	case "mime_type":
		mode, ok := c.mode(where, raw.Mode)
		if ok {
			return moderation.MimeTypeRule{Mode: mode, Types: moderation.NewSet(raw.Types...), AllowUnknown: raw.AllowUnknown}
		}
	case "invite":
		mode, ok := c.mode(where, raw.Mode)
		if ok {
			return moderation.InviteRule{Mode: mode, Invites: moderation.NewSet(raw.Invites...)}
		}
	case "link":
		mode, ok := c.mode(where, raw.Mode)
		if ok {
			return moderation.LinkRule{Mode: mode, Domains: moderation.NewSet(lo.Map(raw.Domains, lowerDomain)...)}
		}
	case "sticker_id":
		mode, ok := c.mode(where, raw.Mode)
		if ok {
			return moderation.StickerIDRule{Mode: mode, Stickers: moderation.NewSet(raw.Stickers...)}
		}
	case "sticker_name":
		if re := c.alternation(where, "stickers", raw.Stickers, moderation.CompileSubstrings); re != nil {
			return moderation.StickerNameRule{Pattern: re}
		}
	case "emoji_name":
		if re := c.alternation(where, "names", raw.Names, moderation.CompileSubstrings); re != nil {
			return moderation.EmojiNameRule{Pattern: re}
		}
	case "default":
		mode, ok := c.mode(where, raw.Mode)
		if ok {
			return moderation.DefaultEmojiRule{Mode: mode, Emoji: moderation.NewSet(raw.Emoji...)}
		}
	case "custom_id":
		mode, ok := c.mode(where, raw.Mode)
		if ok {
			return moderation.CustomEmojiIDRule{Mode: mode, Emoji: moderation.NewSet(raw.Emoji...)}
		}
	case "custom_name":
		if re := c.alternation(where, "names", raw.Names, moderation.CompileSubstrings); re != nil {
			return moderation.CustomEmojiNameRule{Pattern: re}
		}
	}
	return nil
}

func (c *compiler) mode(where, raw string) (moderation.FilterMode, bool) {
	mode, err := moderation.ParseFilterMode(raw)
	if err != nil {
		c.problemf(where, "mode must be \"allow\" or \"deny\", got %q", raw)
		return 0, false
	}
	return mode, true
}

func (c *compiler) alternation(where, field string, values []string, compile func([]string) (*regexp.Regexp, error)) *regexp.Regexp {
	re, err := compile(values)
	if err != nil {
		c.problemf(where, "%s: %v", field, err)
		return nil
	}
	return re
}

func (c *compiler) regexRule(where string, patterns []string) moderation.Rule {
	if len(patterns) == 0 {
		c.problemf(where, "regexes is empty")
		return nil
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			c.problemf(where, "regex %q does not compile: %v", p, err)
			continue
		}
		if re.MatchString("") {
			c.problemf(where, "regex %q matches the empty string and would match every message", p)
			continue
		}
		compiled = append(compiled, re)
	}
	if len(compiled) != len(patterns) {
		return nil
	}
	return moderation.RegexRule{Patterns: compiled}
}

// actionKinds lists the action types each filter kind accepts. Member
// actions only make sense for events tied to a guild member.
var actionKinds = map[filterKind][]string{
	messageFilter:  {"delete", "send_message", "send_log", "ban", "kick", "timeout"},
	reactionFilter: {"delete", "send_message", "send_log"},
	usernameFilter: {"send_message", "send_log", "ban", "kick", "timeout"},
}

func (c *compiler) actions(where string, raw []ActionConfig, kind filterKind) []moderation.FilterAction {
	out := make([]moderation.FilterAction, 0, len(raw))
	for i, ac := range raw {
		at := fmt.Sprintf("%s %d", where, i)
		if !lo.Contains(actionKinds[kind], ac.Action) {
			if lo.Contains(actionKinds[messageFilter], ac.Action) {
				c.problemf(at, "action %q is not supported in a %s", ac.Action, kind)
			} else {
				c.problemf(at, "unknown action %q", ac.Action)
			}
			continue
		}
		if a := c.action(at, ac); a != nil {
			out = append(out, a)
		}
	}
	return out
}

func (c *compiler) action(where string, raw ActionConfig) moderation.FilterAction {
	switch raw.Action {
	case "delete":
		return moderation.DeleteAction{}
	case "send_message":
		if raw.ChannelID == "" || raw.Content == "" {
			c.problemf(where, "send_message needs channel_id and content")
			return nil
		}
		return moderation.SendMessageAction{ChannelID: raw.ChannelID, Content: raw.Content, RequiresArmed: raw.RequiresArmed}
	case "send_log":
		if raw.ChannelID == "" {
			c.problemf(where, "send_log needs channel_id")
			return nil
		}
		return moderation.SendLogAction{ChannelID: raw.ChannelID}
	case "ban":
		if raw.DeleteMessageSeconds < 0 || raw.DeleteMessageSeconds > maxBanDeleteSeconds {
			c.problemf(where, "delete_message_seconds must be within 0..%d", maxBanDeleteSeconds)
			return nil
		}
		return moderation.BanAction{Reason: raw.Reason, DeleteMessageSeconds: raw.DeleteMessageSeconds}
	case "kick":
		return moderation.KickAction{Reason: raw.Reason}
	case "timeout":
		d := time.Duration(raw.Duration) * time.Second
		if d <= 0 || d > maxTimeout {
			c.problemf(where, "timeout duration must be between 1 second and %s", maxTimeout)
			return nil
		}
		return moderation.TimeoutAction{Reason: raw.Reason, Duration: d}
	}
	return nil
}

func lowerDomain(d string, _ int) string {
	return strings.ToLower(d)
}
