// Package moderation implements the guild policy engine: rule evaluation,
// scoping, spam tracking, and the resolution of a filter failure into
// concrete actions. Everything here is in-memory and free of I/O; executing
// the resulting actions is left to the caller.
package moderation

import "time"

// SpamFilterName is the name reported when the spam stage fails.
const SpamFilterName = "Spam"

// UsernameFilterName is the default name of a guild's username filter.
const UsernameFilterName = "Username"

// Filter is a named, ordered list of rules. Scoping and Actions override the
// guild defaults when set; a nil Actions inherits them.
type Filter struct {
	Name    string
	Rules   []Rule
	Scoping *Scoping
	Actions []FilterAction
}

// CheckMessage evaluates the rules against msg and returns the first failure.
func (f *Filter) CheckMessage(msg *MessageInfo) FilterResult {
	for _, r := range f.Rules {
		if res := evaluateMessage(r, msg); res.Blocked {
			return res
		}
	}
	return FilterResult{}
}

// CheckText evaluates the text rules against text. Rules that need message
// metadata (attachments, stickers) pass.
func (f *Filter) CheckText(text string) FilterResult {
	for _, r := range f.Rules {
		if res := evaluateText(r, text); res.Blocked {
			return res
		}
	}
	return FilterResult{}
}

// CheckReaction evaluates the reaction rules against emoji.
func (f *Filter) CheckReaction(emoji ReactionEmoji) FilterResult {
	for _, r := range f.Rules {
		if res := evaluateReaction(r, emoji); res.Blocked {
			return res
		}
	}
	return FilterResult{}
}

// GuildFilters is the compiled, immutable policy of one guild.
type GuildFilters struct {
	Messages       []Filter
	Reactions      []Filter
	Usernames      *Filter
	Spam           *SpamConfig
	DefaultScoping *Scoping
	DefaultActions []FilterAction
	IncludeBots    bool
}

// resolveActions picks the filter's own actions, else the guild defaults.
func (g *GuildFilters) resolveActions(own []FilterAction) []FilterAction {
	if own != nil {
		return own
	}
	return g.DefaultActions
}

// FilterFailure is the terminal outcome of a pipeline run that matched.
type FilterFailure struct {
	FilterName string
	Reason     string
	Context    EventContext
	Actions    []Action
}

// FilterMessage runs the message filters in order, then the spam stage, and
// returns the first failure. A nil result means the message passed. hist may
// be nil when the guild has no spam configuration.
func FilterMessage(g *GuildFilters, hist *SpamHistory, msg *MessageInfo, ctx EventContext, now time.Time) *FilterFailure {
	for i := range g.Messages {
		f := &g.Messages[i]
		if !inScope(effectiveScoping(f.Scoping, g.DefaultScoping), msg.ChannelID, msg.AuthorRoles) {
			continue
		}
		if res := f.CheckMessage(msg); res.Blocked {
			return &FilterFailure{
				FilterName: f.Name,
				Reason:     res.Reason,
				Context:    ctx,
				Actions:    SynthesizeMessageActions(g.resolveActions(f.Actions), msg, f.Name, res.Reason, ctx, now),
			}
		}
	}

	if g.Spam == nil || hist == nil {
		return nil
	}
	if !inScope(effectiveScoping(g.Spam.Scoping, g.DefaultScoping), msg.ChannelID, msg.AuthorRoles) {
		return nil
	}
	if res := hist.Check(msg, g.Spam, now); res.Blocked {
		return &FilterFailure{
			FilterName: SpamFilterName,
			Reason:     res.Reason,
			Context:    ctx,
			Actions:    SynthesizeMessageActions(g.resolveActions(g.Spam.Actions), msg, SpamFilterName, res.Reason, ctx, now),
		}
	}
	return nil
}

// FilterReaction runs the reaction filters in order. Reactions have no spam
// stage.
func FilterReaction(g *GuildFilters, r *ReactionInfo) *FilterFailure {
	for i := range g.Reactions {
		f := &g.Reactions[i]
		if !inScope(effectiveScoping(f.Scoping, g.DefaultScoping), r.ChannelID, r.AuthorRoles) {
			continue
		}
		if res := f.CheckReaction(r.Emoji); res.Blocked {
			return &FilterFailure{
				FilterName: f.Name,
				Reason:     res.Reason,
				Context:    ContextReaction,
				Actions:    SynthesizeReactionActions(g.resolveActions(f.Actions), r, f.Name, res.Reason),
			}
		}
	}
	return nil
}

// FilterUsername checks a joining member's username. Scoping does not apply
// since joins are not tied to a channel.
func FilterUsername(g *GuildFilters, m *MemberInfo, now time.Time) *FilterFailure {
	f := g.Usernames
	if f == nil {
		return nil
	}
	res := f.CheckText(m.Username)
	if !res.Blocked {
		return nil
	}
	return &FilterFailure{
		FilterName: f.Name,
		Reason:     res.Reason,
		Context:    ContextUsername,
		Actions:    SynthesizeMemberActions(g.resolveActions(f.Actions), m, f.Name, res.Reason, now),
	}
}

// DryRunText runs the message filters' text rules against text, ignoring
// scoping, and returns the first failure. It backs the moderator "test"
// command.
func DryRunText(g *GuildFilters, text string) (filterName string, res FilterResult) {
	for i := range g.Messages {
		f := &g.Messages[i]
		if res := f.CheckText(text); res.Blocked {
			return f.Name, res
		}
	}
	return "", FilterResult{}
}
