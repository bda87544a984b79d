package moderation

// ChannelScope restricts a Scoping to a set of channels. It is one of
// IncludeChannels, ExcludeChannels or Unrestricted, so a scoping can never
// both include and exclude channels.
type ChannelScope interface {
	allows(channelID string) bool
}

// IncludeChannels limits a scoping to the listed channels.
type IncludeChannels struct{ Channels Set }

// ExcludeChannels applies a scoping everywhere except the listed channels.
type ExcludeChannels struct{ Channels Set }

// Unrestricted applies a scoping to every channel.
type Unrestricted struct{}

func (s IncludeChannels) allows(channelID string) bool { return s.Channels.Has(channelID) }
func (s ExcludeChannels) allows(channelID string) bool { return !s.Channels.Has(channelID) }
func (Unrestricted) allows(string) bool                { return true }

// Scoping decides whether a filter applies to an event based on where it
// happened and who caused it.
type Scoping struct {
	Channels     ChannelScope
	ExcludeRoles Set
}

// IsIncluded reports whether an event in channelID by an author holding
// roles is in scope. Channel restrictions are checked before roles.
func (s *Scoping) IsIncluded(channelID string, roles []string) bool {
	if s.Channels != nil && !s.Channels.allows(channelID) {
		return false
	}
	for _, role := range roles {
		if s.ExcludeRoles.Has(role) {
			return false
		}
	}
	return true
}

// effectiveScoping returns own when set and fallback otherwise. The two are
// never merged.
func effectiveScoping(own, fallback *Scoping) *Scoping {
	if own != nil {
		return own
	}
	return fallback
}

// inScope reports whether scoping admits the event. A nil scoping admits
// everything.
func inScope(scoping *Scoping, channelID string, roles []string) bool {
	return scoping == nil || scoping.IsIncluded(channelID, roles)
}
