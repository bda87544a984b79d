// Package incident defines the record produced when an event fails a filter.
// An incident never carries message content; it is safe to persist and to
// publish to other services.
package incident

import (
	"time"

	"github.com/google/uuid"

	"github.com/whisper/automod/internal/moderation"
)

// Incident is one filter failure and what was done about it.
type Incident struct {
	ID          uuid.UUID               `json:"id"`
	GuildID     string                  `json:"guild_id"`
	ChannelID   string                  `json:"channel_id,omitempty"`
	AuthorID    string                  `json:"author_id"`
	MessageID   string                  `json:"message_id,omitempty"`
	FilterName  string                  `json:"filter"`
	Reason      string                  `json:"reason"`
	Context     moderation.EventContext `json:"context"`
	Actions     []string                `json:"actions"`
	Infractions int                     `json:"infractions"`
	Armed       bool                    `json:"armed"`
	OccurredAt  time.Time               `json:"occurred_at"`
}

// Subject identifies the event an incident is about.
type Subject struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	MessageID string
}

// New builds an incident for failure with a fresh id. Actions records the
// kinds of the synthesized actions in order.
func New(subject Subject, failure *moderation.FilterFailure, armed bool, now time.Time) *Incident {
	kinds := make([]string, len(failure.Actions))
	for i, a := range failure.Actions {
		kinds[i] = a.Kind()
	}
	return &Incident{
		ID:         uuid.New(),
		GuildID:    subject.GuildID,
		ChannelID:  subject.ChannelID,
		AuthorID:   subject.AuthorID,
		MessageID:  subject.MessageID,
		FilterName: failure.FilterName,
		Reason:     failure.Reason,
		Context:    failure.Context,
		Actions:    kinds,
		Armed:      armed,
		OccurredAt: now.UTC(),
	}
}
