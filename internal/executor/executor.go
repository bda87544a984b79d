// Package executor carries out the actions synthesized for a filter failure.
// It enforces the armed gate, keeps at most one delete per event, and
// throttles messages per channel. A failing action never stops the ones
// after it.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/whisper/automod/internal/metrics"
	"github.com/whisper/automod/internal/moderation"
	"github.com/whisper/automod/internal/ratelimit"
)

// Reasons an action was skipped.
const (
	SkipDisarmed  = "disarmed"
	SkipThrottled = "throttled"
	SkipDuplicate = "duplicate delete"
)

// Client performs actions against the chat platform.
type Client interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	DeleteReaction(ctx context.Context, channelID, messageID string, emoji moderation.ReactionEmoji) error
	SendMessage(ctx context.Context, channelID, content string) error
	SendLog(ctx context.Context, log moderation.SendLog) error
	Ban(ctx context.Context, guildID, userID, reason string, deleteMessageSeconds int) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Timeout(ctx context.Context, guildID, userID, reason string, until time.Time) error
}

// ArmedSource reports the armed state.
type ArmedSource interface {
	Armed(ctx context.Context) bool
}

// Throttle limits how often an identifier may act.
type Throttle interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Outcome is the result of one action. Exactly one of Skipped and Err is set
// when the action did not run successfully.
type Outcome struct {
	Kind    string
	Skipped string
	Err     error
}

// OK reports whether the action ran and succeeded.
func (o Outcome) OK() bool { return o.Skipped == "" && o.Err == nil }

// Executor runs actions through a Client.
type Executor struct {
	client   Client
	armed    ArmedSource
	throttle Throttle
	rule     ratelimit.Rule
	logger   *slog.Logger
}

// New returns an Executor. throttle may be nil to disable message throttling.
func New(client Client, armed ArmedSource, throttle Throttle, rule ratelimit.Rule, logger *slog.Logger) *Executor {
	return &Executor{
		client:   client,
		armed:    armed,
		throttle: throttle,
		rule:     rule,
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// Execute runs actions in order and returns one Outcome per action. The
// armed state is read once so the whole batch sees the same value.
func (e *Executor) Execute(ctx context.Context, actions []moderation.Action) []Outcome {
	armed := e.armed.Armed(ctx)
	deleted := false
	outcomes := make([]Outcome, 0, len(actions))

	for _, a := range actions {
		o := Outcome{Kind: a.Kind()}
		switch {
		case a.RequiresArmed() && !armed:
			o.Skipped = SkipDisarmed
		case moderation.IsDelete(a) && deleted:
			o.Skipped = SkipDuplicate
		case !e.allow(ctx, a):
			o.Skipped = SkipThrottled
		default:
			o.Err = e.run(ctx, a)
			if moderation.IsDelete(a) {
				deleted = true
			}
		}
		e.record(o)
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// allow applies the per-channel throttle to outgoing messages.
func (e *Executor) allow(ctx context.Context, a moderation.Action) bool {
	if e.throttle == nil {
		return true
	}
	var channelID string
	switch a := a.(type) {
	case moderation.SendMessage:
		channelID = a.ChannelID
	case moderation.SendLog:
		channelID = a.ChannelID
	default:
		return true
	}
	ok, _ := e.throttle.Allow(ctx, channelID, e.rule)
	return ok
}

func (e *Executor) run(ctx context.Context, a moderation.Action) error {
	switch a := a.(type) {
	case moderation.DeleteMessage:
		return e.client.DeleteMessage(ctx, a.ChannelID, a.MessageID)
	case moderation.DeleteReaction:
		return e.client.DeleteReaction(ctx, a.ChannelID, a.MessageID, a.Emoji)
	case moderation.SendMessage:
		return e.client.SendMessage(ctx, a.ChannelID, a.Content)
	case moderation.SendLog:
		return e.client.SendLog(ctx, a)
	case moderation.Ban:
		return e.client.Ban(ctx, a.GuildID, a.UserID, a.Reason, a.DeleteMessageSeconds)
	case moderation.Kick:
		return e.client.Kick(ctx, a.GuildID, a.UserID, a.Reason)
	case moderation.Timeout:
		return e.client.Timeout(ctx, a.GuildID, a.UserID, a.Reason, a.Until)
	default:
		panic("executor: unhandled action " + a.Kind())
	}
}

func (e *Executor) record(o Outcome) {
	switch {
	case o.Err != nil:
		metrics.ActionsTotal.WithLabelValues(o.Kind, metrics.ResultError).Inc()
		e.logger.Error("action failed", slog.String("kind", o.Kind), slog.Any("error", o.Err))
	case o.Skipped != "":
		metrics.ActionsTotal.WithLabelValues(o.Kind, metrics.ResultSkipped).Inc()
		e.logger.Debug("action skipped", slog.String("kind", o.Kind), slog.String("why", o.Skipped))
	default:
		metrics.ActionsTotal.WithLabelValues(o.Kind, metrics.ResultOK).Inc()
		e.logger.Debug("action executed", slog.String("kind", o.Kind))
	}
}
