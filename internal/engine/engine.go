// Package engine runs guild events through the moderation pipeline and
// acts on the result. It owns the per-guild spam histories, executes the
// synthesized actions and fans each incident out to the infraction counter,
// the audit trail, the event bus and the live feed.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/whisper/automod/internal/config"
	"github.com/whisper/automod/internal/executor"
	"github.com/whisper/automod/internal/incident"
	"github.com/whisper/automod/internal/messaging"
	"github.com/whisper/automod/internal/metrics"
	"github.com/whisper/automod/internal/moderation"
)

// Snapshots exposes the live guild configuration.
type Snapshots interface {
	Current() *config.Snapshot
}

// Executor carries out synthesized actions.
type Executor interface {
	Execute(ctx context.Context, actions []moderation.Action) []executor.Outcome
}

// ArmedSource reports the armed state recorded on incidents.
type ArmedSource interface {
	Armed(ctx context.Context) bool
}

// InfractionCounter counts recent failures per member.
type InfractionCounter interface {
	Record(ctx context.Context, guildID, userID string) (int, error)
}

// AuditLog persists incidents.
type AuditLog interface {
	Record(ctx context.Context, inc *incident.Incident) error
}

// Publisher announces incidents to other services.
type Publisher interface {
	PublishIncident(inc *incident.Incident) error
}

// Broadcaster streams incidents to live subscribers.
type Broadcaster interface {
	Broadcast(inc *incident.Incident)
}

// Deps are the collaborators of an Engine. Snapshots, Executor and Armed are
// required; the incident sinks may be nil.
type Deps struct {
	Snapshots   Snapshots
	Executor    Executor
	Armed       ArmedSource
	Infractions InfractionCounter
	Audit       AuditLog
	Publisher   Publisher
	Feed        Broadcaster
}

// Engine evaluates guild events.
type Engine struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	spam map[string]*moderation.SpamHistory // guild id -> history
}

// New returns an Engine.
func New(deps Deps, logger *slog.Logger) *Engine {
	return &Engine{
		deps:   deps,
		logger: logger.With(slog.String("component", "engine")),
		now:    time.Now,
		spam:   make(map[string]*moderation.SpamHistory),
	}
}

// history returns the guild's spam history, creating it on first use. It
// returns nil for guilds without a spam configuration. Histories outlive
// configuration reloads.
func (e *Engine) history(guildID string, g *moderation.GuildFilters) *moderation.SpamHistory {
	if g.Spam == nil {
		return nil
	}
	e.mu.RLock()
	h, ok := e.spam[guildID]
	e.mu.RUnlock()
	if ok {
		return h
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.spam[guildID]; ok {
		return h
	}
	h = moderation.NewSpamHistory()
	e.spam[guildID] = h
	return h
}

// SpamAuthors returns the number of authors tracked across guilds.
func (e *Engine) SpamAuthors() int {
	e.mu.RLock()
	histories := lo.Values(e.spam)
	e.mu.RUnlock()
	return lo.SumBy(histories, func(h *moderation.SpamHistory) int { return h.Authors() })
}

// RunMetrics publishes the spam author gauge every interval until ctx is
// done.
func (e *Engine) RunMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reportMetrics()
		}
	}
}

func (e *Engine) reportMetrics() {
	metrics.SpamAuthors.Set(float64(e.SpamAuthors()))
}

// guild looks up the policy for an event, skipping unconfigured guilds and,
// unless the guild opts in, bots.
func (e *Engine) guild(guildID string, isBot bool) (*config.Guild, bool) {
	g, ok := e.deps.Snapshots.Current().Guild(guildID)
	if !ok {
		return nil, false
	}
	if isBot && !g.Filters.IncludeBots {
		return nil, false
	}
	return g, true
}

// HandleMessage evaluates a newly created message.
func (e *Engine) HandleMessage(ctx context.Context, msg *moderation.MessageInfo) *moderation.FilterFailure {
	return e.handleMessage(ctx, msg, moderation.ContextMessageCreate)
}

// HandleMessageEdit evaluates the new content of an edited message.
func (e *Engine) HandleMessageEdit(ctx context.Context, msg *moderation.MessageInfo) *moderation.FilterFailure {
	return e.handleMessage(ctx, msg, moderation.ContextMessageEdit)
}

func (e *Engine) handleMessage(ctx context.Context, msg *moderation.MessageInfo, evtCtx moderation.EventContext) *moderation.FilterFailure {
	g, ok := e.guild(msg.GuildID, msg.AuthorIsBot)
	if !ok {
		return nil
	}
	metrics.EventsTotal.WithLabelValues(string(evtCtx)).Inc()

	start := time.Now()
	failure := moderation.FilterMessage(g.Filters, e.history(g.ID, g.Filters), msg, evtCtx, e.now())
	metrics.EvalLatency.Observe(time.Since(start).Seconds())

	if failure != nil {
		e.act(ctx, incident.Subject{
			GuildID:   msg.GuildID,
			ChannelID: msg.ChannelID,
			AuthorID:  msg.AuthorID,
			MessageID: msg.ID,
		}, failure)
	}
	return failure
}

// HandleReaction evaluates an added reaction.
func (e *Engine) HandleReaction(ctx context.Context, r *moderation.ReactionInfo) *moderation.FilterFailure {
	g, ok := e.guild(r.GuildID, r.AuthorIsBot)
	if !ok {
		return nil
	}
	metrics.EventsTotal.WithLabelValues(string(moderation.ContextReaction)).Inc()

	start := time.Now()
	failure := moderation.FilterReaction(g.Filters, r)
	metrics.EvalLatency.Observe(time.Since(start).Seconds())

	if failure != nil {
		e.act(ctx, incident.Subject{
			GuildID:   r.GuildID,
			ChannelID: r.ChannelID,
			AuthorID:  r.AuthorID,
			MessageID: r.MessageID,
		}, failure)
	}
	return failure
}

// HandleMember evaluates the username of a member who joined.
func (e *Engine) HandleMember(ctx context.Context, m *moderation.MemberInfo) *moderation.FilterFailure {
	g, ok := e.guild(m.GuildID, m.IsBot)
	if !ok {
		return nil
	}
	metrics.EventsTotal.WithLabelValues(string(moderation.ContextUsername)).Inc()

	start := time.Now()
	failure := moderation.FilterUsername(g.Filters, m, e.now())
	metrics.EvalLatency.Observe(time.Since(start).Seconds())

	if failure != nil {
		e.act(ctx, incident.Subject{GuildID: m.GuildID, AuthorID: m.UserID}, failure)
	}
	return failure
}

// act executes a failure's actions and records the incident. Sink errors
// are logged; they never undo or block the actions.
func (e *Engine) act(ctx context.Context, subject incident.Subject, failure *moderation.FilterFailure) {
	metrics.FailuresTotal.WithLabelValues(string(failure.Context)).Inc()

	infractions := 0
	if e.deps.Infractions != nil {
		n, err := e.deps.Infractions.Record(ctx, subject.GuildID, subject.AuthorID)
		if err != nil {
			e.logger.Warn("record infraction", slog.String("guild", subject.GuildID), slog.Any("error", err))
		} else {
			infractions = n
			failure.Actions = withInfractions(failure.Actions, n)
		}
	}

	outcomes := e.deps.Executor.Execute(ctx, failure.Actions)

	inc := incident.New(subject, failure, e.deps.Armed.Armed(ctx), e.now())
	inc.Infractions = infractions

	e.logger.Info("filter failed",
		slog.String("incident", inc.ID.String()),
		slog.String("guild", subject.GuildID),
		slog.String("author", subject.AuthorID),
		slog.String("filter", failure.FilterName),
		slog.String("reason", failure.Reason),
		slog.String("context", string(failure.Context)),
		slog.Int("actions", len(outcomes)),
		slog.Int("executed", lo.CountBy(outcomes, executor.Outcome.OK)),
		slog.Int("failed", lo.CountBy(outcomes, func(o executor.Outcome) bool { return o.Err != nil })),
		slog.Int("infractions", infractions),
	)

	if e.deps.Audit != nil {
		if err := e.deps.Audit.Record(ctx, inc); err != nil {
			e.logger.Error("record incident", slog.String("incident", inc.ID.String()), slog.Any("error", err))
		}
	}
	if e.deps.Publisher != nil {
		if err := e.deps.Publisher.PublishIncident(inc); err != nil {
			e.logger.Warn("publish incident", slog.String("incident", inc.ID.String()), slog.Any("error", err))
		}
	}
	if e.deps.Feed != nil {
		e.deps.Feed.Broadcast(inc)
	}
}

// withInfractions returns actions with the infraction count filled into
// every log report.
func withInfractions(actions []moderation.Action, n int) []moderation.Action {
	out := make([]moderation.Action, len(actions))
	for i, a := range actions {
		if log, ok := a.(moderation.SendLog); ok {
			log.Infractions = n
			a = log
		}
		out[i] = a
	}
	return out
}

// Check evaluates a message for another service. Nothing is executed and
// the spam history is left untouched, so only the message filters apply.
func (e *Engine) Check(req messaging.CheckRequest) messaging.CheckResponse {
	g, ok := e.deps.Snapshots.Current().Guild(req.GuildID)
	if !ok {
		metrics.ChecksTotal.WithLabelValues("error").Inc()
		return messaging.CheckResponse{Error: fmt.Sprintf("guild %s is not configured", req.GuildID)}
	}

	msg := req.Message
	msg.GuildID = req.GuildID
	failure := moderation.FilterMessage(g.Filters, nil, &msg, moderation.ContextMessageCreate, e.now())
	if failure == nil {
		metrics.ChecksTotal.WithLabelValues("passed").Inc()
		return messaging.CheckResponse{Passed: true}
	}
	metrics.ChecksTotal.WithLabelValues("failed").Inc()
	return messaging.CheckResponse{
		Filter:  failure.FilterName,
		Reason:  failure.Reason,
		Context: failure.Context,
	}
}
