// Package messaging provides a NATS client wrapper for the moderation
// service. Incidents are published for other services to consume, and
// evaluation-only checks are served over request/reply.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/automod/internal/incident"
	"github.com/whisper/automod/internal/moderation"
)

// NATS subject patterns used by the moderation service.
const (
	SubjectCheck    = "automod.check"
	SubjectIncident = "automod.incident" // + .<guild_id>

	// checkQueue load-balances checks across service replicas.
	checkQueue = "automod"
)

// CheckRequest asks for a message to be evaluated against a guild's filters
// without acting on the result.
type CheckRequest struct {
	GuildID string                 `json:"guild_id"`
	Message moderation.MessageInfo `json:"message"`
}

// CheckResponse is the outcome of a CheckRequest. Error is set when the
// request could not be evaluated, e.g. for an unknown guild.
type CheckResponse struct {
	Passed  bool                    `json:"passed"`
	Filter  string                  `json:"filter,omitempty"`
	Reason  string                  `json:"reason,omitempty"`
	Context moderation.EventContext `json:"context,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn   *nats.Conn
	logger *slog.Logger
	mu     sync.Mutex
	subs   map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "automod",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, logger *slog.Logger) (*NATSClient, error) {
	logger = logger.With(slog.String("component", "nats"))
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected", slog.Any("error", err))
			} else {
				logger.Warn("disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	logger.Info("connected", slog.String("url", nc.ConnectedUrl()))

	return &NATSClient{
		conn:   nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// IncidentSubject returns the subject incidents for guildID are published on.
func IncidentSubject(guildID string) string {
	return SubjectIncident + "." + guildID
}

// PublishIncident publishes inc to automod.incident.<guild_id>.
func (c *NATSClient) PublishIncident(inc *incident.Incident) error {
	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("nats: marshal incident: %w", err)
	}
	return c.Publish(IncidentSubject(inc.GuildID), data)
}

// SubscribeIncidents subscribes to incidents for guildID, or for every guild
// when guildID is "*". Malformed payloads are logged and dropped.
func (c *NATSClient) SubscribeIncidents(guildID string, handler func(*incident.Incident)) error {
	return c.Subscribe(IncidentSubject(guildID), func(msg *nats.Msg) {
		var inc incident.Incident
		if err := json.Unmarshal(msg.Data, &inc); err != nil {
			c.logger.Warn("dropping malformed incident", slog.String("subject", msg.Subject), slog.Any("error", err))
			return
		}
		handler(&inc)
	})
}

// ServeChecks answers check requests on automod.check with handler. Replicas
// share a queue group so each request is answered once.
func (c *NATSClient) ServeChecks(handler func(CheckRequest) CheckResponse) error {
	sub, err := c.conn.QueueSubscribe(SubjectCheck, checkQueue, func(msg *nats.Msg) {
		var req CheckRequest
		var resp CheckResponse
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			resp = CheckResponse{Error: "malformed request: " + err.Error()}
		} else {
			resp = handler(req)
		}

		data, err := json.Marshal(resp)
		if err != nil {
			c.logger.Error("marshal check response", slog.Any("error", err))
			return
		}
		if err := msg.Respond(data); err != nil {
			c.logger.Warn("respond to check", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", SubjectCheck, err)
	}

	c.mu.Lock()
	c.subs[SubjectCheck] = sub
	c.mu.Unlock()
	return nil
}

// Check sends req to automod.check and waits for the response.
func (c *NATSClient) Check(ctx context.Context, req CheckRequest) (CheckResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return CheckResponse{}, fmt.Errorf("nats: marshal check: %w", err)
	}
	msg, err := c.conn.RequestWithContext(ctx, SubjectCheck, data)
	if err != nil {
		return CheckResponse{}, fmt.Errorf("nats: check request: %w", err)
	}
	var resp CheckResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return CheckResponse{}, fmt.Errorf("nats: unmarshal check response: %w", err)
	}
	return resp, nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("drain subscription", slog.String("subject", subject), slog.Any("error", err))
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("connection drain", slog.Any("error", err))
	}

	c.logger.Info("client closed")
}

// Unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}
