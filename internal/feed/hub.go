// Package feed streams moderation incidents to websocket subscribers and
// serves the service's health and metrics endpoints. Subscribers connect to
// /feed, optionally with ?guild=<id>, and receive each incident as a JSON
// text frame. The feed is read-only; frames sent by clients are discarded.
package feed

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/whisper/automod/internal/incident"
	"github.com/whisper/automod/internal/metrics"
)

// HubConfig holds tunable parameters for the feed.
type HubConfig struct {
	MaxClients   int           // hard cap on concurrent subscribers
	WriteTimeout time.Duration // deadline for a single frame write
	SendQueue    int           // frames buffered per client before new ones are dropped
	Heartbeat    HeartbeatConfig
}

// DefaultHubConfig returns production defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		MaxClients:   1000,
		WriteTimeout: 5 * time.Second,
		SendQueue:    64,
		Heartbeat:    DefaultHeartbeatConfig(),
	}
}

// Hub is the registry of feed subscribers.
type Hub struct {
	config  HubConfig
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub returns an empty Hub.
func NewHub(config HubConfig, logger *slog.Logger) *Hub {
	return &Hub{
		config:  config,
		logger:  logger.With(slog.String("component", "feed")),
		clients: make(map[string]*Client),
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Count() >= h.config.MaxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.Any("error", err))
		return
	}

	c := newClient(uuid.New().String(), r.URL.Query().Get("guild"), conn, time.Now(), h.config.SendQueue)
	h.add(c)

	go h.readLoop(c)
	go c.writeLoop(h.config.WriteTimeout, func(err error) {
		h.logger.Warn("write failed", slog.String("client", c.ID), slog.Any("error", err))
		h.Remove(c)
	})
}

// readLoop consumes frames until the client goes away. Any frame counts as
// a sign of life for the heartbeat.
func (h *Hub) readLoop(c *Client) {
	defer h.Remove(c)
	for {
		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}
		c.touch(time.Now())
		if header.OpCode == ws.OpClose {
			return
		}
		if _, err := io.Copy(io.Discard, reader); err != nil {
			return
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()

	metrics.FeedClients.Inc()
	h.logger.Info("client connected", slog.String("client", c.ID), slog.String("guild", c.GuildID), slog.Int("total", n))
}

// Remove unregisters c and closes its connection. It is safe to call more
// than once for the same client.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	_ = c.Close()
	metrics.FeedClients.Dec()
	h.logger.Info("client disconnected", slog.String("client", c.ID), slog.Int("total", n))
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// All returns a snapshot of the connected clients.
func (h *Hub) All() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast queues inc for every client following its guild. It does not
// wait for writes; a client whose queue is full misses the frame.
func (h *Hub) Broadcast(inc *incident.Incident) {
	data, err := json.Marshal(inc)
	if err != nil {
		h.logger.Error("marshal incident", slog.Any("error", err))
		return
	}
	for _, c := range h.All() {
		if !c.follows(inc.GuildID) {
			continue
		}
		if !c.enqueue(data) {
			metrics.FeedDropped.Inc()
			h.logger.Debug("feed queue full, dropping incident", slog.String("client", c.ID))
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	for _, c := range h.All() {
		h.Remove(c)
	}
}
