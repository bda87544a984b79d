package feed

import (
	"context"
	"log/slog"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping
	Timeout  time.Duration // grace period after a ping before a silent client is dropped
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// RunHeartbeat pings every client each Interval and drops clients that have
// sent nothing, not even a pong, within Interval + Timeout. It blocks until
// ctx is done.
func (h *Hub) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(h.config.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.checkClients(now)
		}
	}
}

func (h *Hub) checkClients(now time.Time) {
	deadline := h.config.Heartbeat.Interval + h.config.Heartbeat.Timeout
	for _, c := range h.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			h.logger.Info("heartbeat timeout", slog.String("client", c.ID), slog.Duration("idle", idle.Round(time.Second)))
			h.Remove(c)
			continue
		}
		if err := c.WritePing(); err != nil {
			h.logger.Warn("heartbeat ping failed", slog.String("client", c.ID), slog.Any("error", err))
			h.Remove(c)
		}
	}
}
