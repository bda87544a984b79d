package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/whisper/automod/internal/metrics"
)

// Status reports service state for /health.
type Status struct {
	Guilds int  `json:"guilds"`
	Armed  bool `json:"armed"`
}

// Server serves /feed, /health and /metrics.
type Server struct {
	hub        *Hub
	status     func() Status
	logger     *slog.Logger
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer returns a Server listening on addr. status is called for every
// health check.
func NewServer(addr string, hub *Hub, status func() Status, logger *slog.Logger) *Server {
	s := &Server{
		hub:       hub,
		status:    status,
		logger:    logger.With(slog.String("component", "http")),
		startedAt: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/feed", s.hub)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.status()
	resp := struct {
		Status      string `json:"status"`
		Guilds      int    `json:"guilds"`
		Armed       bool   `json:"armed"`
		FeedClients int    `json:"feed_clients"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Guilds:      st.Guilds,
		Armed:       st.Armed,
		FeedClients: s.hub.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("feed: http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and disconnects feed clients.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.hub.Close()
	if err != nil {
		return fmt.Errorf("feed: http shutdown: %w", err)
	}
	return nil
}
