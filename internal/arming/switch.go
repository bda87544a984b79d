// Package arming holds the process-wide armed flag. While disarmed, actions
// that change guild state (deletes, bans, kicks, timeouts and armed-only
// messages) are skipped; logs and ordinary notifications still go out.
//
// When a Redis client is configured the flag is shared by every replica:
//
//	Key:   automod:armed
//	Value: "1" or "0"
package arming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Key is the Redis key holding the shared flag.
const Key = "automod:armed"

// Switch is the armed flag. The zero value is not usable; use NewSwitch.
type Switch struct {
	client *redis.Client
	logger *slog.Logger
	// last is the most recently observed value. It answers when Redis is
	// absent, unset or unreachable.
	last atomic.Bool
}

// NewSwitch returns a Switch starting at armed. client may be nil, in which
// case the flag is local to this process.
func NewSwitch(client *redis.Client, armed bool, logger *slog.Logger) *Switch {
	s := &Switch{client: client, logger: logger.With(slog.String("component", "arming"))}
	s.last.Store(armed)
	return s
}

// Armed reports whether destructive actions may run.
func (s *Switch) Armed(ctx context.Context) bool {
	if s.client == nil {
		return s.last.Load()
	}

	val, err := s.client.Get(ctx, Key).Result()
	if errors.Is(err, redis.Nil) {
		return s.last.Load()
	}
	if err != nil {
		s.logger.Warn("redis GET failed, using last known state", slog.Any("error", err), slog.Bool("armed", s.last.Load()))
		return s.last.Load()
	}

	armed := val == "1"
	s.last.Store(armed)
	return armed
}

// Set arms or disarms. The local value changes even if Redis is unreachable.
func (s *Switch) Set(ctx context.Context, armed bool) error {
	s.last.Store(armed)
	if s.client == nil {
		return nil
	}
	val := "0"
	if armed {
		val = "1"
	}
	if err := s.client.Set(ctx, Key, val, 0).Err(); err != nil {
		return fmt.Errorf("arming: set: %w", err)
	}
	return nil
}
