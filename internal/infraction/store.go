// Package infraction counts filter failures per guild member in Redis.
// Counters live in a fixed window that starts at the first infraction:
//
//	Key:   infractions:<guild>:<user>
//	Value: count
//	TTL:   Window, set on the first increment
package infraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Prefix is the Redis key prefix for infraction counters.
	Prefix = "infractions:"

	// Window is how long a counter lives, measured from the first
	// infraction. The count then resets to zero.
	Window = 24 * time.Hour
)

// Store manages infraction counters in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new infraction store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func key(guildID, userID string) string {
	return Prefix + guildID + ":" + userID
}

// Record increments the counter for a member and returns the new count.
func (s *Store) Record(ctx context.Context, guildID, userID string) (int, error) {
	k := key(guildID, userID)

	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("infraction: record incr: %w", err)
	}

	// Set TTL only on first increment so the window doesn't slide.
	if count == 1 {
		if err := s.client.Expire(ctx, k, Window).Err(); err != nil {
			return 0, fmt.Errorf("infraction: record expire: %w", err)
		}
	}
	return int(count), nil
}

// Count returns the current counter for a member, or 0 if none is live.
func (s *Store) Count(ctx context.Context, guildID, userID string) (int, error) {
	val, err := s.client.Get(ctx, key(guildID, userID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("infraction: count: %w", err)
	}
	return val, nil
}

// Clear resets a member's counter.
func (s *Store) Clear(ctx context.Context, guildID, userID string) error {
	if err := s.client.Del(ctx, key(guildID, userID)).Err(); err != nil {
		return fmt.Errorf("infraction: clear: %w", err)
	}
	return nil
}
