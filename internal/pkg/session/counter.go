// internal/pkg/session/counter.go
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// MessageCounter mirrors the per-session messages-sent count in Redis
// so the chat orchestrator can decide when to prompt for an assessment
// without touching Postgres. It is a cache of derived state: the usage
// ledger stays the source of truth and the counter may be rebuilt from
// it at any time.
type MessageCounter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewMessageCounter(client *redis.Client, ttl time.Duration) *MessageCounter {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MessageCounter{client: client, ttl: ttl}
}

func (m *MessageCounter) key(sessionID string) string {
	return fmt.Sprintf("usage:messages:%s", sessionID)
}

// Incr bumps the mirrored count and returns the new value.
func (m *MessageCounter) Incr(ctx context.Context, sessionID string) (int64, error) {
	key := m.key(sessionID)

	count, err := m.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment message counter: %w", err)
	}

	// Set expiration on first increment
	if count == 1 {
		m.client.Expire(ctx, key, m.ttl)
	}

	return count, nil
}

// Get returns the mirrored count, zero when the key is absent.
func (m *MessageCounter) Get(ctx context.Context, sessionID string) (int64, error) {
	count, err := m.client.Get(ctx, m.key(sessionID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get message counter: %w", err)
	}
	return count, nil
}

// Rebuild overwrites the mirror with the authoritative ledger value.
// Used after a ledger entry moves between sessions.
func (m *MessageCounter) Rebuild(ctx context.Context, sessionID string, messagesUsed int32) error {
	return m.client.Set(ctx, m.key(sessionID), int64(messagesUsed), m.ttl).Err()
}

// Reset drops the mirrored count for a session.
func (m *MessageCounter) Reset(ctx context.Context, sessionID string) error {
	return m.client.Del(ctx, m.key(sessionID)).Err()
}
