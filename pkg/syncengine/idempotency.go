package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"conversation-automation/pkg/constants"
)

const (
	statePending   = "pending"
	stateCommitted = "sent"
)

// IdempotencyStore records which persisted effects were already delivered.
// Reserve is atomic: exactly one concurrent caller wins a key.
type IdempotencyStore interface {
	// Reserve claims key and reports false when it is already reserved or committed
	Reserve(ctx context.Context, key string) (bool, error)
	// Commit marks a reserved key as delivered
	Commit(ctx context.Context, key string) error
	// Release drops a reservation whose delivery failed so a later call may retry it
	Release(ctx context.Context, key string) error
	// Clear forgets every key
	Clear(ctx context.Context) error
}

// IdempotencyKey identifies one persisted effect of one conversation
func IdempotencyKey(tenantID string, conversationID int64, persistKey string) string {
	return fmt.Sprintf("%s:%d:%s", tenantID, conversationID, persistKey)
}

// MemoryIdempotency lives for the lifetime of the process. Keys never expire.
type MemoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{keys: make(map[string]string)}
}

func (m *MemoryIdempotency) Reserve(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = statePending
	return true, nil
}

func (m *MemoryIdempotency) Commit(ctx context.Context, key string) error {
	m.mu.Lock()
	m.keys[key] = stateCommitted
	m.mu.Unlock()
	return nil
}

func (m *MemoryIdempotency) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	if m.keys[key] == statePending {
		delete(m.keys, key)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryIdempotency) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.keys = make(map[string]string)
	m.mu.Unlock()
	return nil
}

// Len returns the number of reserved or committed keys
func (m *MemoryIdempotency) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// RedisIdempotency shares keys between engine instances through Redis.
// Pending reservations expire after pendingTTL so a crashed sender does not
// block the key forever; committed keys do not expire.
type RedisIdempotency struct {
	rdb        *redis.Client
	prefix     string
	pendingTTL time.Duration
}

func NewRedisIdempotency(rdb *redis.Client, pendingTTL time.Duration) *RedisIdempotency {
	return &RedisIdempotency{
		rdb:        rdb,
		prefix:     constants.IdempotencyKeyPrefix,
		pendingTTL: pendingTTL,
	}
}

func (r *RedisIdempotency) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, statePending, r.pendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (r *RedisIdempotency) Commit(ctx context.Context, key string) error {
	if err := r.rdb.Set(ctx, r.prefix+key, stateCommitted, 0).Err(); err != nil {
		return fmt.Errorf("failed to commit idempotency key: %w", err)
	}
	return nil
}

// releaseScript deletes the key only while it is still pending
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *RedisIdempotency) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{r.prefix + key}, statePending).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (r *RedisIdempotency) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan idempotency keys: %w", err)
		}
		if len(keys) > 0 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete idempotency keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
