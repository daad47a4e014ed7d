package oauthclient

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fernfall/dayline/internal/platform/apperr"
)

// StateStore persists the CSRF state param for one in-flight authorization
// code grant, consumed exactly once at /oauth/callback.
type StateStore interface {
	Issue(ctx context.Context, state, sourceKind string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (sourceKind string, err error)
}

const redisStateKeyPrefix = "dayline:oauth:state:"

// RedisStateStore backs OAuth state params with a Redis TTL, mirroring
// pairing.RedisCodeStore's one-time GETDEL pattern.
type RedisStateStore struct {
	client *redis.Client
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (r *RedisStateStore) Issue(ctx context.Context, state, sourceKind string, ttl time.Duration) error {
	ok, err := r.client.SetNX(ctx, redisStateKeyPrefix+state, sourceKind, ttl).Result()
	if err != nil {
		return apperr.Wrap(apperr.ClassServerTransient, "issue oauth state in redis", err)
	}
	if !ok {
		return apperr.New(apperr.ClassConflict, "oauth state already in use")
	}
	return nil
}

func (r *RedisStateStore) Consume(ctx context.Context, state string) (string, error) {
	sourceKind, err := r.client.GetDel(ctx, redisStateKeyPrefix+state).Result()
	if err == redis.Nil {
		return "", apperr.New(apperr.ClassNotFound, "oauth state is unknown, expired, or already used")
	}
	if err != nil {
		return "", apperr.Wrap(apperr.ClassServerTransient, "consume oauth state in redis", err)
	}
	return sourceKind, nil
}

// MemoryStateStore is the no-Redis fallback for local/dev deployments.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryStateEntry
}

type memoryStateEntry struct {
	sourceKind string
	expiresAt  time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: map[string]memoryStateEntry{}}
}

func (m *MemoryStateStore) Issue(ctx context.Context, state, sourceKind string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[state]; ok && time.Now().Before(e.expiresAt) {
		return apperr.New(apperr.ClassConflict, "oauth state already in use")
	}
	m.entries[state] = memoryStateEntry{sourceKind: sourceKind, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryStateStore) Consume(ctx context.Context, state string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[state]
	delete(m.entries, state)
	if !ok || time.Now().After(e.expiresAt) {
		return "", apperr.New(apperr.ClassNotFound, "oauth state is unknown, expired, or already used")
	}
	return e.sourceKind, nil
}
