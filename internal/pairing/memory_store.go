package pairing

import (
	"context"
	"sync"
	"time"

	"github.com/fernfall/dayline/internal/platform/apperr"
)

type memoryEntry struct {
	sourceID  string
	expiresAt time.Time
}

// MemoryCodeStore is the single-process fallback CodeStore used when
// REDIS_URL is unset (spec §10.3 / SPEC_FULL.md §10.3). Consume is
// check-and-delete under one mutex, giving it the same one-time semantics
// as RedisCodeStore's GetDel within a single process.
type MemoryCodeStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{entries: map[string]memoryEntry{}}
}

func (m *MemoryCodeStore) Issue(ctx context.Context, code, sourceID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictExpiredLocked()
	if _, exists := m.entries[code]; exists {
		return apperr.New(apperr.ClassConflict, "pairing code already in use")
	}
	m.entries[code] = memoryEntry{sourceID: sourceID, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryCodeStore) Consume(ctx context.Context, code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[code]
	delete(m.entries, code)
	if !ok || time.Now().After(entry.expiresAt) {
		return "", apperr.New(apperr.ClassNotFound, "pairing code is unknown, expired, or already used")
	}
	return entry.sourceID, nil
}

// evictExpiredLocked is a best-effort sweep on write; Consume's own expiry
// check is what actually guarantees expired codes never succeed.
func (m *MemoryCodeStore) evictExpiredLocked() {
	now := time.Now()
	for code, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, code)
		}
	}
}
