package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps claims in process memory. Used by tests and the local profile.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	entry, ok := s.entries[id]
	if !ok || entry.expired(now) {
		entry = Entry{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}
		s.entries[id] = entry
		return StateNew, entry, nil
	}
	if entry.Fingerprint != fingerprint {
		return StateNew, Entry{}, ErrKeyReused
	}
	if entry.Completed {
		return StateReplay, entry, nil
	}
	return StateInFlight, entry, nil
}

func (s *MemoryStore) Complete(_ context.Context, entry Entry, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(entry.Key)
	if current, ok := s.entries[id]; ok && current.Fingerprint != entry.Fingerprint {
		return ErrKeyReused
	}
	entry.Completed = true
	entry.Body = append([]byte(nil), entry.Body...)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.ExpiresAt = now.Add(ttl)
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, documentID(key))
	return nil
}
