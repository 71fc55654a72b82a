// Package clientstate keeps small per-client key/value records, such as the
// dashboard's in-progress payment session.
package clientstate

import (
	"context"
	"sync"
	"time"
)

// PaymentSessionKey holds the JSON-encoded domain.PaymentSession.
const PaymentSessionKey = "payment_session"

// Store is per-client key/value storage. Get returns nil, nil for a missing key.
type Store interface {
	Get(ctx context.Context, clientID, key string) ([]byte, error)
	Set(ctx context.Context, clientID, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, clientID, key string) error
	Ping(ctx context.Context) error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, clientID, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey(clientID, key)
	e, ok := s.entries[k]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, k)
		return nil, nil
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) Set(ctx context.Context, clientID, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[storeKey(clientID, key)] = e
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, clientID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, storeKey(clientID, key))
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func storeKey(clientID, key string) string {
	return "client:" + clientID + ":" + key
}
