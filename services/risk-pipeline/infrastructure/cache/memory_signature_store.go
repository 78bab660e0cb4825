package cache

import (
	"context"
	"sync"
	"time"
)

// MemorySignatureStore is the in-process signature store backend. State does
// not survive a restart; deployments that need cross-restart or cross-replica
// suppression use the Redis backend instead.
type MemorySignatureStore struct {
	mu         sync.Mutex
	signatures map[string]time.Time
}

// NewMemorySignatureStore creates an empty in-memory signature store
func NewMemorySignatureStore() *MemorySignatureStore {
	return &MemorySignatureStore{
		signatures: make(map[string]time.Time),
	}
}

// CheckAndInsert records the signature if absent. The check and the insert
// happen under one lock so concurrent duplicates cannot both pass.
func (s *MemorySignatureStore) CheckAndInsert(_ context.Context, signature string, seenAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signatures[signature]; exists {
		return false, nil
	}

	s.signatures[signature] = seenAt
	return true, nil
}

// Contains reports whether the signature is currently known
func (s *MemorySignatureStore) Contains(_ context.Context, signature string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.signatures[signature]
	return exists, nil
}

// Remove deletes the given signatures
func (s *MemorySignatureStore) Remove(_ context.Context, signatures ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range signatures {
		delete(s.signatures, sig)
	}
	return nil
}

// Cleanup purges signatures recorded before the cutoff and returns the
// number removed. The lock is held for the full sweep; the map is bounded by
// the retention window, so the sweep stays short.
func (s *MemorySignatureStore) Cleanup(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for sig, seenAt := range s.signatures {
		if seenAt.Before(olderThan) {
			delete(s.signatures, sig)
			removed++
		}
	}
	return removed, nil
}

// Len returns the current number of stored signatures
func (s *MemorySignatureStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.signatures), nil
}
