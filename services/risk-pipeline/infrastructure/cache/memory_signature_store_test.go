package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCheckAndInsert(t *testing.T) {
	s := NewMemorySignatureStore()
	ctx := context.Background()
	now := time.Now().UTC()

	inserted, err := s.CheckAndInsert(ctx, "sig-a", now)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.CheckAndInsert(ctx, "sig-a", now)
	require.NoError(t, err)
	assert.False(t, inserted)

	known, err := s.Contains(ctx, "sig-a")
	require.NoError(t, err)
	assert.True(t, known)
}

func TestMemoryStoreConcurrentInsertAdmitsOne(t *testing.T) {
	s := NewMemorySignatureStore()
	ctx := context.Background()

	const goroutines = 64
	var wg sync.WaitGroup
	wins := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inserted, err := s.CheckAndInsert(ctx, "contended", time.Now().UTC())
			assert.NoError(t, err)
			wins <- inserted
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for win := range wins {
		if win {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestMemoryStoreCleanupPurgesExpired(t *testing.T) {
	s := NewMemorySignatureStore()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.CheckAndInsert(ctx, "old", now.Add(-25*time.Hour))
	require.NoError(t, err)
	_, err = s.CheckAndInsert(ctx, "fresh", now)
	require.NoError(t, err)

	removed, err := s.Cleanup(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	known, err := s.Contains(ctx, "old")
	require.NoError(t, err)
	assert.False(t, known)

	// A cleaned-up signature can be claimed again
	inserted, err := s.CheckAndInsert(ctx, "old", now)
	require.NoError(t, err)
	assert.True(t, inserted)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryStoreRemove(t *testing.T) {
	s := NewMemorySignatureStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, sig := range []string{"a", "b", "c"} {
		_, err := s.CheckAndInsert(ctx, sig, now)
		require.NoError(t, err)
	}

	require.NoError(t, s.Remove(ctx, "a", "b"))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
