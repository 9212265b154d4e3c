package businessflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parsclinic/clinic-core/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySequenceRepo is an in-memory SequenceCounterRepository for exercising
// the allocator without a database.
type memorySequenceRepo struct {
	mu       sync.Mutex
	counters map[string]int64
	failNext bool
}

func newMemorySequenceRepo() *memorySequenceRepo {
	return &memorySequenceRepo{counters: make(map[string]int64)}
}

func (r *memorySequenceRepo) Next(ctx context.Context, scopeKey string, resetPeriod models.ResetPeriod) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		return 0, errors.New("connection refused")
	}
	r.counters[scopeKey]++
	return r.counters[scopeKey], nil
}

func (r *memorySequenceRepo) Get(ctx context.Context, scopeKey string) (*models.SequenceCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.counters[scopeKey]
	if !ok {
		return nil, nil
	}
	return &models.SequenceCounter{ScopeKey: scopeKey, CurrentValue: value}, nil
}

func (r *memorySequenceRepo) PurgeExpired(ctx context.Context, updatedBefore time.Time) (int64, error) {
	return 0, nil
}

func TestIdentifierAllocator(t *testing.T) {
	ctx := context.Background()
	date := time.Date(2025, 11, 20, 9, 0, 0, 0, time.UTC)

	t.Run("SequentialAllocations", func(t *testing.T) {
		allocator := NewIdentifierAllocator(newMemorySequenceRepo())

		first, seq1, err := allocator.Allocate(ctx, EntityKindEncounter, IdentifierContext{Date: date})
		require.NoError(t, err)
		second, seq2, err := allocator.Allocate(ctx, EntityKindEncounter, IdentifierContext{Date: date})
		require.NoError(t, err)

		assert.Equal(t, "ENC202511200001", first)
		assert.Equal(t, "ENC202511200002", second)
		assert.Equal(t, int64(1), seq1)
		assert.Equal(t, int64(2), seq2)
	})

	t.Run("IndependentScopes", func(t *testing.T) {
		allocator := NewIdentifierAllocator(newMemorySequenceRepo())

		encID, _, err := allocator.Allocate(ctx, EntityKindEncounter, IdentifierContext{Date: date})
		require.NoError(t, err)
		aptID, _, err := allocator.Allocate(ctx, EntityKindAppointment, IdentifierContext{Date: date})
		require.NoError(t, err)

		// Each kind draws from its own counter, so both start at 1
		assert.Equal(t, "ENC202511200001", encID)
		assert.Equal(t, "APT202511200001", aptID)
	})

	t.Run("NoDuplicatesUnderConcurrency", func(t *testing.T) {
		allocator := NewIdentifierAllocator(newMemorySequenceRepo())

		const workers = 1000
		results := make(chan string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, _, err := allocator.Allocate(ctx, EntityKindEncounter, IdentifierContext{Date: date})
				assert.NoError(t, err)
				results <- id
			}()
		}
		wg.Wait()
		close(results)

		seen := make(map[string]bool, workers)
		for id := range results {
			assert.False(t, seen[id], "duplicate identifier %s", id)
			seen[id] = true
		}
		assert.Len(t, seen, workers)
	})

	t.Run("StorageFailureSurfacesAsAllocationUnavailable", func(t *testing.T) {
		repo := newMemorySequenceRepo()
		repo.failNext = true
		allocator := NewIdentifierAllocator(repo)

		_, _, err := allocator.Allocate(ctx, EntityKindEncounter, IdentifierContext{Date: date})
		require.Error(t, err)
		assert.True(t, IsAllocationUnavailable(err))
	})

	t.Run("NoFallbackOnUnknownKind", func(t *testing.T) {
		allocator := NewIdentifierAllocator(newMemorySequenceRepo())

		_, _, err := allocator.Allocate(ctx, "mystery-record", IdentifierContext{Date: date})
		require.Error(t, err)
		assert.True(t, IsUnknownEntityKind(err))
	})
}
