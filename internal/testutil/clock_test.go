package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_StartsAtBase(t *testing.T) {
	clock := NewDeterministicClock(time.Time{}, 0)
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, DefaultBase, clock.Now())
	assert.Equal(t, DefaultBase.Add(time.Second), clock.Now())
	assert.Equal(t, int64(2), clock.Current())
}

func TestDeterministicClock_CustomStep(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := NewDeterministicClock(base, time.Minute)

	clock.Now()
	assert.Equal(t, base.Add(time.Minute), clock.Now())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock(time.Time{}, 0)
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, DefaultBase, clock.Now())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock(time.Time{}, time.Millisecond)
	const numGoroutines = 50
	const callsPerGoroutine = 50

	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				now := clock.Now()
				mu.Lock()
				assert.False(t, seen[now], "duplicate instant %v", now)
				seen[now] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}

func TestSequentialIDGenerator(t *testing.T) {
	gen := NewSequentialIDGenerator("sess")
	assert.Equal(t, "sess-1", gen.Generate())
	assert.Equal(t, "sess-2", gen.Generate())

	assert.Equal(t, "id-1", NewSequentialIDGenerator("").Generate())
}
