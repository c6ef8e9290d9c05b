package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepClock_Defaults(t *testing.T) {
	clock := NewStepClock(time.Time{}, 0)
	assert.Equal(t, Epoch, clock.Current())
	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
}

func TestStepClock_Reset(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewStepClock(start, time.Minute)

	clock.Now()
	clock.Now()
	assert.Equal(t, start.Add(2*time.Minute), clock.Current())

	clock.Reset()
	assert.Equal(t, start, clock.Now())
}

func TestStepClock_Advance(t *testing.T) {
	clock := NewStepClock(Epoch, time.Second)
	clock.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour), clock.Now())
}

func TestStepClock_ThreadSafe(t *testing.T) {
	clock := NewStepClock(Epoch, time.Second)
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[time.Time]bool{}
	)
	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			for range callsPerGoroutine {
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

func TestTree_RoundTrip(t *testing.T) {
	root := t.TempDir()
	tree := Tree{"a.txt": "A", "dir/b.txt": "B"}
	WriteTree(t, root, tree)
	assert.Equal(t, tree, ReadTree(t, root))
	assert.Empty(t, ReadTree(t, root+"/missing"))
}
