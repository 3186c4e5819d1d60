// ABOUTME: Tests for the replay window cache
// ABOUTME: Validates window expiry, capacity eviction, sweeping, and concurrent marking

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClockedCache(ttl time.Duration, size int) (*Cache, *testClock) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	return New(ttl, size, WithClock(clock.Now)), clock
}

func TestCache_CheckAndMark_NewThenSeen(t *testing.T) {
	c, _ := newClockedCache(5*time.Minute, 100)
	defer c.Close()

	assert.False(t, c.CheckAndMark("k"))
	assert.True(t, c.CheckAndMark("k"))
	assert.True(t, c.CheckAndMark("k"))
	assert.Equal(t, 1, c.Len())
}

func TestCache_CheckAndMark_Expires(t *testing.T) {
	c, clock := newClockedCache(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.CheckAndMark("k"))
	clock.Advance(59 * time.Second)
	assert.True(t, c.CheckAndMark("k"))

	clock.Advance(2 * time.Minute)
	assert.False(t, c.CheckAndMark("k"), "expired key counts as new")
	assert.True(t, c.CheckAndMark("k"))
}

func TestCache_Eviction(t *testing.T) {
	c, _ := newClockedCache(time.Hour, 3)
	defer c.Close()

	for i := 0; i < 3; i++ {
		c.CheckAndMark(fmt.Sprintf("k%d", i))
	}
	c.CheckAndMark("k3")

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.CheckAndMark("k0"), "oldest key should have been evicted")
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newClockedCache(time.Minute, 100)
	defer c.Close()

	c.CheckAndMark("old")
	clock.Advance(45 * time.Second)
	c.CheckAndMark("new")
	clock.Advance(30 * time.Second)

	c.sweep()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.CheckAndMark("new"))
}

func TestCache_ConcurrentSingleWinner(t *testing.T) {
	c := New(time.Minute, 1000)
	defer c.Close()

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("same-key") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
}

func TestCache_CloseTwice(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	assert.NotPanics(t, c.Close)
}
