// ABOUTME: Tests for the generic dedupe cache
// ABOUTME: Uses an injected clock so TTL behaviour is deterministic

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type noteKey struct {
	from    string
	created int64
}

func TestCache_CheckAndMark(t *testing.T) {
	clock := newFakeClock()
	cache := New[noteKey](time.Minute, 100, WithClock[noteKey](clock.Now))
	defer cache.Close()

	key := noteKey{from: "alice", created: 1000}
	assert.False(t, cache.CheckAndMark(key), "first sighting is not a duplicate")
	assert.True(t, cache.CheckAndMark(key), "second sighting is a duplicate")
	assert.False(t, cache.Check(noteKey{from: "alice", created: 1001}))
}

func TestCache_Expiry(t *testing.T) {
	clock := newFakeClock()
	cache := New[string](10*time.Second, 100, WithClock[string](clock.Now))
	defer cache.Close()

	cache.Mark("k")
	assert.True(t, cache.Check("k"))

	clock.Advance(10 * time.Second)
	assert.False(t, cache.Check("k"))
	assert.False(t, cache.CheckAndMark("k"), "expired key counts as new")
	assert.True(t, cache.Check("k"))
}

func TestCache_MarkRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	cache := New[string](10*time.Second, 100, WithClock[string](clock.Now))
	defer cache.Close()

	cache.Mark("k")
	clock.Advance(6 * time.Second)
	cache.Mark("k")
	clock.Advance(6 * time.Second)

	assert.True(t, cache.Check("k"))
}

func TestCache_EvictsOldest(t *testing.T) {
	cache := New[int](time.Hour, 3)
	defer cache.Close()

	cache.Mark(1)
	cache.Mark(2)
	cache.Mark(3)
	cache.Mark(4)

	assert.False(t, cache.Check(1), "oldest key should be evicted")
	assert.True(t, cache.Check(2))
	assert.True(t, cache.Check(3))
	assert.True(t, cache.Check(4))
	assert.Equal(t, 3, cache.Len())

	cache.Mark(5)
	assert.False(t, cache.Check(2))
}

func TestCache_RunCleanup(t *testing.T) {
	clock := newFakeClock()
	cache := New[string](time.Second, 100, WithClock[string](clock.Now))
	defer cache.Close()

	cache.Mark("a")
	cache.Mark("b")
	clock.Advance(2 * time.Second)
	cache.Mark("c")

	cache.runCleanup()

	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Check("c"))
}

func TestCache_CheckAndMarkIsAtomic(t *testing.T) {
	cache := New[string](time.Hour, 100)
	defer cache.Close()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("contested") {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}

func TestCache_CloseTwice(t *testing.T) {
	cache := New[string](time.Hour, 10)
	cache.Close()
	assert.NotPanics(t, cache.Close)
}
