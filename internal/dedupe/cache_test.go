// ABOUTME: Tests for the deduplication id window
// ABOUTME: Validates TTL expiry, size limits, eviction order, sweeping and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestWindow(t *testing.T, ttl time.Duration, maxSize int) (*Window, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)}
	w := NewWindow(ttl, maxSize)
	w.mu.Lock()
	w.now = clock.Now
	w.mu.Unlock()
	t.Cleanup(w.Close)
	return w, clock
}

func TestWindow_NotSeen(t *testing.T) {
	w, _ := newTestWindow(t, time.Minute, 10)

	assert.False(t, w.Seen("7cd7a3b5-1f0e-4f61-bc1b-2a1dbe3e5f10"))
}

func TestWindow_MarkThenSeen(t *testing.T) {
	w, _ := newTestWindow(t, time.Minute, 10)

	w.Mark("dup-1")
	assert.True(t, w.Seen("dup-1"))
	assert.Equal(t, 1, w.Len())
}

func TestWindow_Expires(t *testing.T) {
	w, clock := newTestWindow(t, time.Minute, 10)

	w.Mark("dup-1")
	clock.Advance(59 * time.Second)
	assert.True(t, w.Seen("dup-1"))

	clock.Advance(time.Second)
	assert.False(t, w.Seen("dup-1"))
}

func TestWindow_RemarkRestartsWindow(t *testing.T) {
	w, clock := newTestWindow(t, time.Minute, 10)

	w.Mark("dup-1")
	clock.Advance(50 * time.Second)
	w.Mark("dup-1")
	clock.Advance(50 * time.Second)

	assert.True(t, w.Seen("dup-1"))
	assert.Equal(t, 1, w.Len())
}

func TestWindow_EvictsOldest(t *testing.T) {
	w, _ := newTestWindow(t, time.Hour, 3)

	w.Mark("a")
	w.Mark("b")
	w.Mark("c")
	w.Mark("a") // a becomes newest
	w.Mark("d") // evicts b

	assert.True(t, w.Seen("a"))
	assert.False(t, w.Seen("b"))
	assert.True(t, w.Seen("c"))
	assert.True(t, w.Seen("d"))
	assert.Equal(t, 3, w.Len())
}

func TestWindow_Sweep(t *testing.T) {
	w, clock := newTestWindow(t, time.Minute, 10)

	w.Mark("old-1")
	w.Mark("old-2")
	clock.Advance(30 * time.Second)
	w.Mark("fresh")
	clock.Advance(40 * time.Second)

	w.sweep()

	assert.Equal(t, 1, w.Len())
	assert.True(t, w.Seen("fresh"))
}

func TestWindow_EmptyIDIgnored(t *testing.T) {
	w, _ := newTestWindow(t, time.Minute, 10)

	w.Mark("")
	assert.False(t, w.Seen(""))
	assert.Equal(t, 0, w.Len())
}

func TestWindow_DisabledByZeroTTL(t *testing.T) {
	w := NewWindow(0, 10)
	defer w.Close()

	w.Mark("dup-1")
	assert.False(t, w.Seen("dup-1"))
}

func TestWindow_Concurrent(t *testing.T) {
	w, _ := newTestWindow(t, time.Minute, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := fmt.Sprintf("w%d-%d", worker, j)
				w.Mark(id)
				_ = w.Seen(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, w.Len())
}

func TestWindow_CloseTwice(t *testing.T) {
	w := NewWindow(time.Minute, 10)

	w.Close()
	assert.NotPanics(t, w.Close)
}
