// ABOUTME: Size-bounded TTL window of uplink deduplication ids
// ABOUTME: Ids are marked only after an uplink was reconciled successfully

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry is one remembered id. Entries are kept in mark order, oldest first.
type entry struct {
	id     string
	marked time.Time
}

// Window is a TTL, size-limited set of deduplication ids. It is safe for
// concurrent use; a background goroutine sweeps expired ids until Close.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewWindow creates a window that remembers ids for ttl, holding at most
// maxSize ids. A ttl of zero or less disables it: Seen always reports false.
func NewWindow(ttl time.Duration, maxSize int) *Window {
	if maxSize <= 0 {
		maxSize = 1
	}
	w := &Window{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go w.sweepLoop(sweepInterval(ttl))
	}
	return w
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl > time.Minute {
		return time.Minute
	}
	return ttl
}

// Seen reports whether id was marked within the window. Empty ids are never
// seen.
func (w *Window) Seen(id string) bool {
	if id == "" || w.ttl <= 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	el, ok := w.seen[id]
	if !ok {
		return false
	}
	return w.now().Sub(el.Value.(*entry).marked) < w.ttl
}

// Mark remembers id. Marking an id again restarts its window. When the
// window is full the oldest id is dropped.
func (w *Window) Mark(id string) {
	if id == "" || w.ttl <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if el, ok := w.seen[id]; ok {
		el.Value.(*entry).marked = now
		w.order.MoveToBack(el)
		return
	}

	if len(w.seen) >= w.maxSize {
		if front := w.order.Front(); front != nil {
			w.order.Remove(front)
			delete(w.seen, front.Value.(*entry).id)
		}
	}
	w.seen[id] = w.order.PushBack(&entry{id: id, marked: now})
}

// Len returns the number of remembered ids, expired ones included until the
// next sweep.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *Window) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.done:
			return
		}
	}
}

// sweep drops expired ids from the front of the mark order.
func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		e := front.Value.(*entry)
		if now.Sub(e.marked) < w.ttl {
			return
		}
		w.order.Remove(front)
		delete(w.seen, e.id)
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (w *Window) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}
