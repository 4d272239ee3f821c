package intake

import (
	"context"
	"sync"
	"time"
)

// DefaultDebounceDelay is the window within which a burst of messages from
// the same user+thread collapses into a single logical input.
const DefaultDebounceDelay = 800 * time.Millisecond

// Debouncer collapses rapid message bursts per key: only the most recent
// Schedule call for a key survives the delay; all predecessors are released
// with "do not process".
//
// This is process-local, best-effort state by design: a burst split across
// two bot instances cannot cancel each other's waiters, so purely local
// debouncing can double-process in that window. The dedup ledger still
// guarantees each individual message id is handled at most once; the
// debouncer only reduces redundant replies. Do not persist this map.
type Debouncer struct {
	mu      sync.Mutex
	waiters map[string]chan struct{}
}

// NewDebouncer creates a Debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{waiters: make(map[string]chan struct{})}
}

// Schedule registers a waiter for key, cancelling any previously scheduled
// waiter for the same key, and blocks for delay. It returns true only if
// the full delay elapsed without a newer Schedule call superseding this
// one; superseded and context-cancelled waiters return false.
func (d *Debouncer) Schedule(ctx context.Context, key string, delay time.Duration) bool {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}

	d.mu.Lock()
	if prev, ok := d.waiters[key]; ok {
		close(prev) // release the superseded waiter with "do not process"
	}
	cancel := make(chan struct{})
	d.waiters[key] = cancel
	d.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-cancel:
		return false
	case <-ctx.Done():
		d.forget(key, cancel)
		return false
	case <-timer.C:
		d.forget(key, cancel)
		return true
	}
}

// forget removes the waiter entry if it is still ours — a newer Schedule
// call may have replaced it already.
func (d *Debouncer) forget(key string, ch chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waiters[key] == ch {
		delete(d.waiters, key)
	}
}

// Pending returns the number of keys with an in-flight waiter.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters)
}
