// Package sched provides a small cancellable one-shot timer used to deliver
// deadline messages into component inboxes. Stop prevents an unfired timer
// from delivering; because delivery crosses a channel, receivers that can
// race a cancellation (e.g. a max-hold timeout against a position close) must
// additionally tag messages with an epoch and ignore stale ones.
package sched

import (
	"sync"
	"time"
)

// Timer is a cancellable one-shot scheduled task.
type Timer struct {
	mu      sync.Mutex
	t       *time.Timer
	stopped bool
}

// After schedules fn to run once after d. fn runs on its own goroutine; it
// should do nothing more than enqueue a message.
func After(d time.Duration, fn func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		tm.mu.Lock()
		stopped := tm.stopped
		tm.mu.Unlock()
		if !stopped {
			fn()
		}
	})
	return tm
}

// Stop cancels the timer. It returns true when the callback was prevented
// from running; false when it already ran or was already stopped. Safe to
// call on a nil Timer and safe to call multiple times.
func (tm *Timer) Stop() bool {
	if tm == nil {
		return false
	}
	tm.mu.Lock()
	already := tm.stopped
	tm.stopped = true
	tm.mu.Unlock()
	if already {
		return false
	}
	return tm.t.Stop()
}
