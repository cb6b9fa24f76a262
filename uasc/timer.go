// Copyright 2020 Converter Systems LLC. All rights reserved.

package uasc

import (
	"sync"
	"time"
)

// Timer is a cancellable, one-shot delayed action. Cancel is idempotent and
// safe to call after the timer has already fired or been cancelled, which
// keeps callers from needing to track whether a given renewal or timeout
// timer is still live.
type Timer struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
	fired     bool
}

// AfterFunc schedules fn to run once, after d, returning a Timer that can
// cancel it. fn runs on its own goroutine, as with time.AfterFunc.
func AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return
		}
		t.fired = true
		t.mu.Unlock()
		fn()
	})
	return t
}

// Cancel stops the timer if it hasn't already fired. Calling Cancel more
// than once, or after the timer fired, is a no-op.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled || t.fired {
		return
	}
	t.cancelled = true
	t.timer.Stop()
}
