// Package pool recycles timers used for bounded waits.
package pool

import (
	"sync"
	"time"
)

var timers sync.Pool

// GetTimer returns a timer firing after d. Return it with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	t, ok := timers.Get().(*time.Timer)
	if !ok {
		return time.NewTimer(d)
	}

	// a pooled timer is stopped and drained by PutTimer
	t.Reset(d)

	return t
}

// PutTimer stops t and returns it to the pool. t must not be used afterwards.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}

	timers.Put(t)
}
