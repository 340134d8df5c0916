// Package pool provides pooled timers and byte buffers for the hot paths of the
// frame codec and the acknowledgment queue.
package pool

import (
	"sync"
	"time"
)

var timerPool = sync.Pool{
	New: func() any { return time.NewTimer(time.Hour) },
}

// GetTimer returns a timer set to fire after d, taken from the pool.
//
// Return the timer to the pool with PutTimer.
func GetTimer(d time.Duration) *time.Timer {
	t, _ := timerPool.Get().(*time.Timer)
	if t.Reset(d) {
		// Timer was still active, drain the channel to prevent a stale fire
		select {
		case <-t.C:
		default:
		}
	}
	return t
}

// PutTimer stops the timer and returns it to the pool.
//
// t cannot be accessed after returning to the pool.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		// Drain t.C if it wasn't received by the caller yet.
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}
