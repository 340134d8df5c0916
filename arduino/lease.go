package arduino

import "sync/atomic"

// writeLease is the single-flight token for the transport. Exactly one
// write+drain+await-ack cycle may hold it at a time; every other pump
// invocation backs off until the holder releases it.
type writeLease struct {
	held atomic.Bool
}

// tryAcquire takes the lease. It returns false when another cycle holds it.
func (l *writeLease) tryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// release returns the lease.
func (l *writeLease) release() {
	l.held.Store(false)
}

// isHeld reports whether a write cycle currently holds the lease.
func (l *writeLease) isHeld() bool {
	return l.held.Load()
}
