package worker

import "sync/atomic"

// serveLock is a non-blocking mutex guarding Serve against re-entry
type serveLock struct {
	state atomic.Int32 // 0 = idle, 1 = serving
}

// TryAcquire returns false when a loop is already running
func (l *serveLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release must only be called by the goroutine that acquired the lock
func (l *serveLock) Release() {
	l.state.Store(0)
}
