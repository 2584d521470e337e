package sph

import (
	"runtime"
	"sync/atomic"
)

// spinlock is a non-blocking test-and-set lock guarding a single cell's
// mutation under concurrent scheduling (spec §3.2, §5). Pair and sub tasks
// acquire the locks of their acting cells with TryLock, in a fixed order by
// cell handle, never Lock: a contended cell sends the task back to the
// ready queue rather than parking a worker goroutine (spec §4.4's "only
// source of scheduler back-off").
type spinlock struct {
	state atomic.Bool
}

// TryLock attempts to acquire the lock without blocking.
func (s *spinlock) TryLock() bool {
	return s.state.CompareAndSwap(false, true)
}

// Lock spins until the lock is acquired. Nothing in this package calls it;
// the scheduler uses TryLock only, so it never blocks here.
func (s *spinlock) Lock() {
	for !s.TryLock() {
		runtime.Gosched()
	}
}

// Unlock releases the lock. Unlocking an already-unlocked spinlock is a bug
// in the caller and is not guarded against: hot-path primitives stay cheap
// and unchecked.
func (s *spinlock) Unlock() {
	s.state.Store(false)
}
