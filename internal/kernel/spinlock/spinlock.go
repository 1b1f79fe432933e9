// Package spinlock implements the inter-core spinlock that serializes
// PendSV handlers across cores. The scheduler takes it only in its
// PendSV handler; Release, Block, Unblock and TaskExit update the
// ready/blocked bitmaps without it.
//
// It is built on gvisor.dev/gvisor/pkg/atomicbitops, the same
// lock-free-integer package used for the scheduler's ready/blocked
// bitmaps (internal/kernel/sched).
package spinlock

import "gvisor.dev/gvisor/pkg/atomicbitops"

const (
	unlocked uint32 = 0
	locked   uint32 = 1
)

// SpinLock is a test-and-test-and-set spinlock. On a single-core build
// it still serializes PendSV against itself; the cost is one
// uncontended CompareAndSwap.
type SpinLock struct {
	state atomicbitops.Uint32
}

// New returns an unlocked SpinLock.
func New() *SpinLock {
	return &SpinLock{state: atomicbitops.FromUint32(unlocked)}
}

// Lock spins until the lock is acquired. Acquisitions are not
// guaranteed FIFO; a single PendSV critical section per core makes
// contention here rare and short.
func (s *SpinLock) Lock() {
	for {
		if s.state.Load() == unlocked && s.state.CompareAndSwap(unlocked, locked) {
			return
		}
	}
}

// TryLock attempts to acquire the lock without spinning, reporting
// whether it succeeded.
func (s *SpinLock) TryLock() bool {
	return s.state.CompareAndSwap(unlocked, locked)
}

// Unlock releases the lock. Calling Unlock without holding the lock is a
// caller bug, the same as with sync.Mutex.
func (s *SpinLock) Unlock() {
	s.state.Store(unlocked)
}
