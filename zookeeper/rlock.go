package zookeeper

import (
	"sync"

	"github.com/petermattis/goid"
)

// reentrantMutex is a goroutine-reentrant lock, the Go analogue of Python's
// threading.RLock that the original storage and client rely on throughout
// (storage.lock, the per-client open/close, watches and listeners locks).
// Go's sync.Mutex has no notion of ownership, so ownership is tracked
// explicitly by goroutine id via github.com/petermattis/goid.
type reentrantMutex struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int64
	depth int
}

func newReentrantMutex() *reentrantMutex {
	m := &reentrantMutex{owner: -1}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lock acquires the lock, blocking only if another goroutine currently
// holds it. The calling goroutine may call Lock again before Unlock
// without deadlocking itself.
func (m *reentrantMutex) Lock() {
	id := goid.Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.depth > 0 && m.owner != id {
		m.cond.Wait()
	}
	m.owner = id
	m.depth++
}

// Unlock releases one level of acquisition. The lock is only handed to a
// waiting goroutine once depth returns to zero.
func (m *reentrantMutex) Unlock() {
	id := goid.Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 || m.owner != id {
		panic("zookeeper: reentrantMutex unlocked by non-owner")
	}
	m.depth--
	if m.depth == 0 {
		m.owner = -1
		m.cond.Signal()
	}
}

// TryLock attempts a non-blocking acquisition, used by the transaction
// engine to detect concurrent modification without ever parking a
// goroutine (commit() must fail fast with a Runtime error instead).
func (m *reentrantMutex) TryLock() bool {
	id := goid.Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth > 0 && m.owner != id {
		return false
	}
	m.owner = id
	m.depth++
	return true
}
