package zookeeper

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReentrantMutexSameGoroutineReenters(t *testing.T) {
	m := newReentrantMutex()
	m.Lock()
	defer m.Unlock()

	done := make(chan struct{})
	go func() {
		m.Lock()
		m.Unlock()
		close(done)
	}()

	// The nested Lock on this goroutine must not block.
	m.Lock()
	m.Unlock()

	select {
	case <-done:
		t.Fatal("a different goroutine acquired the lock while the owner still held it")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReentrantMutexHandsOffAfterFullUnlock(t *testing.T) {
	m := newReentrantMutex()
	m.Lock()
	m.Lock()

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := make(chan struct{})
	go func() {
		defer wg.Done()
		m.Lock()
		close(acquired)
		m.Unlock()
	}()

	m.Unlock() // depth 2 -> 1, still owned
	select {
	case <-acquired:
		t.Fatal("other goroutine acquired before the owner's depth reached zero")
	case <-time.After(20 * time.Millisecond):
	}

	m.Unlock() // depth 1 -> 0, released
	wg.Wait()
}

func TestReentrantMutexTryLockFailsForOtherGoroutine(t *testing.T) {
	m := newReentrantMutex()
	m.Lock()
	defer m.Unlock()

	failed := make(chan bool, 1)
	go func() {
		failed <- m.TryLock()
	}()

	require.False(t, <-failed)
}

func TestReentrantMutexUnlockByNonOwnerPanics(t *testing.T) {
	m := newReentrantMutex()
	m.Lock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			require.NotNil(t, recover())
		}()
		m.Unlock()
	}()
	<-done
	m.Unlock()
}
