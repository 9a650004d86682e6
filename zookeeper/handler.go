package zookeeper

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler is the scheduling primitive every Client is built against. It supplies reentrant locks, a manual-reset event, future-like
// async results, and a single background dispatch loop that callbacks are
// posted to. Callbacks always run on the dispatch goroutine, in the order
// they were enqueued -- this is the backbone of the ordering guarantees
// watches and async results rely on. Swapping Handler implementations
// (e.g. for a deterministic test handler) does not change that contract.
type Handler interface {
	RLockObject() Locker
	EventObject() *ManualResetEvent
	AsyncResultObject() *AsyncResult
	DispatchCallback(cb func())
	Start()
	Stop()
}

// Locker is satisfied by reentrantMutex; it is exported as an interface so
// callers holding a Handler never need to import the concrete lock type.
// TryLock is part of the contract (not just Lock/Unlock) because the
// transaction engine needs a non-blocking probe to fail fast instead of
// parking a goroutine behind a commit already in progress.
type Locker interface {
	Lock()
	Unlock()
	TryLock() bool
}

// SequentialHandler is the default Handler: one worker goroutine drains a
// FIFO queue of callbacks, serially, for the lifetime of the handler. It is
// the Go counterpart of kazoo's SequentialThreadingHandler, which the
// original fake client embeds directly.
type SequentialHandler struct {
	logger *logrus.Entry

	mu      sync.Mutex
	queue   []func()
	notify  chan struct{}
	done    chan struct{}
	running bool
}

// NewSequentialHandler constructs a handler with its dispatch loop
// stopped; callers must call Start before posting callbacks that need to
// run (Client.Start does this automatically for handlers it owns).
func NewSequentialHandler() *SequentialHandler {
	return &SequentialHandler{
		logger: logrus.WithField("component", "handler"),
		notify: make(chan struct{}, 1),
	}
}

func (h *SequentialHandler) RLockObject() Locker {
	return newReentrantMutex()
}

func (h *SequentialHandler) EventObject() *ManualResetEvent {
	return newManualResetEvent()
}

func (h *SequentialHandler) AsyncResultObject() *AsyncResult {
	return newAsyncResult()
}

// DispatchCallback enqueues cb for serial execution on the dispatch
// goroutine. A callback that panics is recovered and logged rather than
// allowed to kill the loop -- one bad watch callback must not silence
// every other client attached to the same storage.
func (h *SequentialHandler) DispatchCallback(cb func()) {
	h.mu.Lock()
	h.queue = append(h.queue, cb)
	h.mu.Unlock()
	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *SequentialHandler) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.done = make(chan struct{})
	go h.loop(h.done)
}

func (h *SequentialHandler) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	done := h.done
	h.mu.Unlock()
	close(done)
}

func (h *SequentialHandler) loop(done chan struct{}) {
	for {
		select {
		case <-done:
			h.drain()
			return
		case <-h.notify:
		}
		h.drain()
	}
}

// drain runs every callback currently queued. Called both on the normal
// notify path and once more on shutdown, so a callback enqueued just
// before Stop (e.g. the state-change broadcast a closing Client posts)
// is never silently dropped by a done/notify race in loop's select.
func (h *SequentialHandler) drain() {
	for {
		cb, ok := h.pop()
		if !ok {
			return
		}
		h.invoke(cb)
	}
}

func (h *SequentialHandler) pop() (func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return nil, false
	}
	cb := h.queue[0]
	h.queue = h.queue[1:]
	return cb, true
}

func (h *SequentialHandler) invoke(cb func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithField("panic", r).Warn("watch callback panicked, dispatch loop continues")
		}
	}()
	cb()
}

// ManualResetEvent is the Go analogue of threading.Event: once Set, every
// past and future Wait call returns immediately.
type ManualResetEvent struct {
	mu   sync.Mutex
	ch   chan struct{}
	done bool
}

func newManualResetEvent() *ManualResetEvent {
	return &ManualResetEvent{ch: make(chan struct{})}
}

func (e *ManualResetEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.done {
		e.done = true
		close(e.ch)
	}
}

func (e *ManualResetEvent) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func (e *ManualResetEvent) Wait() {
	<-e.ch
}

// AsyncResult is a minimal future: exactly one of Set or SetException may
// be called, after which Get returns immediately to every caller,
// including ones that arrive after the result was already delivered.
type AsyncResult struct {
	done  chan struct{}
	once  sync.Once
	value interface{}
	err   error
}

func newAsyncResult() *AsyncResult {
	return &AsyncResult{done: make(chan struct{})}
}

func (r *AsyncResult) Set(value interface{}) {
	r.once.Do(func() {
		r.value = value
		close(r.done)
	})
}

func (r *AsyncResult) SetException(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Get blocks until the async operation completes, returning its value or
// error. The core never imposes a timeout here -- callers that want one
// must select on their own channel/timer alongside Done().
func (r *AsyncResult) Get() (interface{}, error) {
	<-r.done
	return r.value, r.err
}

// Done exposes the completion channel directly for callers that want to
// select on it alongside other events instead of blocking in Get.
func (r *AsyncResult) Done() <-chan struct{} {
	return r.done
}
