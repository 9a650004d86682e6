package zookeeper

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultServerVersion is reported by Command's "stat"/"envi" replies and
// by ServerVersion, unless the client was constructed with an override.
var DefaultServerVersion = [3]int{3, 4, 0}

const noACLMessage = "ACLs are not supported by this emulator"

// Client is the facade applications talk to: it owns session lifecycle,
// watch registration, state-change listener fan-out, and the async
// variants of every operation. The actual tree mutation is delegated to an
// internal partialClient; Client's job is verifying preconditions,
// recording watches, and asking Storage to inform every attached client
// once a mutation succeeds.
type Client struct {
	handler    Handler
	ownHandler bool
	storage    *Storage
	partial    *partialClient

	logger *logrus.Entry

	openCloseLock Locker
	watchesLock   Locker
	listenersLock Locker

	// connected is read outside any lock (verify, Connected, the
	// watch-fire connected check), so it's an atomic rather than a plain
	// bool guarded only by openCloseLock.
	connected atomic.Bool
	expired   bool
	sessID    int64

	dataWatchers  map[string][]Watch
	childWatchers map[string][]Watch
	listenerFuncs []StateListener

	serverVersion [3]int
}

// ClientOption customizes a Client at construction time.
type ClientOption func(*Client)

// WithHandler attaches an externally owned Handler instead of letting the
// Client create (and later stop) its own SequentialHandler.
func WithHandler(h Handler) ClientOption {
	return func(c *Client) {
		c.handler = h
		c.ownHandler = false
	}
}

// WithStorage attaches the Client to a pre-existing Storage -- the
// mechanism multiple clients use to share one in-process tree.
func WithStorage(s *Storage) ClientOption {
	return func(c *Client) {
		c.storage = s
	}
}

// WithServerVersion overrides the (major, minor, patch) tuple reported by
// the four-letter command protocol.
func WithServerVersion(major, minor, patch int) ClientOption {
	return func(c *Client) {
		c.serverVersion = [3]int{major, minor, patch}
	}
}

// NewClient constructs a disconnected Client. Call Start to attach it to
// its storage and begin a session.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		dataWatchers:  make(map[string][]Watch),
		childWatchers: make(map[string][]Watch),
		serverVersion: DefaultServerVersion,
		ownHandler:    true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.handler == nil {
		c.handler = NewSequentialHandler()
	}
	if c.storage == nil {
		c.storage = NewStorage()
	}
	c.partial = newPartialClient(c.storage)
	c.openCloseLock = c.handler.RLockObject()
	c.watchesLock = c.handler.RLockObject()
	c.listenersLock = c.handler.RLockObject()
	c.logger = logrus.WithField("component", "client")
	return c
}

// Handler exposes the handler backing this client's dispatch loop.
func (c *Client) Handler() Handler { return c.handler }

// Storage exposes the tree this client is attached to, so a second client
// can be constructed with WithStorage(c.Storage()) to share it.
func (c *Client) Storage() *Storage { return c.storage }

func (c *Client) sessionID() int64 { return c.sessID }

// SessionID returns the current session identifier, or 0 if disconnected.
func (c *Client) SessionID() int64 { return c.sessID }

// Connected reports whether Start has completed and Close has not since.
func (c *Client) Connected() bool { return c.connected.Load() }

// ServerVersion returns the (major, minor, patch) tuple this client
// mimics in its four-letter command responses.
func (c *Client) ServerVersion() [3]int { return c.serverVersion }

// Start transitions the client from disconnected to connected, exactly
// once per cycle: it clears watch registries, attaches to storage, starts
// the handler if this client owns it, assigns a fresh session id, and
// broadcasts CONNECTED to listeners.
func (c *Client) Start() {
	c.openCloseLock.Lock()
	defer c.openCloseLock.Unlock()
	c.startLocked()
	c.logger.WithField("session", c.sessID).Info("session established")
}

// Restart closes then starts the client, returning the session id that
// was active before the cycle.
func (c *Client) Restart() int64 {
	c.openCloseLock.Lock()
	defer c.openCloseLock.Unlock()
	before := c.sessID
	c.closeLocked()
	c.startLocked()
	return before
}

func (c *Client) startLocked() {
	if c.connected.Load() {
		return
	}
	c.connected.Store(true)
	c.expired = false
	c.watchesLock.Lock()
	c.childWatchers = make(map[string][]Watch)
	c.dataWatchers = make(map[string][]Watch)
	c.watchesLock.Unlock()
	c.storage.attach(c)
	if c.ownHandler {
		c.handler.Start()
	}
	c.sessID = newSessionID()
	c.fireStateChange(StateConnected)
}

// Close is the symmetric operation to Start: it purges this client's
// ephemeral nodes, broadcasts LOST, and (if this client owns its handler)
// stops it.
func (c *Client) Close() {
	c.openCloseLock.Lock()
	defer c.openCloseLock.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if !c.connected.Load() {
		return
	}
	c.connected.Store(false)
	c.watchesLock.Lock()
	c.childWatchers = make(map[string][]Watch)
	c.dataWatchers = make(map[string][]Watch)
	c.watchesLock.Unlock()
	c.storage.Purge(c)
	c.fireStateChange(StateLost)
	if c.ownHandler {
		c.handler.Stop()
	}
	c.partial.sessionID = 0
	c.sessID = 0
}

// Stop is an alias for Close, matching the vocabulary used by the
// four-letter "kill" command.
func (c *Client) Stop() { c.Close() }

func (c *Client) fireStateChange(s State) {
	c.listenersLock.Lock()
	funcs := append([]StateListener(nil), c.listenerFuncs...)
	c.listenersLock.Unlock()
	for _, fn := range funcs {
		fn := fn
		c.handler.DispatchCallback(func() { fn(s) })
	}
}

// AddListener registers a callback invoked with the client's new state on
// every future Start/Close/Restart.
func (c *Client) AddListener(l StateListener) {
	c.listenersLock.Lock()
	defer c.listenersLock.Unlock()
	c.listenerFuncs = append(c.listenerFuncs, l)
}

// verify gates every operation: it fails closed if the client has never
// connected (or has since been closed), and fails expired if flagged so.
func (c *Client) verify() error {
	if !c.connected.Load() {
		return errConnectionClosed()
	}
	if c.expired {
		return errSessionExpired()
	}
	return nil
}

// Get returns path's data and Stat, optionally registering watch to fire
// on the next CHANGED or DELETED event for path.
func (c *Client) Get(path string, watch Watch) ([]byte, Stat, error) {
	if err := c.verify(); err != nil {
		return nil, Stat{}, err
	}
	path = normalize(path, false)
	data, stat, err := c.storage.Get(path)
	if err != nil {
		return nil, Stat{}, err
	}
	if watch != nil {
		c.watchesLock.Lock()
		c.dataWatchers[path] = append(c.dataWatchers[path], watch)
		c.watchesLock.Unlock()
	}
	return data, stat, nil
}

// GetAsync dispatches Get on the handler's worker goroutine and returns an
// AsyncResult holding its eventual ([]byte, Stat) pair or error.
func (c *Client) GetAsync(path string, watch Watch) *AsyncResult {
	return c.dispatchAsync(func() (interface{}, error) {
		data, stat, err := c.Get(path, watch)
		return [2]interface{}{data, stat}, err
	})
}

// Exists returns path's Stat (nil if absent), registering watch so the
// caller learns about a later create, change, or delete either way.
func (c *Client) Exists(path string, watch Watch) (*Stat, error) {
	if err := c.verify(); err != nil {
		return nil, err
	}
	path = normalize(path, false)
	_, stat, err := c.storage.Get(path)
	var result *Stat
	if err == nil {
		result = &stat
	} else if !Is(err, ErrNoNode) {
		return nil, err
	}
	if watch != nil {
		c.watchesLock.Lock()
		c.dataWatchers[path] = append(c.dataWatchers[path], watch)
		c.watchesLock.Unlock()
	}
	return result, nil
}

// ExistsAsync is the async variant of Exists.
func (c *Client) ExistsAsync(path string, watch Watch) *AsyncResult {
	return c.dispatchAsync(func() (interface{}, error) {
		return c.Exists(path, watch)
	})
}

// GetChildren returns the names of path's direct children (relative to
// path, per kazoo convention), optionally registering watch.
func (c *Client) GetChildren(path string, watch Watch) ([]string, error) {
	if err := c.verify(); err != nil {
		return nil, err
	}
	path = normalize(path, false)
	if !c.storage.has(path) {
		return nil, errNoNode(path)
	}
	children := c.storage.GetChildren(path, true)
	if watch != nil {
		c.watchesLock.Lock()
		c.childWatchers[path] = append(c.childWatchers[path], watch)
		c.watchesLock.Unlock()
	}
	names := make([]string, 0, len(children))
	prefix := path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	for full := range children {
		names = append(names, strings.TrimPrefix(full, prefix))
	}
	return names, nil
}

// GetChildrenAsync is the async variant of GetChildren.
func (c *Client) GetChildrenAsync(path string, watch Watch) *AsyncResult {
	return c.dispatchAsync(func() (interface{}, error) {
		return c.GetChildren(path, watch)
	})
}

// CreateOptions configures Create. Ephemeral and Sequence combine freely;
// MakePath creates missing ancestors first.
type CreateOptions struct {
	Ephemeral bool
	Sequence  bool
	MakePath  bool
}

// Create adds a znode at path (possibly suffixed, if opts.Sequence) with
// the given value, and returns the path actually created.
func (c *Client) Create(path string, value []byte, opts CreateOptions) (string, error) {
	if err := c.verify(); err != nil {
		return "", err
	}
	c.partial.sessionID = c.sessID
	result, err := c.partial.create(path, value, opts.Ephemeral, opts.Sequence, opts.MakePath)
	if err != nil {
		return "", err
	}
	c.storage.Inform(c, result.childWatches, result.dataWatches, true)
	return result.value.(string), nil
}

// CreateAsync is the async variant of Create.
func (c *Client) CreateAsync(path string, value []byte, opts CreateOptions) *AsyncResult {
	return c.dispatchAsync(func() (interface{}, error) {
		return c.Create(path, value, opts)
	})
}

// Set replaces path's data, enforcing optimistic concurrency when version
// is not -1.
func (c *Client) Set(path string, value []byte, version int32) (Stat, error) {
	if err := c.verify(); err != nil {
		return Stat{}, err
	}
	result, err := c.partial.set(path, value, version)
	if err != nil {
		return Stat{}, err
	}
	c.storage.Inform(c, result.childWatches, result.dataWatches, true)
	return result.value.(Stat), nil
}

// SetAsync is the async variant of Set.
func (c *Client) SetAsync(path string, value []byte, version int32) *AsyncResult {
	return c.dispatchAsync(func() (interface{}, error) {
		return c.Set(path, value, version)
	})
}

// Delete removes path, recursively if requested, enforcing optimistic
// concurrency when version is not -1.
func (c *Client) Delete(path string, version int32, recursive bool) error {
	if err := c.verify(); err != nil {
		return err
	}
	result, err := c.partial.delete(path, version, recursive)
	if err != nil {
		return err
	}
	c.storage.Inform(c, result.childWatches, result.dataWatches, true)
	return nil
}

// DeleteAsync is the async variant of Delete.
func (c *Client) DeleteAsync(path string, version int32, recursive bool) *AsyncResult {
	return c.dispatchAsync(func() (interface{}, error) {
		return nil, c.Delete(path, version, recursive)
	})
}

// EnsurePath iteratively creates every ancestor of path that doesn't yet
// exist, in ascending order, swallowing NodeExists per segment.
func (c *Client) EnsurePath(path string) error {
	if err := c.verify(); err != nil {
		return err
	}
	path = normalize(path, false)
	for _, piece := range partition(path) {
		if _, err := c.Create(piece, nil, CreateOptions{}); err != nil && !Is(err, ErrNodeExists) {
			return err
		}
	}
	return nil
}

// EnsurePathAsync is the async variant of EnsurePath.
func (c *Client) EnsurePathAsync(path string) *AsyncResult {
	return c.dispatchAsync(func() (interface{}, error) {
		return nil, c.EnsurePath(path)
	})
}

// Transaction starts a staged multi-operation request against this
// client.
func (c *Client) Transaction() *Transaction {
	return newTransaction(c)
}

// Flush enqueues a sentinel callback and blocks until the dispatch loop
// has observed it, i.e. every callback enqueued before this call has
// already run.
func (c *Client) Flush() error {
	if err := c.verify(); err != nil {
		return err
	}
	ev := c.handler.EventObject()
	c.handler.DispatchCallback(func() { ev.Set() })
	ev.Wait()
	return nil
}

// Command implements the four-letter-word compatibility surface: ruok,
// stat, envi, and kill.
func (c *Client) Command(cmd []byte) (string, error) {
	if err := c.verify(); err != nil {
		return "", err
	}
	switch string(cmd) {
	case "ruok":
		return "imok", nil
	case "stat":
		v := c.serverVersionString()
		return fmt.Sprintf("Emulated server version: %s\nMode: standalone", v), nil
	case "envi":
		v := c.serverVersionString()
		return fmt.Sprintf("Environment:\nzookeeper.version=%s", v), nil
	case "kill":
		c.Close()
		return "", nil
	default:
		return "", nil
	}
}

func (c *Client) serverVersionString() string {
	return fmt.Sprintf("%d.%d.%d", c.serverVersion[0], c.serverVersion[1], c.serverVersion[2])
}

// fireDataWatches and fireChildWatches satisfy attachedClient; Storage
// calls them while fanning out the events a mutation produced.
func (c *Client) fireDataWatches(batches []watchBatch) {
	c.watchesLock.Lock()
	source := c.dataWatchers
	reg := &watchRegistry{lock: c.watchesLock, dataWatchers: c.dataWatchers, childWatchers: c.childWatchers}
	c.watchesLock.Unlock()
	fireWatches(reg, source, batches, func() bool { return c.connected.Load() }, c.handler.DispatchCallback)
}

func (c *Client) fireChildWatches(batches []watchBatch) {
	c.watchesLock.Lock()
	source := c.childWatchers
	reg := &watchRegistry{lock: c.watchesLock, dataWatchers: c.dataWatchers, childWatchers: c.childWatchers}
	c.watchesLock.Unlock()
	fireWatches(reg, source, batches, func() bool { return c.connected.Load() }, c.handler.DispatchCallback)
}

func (c *Client) dispatchAsync(fn func() (interface{}, error)) *AsyncResult {
	result := c.handler.AsyncResultObject()
	c.handler.DispatchCallback(func() {
		value, err := fn()
		if err != nil {
			result.SetException(err)
		} else {
			result.Set(value)
		}
	})
	return result
}

// SetACL and GetACL always fail: the emulator explicitly rejects ACL
// arguments.
func (c *Client) SetACL(path string, version int32) error {
	return fmt.Errorf(noACLMessage)
}

func (c *Client) GetACL(path string) error {
	return fmt.Errorf(noACLMessage)
}

var sessionCounter struct {
	mu sync.Mutex
	n  uint32
}

// newSessionID derives a non-zero session identifier from a random UUID.
// A monotonic counter is folded in so that two sessions created within the
// same clock tick on the same machine can never collide even under a
// pathological UUID source.
func newSessionID() int64 {
	sessionCounter.mu.Lock()
	sessionCounter.n++
	counter := sessionCounter.n
	sessionCounter.mu.Unlock()

	u := uuid.New()
	raw := binary.BigEndian.Uint64(u[:8]) ^ uint64(counter)<<32 ^ uint64(time.Now().UnixNano())
	id := int64(raw &^ (1 << 63))
	if id == 0 {
		id = int64(counter) + 1
	}
	return id
}
