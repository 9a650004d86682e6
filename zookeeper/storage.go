package zookeeper

import (
	"math"
	"sort"
	"time"
)

// seqRollover and seqRolloverTo implement the signed 32-bit wraparound
// of the per-parent sequence counters: wrapping occurs at the boundary
// of a signed 32-bit int (see https://issues.apache.org/jira/browse/ZOOKEEPER-243
// for the behavior this emulates) and is done by an explicit comparison
// rather than by relying on native int32 overflow.
const (
	seqRollover   = math.MaxInt32
	seqRolloverTo = math.MinInt32
)

// znode is the internal record kept per path. The exported Stat view is
// derived from it on read rather than stored redundantly.
type znode struct {
	data           []byte
	version        int32
	aversion       int32
	cversion       int32
	createdOn      int64
	updatedOn      int64
	ephemeral      bool
	ephemeralOwner int64
}

func newZnode(data []byte) *znode {
	now := millitime()
	return &znode{
		data:      data,
		version:   0,
		aversion:  -1,
		cversion:  -1,
		createdOn: now,
		updatedOn: now,
	}
}

func millitime() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// Stat is the metadata view returned alongside znode data. The zxid-style
// fields echo version, as the spec allows: the emulator never allocates a
// real globally ordered transaction id.
type Stat struct {
	Czxid          int64
	Mzxid          int64
	Pzxid          int64
	Ctime          int64
	Mtime          int64
	Version        int32
	Aversion       int32
	Cversion       int32
	EphemeralOwner int64
	DataLength     int32
	NumChildren    int32
}

func (n *znode) stat(childCount int) Stat {
	owner := int64(0)
	if n.ephemeral {
		owner = n.ephemeralOwner
	}
	return Stat{
		Czxid:          int64(n.version),
		Mzxid:          int64(n.version),
		Pzxid:          int64(n.version),
		Ctime:          n.createdOn,
		Mtime:          n.updatedOn,
		Version:        n.version,
		Aversion:       n.aversion,
		Cversion:       n.cversion,
		EphemeralOwner: owner,
		DataLength:     int32(len(n.data)),
		NumChildren:    int32(childCount),
	}
}

// attachedClient is the narrow surface Storage needs from a Client in
// order to fan out watch events; Client implements it.
type attachedClient interface {
	fireDataWatches(batches []watchBatch)
	fireChildWatches(batches []watchBatch)
	sessionID() int64
}

// watchBatch pairs the set of paths a single logical mutation touched with
// the one event to deliver to watchers of any of them.
type watchBatch struct {
	paths []string
	event Event
}

// Storage owns the path -> znode tree, the per-parent sequence counters,
// and the set of attached clients. All mutation is funneled through its
// lock; event fan-out (Inform) runs outside of it.
type Storage struct {
	lock       *reentrantMutex
	clientLock *reentrantMutex

	paths     map[string]*znode
	sequences map[string]int32

	clients map[attachedClient]struct{}
}

// NewStorage constructs an empty tree with the root path pre-populated,
// per invariant 1.
func NewStorage() *Storage {
	s := &Storage{
		lock:       newReentrantMutex(),
		clientLock: newReentrantMutex(),
		paths:      make(map[string]*znode),
		sequences:  make(map[string]int32),
		clients:    make(map[attachedClient]struct{}),
	}
	s.paths[rootPath] = newZnode(nil)
	return s
}

// Lock exposes the storage lock so the partial client and transactions can
// hold it across multi-step operations.
func (s *Storage) Lock() Locker { return s.lock }

func (s *Storage) attach(c attachedClient) {
	s.clientLock.Lock()
	defer s.clientLock.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Storage) detach(c attachedClient) {
	s.clientLock.Lock()
	defer s.clientLock.Unlock()
	delete(s.clients, c)
}

func (s *Storage) has(path string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.paths[path]
	return ok
}

// Get returns the data and Stat for path, or a *Error{Code: ErrNoNode}.
func (s *Storage) Get(path string) ([]byte, Stat, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	n, ok := s.paths[path]
	if !ok {
		return nil, Stat{}, errNoNode(path)
	}
	return n.data, n.stat(len(s.childrenLocked(path, true))), nil
}

// Set overwrites path's data, enforcing optimistic concurrency when
// version is not -1, and returns the node's new Stat.
func (s *Storage) Set(path string, value []byte, version int32) (Stat, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	n, ok := s.paths[path]
	if !ok {
		return Stat{}, errNoNode(path)
	}
	if version != -1 && n.version != version {
		return Stat{}, errBadVersion(path, version, n.version)
	}
	n.data = value
	n.updatedOn = millitime()
	n.version++
	return n.stat(len(s.childrenLocked(path, true))), nil
}

// Create inserts a new znode, optionally appending a sequence suffix.
// It returns the ancestor paths (ascending order) so the caller can
// construct a CHILD watch event, and the final path used (which may
// differ from the requested one when sequence is set).
func (s *Storage) Create(path string, value []byte, sequence, ephemeral bool, sessionID int64) (ancestors []string, finalPath string, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	parentPath := parentOf(path)
	if sequence {
		path = s.nextSequentialPath(path, parentPath)
	}

	if _, ok := s.paths[parentPath]; !ok {
		if sequence {
			delete(s.sequences, parentPath)
		}
		return nil, "", errNoNode(parentPath)
	}
	if ephemeral && sessionID == 0 {
		return nil, "", errSystemZookeeper(path, "ephemeral node can not be created without a session id")
	}
	if _, ok := s.paths[path]; ok {
		return nil, "", errNodeExists(path)
	}

	parents := sortedKeys(s.parentsLocked(path))
	for _, p := range reversedStrings(parents) {
		if s.paths[p].ephemeral {
			return nil, "", errNoChildrenForEphemerals(p)
		}
	}

	n := newZnode(value)
	if ephemeral {
		n.ephemeral = true
		n.ephemeralOwner = sessionID
	}
	s.paths[path] = n
	return parents, path, nil
}

func (s *Storage) nextSequentialPath(path, parentPath string) string {
	for {
		seqID := s.sequences[parentPath]
		if seqID == seqRollover {
			s.sequences[parentPath] = seqRolloverTo
		} else {
			s.sequences[parentPath] = seqID + 1
		}
		candidate := path + formatSequence(seqID)
		if _, exists := s.paths[candidate]; !exists {
			return candidate
		}
	}
}

func formatSequence(n int32) string {
	// 10-digit, zero-padded decimal suffix. A negative id (after the
	// signed 32-bit wrap) gets a leading '-' ahead of its ten digits, so
	// unlike printf's %010d the sign does not count toward the width.
	neg := n < 0
	digits := int64(n)
	if neg {
		digits = -digits
	}
	out := make([]byte, 0, 11)
	s := formatDigits(digits, 10)
	if neg {
		out = append(out, '-')
	}
	out = append(out, []byte(s)...)
	return string(out)
}

func formatDigits(v int64, width int) string {
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf)
}

// Pop deletes the znode at path. Deleting the root is rejected.
func (s *Storage) Pop(path string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if path == rootPath {
		return errBadArguments(path, "can not delete root path")
	}
	delete(s.paths, path)
	return nil
}

// GetChildren returns path's descendants (direct children only, unless
// onlyDirect is false) keyed by path.
func (s *Storage) GetChildren(path string, onlyDirect bool) map[string][]byte {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := map[string][]byte{}
	for p, n := range s.childrenLocked(path, onlyDirect) {
		out[p] = n.data
	}
	return out
}

func (s *Storage) childrenLocked(path string, onlyDirect bool) map[string]*znode {
	out := map[string]*znode{}
	for other, n := range s.paths {
		if isChildPath(path, other, onlyDirect) {
			out[other] = n
		}
	}
	return out
}

// GetParents returns every currently-present ancestor of path.
func (s *Storage) GetParents(path string) map[string][]byte {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := map[string][]byte{}
	for p, n := range s.parentsLocked(path) {
		out[p] = n.data
	}
	return out
}

func (s *Storage) parentsLocked(path string) map[string]*znode {
	out := map[string]*znode{}
	for other, n := range s.paths {
		if isChildPath(other, path, false) {
			out[other] = n
		}
	}
	return out
}

// Version returns the current version of path, used by transaction check
// operations without going through the (data, Stat) pair.
func (s *Storage) Version(path string) (int32, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	n, ok := s.paths[path]
	if !ok {
		return 0, false
	}
	return n.version, true
}

// Transaction runs fn with the storage lock held, snapshotting the path
// map and sequence counters first. If fn returns an error, both are
// restored to their pre-call state before the error is propagated -- the
// only rollback mechanism the emulator has, matching invariant 8.
func (s *Storage) Transaction(fn func() error) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	savedPaths := make(map[string]*znode, len(s.paths))
	for k, v := range s.paths {
		saved := *v
		savedPaths[k] = &saved
	}
	savedSequences := make(map[string]int32, len(s.sequences))
	for k, v := range s.sequences {
		savedSequences[k] = v
	}
	if err := fn(); err != nil {
		s.paths = savedPaths
		s.sequences = savedSequences
		return err
	}
	return nil
}

// Purge removes every ephemeral znode owned by c's session (a no-op if c
// never established one), synthesizing DELETED data/child watch events and
// informing every other attached client of them. It returns the number of
// ephemerals removed.
func (s *Storage) Purge(c attachedClient) int {
	if c.sessionID() == 0 {
		return 0
	}
	s.clientLock.Lock()
	if _, ok := s.clients[c]; !ok {
		s.clientLock.Unlock()
		return 0
	}
	delete(s.clients, c)
	s.clientLock.Unlock()

	var removed []string
	s.lock.Lock()
	for path, n := range s.paths {
		if n.ephemeral && n.ephemeralOwner == c.sessionID() {
			removed = append(removed, path)
		}
	}
	// Reverse lexicographic order, deepest first, matching the recursive
	// delete path: watch events must fire in that order across paths.
	removed = dedupReverseSorted(removed)
	dataWatches := make([]watchBatch, 0, len(removed))
	for _, p := range removed {
		dataWatches = append(dataWatches, watchBatch{
			paths: []string{p},
			event: Event{Type: EventDeleted, State: StateConnected, Path: p},
		})
	}
	var firedParents []string
	seen := map[string]bool{}
	for _, p := range removed {
		for _, parent := range sortedKeys(s.parentsLocked(p)) {
			if !seen[parent] {
				seen[parent] = true
				firedParents = append(firedParents, parent)
			}
		}
	}
	firedParents = dedupReverseSorted(firedParents)
	childWatches := make([]watchBatch, 0, len(firedParents))
	for _, p := range firedParents {
		childWatches = append(childWatches, watchBatch{
			paths: []string{p},
			event: Event{Type: EventDeleted, State: StateConnected, Path: p},
		})
	}
	for _, p := range removed {
		delete(s.paths, p)
	}
	s.lock.Unlock()

	s.Inform(c, childWatches, dataWatches, false)
	return len(removed)
}

// Inform delivers data/child watch batches to every attached client,
// skipping the origin client unless informSelf is set. It snapshots the
// client set first so delivery never holds the client lock while firing
// (per-client) watches.
func (s *Storage) Inform(origin attachedClient, childWatches, dataWatches []watchBatch, informSelf bool) {
	s.clientLock.Lock()
	clients := make([]attachedClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientLock.Unlock()

	for _, c := range clients {
		if !informSelf && c == origin {
			continue
		}
		c.fireChildWatches(childWatches)
		c.fireDataWatches(dataWatches)
	}
}

func sortedKeys(m map[string]*znode) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func reversedStrings(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[len(in)-1-i] = s
	}
	return out
}
