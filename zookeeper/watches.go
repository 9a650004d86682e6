package zookeeper

import "sort"

// watchRegistry holds one client's one-shot watch callbacks, split by path
// and by which kind of event they care about. A watch is removed from its
// list atomically the instant it fires -- a later event on the same path
// can never re-invoke it (invariant 7).
type watchRegistry struct {
	lock Locker

	dataWatchers  map[string][]Watch
	childWatchers map[string][]Watch
}

func newWatchRegistry(lock Locker) *watchRegistry {
	return &watchRegistry{
		lock:          lock,
		dataWatchers:  make(map[string][]Watch),
		childWatchers: make(map[string][]Watch),
	}
}

func (r *watchRegistry) clear() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.dataWatchers = make(map[string][]Watch)
	r.childWatchers = make(map[string][]Watch)
}

func (r *watchRegistry) addData(path string, w Watch) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.dataWatchers[path] = append(r.dataWatchers[path], w)
}

func (r *watchRegistry) addChild(path string, w Watch) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.childWatchers[path] = append(r.childWatchers[path], w)
}

// pop removes and returns every watch registered for path from source,
// under the registry lock, so a concurrent fire can never observe (or
// deliver) a partially-popped list.
func (r *watchRegistry) pop(source map[string][]Watch, path string) []Watch {
	r.lock.Lock()
	defer r.lock.Unlock()
	watches := source[path]
	delete(source, path)
	return watches
}

// fireWatches walks paths in reverse-sorted (deepest-first) order, popping and
// dispatching whichever watches were registered against each, provided the
// client is still connected. connected is a callback rather than a bool so
// the check happens under the same instant as each path's pop, matching
// the source's per-path connected check inside _fire_watches.
func fireWatches(reg *watchRegistry, source map[string][]Watch, batches []watchBatch, connected func() bool, dispatch func(func())) {
	type firing struct {
		watch Watch
		event Event
	}
	var toFire []firing
	for _, batch := range batches {
		paths := append([]string(nil), batch.paths...)
		sort.Sort(sort.Reverse(sort.StringSlice(paths)))
		for _, path := range paths {
			if !connected() {
				continue
			}
			for _, w := range reg.pop(source, path) {
				toFire = append(toFire, firing{watch: w, event: batch.event})
			}
		}
	}
	for _, f := range toFire {
		w, ev := f.watch, f.event
		dispatch(func() { w(ev) })
	}
}
