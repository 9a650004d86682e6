package zookeeper

import "sort"

// partialClient performs tree mutations and reports the watch events they
// produce without ever touching a Client's watch registries or state --
// the separation that lets the transaction engine stage several of these
// and defer event emission until (and unless) the whole batch commits.
type partialClient struct {
	storage   *Storage
	sessionID int64
}

func newPartialClient(storage *Storage) *partialClient {
	return &partialClient{storage: storage}
}

// mutationResult is returned by every partialClient operation: the
// operation's own result value plus the data/child watch batches it
// produced.
type mutationResult struct {
	value         interface{}
	dataWatches   []watchBatch
	childWatches  []watchBatch
}

func (p *partialClient) create(path string, value []byte, ephemeral, sequence, makepath bool) (mutationResult, error) {
	if value == nil {
		value = []byte{}
	}
	var dataWatches, childWatches []watchBatch

	p.storage.Lock().Lock()
	defer p.storage.Lock().Unlock()

	if sequence {
		path = normalize(path, true)
	} else {
		path = normalize(path, false)
	}
	if makepath {
		ancestors := partition(path)
		for _, ancestor := range ancestors[:len(ancestors)-1] {
			if !p.storage.has(ancestor) {
				result, err := p.create(ancestor, nil, false, false, false)
				if err != nil {
					if zerr, ok := err.(*Error); !ok || zerr.Code != ErrNodeExists {
						return mutationResult{}, err
					}
				} else {
					dataWatches = append(dataWatches, result.dataWatches...)
					childWatches = append(childWatches, result.childWatches...)
				}
			}
		}
	}
	ancestors, finalPath, err := p.storage.Create(path, value, sequence, ephemeral, p.sessionID)
	if err != nil {
		return mutationResult{}, err
	}

	if len(ancestors) > 0 {
		childWatches = append(childWatches, watchBatch{
			paths: ancestors,
			event: Event{Type: EventChild, State: StateConnected, Path: finalPath},
		})
	}
	dataWatches = append(dataWatches, watchBatch{
		paths: []string{finalPath},
		event: Event{Type: EventCreated, State: StateConnected, Path: finalPath},
	})
	return mutationResult{value: finalPath, dataWatches: dataWatches, childWatches: childWatches}, nil
}

func (p *partialClient) set(path string, value []byte, version int32) (mutationResult, error) {
	if value == nil {
		value = []byte{}
	}
	path = normalize(path, false)
	stat, err := p.storage.Set(path, value, version)
	if err != nil {
		return mutationResult{}, err
	}
	dataWatches := []watchBatch{{
		paths: []string{path},
		event: Event{Type: EventChanged, State: StateConnected, Path: path},
	}}
	return mutationResult{value: stat, dataWatches: dataWatches}, nil
}

func (p *partialClient) delete(path string, version int32, recursive bool) (mutationResult, error) {
	path = normalize(path, false)

	p.storage.Lock().Lock()
	defer p.storage.Lock().Unlock()

	if !p.storage.has(path) {
		return mutationResult{}, errNoNode(path)
	}
	curVersion, _ := p.storage.Version(path)
	if version != -1 && curVersion != version {
		return mutationResult{}, errBadVersion(path, version, curVersion)
	}

	children := p.storage.GetChildren(path, false)
	var toRemove []string
	if recursive {
		toRemove = append(toRemove, path)
		for child := range children {
			toRemove = append(toRemove, child)
		}
	} else {
		if len(children) > 0 {
			return mutationResult{}, errNotEmpty(path, len(children))
		}
		toRemove = []string{path}
	}
	toRemove = dedupReverseSorted(toRemove)

	var dataWatches, childWatches []watchBatch
	err := p.storage.Transaction(func() error {
		for _, rm := range toRemove {
			if err := p.storage.Pop(rm); err != nil {
				return err
			}
		}
		parentSet := map[string]bool{}
		var parents []string
		for _, rm := range toRemove {
			for parent := range p.storage.GetParents(rm) {
				if !parentSet[parent] {
					parentSet[parent] = true
					parents = append(parents, parent)
				}
			}
		}
		parents = dedupReverseSorted(parents)
		for _, parent := range parents {
			childWatches = append(childWatches, watchBatch{
				paths: []string{parent},
				event: Event{Type: EventDeleted, State: StateConnected, Path: parent},
			})
		}
		for _, rm := range toRemove {
			dataWatches = append(dataWatches, watchBatch{
				paths: []string{rm},
				event: Event{Type: EventDeleted, State: StateConnected, Path: rm},
			})
		}
		return nil
	})
	if err != nil {
		return mutationResult{}, err
	}
	return mutationResult{value: true, dataWatches: dataWatches, childWatches: childWatches}, nil
}

func dedupReverseSorted(in []string) []string {
	seen := map[string]bool{}
	uniq := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			uniq = append(uniq, s)
		}
	}
	return reversedStrings(sortedStrings(uniq))
}

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
