package zookeeper

// TxnOpType identifies which kind of staged operation a TxnResult belongs
// to.
type TxnOpType int

const (
	TxnCreate TxnOpType = iota + 1
	TxnSetData
	TxnDelete
	TxnCheck
)

func (t TxnOpType) String() string {
	switch t {
	case TxnCreate:
		return "create"
	case TxnSetData:
		return "set_data"
	case TxnDelete:
		return "delete"
	case TxnCheck:
		return "check"
	default:
		return "unknown"
	}
}

// TxnResult is the per-operation outcome of a committed Transaction, in
// the same order the operations were staged.
type TxnResult struct {
	Type  TxnOpType
	Path  string
	Value interface{}
	Err   error
}

type txnOp struct {
	kind TxnOpType
	path string
	run  func(p *partialClient) (mutationResult, error)
}

// Transaction stages a batch of create/set_data/delete/check operations
// against a Client and commits them with all-or-nothing semantics: if any
// staged operation fails, every mutation already applied during the
// commit attempt is rolled back and none of its watch events fire.
//
// A Transaction is not safe for concurrent staging from multiple
// goroutines. Commit guards itself with its own tx lock, taken with a
// non-blocking TryLock (distinct from storage's lock): whichever goroutine
// calls Commit first
// holds it for the whole state-check-and-mutate sequence, so a second,
// concurrent Commit call on the same Transaction fails fast with
// ErrRuntimeInconsistency instead of racing the t.done check.
type Transaction struct {
	client *Client
	lock   Locker
	ops    []txnOp
	done   bool
}

func newTransaction(c *Client) *Transaction {
	return &Transaction{client: c, lock: c.handler.RLockObject()}
}

// Create stages a znode creation. Sequence and MakePath are honored the
// same as Client.Create; Ephemeral ties the node to the committing
// client's session.
func (t *Transaction) Create(path string, value []byte, opts CreateOptions) *Transaction {
	t.ops = append(t.ops, txnOp{
		kind: TxnCreate,
		path: path,
		run: func(p *partialClient) (mutationResult, error) {
			return p.create(path, value, opts.Ephemeral, opts.Sequence, opts.MakePath)
		},
	})
	return t
}

// SetData stages a data replacement, enforcing version the same as
// Client.Set.
func (t *Transaction) SetData(path string, value []byte, version int32) *Transaction {
	t.ops = append(t.ops, txnOp{
		kind: TxnSetData,
		path: path,
		run: func(p *partialClient) (mutationResult, error) {
			return p.set(path, value, version)
		},
	})
	return t
}

// Delete stages a znode removal, enforcing version the same as
// Client.Delete.
func (t *Transaction) Delete(path string, version int32, recursive bool) *Transaction {
	t.ops = append(t.ops, txnOp{
		kind: TxnDelete,
		path: path,
		run: func(p *partialClient) (mutationResult, error) {
			return p.delete(path, version, recursive)
		},
	})
	return t
}

// Check stages a bare version assertion: it fails the whole transaction
// if path's current version does not match version, without mutating
// anything itself.
func (t *Transaction) Check(path string, version int32) *Transaction {
	t.ops = append(t.ops, txnOp{
		kind: TxnCheck,
		path: path,
		run: func(p *partialClient) (mutationResult, error) {
			p.storage.Lock().Lock()
			defer p.storage.Lock().Unlock()
			if !p.storage.has(path) {
				return mutationResult{}, errNoNode(path)
			}
			current, _ := p.storage.Version(path)
			if current != version {
				return mutationResult{}, errBadVersion(path, version, current)
			}
			return mutationResult{value: true}, nil
		},
	})
	return t
}

// Commit runs every staged operation in order inside a single atomic
// storage transaction. On success it returns one TxnResult per staged
// operation (in staging order) and informs every attached client of the
// combined watch events. On failure every operation already applied
// during this attempt is rolled back and the results slice classifies
// each operation per ZooKeeper's multi-op contract:
//
//   - the operation that actually failed carries its real error
//   - operations staged before it (which ran and would have succeeded)
//     carry ErrRolledBack
//   - operations staged after it (which never ran) carry
//     ErrRuntimeInconsistency
//
// Calling Commit more than once, or concurrently from two goroutines on
// the same Transaction, returns ErrRuntimeInconsistency for the second
// caller without touching the tree.
func (t *Transaction) Commit() ([]TxnResult, error) {
	c := t.client
	if err := c.verify(); err != nil {
		return nil, err
	}
	if !t.lock.TryLock() {
		return nil, errRuntimeInconsistency()
	}
	defer t.lock.Unlock()

	if t.done {
		return nil, errRuntimeInconsistency()
	}
	t.done = true
	c.partial.sessionID = c.sessID

	results := make([]TxnResult, len(t.ops))
	var allDataWatches, allChildWatches []watchBatch
	var failIndex = -1
	var failErr error

	txnErr := c.storage.Transaction(func() error {
		for i, op := range t.ops {
			res, err := op.run(c.partial)
			if err != nil {
				failIndex = i
				failErr = err
				results[i] = TxnResult{Type: op.kind, Path: op.path, Err: err}
				return err
			}
			results[i] = TxnResult{Type: op.kind, Path: op.path, Value: res.value}
			allDataWatches = append(allDataWatches, res.dataWatches...)
			allChildWatches = append(allChildWatches, res.childWatches...)
		}
		return nil
	})

	if txnErr != nil {
		for i := range results {
			switch {
			case i == failIndex:
				// already set above
			case i < failIndex:
				results[i] = TxnResult{Type: t.ops[i].kind, Path: t.ops[i].path, Err: errRolledBack()}
			default:
				results[i] = TxnResult{Type: t.ops[i].kind, Path: t.ops[i].path, Err: errRuntimeInconsistency()}
			}
		}
		return results, failErr
	}

	c.storage.Inform(c, allChildWatches, allDataWatches, true)
	return results, nil
}
