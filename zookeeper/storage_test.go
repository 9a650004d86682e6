package zookeeper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type stubClient struct {
	id       int64
	data     []watchBatch
	children []watchBatch
}

func (s *stubClient) fireDataWatches(batches []watchBatch)  { s.data = append(s.data, batches...) }
func (s *stubClient) fireChildWatches(batches []watchBatch) { s.children = append(s.children, batches...) }
func (s *stubClient) sessionID() int64                      { return s.id }

func TestStorageRootPreexists(t *testing.T) {
	s := NewStorage()
	require.True(t, s.has(rootPath))
	_, stat, err := s.Get(rootPath)
	require.NoError(t, err)
	require.EqualValues(t, 0, stat.Version)
}

func TestStorageCreateRejectsDuplicateAndMissingParent(t *testing.T) {
	s := NewStorage()
	_, _, err := s.Create("/missing/child", nil, false, false, 0)
	require.True(t, Is(err, ErrNoNode))

	_, path, err := s.Create("/a", []byte("x"), false, false, 0)
	require.NoError(t, err)
	require.Equal(t, "/a", path)

	_, _, err = s.Create("/a", nil, false, false, 0)
	require.True(t, Is(err, ErrNodeExists))
}

func TestStorageEphemeralRequiresSession(t *testing.T) {
	s := NewStorage()
	_, _, err := s.Create("/e", nil, false, true, 0)
	require.True(t, Is(err, ErrSystemZookeeper))

	_, _, err = s.Create("/e", nil, false, true, 42)
	require.NoError(t, err)
}

func TestStorageEphemeralHasNoChildren(t *testing.T) {
	s := NewStorage()
	_, _, err := s.Create("/e", nil, false, true, 1)
	require.NoError(t, err)
	_, _, err = s.Create("/e/child", nil, false, false, 0)
	require.True(t, Is(err, ErrNoChildrenForEphemerals))
}

func TestStorageSetVersionCheck(t *testing.T) {
	s := NewStorage()
	s.Create("/a", []byte("1"), false, false, 0)
	_, err := s.Set("/a", []byte("2"), 5)
	require.True(t, Is(err, ErrBadVersion))

	stat, err := s.Set("/a", []byte("2"), 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, stat.Version)

	stat, err = s.Set("/a", []byte("3"), -1)
	require.NoError(t, err)
	require.EqualValues(t, 2, stat.Version)
}

func TestStorageSequentialMonotonic(t *testing.T) {
	s := NewStorage()
	_, p1, err := s.Create("/lock-", nil, true, false, 0)
	require.NoError(t, err)
	_, p2, err := s.Create("/lock-", nil, true, false, 0)
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)
	require.True(t, p1 < p2)
}

func TestStorageSequenceWrapsToMinInt32(t *testing.T) {
	s := NewStorage()
	s.sequences["/"] = seqRollover

	_, atMax, err := s.Create("/n-", nil, true, false, 0)
	require.NoError(t, err)
	require.Equal(t, "/n-"+formatSequence(seqRollover), atMax)

	_, wrapped, err := s.Create("/n-", nil, true, false, 0)
	require.NoError(t, err)
	require.Equal(t, "/n-"+formatSequence(seqRolloverTo), wrapped)
}

func TestStorageGetChildrenDirectOnly(t *testing.T) {
	s := NewStorage()
	s.Create("/a", nil, false, false, 0)
	s.Create("/a/b", nil, false, false, 0)
	s.Create("/a/b/c", nil, false, false, 0)

	direct := s.GetChildren("/a", true)
	require.Len(t, direct, 1)
	_, ok := direct["/a/b"]
	require.True(t, ok)

	all := s.GetChildren("/a", false)
	require.Len(t, all, 2)
}

func TestStoragePurgeRemovesOwnedEphemeralsOnly(t *testing.T) {
	s := NewStorage()
	owner := &stubClient{id: 1}
	other := &stubClient{id: 2}
	s.attach(owner)
	s.attach(other)

	s.Create("/e1", nil, false, true, 1)
	s.Create("/persist", nil, false, false, 0)
	s.Create("/e2", nil, false, true, 2)

	removed := s.Purge(owner)
	require.Equal(t, 1, removed)
	require.False(t, s.has("/e1"))
	require.True(t, s.has("/persist"))
	require.True(t, s.has("/e2"))

	require.Len(t, other.data, 1)
	require.Equal(t, "/e1", other.data[0].paths[0])
	require.Len(t, owner.data, 0, "origin is not informed of its own purge by default")
}

func TestStoragePopRejectsRoot(t *testing.T) {
	s := NewStorage()
	err := s.Pop(rootPath)
	require.True(t, Is(err, ErrBadArguments))
	require.True(t, s.has(rootPath))
}

func TestStorageTransactionRollsBackOnError(t *testing.T) {
	s := NewStorage()
	s.Create("/a", []byte("1"), false, false, 0)

	err := s.Transaction(func() error {
		s.Set("/a", []byte("2"), -1)
		_, _, createErr := s.Create("/a", nil, false, false, 0)
		return createErr
	})
	require.Error(t, err)

	data, _, _ := s.Get("/a")
	require.Equal(t, "1", string(data))
}
