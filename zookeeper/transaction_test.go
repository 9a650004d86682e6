package zookeeper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransactionCommitsAllOrNothing(t *testing.T) {
	c := newStartedClient(t)
	require.NoError(t, c.EnsurePath("/txn"))

	results, err := c.Transaction().
		Create("/txn/a", []byte("1"), CreateOptions{}).
		Create("/txn/b", []byte("2"), CreateOptions{}).
		SetData("/txn/a", []byte("1.1"), 0).
		Commit()
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.Nil(t, r.Err)
	}

	data, _, err := c.Get("/txn/a", nil)
	require.NoError(t, err)
	require.Equal(t, "1.1", string(data))
	_, _, err = c.Get("/txn/b", nil)
	require.NoError(t, err)
}

func TestTransactionRollsBackOnFailure(t *testing.T) {
	c := newStartedClient(t)
	require.NoError(t, c.EnsurePath("/txn"))
	_, err := c.Create("/txn/existing", []byte("orig"), CreateOptions{})
	require.NoError(t, err)

	results, err := c.Transaction().
		Create("/txn/a", []byte("1"), CreateOptions{}).
		Create("/txn/existing", nil, CreateOptions{}). // fails: already exists
		Create("/txn/c", []byte("3"), CreateOptions{}).
		Commit()
	require.Error(t, err)
	require.Len(t, results, 3)

	require.True(t, Is(results[0].Err, ErrRolledBack), "op staged before the failure must be marked rolled back")
	require.True(t, Is(results[1].Err, ErrNodeExists))
	require.True(t, Is(results[2].Err, ErrRuntimeInconsistency))

	// the whole attempt must have been undone
	_, _, getErr := c.Get("/txn/a", nil)
	require.True(t, Is(getErr, ErrNoNode))
	_, _, getErr = c.Get("/txn/c", nil)
	require.True(t, Is(getErr, ErrNoNode))
	data, _, err := c.Get("/txn/existing", nil)
	require.NoError(t, err)
	require.Equal(t, "orig", string(data))
}

func TestTransactionCheckGatesCommit(t *testing.T) {
	c := newStartedClient(t)
	_, err := c.Create("/guarded", []byte("v1"), CreateOptions{})
	require.NoError(t, err)

	_, err = c.Transaction().
		Check("/guarded", 5).
		SetData("/guarded", []byte("v2"), -1).
		Commit()
	require.Error(t, err)
	require.True(t, Is(err, ErrBadVersion))

	data, _, err := c.Get("/guarded", nil)
	require.NoError(t, err)
	require.Equal(t, "v1", string(data), "a failed check must block the rest of the transaction")
}

func TestTransactionDoubleCommitFails(t *testing.T) {
	c := newStartedClient(t)
	txn := c.Transaction().Create("/once", nil, CreateOptions{})
	_, err := txn.Commit()
	require.NoError(t, err)

	_, err = txn.Commit()
	require.True(t, Is(err, ErrRuntimeInconsistency))
}
