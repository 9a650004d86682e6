package zookeeper

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStartedClient(t *testing.T) *Client {
	t.Helper()
	c := NewClient()
	c.Start()
	t.Cleanup(c.Close)
	return c
}

func TestClientStartAssignsSession(t *testing.T) {
	c := newStartedClient(t)
	require.True(t, c.Connected())
	require.NotZero(t, c.SessionID())
}

func TestClientOperationsFailWhenNotConnected(t *testing.T) {
	c := NewClient()
	_, _, err := c.Get("/a", nil)
	require.True(t, Is(err, ErrConnectionClosed))
}

func TestClientCreateGetSetDelete(t *testing.T) {
	c := newStartedClient(t)

	path, err := c.Create("/widget", []byte("v1"), CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, "/widget", path)

	data, stat, err := c.Get("/widget", nil)
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))
	require.EqualValues(t, 0, stat.Version)

	_, err = c.Set("/widget", []byte("v2"), 0)
	require.NoError(t, err)

	data, _, err = c.Get("/widget", nil)
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))

	require.NoError(t, c.Delete("/widget", -1, false))
	_, _, err = c.Get("/widget", nil)
	require.True(t, Is(err, ErrNoNode))
}

func TestClientEnsurePathCreatesAncestors(t *testing.T) {
	c := newStartedClient(t)
	require.NoError(t, c.EnsurePath("/a/b/c"))

	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		_, _, err := c.Get(p, nil)
		require.NoError(t, err, "expected %s to exist", p)
	}
}

func TestClientDataWatchFiresOnceOnChange(t *testing.T) {
	c := newStartedClient(t)
	_, err := c.Create("/watched", []byte("v1"), CreateOptions{})
	require.NoError(t, err)

	var mu sync.Mutex
	var events []Event
	done := make(chan struct{})
	_, _, err = c.Get("/watched", func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		close(done)
	})
	require.NoError(t, err)

	_, err = c.Set("/watched", []byte("v2"), -1)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch never fired")
	}

	_, err = c.Set("/watched", []byte("v3"), -1)
	require.NoError(t, err)
	require.NoError(t, c.Flush())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1, "watch must not fire a second time")
	require.Equal(t, EventChanged, events[0].Type)
}

func TestClientChildWatchFiresOnCreate(t *testing.T) {
	c := newStartedClient(t)
	require.NoError(t, c.EnsurePath("/parent"))

	done := make(chan Event, 1)
	_, err := c.GetChildren("/parent", func(ev Event) { done <- ev })
	require.NoError(t, err)

	_, err = c.Create("/parent/child", nil, CreateOptions{})
	require.NoError(t, err)

	select {
	case ev := <-done:
		require.Equal(t, EventChild, ev.Type)
		require.Equal(t, "/parent", ev.Path)
	case <-time.After(time.Second):
		t.Fatal("child watch never fired")
	}
}

func TestClientEphemeralPurgedOnClose(t *testing.T) {
	storage := NewStorage()
	owner := NewClient(WithStorage(storage))
	owner.Start()

	path, err := owner.Create("/ephemeral", nil, CreateOptions{Ephemeral: true})
	require.NoError(t, err)

	watcher := NewClient(WithStorage(storage))
	watcher.Start()
	defer watcher.Close()

	gone := make(chan Event, 1)
	_, err = watcher.Exists(path, func(ev Event) { gone <- ev })
	require.NoError(t, err)

	owner.Close()

	select {
	case ev := <-gone:
		require.Equal(t, EventDeleted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("watcher was never told about ephemeral cleanup")
	}

	_, _, err = watcher.Get(path, nil)
	require.True(t, Is(err, ErrNoNode))
}

func TestClientDeleteNonRecursiveRejectsNonEmpty(t *testing.T) {
	c := newStartedClient(t)
	require.NoError(t, c.EnsurePath("/parent/child"))

	err := c.Delete("/parent", -1, false)
	require.True(t, Is(err, ErrNotEmpty))

	_, _, err = c.Get("/parent", nil)
	require.NoError(t, err, "a rejected delete must not remove the parent")
	_, _, err = c.Get("/parent/child", nil)
	require.NoError(t, err, "a rejected delete must not remove the child either")
}

func TestClientDeleteRecursiveRemovesWholeSubtree(t *testing.T) {
	c := newStartedClient(t)
	require.NoError(t, c.EnsurePath("/parent/child/grandchild"))

	var mu sync.Mutex
	var events []Event
	done := make(chan struct{}, 1)
	_, err := c.GetChildren("/", func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	require.NoError(t, c.Delete("/parent", -1, true))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("root's child watch never fired for the recursive delete")
	}

	for _, p := range []string{"/parent", "/parent/child", "/parent/child/grandchild"} {
		_, _, err := c.Get(p, nil)
		require.True(t, Is(err, ErrNoNode), "expected %s to be gone", p)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	require.Equal(t, EventDeleted, events[0].Type)
}

func TestClientSequentialSiblingsAreOrdered(t *testing.T) {
	c := newStartedClient(t)
	require.NoError(t, c.EnsurePath("/queue"))

	first, err := c.Create("/queue/item-", []byte("a"), CreateOptions{Sequence: true})
	require.NoError(t, err)
	second, err := c.Create("/queue/item-", []byte("b"), CreateOptions{Sequence: true})
	require.NoError(t, err)
	require.Less(t, first, second)

	children, err := c.GetChildren("/queue", nil)
	require.NoError(t, err)
	require.Len(t, children, 2)
}

func TestClientStateListenerFiresOnStartAndClose(t *testing.T) {
	c := NewClient()
	states := make(chan State, 4)
	c.AddListener(func(s State) { states <- s })

	c.Start()
	require.Equal(t, StateConnected, <-states)

	c.Close()
	require.Equal(t, StateLost, <-states)
}
