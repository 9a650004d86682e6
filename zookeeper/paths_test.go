package zookeeper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in           string
		keepTrailing bool
		want         string
	}{
		{"/", false, "/"},
		{"/a/b", false, "/a/b"},
		{"//a//b//", false, "/a/b"},
		{"a/b", false, "/a/b"},
		{"/a/b/", true, "/a/b/"},
		{"/a/b", true, "/a/b"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, normalize(tc.in, tc.keepTrailing), "normalize(%q, %v)", tc.in, tc.keepTrailing)
	}
}

func TestPartition(t *testing.T) {
	got := partition("/a/b/c")
	require.Equal(t, []string{"/", "/a", "/a/b", "/a/b/c"}, got)
}

func TestPartitionRoot(t *testing.T) {
	require.Equal(t, []string{"/"}, partition("/"))
}

func TestIsChildPath(t *testing.T) {
	require.True(t, isChildPath("/a", "/a/b", true))
	require.False(t, isChildPath("/a", "/a/b/c", true))
	require.True(t, isChildPath("/a", "/a/b/c", false))
	require.False(t, isChildPath("/a", "/a", true))
	require.False(t, isChildPath("/a", "/b", false))
}

func TestParentOf(t *testing.T) {
	require.Equal(t, "/", parentOf("/"))
	require.Equal(t, "/", parentOf("/a"))
	require.Equal(t, "/a", parentOf("/a/b"))
}
