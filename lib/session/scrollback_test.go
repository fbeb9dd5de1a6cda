package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrollbackAppendOrderedWithinCapacity(t *testing.T) {
	sb := newScrollback(3)
	sb.Append("a")
	sb.Append("b")
	require.Equal(t, []string{"a", "b"}, sb.Lines())
	require.Equal(t, "ab", sb.String())
}

func TestScrollbackDropsOldestAtCapacity(t *testing.T) {
	sb := newScrollback(3)
	sb.Append("a")
	sb.Append("b")
	sb.Append("c")
	sb.Append("d") // drops "a"

	require.Equal(t, []string{"b", "c", "d"}, sb.Lines())
}

func TestScrollbackHasBuffer(t *testing.T) {
	sb := newScrollback(2)
	require.False(t, sb.HasBuffer())
	sb.Append("x")
	require.True(t, sb.HasBuffer())
}
