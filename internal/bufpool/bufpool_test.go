package bufpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSliceSyncPool tests sync pool holding slices - SliceSyncPool
func TestSliceSyncPool(t *testing.T) {
	t.Parallel()

	pool := NewSliceSyncPool(1024)
	require.EqualValues(t, 1024, pool.Size())

	// having a loop is not a guarantee that the same slice will be reused,
	// but a good enough bet
	for i := 0; i < 10; i++ {
		slice := pool.Get()
		require.Len(t, slice, 1024, "returned slice should have full len and zero values")
		for i := range slice {
			require.Equal(t, byte(0), slice[i], "each slice element is zero byte")
		}
		copy(slice, []byte("some PTY output to fill the buffer with"))
		pool.Put(slice)
	}
}

func TestSliceSyncPoolZeroesOnPut(t *testing.T) {
	pool := NewSliceSyncPool(16)
	slice := pool.Get()
	copy(slice, []byte("secret password"))
	pool.Put(slice)

	reused := pool.Get()
	for i := range reused {
		require.Equal(t, byte(0), reused[i], "buffer returned to the pool must not leak prior contents")
	}
}
