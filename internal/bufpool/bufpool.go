// Package bufpool provides a reusable byte-slice pool so PTY and SSH channel
// reads don't allocate a fresh chunk buffer on every read.
package bufpool

import "sync"

// SlicePool manages a pool of fixed-size byte slices.
type SlicePool interface {
	// Zero zeroes slice.
	Zero(b []byte)
	// Get returns a new or already allocated slice.
	Get() []byte
	// Put returns slice back to the pool.
	Put(b []byte)
	// Size returns the slice size this pool allocates.
	Size() int64
}

// NewSliceSyncPool returns a SlicePool of pre-allocated or newly allocated
// slices of the given size.
func NewSliceSyncPool(sliceSize int64) *SliceSyncPool {
	s := &SliceSyncPool{
		sliceSize: sliceSize,
		zeroSlice: make([]byte, sliceSize),
	}
	s.New = func() interface{} {
		slice := make([]byte, s.sliceSize)
		return &slice
	}
	return s
}

// SliceSyncPool is a sync.Pool of same-sized byte slices.
type SliceSyncPool struct {
	sync.Pool
	sliceSize int64
	zeroSlice []byte
}

// Zero zeroes b so returned buffers never leak a previous read's bytes back
// out through a later Get, which matters for PTY/SSH output chunks that may
// contain command output the user typed over a secret prompt.
func (s *SliceSyncPool) Zero(b []byte) {
	if len(b) <= len(s.zeroSlice) {
		copy(b, s.zeroSlice[:len(b)])
	} else {
		for i := range b {
			b[i] = 0
		}
	}
}

// Get returns a new or already allocated slice.
func (s *SliceSyncPool) Get() []byte {
	pslice := s.Pool.Get().(*[]byte)
	return *pslice
}

// Put zeroes and returns a slice to the pool.
func (s *SliceSyncPool) Put(b []byte) {
	s.Zero(b)
	s.Pool.Put(&b)
}

// Size returns the slice size this pool allocates.
func (s *SliceSyncPool) Size() int64 {
	return s.sliceSize
}
