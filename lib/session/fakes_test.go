package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// fakeTransport is an in-memory Transport/Resizer/Pinger double: writes go
// into a log, reads come from a buffered pipe fed by pushOutput, and Close
// unblocks any pending Read with io.EOF.
type fakeTransport struct {
	mu        sync.Mutex
	writes    [][]byte
	closed    bool
	resizes   [][2]int
	pingErr   error
	pingDelay time.Duration

	outCh chan []byte
	errCh chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		outCh: make(chan []byte, 16),
		errCh: make(chan error, 1),
	}
}

func (f *fakeTransport) Read(b []byte) (int, error) {
	select {
	case chunk, ok := <-f.outCh:
		if !ok {
			return 0, io.EOF
		}
		n := copy(b, chunk)
		return n, nil
	case err := <-f.errCh:
		return 0, err
	}
}

func (f *fakeTransport) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errors.New("fakeTransport: write after close")
	}
	cp := append([]byte(nil), b...)
	f.writes = append(f.writes, cp)
	return len(b), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.outCh)
	return nil
}

func (f *fakeTransport) Resize(cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]int{cols, rows})
	return nil
}

func (f *fakeTransport) Ping(ctx context.Context) (time.Duration, error) {
	if f.pingDelay > 0 {
		select {
		case <-time.After(f.pingDelay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if f.pingErr != nil {
		return 0, f.pingErr
	}
	return 5 * time.Millisecond, nil
}

func (f *fakeTransport) pushOutput(s string) {
	f.outCh <- []byte(s)
}

func (f *fakeTransport) writesSnapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// fakeSpawner hands back a single pre-built transport, or fails if
// failSpawn is set.
type fakeSpawner struct {
	transport *fakeTransport
	failSpawn error
}

func (f *fakeSpawner) Spawn(ctx context.Context, params SpawnParams) (Transport, error) {
	if f.failSpawn != nil {
		return nil, f.failSpawn
	}
	return f.transport, nil
}
