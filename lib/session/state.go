// Package session implements the per-terminal state machine: PTY spawn, SSH
// connect, byte streaming, scrollback, resize, and exit. Each Session is a
// small state machine guarded by a sync.Cond, generalized from the
// teacher's session tracker: WaitOnState blocks until a wanted state is
// reached or the context is cancelled, and every mutation broadcasts.
package session

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
)

// State is one node of the per-terminal state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateResizing
	StateClosing
	StateExited
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateResizing:
		return "resizing"
	case StateClosing:
		return "closing"
	case StateExited:
		return "exited"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// legalTransitions encodes the state diagram:
//
//	Idle -> Connecting -> Ready <-> Resizing
//	                       |
//	                       v
//	                    Closing -> Exited
//	Connecting --fail--> Errored -> Exited
//	Ready --fail--> Errored -> Exited
var legalTransitions = map[State]map[State]bool{
	StateIdle:       {StateConnecting: true},
	StateConnecting: {StateReady: true, StateErrored: true},
	StateReady:      {StateResizing: true, StateClosing: true, StateErrored: true},
	StateResizing:   {StateReady: true},
	StateClosing:    {StateExited: true},
	StateErrored:    {StateExited: true},
	StateExited:     {},
}

// tracker is a small sync.Cond-guarded state machine, the same shape as the
// teacher's SessionTracker but without the remote persistence concern —
// this state lives only in process memory for the lifetime of the session.
type tracker struct {
	cond  *sync.Cond
	state State
}

func newTracker() *tracker {
	return &tracker{cond: sync.NewCond(&sync.Mutex{}), state: StateIdle}
}

func (t *tracker) Get() State {
	t.cond.L.Lock()
	defer t.cond.L.Unlock()
	return t.state
}

// transition moves to next if legal, broadcasting to any waiters. It
// returns an error without mutating state if the transition isn't legal
// from the current state.
func (t *tracker) transition(next State) error {
	t.cond.L.Lock()
	defer t.cond.L.Unlock()

	if !legalTransitions[t.state][next] {
		return trace.BadParameter("illegal session transition %s -> %s", t.state, next)
	}
	t.state = next
	t.cond.Broadcast()
	return nil
}

// WaitOnState blocks until wanted is reached or ctx is cancelled.
func (t *tracker) WaitOnState(ctx context.Context, wanted State) error {
	go func() {
		<-ctx.Done()
		t.cond.L.Lock()
		t.cond.Broadcast()
		t.cond.L.Unlock()
	}()

	t.cond.L.Lock()
	defer t.cond.L.Unlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if t.state == wanted {
				return nil
			}
			t.cond.Wait()
		}
	}
}
