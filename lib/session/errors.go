package session

import "errors"

var (
	// ErrSpawnFailed is returned when the OS/SSH subsystem refuses to start
	// the underlying process or channel.
	ErrSpawnFailed = errors.New("session: spawn failed")
	// ErrAlreadyClosed is returned by Close when the session cannot move to
	// Closing from its current state; Close on an Exited session returns nil.
	ErrAlreadyClosed = errors.New("session: already closed")
	// ErrWriteAfterClose is returned by Write/WriteBatch once Close has begun.
	ErrWriteAfterClose = errors.New("session: write after close")
	// ErrBufferOverflow is reserved for callers that want to treat dropped
	// scrollback lines as an error rather than a silent drop-oldest.
	ErrBufferOverflow = errors.New("session: scrollback buffer overflow")
	// ErrNotFound is returned by Manager.Get for an unknown terminal id.
	ErrNotFound = errors.New("session: terminal not found")
)
