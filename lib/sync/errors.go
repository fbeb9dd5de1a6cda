// Package sync replicates vault entities to an external database, detects
// version conflicts between local and remote copies, and resolves them
// under a configurable strategy.
package sync

import (
	"errors"

	"github.com/gravitational/trace"
)

var (
	// ErrRemoteUnavailable means the configured backend could not be
	// reached; callers should retry with backoff rather than treat it as a
	// permanent failure.
	ErrRemoteUnavailable = errors.New("sync: remote database unavailable")
	// ErrSchemaMismatch means the remote collection's shape does not match
	// what this engine expects (missing columns/fields).
	ErrSchemaMismatch = errors.New("sync: remote schema mismatch")
	// ErrCancelled means the run was cancelled at a batch boundary.
	ErrCancelled = errors.New("sync: run cancelled")
	// ErrUnknownBackend means the database config names a kind with no
	// registered Backend constructor.
	ErrUnknownBackend = errors.New("sync: unknown backend kind")
	// ErrAlreadyRunning means a sync pass is already in progress for a
	// database; concurrent runs on the same database are serialized.
	ErrAlreadyRunning = errors.New("sync: a pass is already running for this database")
)

// ConflictError carries the two incomparable sides of a conflicting record
// so a manual-resolution UI can render both.
type ConflictError struct {
	EntityType string
	EntityID   string
	Local      Record
	Remote     Record
}

func (e *ConflictError) Error() string {
	return "sync: conflicting versions for " + e.EntityType + "/" + e.EntityID
}

func newTransportError(err error) error {
	return trace.ConnectionProblem(err, "sync transport error")
}
