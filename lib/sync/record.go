package sync

import (
	"encoding/json"
	"time"
)

// Record is the wire shape for one entity document at either end of a
// sync pass: the base-record fields the data model requires on every
// entity, plus its ciphertext/plaintext payload as an opaque blob. The
// engine never interprets Payload; it only compares the fields above.
type Record struct {
	ID            string
	CreatedAt     time.Time
	Version       int64
	UpdatedAt     time.Time
	Checksum      string
	DeviceID      string
	Deleted       bool
	Undecryptable bool
	Payload       json.RawMessage
}

// Dominates reports whether a dominates b: a.Version >= b.Version AND
// a.UpdatedAt >= b.UpdatedAt. When neither record dominates the other,
// the two are incomparable and a conflict must be raised.
func (a Record) Dominates(b Record) bool {
	return a.Version >= b.Version && !a.UpdatedAt.Before(b.UpdatedAt)
}

// SameVersion reports whether a and b describe the identical saved state:
// equal version and equal checksum.
func (a Record) SameVersion(b Record) bool {
	return a.Version == b.Version && a.Checksum == b.Checksum
}

// Incomparable reports whether neither record dominates the other -- the
// bidirectional merge's conflict case.
func Incomparable(local, remote Record) bool {
	return !local.Dominates(remote) && !remote.Dominates(local)
}
