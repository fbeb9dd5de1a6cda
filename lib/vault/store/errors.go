package store

import "errors"

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = errors.New("store: record not found")
	// ErrVersionConflict reports a stale expected version. No Save function
	// in this package takes an expected version, so none returns it.
	ErrVersionConflict = errors.New("store: version conflict")
	// ErrConstraintViolation wraps a SQL constraint failure (unique, FK, …).
	ErrConstraintViolation = errors.New("store: constraint violation")
	// ErrMigrationFailed is returned when a schema migration step fails.
	ErrMigrationFailed = errors.New("store: migration failed")
	// ErrJumpChainCycle is returned when an SSHProfile's jump host chain
	// references itself, directly or transitively.
	ErrJumpChainCycle = errors.New("store: jump host chain contains a cycle")
	// ErrUnknownDeviceKey is returned by field decryption when the header
	// names a device whose key is not available to the caller's Sealer.
	ErrUnknownDeviceKey = errors.New("store: unknown device key")
)
