package authsession

import "errors"

// Package authsession orchestrates the crypto primitives, key hierarchy, and
// vault store into the session state machine a front-end drives: setup,
// verify, auto-unlock, lock, and cross-device key federation.
var (
	ErrNotInitialized      = errors.New("authsession: vault is not initialized for this device")
	ErrAlreadyInitialized  = errors.New("authsession: vault is already initialized for this device")
	ErrInvalidPassphrase   = errors.New("authsession: invalid passphrase")
	ErrLocked              = errors.New("authsession: session is locked")
	ErrKeystoreUnavailable = errors.New("authsession: OS keystore unavailable")
)
