package cryptoutil

import "errors"

// Sentinel failure modes for the crypto layer. They are all non-recoverable
// at this layer: callers wrap them with trace.Wrap for context and decide
// recovery policy higher up.
var (
	// ErrAuthFail is returned when an AEAD tag fails to verify.
	ErrAuthFail = errors.New("cryptoutil: authentication failed")
	// ErrMalformedBlob is returned when a sealed blob is shorter than the
	// minimum legal length (nonce + tag).
	ErrMalformedBlob = errors.New("cryptoutil: malformed ciphertext blob")
	// ErrKdfFail is returned when a key-derivation call is given invalid
	// parameters (e.g. zero iterations, empty salt).
	ErrKdfFail = errors.New("cryptoutil: key derivation failed")
)
