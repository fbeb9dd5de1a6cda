package cryptoutil

import (
	"crypto/sha256"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Argon2Params are the cost parameters for the memory-hard password hash
// used to verify the user's master passphrase. They are persisted alongside
// the verification tag so a future process can reproduce the same derivation
// even after the defaults below change.
type Argon2Params struct {
	Time    uint32
	MemoryKiB uint32
	Threads uint8
}

// DefaultArgon2Params is fixed for this implementation: time=3, memory=64MiB,
// threads=4. See DESIGN.md for the rationale.
var DefaultArgon2Params = Argon2Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}

// DeriveMasterKey derives a 32-byte master key from a passphrase and salt
// using Argon2id. The result is never used directly as a key: it is the
// input to DeriveVerificationTag (Argon2id again) and to DeriveWrapKey
// (PBKDF2-HMAC-SHA256 with a separate wrap salt).
func DeriveMasterKey(passphrase []byte, salt []byte, params Argon2Params) ([KeySize]byte, error) {
	var key [KeySize]byte
	if len(salt) < 16 {
		return key, trace.Wrap(ErrKdfFail, "salt must be at least 16 bytes, got %d", len(salt))
	}
	if params.Time == 0 || params.MemoryKiB == 0 || params.Threads == 0 {
		return key, trace.Wrap(ErrKdfFail, "argon2 parameters must be non-zero")
	}
	raw := argon2.IDKey(passphrase, salt, params.Time, params.MemoryKiB, params.Threads, KeySize)
	copy(key[:], raw)
	ZeroBytes(raw)
	return key, nil
}

// PBKDF2Params are the cost parameters for the HMAC-based KDF used to derive
// the device key-wrap key from the master key material.
type PBKDF2Params struct {
	Iterations int
}

// DefaultPBKDF2Params fixes iterations at 600,000, well above the spec's
// 100,000 floor. See DESIGN.md for the rationale for using PBKDF2 here
// rather than Argon2id a second time.
var DefaultPBKDF2Params = PBKDF2Params{Iterations: 600_000}

// DeriveWrapKey expands a device master key into an independent key used
// only to seal/open the device encryption key record, via PBKDF2-HMAC-SHA256
// keyed on the master key and salted with the caller's wrap salt (a random
// per-device value stored beside the wrapped key, distinct from the salt used
// for the verification tag).
func DeriveWrapKey(masterKey [KeySize]byte, salt []byte, params PBKDF2Params) ([KeySize]byte, error) {
	var key [KeySize]byte
	if params.Iterations < 100_000 {
		return key, trace.Wrap(ErrKdfFail, "pbkdf2 iteration count %d is below the minimum of 100000", params.Iterations)
	}
	raw := pbkdf2.Key(masterKey[:], salt, params.Iterations, KeySize, sha256.New)
	copy(key[:], raw)
	ZeroBytes(raw)
	return key, nil
}

// DeriveVerificationTag produces a fixed-size tag from the master key that
// is safe to persist and compare against on future unlock attempts, without
// ever persisting the master key itself.
func DeriveVerificationTag(masterKey [KeySize]byte, salt []byte, params Argon2Params) []byte {
	return argon2.IDKey(masterKey[:], salt, params.Time, params.MemoryKiB, params.Threads, 32)
}
