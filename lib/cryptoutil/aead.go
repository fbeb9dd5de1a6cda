// Package cryptoutil provides the authenticated-encryption and key-derivation
// primitives shared by the vault, key hierarchy, and sync packages.
package cryptoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the size in bytes of a ChaCha20-Poly1305 key.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the size in bytes of a ChaCha20-Poly1305 nonce.
	NonceSize = chacha20poly1305.NonceSize
	// TagSize is the size in bytes of the Poly1305 authentication tag.
	TagSize = 16
	// MinBlobSize is the smallest a sealed blob can legally be: an empty
	// plaintext still produces nonce||tag.
	MinBlobSize = NonceSize + TagSize
)

// Seal encrypts plaintext under key using ChaCha20-Poly1305 with a fresh
// random nonce. The returned blob is nonce ‖ ciphertext ‖ tag.
func Seal(key [KeySize]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, trace.Wrap(err, "constructing aead cipher")
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, trace.Wrap(err, "generating nonce")
	}

	blob := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	copy(blob, nonce)
	blob = aead.Seal(blob, nonce, plaintext, nil)
	return blob, nil
}

// Open decrypts a blob produced by Seal. It returns ErrAuthFail if the tag
// does not verify and ErrMalformedBlob if blob is shorter than MinBlobSize.
func Open(key [KeySize]byte, blob []byte) ([]byte, error) {
	if len(blob) < MinBlobSize {
		return nil, trace.Wrap(ErrMalformedBlob, "blob of %d bytes is shorter than minimum %d", len(blob), MinBlobSize)
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, trace.Wrap(err, "constructing aead cipher")
	}

	nonce := blob[:NonceSize]
	plaintext, err := aead.Open(nil, nonce, blob[NonceSize:], nil)
	if err != nil {
		return nil, trace.Wrap(ErrAuthFail, "authentication tag mismatch")
	}
	return plaintext, nil
}

// Fingerprint returns a stable, human-readable hash of a public key, in the
// same sha256-hex-prefix shape commonly used for SSH key fingerprint
// display.
func Fingerprint(publicKeyBytes []byte) string {
	sum := sha256.Sum256(publicKeyBytes)
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 0, 2*len(sum)+len("SHA256:"))
	out = append(out, "SHA256:"...)
	for _, b := range sum {
		out = append(out, hexDigits[b>>4], hexDigits[b&0xf])
	}
	return string(out)
}

// ZeroBytes overwrites b with zeroes in place, to scrub key material from
// memory as soon as it is no longer needed.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
