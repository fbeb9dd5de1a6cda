package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	plaintext := []byte("s3cret")
	blob, err := Seal(key, plaintext)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(blob), MinBlobSize)
	require.NotEqual(t, plaintext, blob[NonceSize:NonceSize+len(plaintext)])

	got, err := Open(key, blob)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestSealProducesFreshNonces(t *testing.T) {
	var key [KeySize]byte
	a, err := Seal(key, []byte("same plaintext"))
	require.NoError(t, err)
	b, err := Seal(key, []byte("same plaintext"))
	require.NoError(t, err)
	require.NotEqual(t, a[:NonceSize], b[:NonceSize])
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	var key [KeySize]byte
	blob, err := Seal(key, []byte("hello"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF

	_, err = Open(key, blob)
	require.ErrorIs(t, err, ErrAuthFail)
}

func TestOpenRejectsShortBlob(t *testing.T) {
	var key [KeySize]byte
	_, err := Open(key, make([]byte, MinBlobSize-1))
	require.ErrorIs(t, err, ErrMalformedBlob)
}

func TestDeriveMasterKeyIsDeterministic(t *testing.T) {
	salt := make([]byte, 16)
	k1, err := DeriveMasterKey([]byte("correct horse battery staple"), salt, DefaultArgon2Params)
	require.NoError(t, err)
	k2, err := DeriveMasterKey([]byte("correct horse battery staple"), salt, DefaultArgon2Params)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := DeriveMasterKey([]byte("a different phrase"), salt, DefaultArgon2Params)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}

func TestDeriveMasterKeyRejectsShortSalt(t *testing.T) {
	_, err := DeriveMasterKey([]byte("p"), make([]byte, 8), DefaultArgon2Params)
	require.ErrorIs(t, err, ErrKdfFail)
}

func TestDeriveWrapKeyRejectsLowIterations(t *testing.T) {
	var mk [KeySize]byte
	_, err := DeriveWrapKey(mk, []byte("0123456789abcdef"), PBKDF2Params{Iterations: 100})
	require.ErrorIs(t, err, ErrKdfFail)
}

func TestFingerprintIsStable(t *testing.T) {
	pub := []byte("ssh-ed25519 AAAA...")
	require.Equal(t, Fingerprint(pub), Fingerprint(pub))
	require.NotEqual(t, Fingerprint(pub), Fingerprint([]byte("different key")))
}
