package keyhierarchy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klpod221/kerminal/lib/cryptoutil"
)

func TestSetupThenVerifyRoundTrip(t *testing.T) {
	rec, deviceKey, err := Setup("laptop-1", []byte("correct horse battery staple"))
	require.NoError(t, err)
	require.NotEqual(t, [cryptoutil.KeySize]byte{}, deviceKey)

	got, err := Verify(rec, []byte("correct horse battery staple"))
	require.NoError(t, err)
	require.Equal(t, deviceKey, got)
}

func TestVerifyRejectsWrongPassphrase(t *testing.T) {
	rec, _, err := Setup("laptop-1", []byte("correct horse battery staple"))
	require.NoError(t, err)

	_, err = Verify(rec, []byte("wrong"))
	require.ErrorIs(t, err, ErrInvalidPassphrase)
}

func TestChangePassphraseRotatesAndPreservesDeviceKey(t *testing.T) {
	rec, deviceKey, err := Setup("laptop-1", []byte("old-pass"))
	require.NoError(t, err)

	newRec, err := ChangePassphrase(rec, []byte("old-pass"), []byte("new-pass"))
	require.NoError(t, err)
	require.Equal(t, rec.KeyVersion+1, newRec.KeyVersion)

	_, err = Verify(newRec, []byte("old-pass"))
	require.ErrorIs(t, err, ErrInvalidPassphrase)

	got, err := Verify(newRec, []byte("new-pass"))
	require.NoError(t, err)
	require.Equal(t, deviceKey, got)
}

func TestChangePassphraseFailsWithoutMutatingOnBadOld(t *testing.T) {
	rec, _, err := Setup("laptop-1", []byte("old-pass"))
	require.NoError(t, err)
	before := *rec

	_, err = ChangePassphrase(rec, []byte("not-the-old-pass"), []byte("new-pass"))
	require.Error(t, err)
	require.Equal(t, before, *rec)
}

func TestCacheLockWipesEntries(t *testing.T) {
	cache := NewCache(nil)
	var key [cryptoutil.KeySize]byte
	copy(key[:], []byte("deadbeefdeadbeefdeadbeefdeadbeef"))

	require.NoError(t, cache.Insert("dev-a", key))
	_, ok := cache.Get("dev-a")
	require.True(t, ok)

	cache.Lock()
	_, ok = cache.Get("dev-a")
	require.False(t, ok)

	err := cache.Insert("dev-b", key)
	require.ErrorIs(t, err, ErrLocked)

	cache.Unlock()
	_, ok = cache.Get("dev-a")
	require.False(t, ok, "unlock does not resurrect wiped entries")
}

func TestCrossDeviceFederation(t *testing.T) {
	foreignRec, foreignKey, err := Setup("device-a", []byte("a's passphrase"))
	require.NoError(t, err)

	localCache := NewCache(nil)
	_, ok := localCache.Get("device-a")
	require.False(t, ok)

	recovered, err := AddDeviceKey(foreignRec, []byte("a's passphrase"))
	require.NoError(t, err)
	require.Equal(t, foreignKey, recovered)
	require.NoError(t, localCache.Insert("device-a", recovered))

	got, ok := localCache.Get("device-a")
	require.True(t, ok)
	require.Equal(t, foreignKey, got)
}
