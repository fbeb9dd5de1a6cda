package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/klpod221/kerminal/lib/cryptoutil"
)

type fakeKeys struct {
	keys map[string][cryptoutil.KeySize]byte
}

func (f *fakeKeys) Get(deviceID string) ([cryptoutil.KeySize]byte, bool) {
	k, ok := f.keys[deviceID]
	return k, ok
}

type fakeActiveDevice struct{ id string }

func (f fakeActiveDevice) ActiveDeviceID() string { return f.id }

func newTestStore(t *testing.T) (*Store, *fakeKeys) {
	t.Helper()
	var key [cryptoutil.KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	keys := &fakeKeys{keys: map[string][cryptoutil.KeySize]byte{"device-a": key}}

	s, err := New(Config{
		Path: "file:" + t.Name() + "?mode=memory&cache=shared",
		Sealer: &FieldSealer{
			Keys:       keys,
			Device:     fakeActiveDevice{id: "device-a"},
			KeyVersion: 1,
		},
		Clock: clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	return s, keys
}

func TestProfileRoundTripWithEncryption(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p := &SSHProfile{
		BaseRecord: BaseRecord{DeviceID: "device-a"},
		Name:       "prod",
		Host:       "10.0.0.1",
		Port:       22,
		Username:   "root",
		Auth:       AuthPayload{Method: AuthMethodPassword, Password: "s3cret"},
	}
	require.NoError(t, s.SaveSSHProfile(ctx, p))
	require.Equal(t, int64(1), p.Version)

	var rawEncAuth []byte
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT encrypted_auth_payload FROM ssh_profiles WHERE id = ?`, p.ID).Scan(&rawEncAuth))
	require.False(t, bytes.Contains(rawEncAuth, []byte("s3cret")))
	require.GreaterOrEqual(t, len(rawEncAuth), cryptoutil.MinBlobSize)

	got, err := s.FindSSHProfileByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "s3cret", got.Auth.Password)
}

func TestSaveIncrementsVersionAndChecksum(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	g := &SSHGroup{BaseRecord: BaseRecord{DeviceID: "device-a"}, Name: "prod boxes"}
	require.NoError(t, s.SaveSSHGroup(ctx, g))
	require.Equal(t, int64(1), g.Version)
	firstChecksum := g.Checksum

	g.Name = "prod boxes renamed"
	require.NoError(t, s.SaveSSHGroup(ctx, g))
	require.Equal(t, int64(2), g.Version)
	require.NotEqual(t, firstChecksum, g.Checksum)
}

func TestCrossDeviceCiphertextSurfacesUnknownDeviceKey(t *testing.T) {
	s, keys := newTestStore(t)
	ctx := context.Background()

	p := &SSHProfile{
		BaseRecord: BaseRecord{DeviceID: "device-a"},
		Name:       "prod", Host: "10.0.0.1", Port: 22, Username: "root",
		Auth: AuthPayload{Method: AuthMethodPassword, Password: "s3cret"},
	}
	require.NoError(t, s.SaveSSHProfile(ctx, p))

	delete(keys.keys, "device-a")

	_, err := s.FindSSHProfileByID(ctx, p.ID)
	require.ErrorIs(t, err, ErrUnknownDeviceKey)
}

func TestJumpChainCycleRejected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	bastion := &SSHProfile{BaseRecord: BaseRecord{DeviceID: "device-a"}, Name: "bastion", Host: "b", Port: 22, Username: "u", Auth: AuthPayload{Method: AuthMethodNone}}
	require.NoError(t, s.SaveSSHProfile(ctx, bastion))

	edge := &SSHProfile{BaseRecord: BaseRecord{DeviceID: "device-a"}, Name: "edge", Host: "e", Port: 22, Username: "u", Auth: AuthPayload{Method: AuthMethodNone}, JumpHosts: []string{bastion.ID}}
	require.NoError(t, s.SaveSSHProfile(ctx, edge))

	bastion.JumpHosts = []string{edge.ID}
	err := s.SaveSSHProfile(ctx, bastion)
	require.ErrorIs(t, err, ErrJumpChainCycle)
}

func TestDeleteNonExistentReturnsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.DeleteSSHProfile(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}
