package sshpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klpod221/kerminal/lib/vault/store"
)

type fakeKeySource struct{}

func (fakeKeySource) FindSSHKeyByID(ctx context.Context, id string) (*store.SSHKey, error) {
	return nil, store.ErrNotFound
}

func (fakeKeySource) OpenPrivateKey(k *store.SSHKey) ([]byte, error) { return nil, nil }

func (fakeKeySource) OpenKeyPassphrase(k *store.SSHKey) ([]byte, error) { return nil, nil }

func TestConfigDefaultsApplied(t *testing.T) {
	cfg := Config{Profiles: &fakeProfileLookup{}}
	err := cfg.CheckAndSetDefaults()
	require.Error(t, err, "Keys is required")

	cfg.Keys = fakeKeySource{}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, 10*60, int(cfg.IdleTTL.Seconds()))
	require.Equal(t, 60, int(cfg.SweepInterval.Seconds()))
}

func TestNewPoolClearPoolIsNoOpWhenEmpty(t *testing.T) {
	pool, err := New(Config{Profiles: &fakeProfileLookup{}, Keys: fakeKeySource{}})
	require.NoError(t, err)
	defer pool.Close()

	pool.ClearPool()
	require.Empty(t, pool.entries)
}

func TestDialReturnsPoolClosedAfterClose(t *testing.T) {
	pool, err := New(Config{Profiles: &fakeProfileLookup{}, Keys: fakeKeySource{}})
	require.NoError(t, err)
	pool.Close()

	_, err = pool.Dial(context.Background(), &store.SSHProfile{})
	require.ErrorIs(t, err, ErrPoolClosed)
}
