package kerminal

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/klpod221/kerminal/lib/authsession"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Config{
		VaultPath: "file:" + t.Name() + "?mode=memory&cache=shared",
		DeviceID:  "device-a",
		Clock:     clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	return svc
}

func TestNewWiresEveryComponent(t *testing.T) {
	svc := newTestService(t)
	require.NotNil(t, svc.Bus)
	require.NotNil(t, svc.Store)
	require.NotNil(t, svc.Cache)
	require.NotNil(t, svc.Auth)
	require.NotNil(t, svc.Sessions)
	require.NotNil(t, svc.SSHPool)
	require.NotNil(t, svc.SyncEngine)
	require.NotNil(t, svc.Scheduler)
}

func TestStartMigratesAndBootstrapsAuthSession(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	require.Equal(t, authsession.StateUninitialized, svc.Auth.Status())
}

func TestStartRecognizesExistingVaultOnReopen(t *testing.T) {
	ctx := context.Background()
	path := "file:reopen-test?mode=memory&cache=shared"

	first, err := New(Config{VaultPath: path, DeviceID: "device-a", Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Auth.Setup(ctx, []byte("correct horse"), "laptop", false))

	second, err := New(Config{VaultPath: path, DeviceID: "device-a", Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	require.NoError(t, second.Start(ctx))
	require.Equal(t, authsession.StateInitialized, second.Auth.Status())
}

func TestStopReleasesResourcesWithoutError(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())
}
