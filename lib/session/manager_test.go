package session

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestManagerSpawnLocalRegistersAndLists(t *testing.T) {
	bus := newTestBus(t)
	mgr, err := NewManager(ManagerConfig{Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	sess, err := mgr.SpawnLocal(context.Background(), SpawnParams{}, "shell")
	require.NoError(t, err)
	require.Contains(t, mgr.List(), sess.ID())

	got, err := mgr.Get(sess.ID())
	require.NoError(t, err)
	require.Same(t, sess, got)
}

func TestManagerGetUnknownReturnsNotFound(t *testing.T) {
	bus := newTestBus(t)
	mgr, err := NewManager(ManagerConfig{Bus: bus})
	require.NoError(t, err)

	_, err = mgr.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManagerSpawnSSHWithoutSpawnerFails(t *testing.T) {
	bus := newTestBus(t)
	mgr, err := NewManager(ManagerConfig{Bus: bus})
	require.NoError(t, err)

	_, err = mgr.SpawnSSH(context.Background(), SpawnParams{}, "")
	require.Error(t, err)
}

func TestManagerCloseRemovesFromTable(t *testing.T) {
	bus := newTestBus(t)
	mgr, err := NewManager(ManagerConfig{Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	sess, err := mgr.SpawnLocal(context.Background(), SpawnParams{}, "")
	require.NoError(t, err)

	require.NoError(t, mgr.Close(sess.ID()))
	_, err = mgr.Get(sess.ID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManagerCloseAllClosesEverySession(t *testing.T) {
	bus := newTestBus(t)
	mgr, err := NewManager(ManagerConfig{Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	_, err = mgr.SpawnLocal(context.Background(), SpawnParams{}, "")
	require.NoError(t, err)
	_, err = mgr.SpawnLocal(context.Background(), SpawnParams{}, "")
	require.NoError(t, err)

	require.NoError(t, mgr.CloseAll())
	require.Empty(t, mgr.List())
}

func TestManagerSpawnSSHStartsLatencyProbe(t *testing.T) {
	bus := newTestBus(t)

	clock := clockwork.NewFakeClock()
	tr := newFakeTransport()
	mgr, err := NewManager(ManagerConfig{
		Bus:        bus,
		Clock:      clock,
		SSHSpawner: &fakeSpawner{transport: tr},
	})
	require.NoError(t, err)

	sess, err := mgr.SpawnSSH(context.Background(), SpawnParams{Kind: KindSSH}, "")
	require.NoError(t, err)

	sub := bus.Subscribe(TopicLatency + sess.ID())
	defer sub.Cancel()

	clock.BlockUntil(1)
	clock.Advance(31 * time.Second)

	select {
	case ev := <-sub.C:
		payload := ev.Payload.(TerminalLatency)
		require.Equal(t, sess.ID(), payload.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a latency event after advancing the clock")
	}
}
