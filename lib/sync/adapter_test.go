package sync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klpod221/kerminal/lib/vault/store"
)

func TestStoreAdapterListPendingReturnsNewlySavedRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g := saveGroup(t, s, "prod boxes")

	adapter := NewStoreAdapter(s, "ssh_groups", "ssh_group")
	pending, err := adapter.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, g.ID, pending[0].ID)
	require.Equal(t, g.Version, pending[0].Version)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(pending[0].Payload, &fields))
	require.Equal(t, "prod boxes", fields["name"])
}

func TestStoreAdapterMarkSyncedRemovesFromPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g := saveGroup(t, s, "prod boxes")

	adapter := NewStoreAdapter(s, "ssh_groups", "ssh_group")
	require.NoError(t, adapter.MarkSynced(ctx, g.ID))

	pending, err := adapter.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	all, err := adapter.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestStoreAdapterApplyRemoteInsertsNewRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	adapter := NewStoreAdapter(s, "ssh_groups", "ssh_group")

	rec := Record{
		ID:       "remote-row",
		Version:  3,
		Checksum: "abc",
		DeviceID: "device-b",
		Payload:  []byte(`{"name":"from remote"}`),
	}
	require.NoError(t, adapter.ApplyRemote(ctx, rec))

	got, ok, err := adapter.FindByID(ctx, "remote-row")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), got.Version)

	direct, err := s.FindSSHGroupByID(ctx, "remote-row")
	require.NoError(t, err)
	require.Equal(t, "from remote", direct.Name)
}

func TestStoreAdapterDeleteRemovesRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g := saveGroup(t, s, "prod boxes")

	adapter := NewStoreAdapter(s, "ssh_groups", "ssh_group")
	require.NoError(t, adapter.Delete(ctx, g.ID))

	_, err := s.FindSSHGroupByID(ctx, g.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
