package sshpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klpod221/kerminal/lib/vault/store"
)

type fakeProfileLookup struct {
	byID map[string]*store.SSHProfile
}

func (f *fakeProfileLookup) FindSSHProfileByID(ctx context.Context, id string) (*store.SSHProfile, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func TestResolveJumpChainOrdersFurthestHopFirst(t *testing.T) {
	lookup := &fakeProfileLookup{byID: map[string]*store.SSHProfile{
		"bastion": {BaseRecord: store.BaseRecord{ID: "bastion"}, Name: "bastion"},
		"edge":    {BaseRecord: store.BaseRecord{ID: "edge"}, Name: "edge", JumpHosts: []string{"bastion"}},
	}}

	chain, err := resolveJumpChain(context.Background(), lookup, lookup.byID["edge"])
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, "bastion", chain[0].ID)
	require.Equal(t, "edge", chain[1].ID)
}

func TestResolveJumpChainDetectsCycle(t *testing.T) {
	lookup := &fakeProfileLookup{byID: map[string]*store.SSHProfile{
		"a": {BaseRecord: store.BaseRecord{ID: "a"}, JumpHosts: []string{"b"}},
		"b": {BaseRecord: store.BaseRecord{ID: "b"}, JumpHosts: []string{"a"}},
	}}

	_, err := resolveJumpChain(context.Background(), lookup, lookup.byID["a"])
	require.ErrorIs(t, err, ErrJumpChainCycle)
}

func TestResolveJumpChainSingleHopHasNoChain(t *testing.T) {
	lookup := &fakeProfileLookup{byID: map[string]*store.SSHProfile{
		"solo": {BaseRecord: store.BaseRecord{ID: "solo"}},
	}}

	chain, err := resolveJumpChain(context.Background(), lookup, lookup.byID["solo"])
	require.NoError(t, err)
	require.Len(t, chain, 1)
	require.Equal(t, "solo", chain[0].ID)
}
