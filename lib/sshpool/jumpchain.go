package sshpool

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/klpod221/kerminal/lib/vault/store"
)

// ProfileLookup resolves an SSHProfile by id, the only store dependency the
// pool needs: it never writes to the vault, only reads connection targets.
type ProfileLookup interface {
	FindSSHProfileByID(ctx context.Context, id string) (*store.SSHProfile, error)
}

// resolveJumpChain walks profile's JumpHosts depth-first in list order,
// placing each hop after its own jump hosts, and produces the
// ordered list of hops to dial: [furthest-jump-host, ..., nearest-jump-host,
// profile]. A profile reachable from itself through its own jump-host
// references fails with ErrJumpChainCycle.
func resolveJumpChain(ctx context.Context, lookup ProfileLookup, profile *store.SSHProfile) ([]*store.SSHProfile, error) {
	visiting := map[string]bool{profile.ID: true}
	chain := []*store.SSHProfile{}

	var walk func(ids []string) error
	walk = func(ids []string) error {
		for _, id := range ids {
			if visiting[id] {
				return trace.Wrap(ErrJumpChainCycle, "profile %s is reachable from itself via jump hosts", id)
			}
			visiting[id] = true

			hop, err := lookup.FindSSHProfileByID(ctx, id)
			if err != nil {
				return trace.Wrap(err)
			}
			if err := walk(hop.JumpHosts); err != nil {
				return err
			}
			chain = append(chain, hop)
			delete(visiting, id)
		}
		return nil
	}

	if err := walk(profile.JumpHosts); err != nil {
		return nil, err
	}
	chain = append(chain, profile)
	return chain, nil
}

// jumpChainSignature is a stable string identifying a resolved chain of
// intermediate hops, used as part of the pool key so two profiles reached
// through different jump paths never share a cached transport.
func jumpChainSignature(jumpHosts []string) string {
	sig := ""
	for _, id := range jumpHosts {
		sig += id + ">"
	}
	return sig
}
