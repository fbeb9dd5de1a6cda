package sshpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klpod221/kerminal/lib/vault/store"
)

func TestPoolKeyDiffersByAuthAndJumpChain(t *testing.T) {
	base := &store.SSHProfile{Host: "h", Port: 22, Username: "u", Auth: store.AuthPayload{Method: store.AuthMethodPassword, Password: "a"}}
	other := &store.SSHProfile{Host: "h", Port: 22, Username: "u", Auth: store.AuthPayload{Method: store.AuthMethodPassword, Password: "b"}}
	withJump := &store.SSHProfile{Host: "h", Port: 22, Username: "u", Auth: base.Auth, JumpHosts: []string{"bastion"}}

	require.NotEqual(t, newPoolKey(base), newPoolKey(other))
	require.NotEqual(t, newPoolKey(base), newPoolKey(withJump))
	require.Equal(t, newPoolKey(base), newPoolKey(base))
}

func TestPoolKeyIncludesProxySignature(t *testing.T) {
	noProxy := &store.SSHProfile{Host: "h", Port: 22}
	withProxy := &store.SSHProfile{Host: "h", Port: 22, Proxy: &store.ProxyConfig{Type: store.ProxyTypeSOCKS5, Host: "p", Port: 1080}}

	require.NotEqual(t, newPoolKey(noProxy), newPoolKey(withProxy))
}
