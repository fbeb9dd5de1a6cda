package sshpool

import (
	"fmt"

	"github.com/klpod221/kerminal/lib/vault/store"
)

// poolKey identifies a reusable transport: two terminals that resolve to
// the same key share one underlying connection.
type poolKey struct {
	Host             string
	Port             int
	Username         string
	AuthFingerprint  string
	ProxySignature   string
	JumpChainSignature string
}

func newPoolKey(profile *store.SSHProfile) poolKey {
	return poolKey{
		Host:               profile.Host,
		Port:               profile.Port,
		Username:           profile.Username,
		AuthFingerprint:    authFingerprint(profile.Auth),
		ProxySignature:     proxySignature(profile.Proxy),
		JumpChainSignature: jumpChainSignature(profile.JumpHosts),
	}
}

func proxySignature(p *store.ProxyConfig) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%s:%s:%d:%s", p.Type, p.Host, p.Port, p.Username)
}
