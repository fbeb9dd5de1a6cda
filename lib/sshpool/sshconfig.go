package sshpool

import (
	"os"
	"strconv"

	"github.com/gravitational/trace"
	"github.com/kevinburke/ssh_config"

	"github.com/klpod221/kerminal/lib/vault/store"
)

// HostEntry is one resolved alias from an OpenSSH-style config file, enough
// to build an ad-hoc SSHProfile without the user saving one first.
type HostEntry struct {
	Alias        string
	Hostname     string
	Port         int
	User         string
	IdentityFile string
	ProxyJump    string
}

// ParseConfigFile reads an OpenSSH config file and returns every concrete
// host alias it defines (wildcard-only patterns are skipped), resolving
// Hostname, Port, User, IdentityFile, and ProxyJump per alias.
func ParseConfigFile(path string) ([]HostEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, trace.Wrap(err, "opening ssh config %s", path)
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil, trace.Wrap(err, "parsing ssh config %s", path)
	}

	var out []HostEntry
	seen := map[string]bool{}
	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()
			if alias == "*" || seen[alias] {
				continue
			}
			seen[alias] = true

			entry := HostEntry{Alias: alias}
			entry.Hostname, _ = cfg.Get(alias, "Hostname")
			if entry.Hostname == "" {
				entry.Hostname = alias
			}
			entry.User, _ = cfg.Get(alias, "User")
			entry.IdentityFile, _ = cfg.Get(alias, "IdentityFile")
			entry.ProxyJump, _ = cfg.Get(alias, "ProxyJump")

			if portStr, _ := cfg.Get(alias, "Port"); portStr != "" {
				if port, err := strconv.Atoi(portStr); err == nil {
					entry.Port = port
				}
			}
			if entry.Port == 0 {
				entry.Port = 22
			}

			out = append(out, entry)
		}
	}
	return out, nil
}

// ToProfile builds a throwaway (never persisted) SSHProfile from a resolved
// config-file entry, used to spawn a terminal without a saved profile.
func (e HostEntry) ToProfile() *store.SSHProfile {
	auth := store.AuthPayload{Method: store.AuthMethodAgent}
	if e.IdentityFile != "" {
		auth = store.AuthPayload{Method: store.AuthMethodKeyRef}
	}
	return &store.SSHProfile{
		Name:     e.Alias,
		Host:     e.Hostname,
		Port:     e.Port,
		Username: e.User,
		Auth:     auth,
	}
}
