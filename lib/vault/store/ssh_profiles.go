package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// AuthMethod tags which shape AuthPayload holds.
type AuthMethod string

const (
	AuthMethodPassword    AuthMethod = "password"
	AuthMethodKeyRef      AuthMethod = "key-reference"
	AuthMethodAgent       AuthMethod = "agent"
	AuthMethodNone        AuthMethod = "none"
)

// AuthPayload is a tagged union over a profile's authentication data. Only
// the field matching Method is meaningful; it is serialized to JSON and the
// whole JSON document is sealed as one secret column, so the discriminator
// travels with the ciphertext.
type AuthPayload struct {
	Method     AuthMethod `json:"method"`
	Password   string     `json:"password,omitempty"`
	SSHKeyID   string     `json:"sshKeyId,omitempty"`
	Passphrase string     `json:"passphrase,omitempty"`
}

// ProxyType tags the SOCKS/HTTP proxy kind used to reach a profile's host.
type ProxyType string

const (
	ProxyTypeHTTP   ProxyType = "http"
	ProxyTypeSOCKS4 ProxyType = "socks4"
	ProxyTypeSOCKS5 ProxyType = "socks5"
)

// ProxyConfig describes an optional proxy hop before the SSH handshake.
type ProxyConfig struct {
	Type     ProxyType
	Host     string
	Port     int
	Username string
	Password string
}

// SSHProfile is a saved SSH connection target.
type SSHProfile struct {
	BaseRecord
	Name           string
	Host           string
	Port           int
	Username       string
	GroupID        string
	Auth           AuthPayload
	TimeoutSeconds int
	KeepAlive      bool
	Compression    bool
	Proxy          *ProxyConfig
	JumpHosts      []string // ordered list of SSHProfile ids
	WorkingDir     string
	StartupCommand string
	Env            map[string]string
	Color          string
}

func (p *SSHProfile) computeChecksum(encryptedAuth, encryptedProxyCreds []byte) string {
	jumpJSON, _ := json.Marshal(p.JumpHosts)
	envJSON, _ := json.Marshal(p.Env)
	return Checksum(p.Name, p.Host, p.Username, string(encryptedAuth), string(encryptedProxyCreds),
		string(jumpJSON), string(envJSON), p.WorkingDir, p.StartupCommand)
}

// ValidateJumpChainAcyclic walks candidateProfile's jump host references
// (resolved via lookup) and fails with ErrJumpChainCycle if the graph of
// profile references contains a cycle, including a profile referencing
// itself.
func ValidateJumpChainAcyclic(ctx context.Context, candidateID string, jumpHosts []string, lookup func(ctx context.Context, id string) ([]string, error)) error {
	visiting := map[string]bool{candidateID: true}
	var walk func(ids []string) error
	walk = func(ids []string) error {
		for _, id := range ids {
			if visiting[id] {
				return trace.Wrap(ErrJumpChainCycle, "profile %s is reachable from itself via jump hosts", id)
			}
			visiting[id] = true
			next, err := lookup(ctx, id)
			if err != nil {
				return trace.Wrap(err)
			}
			if err := walk(next); err != nil {
				return err
			}
			delete(visiting, id)
		}
		return nil
	}
	return walk(jumpHosts)
}

// SaveSSHProfile validates the jump host chain, encrypts secret fields, and
// inserts or updates the row, incrementing version.
func (s *Store) SaveSSHProfile(ctx context.Context, p *SSHProfile) error {
	if err := ValidateJumpChainAcyclic(ctx, p.ID, p.JumpHosts, s.sshProfileJumpHosts); err != nil {
		return trace.Wrap(err)
	}

	authJSON, err := json.Marshal(p.Auth)
	if err != nil {
		return trace.Wrap(err, "marshaling auth payload")
	}
	encAuth, err := s.Sealer.Seal(authJSON)
	if err != nil {
		return trace.Wrap(err, "sealing auth payload")
	}

	var proxyType, proxyHost sql.NullString
	var proxyPort sql.NullInt64
	var encProxyCreds []byte
	if p.Proxy != nil {
		proxyType = sql.NullString{String: string(p.Proxy.Type), Valid: true}
		proxyHost = sql.NullString{String: p.Proxy.Host, Valid: true}
		proxyPort = sql.NullInt64{Int64: int64(p.Proxy.Port), Valid: true}
		if p.Proxy.Username != "" || p.Proxy.Password != "" {
			credsJSON, _ := json.Marshal(p.Proxy)
			encProxyCreds, err = s.Sealer.Seal(credsJSON)
			if err != nil {
				return trace.Wrap(err, "sealing proxy credentials")
			}
		}
	}

	jumpJSON, _ := json.Marshal(p.JumpHosts)
	envJSON, _ := json.Marshal(p.Env)

	now := s.clock.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
		p.CreatedAt = now
		p.Version = 0
	}
	p.UpdatedAt = now
	p.Version++
	p.SyncStatus = SyncStatusPending
	p.Checksum = p.computeChecksum(encAuth, encProxyCreds)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ssh_profiles (id, created_at, updated_at, device_id, version, sync_status, checksum,
			name, host, port, username, group_id, auth_method, encrypted_auth_payload, ssh_key_id,
			timeout_seconds, keep_alive, compression, proxy_type, proxy_host, proxy_port,
			encrypted_proxy_credentials, jump_hosts_json, working_dir, startup_command, env_json, color)
		VALUES (?,?,?,?,?,?,?, ?,?,?,?,?,?,?,?, ?,?,?,?,?,?, ?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at=excluded.updated_at, device_id=excluded.device_id, version=excluded.version,
			sync_status=excluded.sync_status, checksum=excluded.checksum, name=excluded.name,
			host=excluded.host, port=excluded.port, username=excluded.username, group_id=excluded.group_id,
			auth_method=excluded.auth_method, encrypted_auth_payload=excluded.encrypted_auth_payload,
			ssh_key_id=excluded.ssh_key_id, timeout_seconds=excluded.timeout_seconds,
			keep_alive=excluded.keep_alive, compression=excluded.compression, proxy_type=excluded.proxy_type,
			proxy_host=excluded.proxy_host, proxy_port=excluded.proxy_port,
			encrypted_proxy_credentials=excluded.encrypted_proxy_credentials,
			jump_hosts_json=excluded.jump_hosts_json, working_dir=excluded.working_dir,
			startup_command=excluded.startup_command, env_json=excluded.env_json, color=excluded.color`,
		p.ID, p.CreatedAt, p.UpdatedAt, p.DeviceID, p.Version, p.SyncStatus, p.Checksum,
		p.Name, p.Host, p.Port, p.Username, nullableString(p.GroupID), p.Auth.Method, encAuth, nullableString(p.Auth.SSHKeyID),
		p.TimeoutSeconds, boolToInt(p.KeepAlive), boolToInt(p.Compression), proxyType, proxyHost, proxyPort,
		encProxyCreds, string(jumpJSON), p.WorkingDir, p.StartupCommand, string(envJSON), p.Color)
	return trace.Wrap(err)
}

// sshProfileJumpHosts returns the jump_hosts_json for id, used by the cycle
// validator without needing to decrypt any secret field.
func (s *Store) sshProfileJumpHosts(ctx context.Context, id string) ([]string, error) {
	var jumpJSON string
	err := s.db.QueryRowContext(ctx, `SELECT jump_hosts_json FROM ssh_profiles WHERE id = ?`, id).Scan(&jumpJSON)
	if err == sql.ErrNoRows {
		return nil, nil // a jump host that doesn't exist yet has no further chain
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var hosts []string
	if err := json.Unmarshal([]byte(jumpJSON), &hosts); err != nil {
		return nil, trace.Wrap(err)
	}
	return hosts, nil
}

// FindSSHProfileByID returns the profile with its secret auth payload
// decrypted, or ErrNotFound / an UnknownDeviceKeyError from the sealer.
func (s *Store) FindSSHProfileByID(ctx context.Context, id string) (*SSHProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, device_id, version, sync_status, checksum,
			name, host, port, username, group_id, auth_method, encrypted_auth_payload, ssh_key_id,
			timeout_seconds, keep_alive, compression, proxy_type, proxy_host, proxy_port,
			encrypted_proxy_credentials, jump_hosts_json, working_dir, startup_command, env_json, color
		FROM ssh_profiles WHERE id = ?`, id)
	return s.scanSSHProfile(row)
}

// FindAllSSHProfiles returns every profile with secrets decrypted.
func (s *Store) FindAllSSHProfiles(ctx context.Context) ([]SSHProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, updated_at, device_id, version, sync_status, checksum,
			name, host, port, username, group_id, auth_method, encrypted_auth_payload, ssh_key_id,
			timeout_seconds, keep_alive, compression, proxy_type, proxy_host, proxy_port,
			encrypted_proxy_credentials, jump_hosts_json, working_dir, startup_command, env_json, color
		FROM ssh_profiles`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []SSHProfile
	for rows.Next() {
		p, err := s.scanSSHProfile(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *p)
	}
	return out, trace.Wrap(rows.Err())
}

// DeleteSSHProfile removes a profile by id.
func (s *Store) DeleteSSHProfile(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ssh_profiles WHERE id = ?`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(requireRowAffected(res))
}

// MoveProfileToGroup updates a profile's group reference without otherwise
// mutating it, still bumping version per the save contract.
func (s *Store) MoveProfileToGroup(ctx context.Context, id, groupID string) error {
	p, err := s.FindSSHProfileByID(ctx, id)
	if err != nil {
		return trace.Wrap(err)
	}
	p.GroupID = groupID
	return trace.Wrap(s.SaveSSHProfile(ctx, p))
}

// DuplicateSSHProfile copies profile id under a new identity and name.
func (s *Store) DuplicateSSHProfile(ctx context.Context, id, newName string) (*SSHProfile, error) {
	p, err := s.FindSSHProfileByID(ctx, id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	dup := *p
	dup.ID = ""
	dup.Name = newName
	if err := s.SaveSSHProfile(ctx, &dup); err != nil {
		return nil, trace.Wrap(err)
	}
	return &dup, nil
}

func (s *Store) scanSSHProfile(row rowScanner) (*SSHProfile, error) {
	var p SSHProfile
	var groupID, sshKeyID sql.NullString
	var authMethod string
	var encAuth []byte
	var keepAlive, compression int
	var proxyType, proxyHost sql.NullString
	var proxyPort sql.NullInt64
	var encProxyCreds []byte
	var jumpJSON, envJSON string

	err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt, &p.DeviceID, &p.Version, &p.SyncStatus, &p.Checksum,
		&p.Name, &p.Host, &p.Port, &p.Username, &groupID, &authMethod, &encAuth, &sshKeyID,
		&p.TimeoutSeconds, &keepAlive, &compression, &proxyType, &proxyHost, &proxyPort,
		&encProxyCreds, &jumpJSON, &p.WorkingDir, &p.StartupCommand, &envJSON, &p.Color)
	if err == sql.ErrNoRows {
		return nil, trace.Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}

	p.GroupID = groupID.String
	p.KeepAlive = keepAlive != 0
	p.Compression = compression != 0

	plainAuth, err := s.Sealer.Open(encAuth)
	if err != nil {
		return nil, trace.Wrap(err, "opening auth payload for profile %s", p.ID)
	}
	if err := json.Unmarshal(plainAuth, &p.Auth); err != nil {
		return nil, trace.Wrap(err)
	}

	if proxyType.Valid {
		p.Proxy = &ProxyConfig{Type: ProxyType(proxyType.String), Host: proxyHost.String, Port: int(proxyPort.Int64)}
		if len(encProxyCreds) > 0 {
			plainCreds, err := s.Sealer.Open(encProxyCreds)
			if err != nil {
				return nil, trace.Wrap(err, "opening proxy credentials for profile %s", p.ID)
			}
			if err := json.Unmarshal(plainCreds, p.Proxy); err != nil {
				return nil, trace.Wrap(err)
			}
		}
	}

	if err := json.Unmarshal([]byte(jumpJSON), &p.JumpHosts); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := json.Unmarshal([]byte(envJSON), &p.Env); err != nil {
		return nil, trace.Wrap(err)
	}

	return &p, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
