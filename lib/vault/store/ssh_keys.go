package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// SSHKey is a stored private key, optionally passphrase-protected.
type SSHKey struct {
	BaseRecord
	Name                string
	KeyType             string
	EncryptedPrivateKey []byte
	PublicKey           string
	EncryptedPassphrase []byte // nil if the key has no passphrase
	Fingerprint         string
	LastUsedAt          *time.Time
}

func (k *SSHKey) computeChecksum() string {
	return Checksum(k.Name, k.KeyType, k.PublicKey, k.Fingerprint, string(k.EncryptedPrivateKey))
}

// CreateSSHKey encrypts privateKeyPEM (and passphrase, if any) under the
// active device key and inserts a new row.
func (s *Store) CreateSSHKey(ctx context.Context, name, keyType string, privateKeyPEM []byte, publicKey string, passphrase []byte, fingerprint string) (*SSHKey, error) {
	encKey, err := s.Sealer.Seal(privateKeyPEM)
	if err != nil {
		return nil, trace.Wrap(err, "sealing private key")
	}

	var encPass []byte
	if len(passphrase) > 0 {
		encPass, err = s.Sealer.Seal(passphrase)
		if err != nil {
			return nil, trace.Wrap(err, "sealing key passphrase")
		}
	}

	now := s.clock.Now().UTC()
	k := &SSHKey{
		BaseRecord: BaseRecord{
			ID:         uuid.NewString(),
			CreatedAt:  now,
			UpdatedAt:  now,
			DeviceID:   s.Sealer.Device.ActiveDeviceID(),
			Version:    1,
			SyncStatus: SyncStatusPending,
		},
		Name:                name,
		KeyType:             keyType,
		EncryptedPrivateKey: encKey,
		PublicKey:           publicKey,
		EncryptedPassphrase: encPass,
		Fingerprint:         fingerprint,
	}
	k.Checksum = k.computeChecksum()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ssh_keys (id, created_at, updated_at, device_id, version, sync_status, checksum,
			name, key_type, encrypted_private_key, public_key, encrypted_passphrase, fingerprint, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		k.ID, k.CreatedAt, k.UpdatedAt, k.DeviceID, k.Version, k.SyncStatus, k.Checksum,
		k.Name, k.KeyType, k.EncryptedPrivateKey, k.PublicKey, k.EncryptedPassphrase, k.Fingerprint)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return k, nil
}

// FindSSHKeyByID returns the raw (still-encrypted) row for id.
func (s *Store) FindSSHKeyByID(ctx context.Context, id string) (*SSHKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, device_id, version, sync_status, checksum,
			name, key_type, encrypted_private_key, public_key, encrypted_passphrase, fingerprint, last_used_at
		FROM ssh_keys WHERE id = ?`, id)
	return scanSSHKey(row)
}

// OpenPrivateKey decrypts the stored private key for k using the store's
// sealer. Returns ErrUnknownDeviceKey (via the sealer) if the originating
// device's key is not cached.
func (s *Store) OpenPrivateKey(k *SSHKey) ([]byte, error) {
	plain, err := s.Sealer.Open(k.EncryptedPrivateKey)
	return plain, trace.Wrap(err)
}

// OpenKeyPassphrase decrypts k's stored passphrase, if any.
func (s *Store) OpenKeyPassphrase(k *SSHKey) ([]byte, error) {
	if len(k.EncryptedPassphrase) == 0 {
		return nil, nil
	}
	plain, err := s.Sealer.Open(k.EncryptedPassphrase)
	return plain, trace.Wrap(err)
}

// TouchSSHKeyLastUsed records that key id was used to authenticate just now.
func (s *Store) TouchSSHKeyLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE ssh_keys SET last_used_at = ? WHERE id = ?`, at.UTC(), id)
	return trace.Wrap(err)
}

// DeleteSSHKey removes a key by id.
func (s *Store) DeleteSSHKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ssh_keys WHERE id = ?`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(requireRowAffected(res))
}

func scanSSHKey(row rowScanner) (*SSHKey, error) {
	var k SSHKey
	err := row.Scan(&k.ID, &k.CreatedAt, &k.UpdatedAt, &k.DeviceID, &k.Version, &k.SyncStatus, &k.Checksum,
		&k.Name, &k.KeyType, &k.EncryptedPrivateKey, &k.PublicKey, &k.EncryptedPassphrase, &k.Fingerprint, &k.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, trace.Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &k, nil
}
