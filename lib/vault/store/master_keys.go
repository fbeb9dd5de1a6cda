package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/gravitational/trace"

	"github.com/klpod221/kerminal/lib/vault/keyhierarchy"
)

// SaveMasterPasswordEntry persists the verification material for a device,
// inserting or overwriting the single row for that device id.
func (s *Store) SaveMasterPasswordEntry(ctx context.Context, rec *keyhierarchy.DeviceMasterRecord, autoUnlockEnabled bool, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO master_password_entries
			(device_id, salt, verification_tag, argon_time, argon_memory_kib, argon_threads, auto_unlock_enabled, created_at, last_verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(device_id) DO UPDATE SET
			salt = excluded.salt,
			verification_tag = excluded.verification_tag,
			argon_time = excluded.argon_time,
			argon_memory_kib = excluded.argon_memory_kib,
			argon_threads = excluded.argon_threads`,
		rec.DeviceID, rec.Salt, rec.VerificationTag,
		rec.ArgonParams.Time, rec.ArgonParams.MemoryKiB, rec.ArgonParams.Threads,
		boolToInt(autoUnlockEnabled), createdAt.UTC())
	return trace.Wrap(err)
}

// SaveDeviceEncryptionKey persists the wrapped device key for a device.
func (s *Store) SaveDeviceEncryptionKey(ctx context.Context, rec *keyhierarchy.DeviceMasterRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_encryption_keys (device_id, wrap_salt, pbkdf2_iterations, wrapped_key_blob, key_version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			wrap_salt = excluded.wrap_salt,
			pbkdf2_iterations = excluded.pbkdf2_iterations,
			wrapped_key_blob = excluded.wrapped_key_blob,
			key_version = excluded.key_version`,
		rec.DeviceID, rec.WrapSalt, rec.PBKDF2Params.Iterations, rec.WrappedDeviceKeyBlob, rec.KeyVersion)
	return trace.Wrap(err)
}

// FindDeviceMasterRecord reassembles a DeviceMasterRecord for deviceID from
// the master_password_entries and device_encryption_keys tables.
func (s *Store) FindDeviceMasterRecord(ctx context.Context, deviceID string) (*keyhierarchy.DeviceMasterRecord, error) {
	var rec keyhierarchy.DeviceMasterRecord
	rec.DeviceID = deviceID

	err := s.db.QueryRowContext(ctx, `
		SELECT salt, verification_tag, argon_time, argon_memory_kib, argon_threads
		FROM master_password_entries WHERE device_id = ?`, deviceID,
	).Scan(&rec.Salt, &rec.VerificationTag, &rec.ArgonParams.Time, &rec.ArgonParams.MemoryKiB, &rec.ArgonParams.Threads)
	if err == sql.ErrNoRows {
		return nil, trace.Wrap(ErrNotFound, "no master password entry for device %s", deviceID)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT wrap_salt, pbkdf2_iterations, wrapped_key_blob, key_version
		FROM device_encryption_keys WHERE device_id = ?`, deviceID,
	).Scan(&rec.WrapSalt, &rec.PBKDF2Params.Iterations, &rec.WrappedDeviceKeyBlob, &rec.KeyVersion)
	if err == sql.ErrNoRows {
		return nil, trace.Wrap(ErrNotFound, "no device encryption key for device %s", deviceID)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &rec, nil
}

// ReplaceDeviceMasterRecord atomically overwrites the verification and
// wrapped-key rows for a device, used by changePassphrase so a failure
// partway through can never leave the tag and the wrapped device key out of
// sync with each other.
func (s *Store) ReplaceDeviceMasterRecord(ctx context.Context, rec *keyhierarchy.DeviceMasterRecord) error {
	return s.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE master_password_entries SET salt = ?, verification_tag = ?, argon_time = ?, argon_memory_kib = ?, argon_threads = ?
			WHERE device_id = ?`,
			rec.Salt, rec.VerificationTag, rec.ArgonParams.Time, rec.ArgonParams.MemoryKiB, rec.ArgonParams.Threads, rec.DeviceID)
		if err != nil {
			return trace.Wrap(err)
		}
		if err := requireRowAffected(res); err != nil {
			return trace.Wrap(err)
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE device_encryption_keys SET wrap_salt = ?, pbkdf2_iterations = ?, wrapped_key_blob = ?, key_version = ?
			WHERE device_id = ?`,
			rec.WrapSalt, rec.PBKDF2Params.Iterations, rec.WrappedDeviceKeyBlob, rec.KeyVersion, rec.DeviceID)
		if err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(requireRowAffected(res))
	})
}

// TouchMasterPasswordVerification records a successful verify() call.
func (s *Store) TouchMasterPasswordVerification(ctx context.Context, deviceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE master_password_entries SET last_verified_at = ? WHERE device_id = ?`,
		at.UTC(), deviceID)
	return trace.Wrap(err)
}
