package keyhierarchy

import (
	"github.com/gravitational/trace"

	"github.com/klpod221/kerminal/lib/cryptoutil"
)

// DeviceMasterRecord is the persisted, per-device state needed to re-derive
// the master key and verify a passphrase. It corresponds to the
// MasterPasswordEntry + DeviceEncryptionKey entities in the vault store.
type DeviceMasterRecord struct {
	DeviceID            string
	Salt                []byte
	VerificationTag     []byte
	ArgonParams         cryptoutil.Argon2Params
	WrapSalt            []byte
	PBKDF2Params        cryptoutil.PBKDF2Params
	WrappedDeviceKeyBlob []byte
	KeyVersion          int
}

// Setup derives a fresh master key from passphrase, generates a random
// device encryption key, seals it under a wrap key derived from the master
// key, and returns the record to persist plus the plaintext device key to
// insert into the cache. The plaintext device key must be wiped by the
// caller once it has been cached.
func Setup(deviceID string, passphrase []byte) (*DeviceMasterRecord, [cryptoutil.KeySize]byte, error) {
	var zero [cryptoutil.KeySize]byte

	salt, err := GenerateSalt(16)
	if err != nil {
		return nil, zero, trace.Wrap(err)
	}
	masterKey, err := cryptoutil.DeriveMasterKey(passphrase, salt, cryptoutil.DefaultArgon2Params)
	if err != nil {
		return nil, zero, trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(masterKey[:])

	tag := cryptoutil.DeriveVerificationTag(masterKey, salt, cryptoutil.DefaultArgon2Params)

	wrapSalt, err := GenerateSalt(16)
	if err != nil {
		return nil, zero, trace.Wrap(err)
	}
	wrapKey, err := cryptoutil.DeriveWrapKey(masterKey, wrapSalt, cryptoutil.DefaultPBKDF2Params)
	if err != nil {
		return nil, zero, trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(wrapKey[:])

	deviceKey, err := GenerateDeviceKey()
	if err != nil {
		return nil, zero, trace.Wrap(err)
	}

	blob, err := cryptoutil.Seal(wrapKey, deviceKey[:])
	if err != nil {
		return nil, zero, trace.Wrap(err)
	}

	return &DeviceMasterRecord{
		DeviceID:             deviceID,
		Salt:                 salt,
		VerificationTag:      tag,
		ArgonParams:          cryptoutil.DefaultArgon2Params,
		WrapSalt:             wrapSalt,
		PBKDF2Params:         cryptoutil.DefaultPBKDF2Params,
		WrappedDeviceKeyBlob: blob,
		KeyVersion:           1,
	}, deviceKey, nil
}

// Verify re-derives the master key from passphrase and rec.Salt and compares
// it against rec.VerificationTag in constant time. On success it opens the
// wrapped device encryption key and returns it; the caller is responsible
// for inserting it into a Cache.
func Verify(rec *DeviceMasterRecord, passphrase []byte) ([cryptoutil.KeySize]byte, error) {
	var zero [cryptoutil.KeySize]byte

	masterKey, err := cryptoutil.DeriveMasterKey(passphrase, rec.Salt, rec.ArgonParams)
	if err != nil {
		return zero, trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(masterKey[:])

	tag := cryptoutil.DeriveVerificationTag(masterKey, rec.Salt, rec.ArgonParams)
	if !ConstantTimeEqual(tag, rec.VerificationTag) {
		return zero, trace.Wrap(ErrInvalidPassphrase)
	}

	wrapKey, err := cryptoutil.DeriveWrapKey(masterKey, rec.WrapSalt, rec.PBKDF2Params)
	if err != nil {
		return zero, trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(wrapKey[:])

	plain, err := cryptoutil.Open(wrapKey, rec.WrappedDeviceKeyBlob)
	if err != nil {
		return zero, trace.Wrap(err, "opening wrapped device key")
	}
	defer cryptoutil.ZeroBytes(plain)

	var deviceKey [cryptoutil.KeySize]byte
	copy(deviceKey[:], plain)
	return deviceKey, nil
}

// ChangePassphrase re-wraps the device key under a newly derived master key
// and returns an updated record. The caller persists it inside the same
// transaction that verified old, per the auth session's changePassphrase
// contract: any failure here must leave the stored record untouched.
func ChangePassphrase(rec *DeviceMasterRecord, oldPassphrase, newPassphrase []byte) (*DeviceMasterRecord, error) {
	deviceKey, err := Verify(rec, oldPassphrase)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(deviceKey[:])

	salt, err := GenerateSalt(16)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	masterKey, err := cryptoutil.DeriveMasterKey(newPassphrase, salt, cryptoutil.DefaultArgon2Params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(masterKey[:])

	tag := cryptoutil.DeriveVerificationTag(masterKey, salt, cryptoutil.DefaultArgon2Params)

	wrapSalt, err := GenerateSalt(16)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	wrapKey, err := cryptoutil.DeriveWrapKey(masterKey, wrapSalt, cryptoutil.DefaultPBKDF2Params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer cryptoutil.ZeroBytes(wrapKey[:])

	blob, err := cryptoutil.Seal(wrapKey, deviceKey[:])
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &DeviceMasterRecord{
		DeviceID:             rec.DeviceID,
		Salt:                 salt,
		VerificationTag:      tag,
		ArgonParams:          cryptoutil.DefaultArgon2Params,
		WrapSalt:             wrapSalt,
		PBKDF2Params:         cryptoutil.DefaultPBKDF2Params,
		WrappedDeviceKeyBlob: blob,
		KeyVersion:           rec.KeyVersion + 1,
	}, nil
}

// AddDeviceKey implements cross-device federation: given a foreign device's
// DeviceMasterRecord and its passphrase, it derives that device's master
// key, opens its wrapped device key, and returns it so the caller can
// Cache.Insert it under the foreign device's id. This is the only path by
// which one device learns another device's key.
func AddDeviceKey(foreignRecord *DeviceMasterRecord, foreignPassphrase []byte) ([cryptoutil.KeySize]byte, error) {
	key, err := Verify(foreignRecord, foreignPassphrase)
	if err != nil {
		return key, trace.Wrap(err)
	}
	return key, nil
}
