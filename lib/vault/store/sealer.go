package store

import (
	"encoding/binary"

	"github.com/gravitational/trace"

	"github.com/klpod221/kerminal/lib/cryptoutil"
)

// KeyLookup resolves a device id to its encryption key. It is satisfied by
// *keyhierarchy.Cache; store does not import keyhierarchy directly so that
// the persistence layer has no dependency on how keys are obtained.
type KeyLookup interface {
	Get(deviceID string) ([cryptoutil.KeySize]byte, bool)
}

// ActiveDevice identifies the device whose key should be used to seal newly
// written secret fields.
type ActiveDevice interface {
	ActiveDeviceID() string
}

// FieldSealer implements the vault's field-encryption policy: every secret
// column is stored as a small fixed header (originating device id, key
// version) followed by an AEAD blob, so any reader can tell which device's
// key is required before attempting to decrypt.
type FieldSealer struct {
	Keys       KeyLookup
	Device     ActiveDevice
	KeyVersion int
}

// sealedFieldHeader layout: [1 byte deviceIDLen][deviceIDLen bytes deviceID][2 bytes keyVersion BE]
func encodeHeader(deviceID string, keyVersion int) ([]byte, error) {
	if len(deviceID) == 0 || len(deviceID) > 255 {
		return nil, trace.BadParameter("device id length %d out of range 1..255", len(deviceID))
	}
	if keyVersion < 0 || keyVersion > 0xFFFF {
		return nil, trace.BadParameter("key version %d out of range", keyVersion)
	}
	header := make([]byte, 1+len(deviceID)+2)
	header[0] = byte(len(deviceID))
	copy(header[1:], deviceID)
	binary.BigEndian.PutUint16(header[1+len(deviceID):], uint16(keyVersion))
	return header, nil
}

func decodeHeader(blob []byte) (deviceID string, keyVersion int, rest []byte, err error) {
	if len(blob) < 1 {
		return "", 0, nil, trace.Wrap(cryptoutil.ErrMalformedBlob, "empty field blob")
	}
	idLen := int(blob[0])
	if len(blob) < 1+idLen+2 {
		return "", 0, nil, trace.Wrap(cryptoutil.ErrMalformedBlob, "field blob shorter than header")
	}
	deviceID = string(blob[1 : 1+idLen])
	keyVersion = int(binary.BigEndian.Uint16(blob[1+idLen : 1+idLen+2]))
	rest = blob[1+idLen+2:]
	return deviceID, keyVersion, rest, nil
}

// Seal encrypts plaintext under the active device's current key and returns
// header||AEAD-blob ready to store in a secret column.
func (s *FieldSealer) Seal(plaintext []byte) ([]byte, error) {
	deviceID := s.Device.ActiveDeviceID()
	key, ok := s.Keys.Get(deviceID)
	if !ok {
		return nil, trace.Wrap(ErrUnknownDeviceKey, "no cached key for active device %s", deviceID)
	}
	header, err := encodeHeader(deviceID, s.KeyVersion)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	aeadBlob, err := cryptoutil.Seal(key, plaintext)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return append(header, aeadBlob...), nil
}

// Open decodes the header, looks up the named device's key, and decrypts.
// If the key is not in the cache it returns an error wrapping
// ErrUnknownDeviceKey along with the device id, matching the cross-device
// decryption contract described in the key hierarchy's failure mode.
func (s *FieldSealer) Open(blob []byte) ([]byte, error) {
	deviceID, _, aeadBlob, err := decodeHeader(blob)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	key, ok := s.Keys.Get(deviceID)
	if !ok {
		return nil, trace.Wrap(&UnknownDeviceKeyError{DeviceID: deviceID})
	}
	plaintext, err := cryptoutil.Open(key, aeadBlob)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return plaintext, nil
}

// FieldDeviceID returns the originating device id recorded in a secret
// column's header without attempting to decrypt it, so callers can tag
// undecryptable rows for the UI (see sync's undecryptable-record handling).
func FieldDeviceID(blob []byte) (string, error) {
	deviceID, _, _, err := decodeHeader(blob)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return deviceID, nil
}

// UnknownDeviceKeyError mirrors keyhierarchy.UnknownDeviceKeyError so store
// callers can errors.As without importing keyhierarchy for this one type.
type UnknownDeviceKeyError struct {
	DeviceID string
}

func (e *UnknownDeviceKeyError) Error() string {
	return "store: unknown device key for device " + e.DeviceID
}

func (e *UnknownDeviceKeyError) Unwrap() error {
	return ErrUnknownDeviceKey
}
