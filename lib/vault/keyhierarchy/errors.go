package keyhierarchy

import "errors"

var (
	// ErrInvalidPassphrase is returned by Verify when the derived master key
	// does not match the persisted verification tag.
	ErrInvalidPassphrase = errors.New("keyhierarchy: invalid passphrase")
	// ErrLocked is returned by Cache.Insert once the cache has been wiped
	// by Lock and until Unlock is called.
	ErrLocked = errors.New("keyhierarchy: session is locked")
	// ErrUnknownDeviceKey is returned when ciphertext names a device whose
	// encryption key is not present in the cache.
	ErrUnknownDeviceKey = errors.New("keyhierarchy: unknown device key")
)

// UnknownDeviceKeyError carries the device id that the caller should prompt
// the user for, alongside ErrUnknownDeviceKey so callers can errors.Is it.
type UnknownDeviceKeyError struct {
	DeviceID string
}

func (e *UnknownDeviceKeyError) Error() string {
	return "keyhierarchy: unknown device key for device " + e.DeviceID
}

func (e *UnknownDeviceKeyError) Unwrap() error {
	return ErrUnknownDeviceKey
}
