package authsession

import "github.com/klpod221/kerminal/lib/cryptoutil"

// Keystore abstracts the OS-native credential store (macOS Keychain, Windows
// Credential Manager, a Secret Service provider on Linux) behind the
// interface the spec calls for rather than reaching into any one platform's
// API from this package. The UI/OS-integration layer supplies the concrete
// implementation; a nil Keystore simply disables auto-unlock.
type Keystore interface {
	// Load returns the wrap key and wrapped device-key blob previously saved
	// for deviceID, or ok=false if the OS keystore holds nothing for it.
	Load(deviceID string) (wrapKey [cryptoutil.KeySize]byte, wrappedKeyBlob []byte, ok bool, err error)
	// Save stores the wrap key and wrapped device-key blob so a later
	// process can auto-unlock without prompting for the passphrase.
	Save(deviceID string, wrapKey [cryptoutil.KeySize]byte, wrappedKeyBlob []byte) error
	// Clear removes any stored material for deviceID. Nothing in this
	// package calls it; Session.Lock leaves the keystore untouched.
	Clear(deviceID string) error
}
