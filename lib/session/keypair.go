package session

import (
	"crypto"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
)

// KeyPair adapts a decrypted SSH private key into the forms an SSH client
// handshake needs: a signer for authentication and the raw public key for
// fingerprinting and known-hosts comparisons.
type KeyPair interface {
	PrivateKey() crypto.PrivateKey
	PublicKeyRaw() []byte
	SSHSigner() (ssh.Signer, error)
}

// PlainKeyPair holds a key pair decrypted from an SSHKey vault entity for
// the lifetime of one connection attempt. It keeps a reference to the
// caller's PEM slice rather than a copy; callers wipe that slice once the
// signer has been built.
type PlainKeyPair struct {
	privateKey    crypto.PrivateKey
	privateKeyRaw []byte
	publicKeyRaw  []byte
}

// NewPlainKeyPairFromPEM parses an unencrypted PEM-encoded private key and
// its accompanying authorized-keys formatted public key. Passphrase-protected
// PEM fails to parse here; NewPlainKeyPairFromEncryptedPEM handles it.
func NewPlainKeyPairFromPEM(privateKeyPEM, publicKeyRaw []byte) (*PlainKeyPair, error) {
	signer, err := ssh.ParseRawPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, trace.Wrap(err, "parsing ssh private key")
	}
	privateKey, ok := signer.(crypto.PrivateKey)
	if !ok {
		return nil, trace.BadParameter("unexpected private key type %T", signer)
	}
	return &PlainKeyPair{
		privateKey:    privateKey,
		privateKeyRaw: privateKeyPEM,
		publicKeyRaw:  publicKeyRaw,
	}, nil
}

// NewPlainKeyPairFromEncryptedPEM parses a PEM-encoded private key that is
// itself passphrase-protected at the OpenSSH layer (distinct from the
// vault's own at-rest encryption, which has already been removed by the
// time the PEM bytes reach here).
func NewPlainKeyPairFromEncryptedPEM(privateKeyPEM, passphrase, publicKeyRaw []byte) (*PlainKeyPair, error) {
	signer, err := ssh.ParseRawPrivateKeyWithPassphrase(privateKeyPEM, passphrase)
	if err != nil {
		return nil, trace.Wrap(err, "parsing passphrase-protected ssh private key")
	}
	privateKey, ok := signer.(crypto.PrivateKey)
	if !ok {
		return nil, trace.BadParameter("unexpected private key type %T", signer)
	}
	return &PlainKeyPair{
		privateKey:    privateKey,
		privateKeyRaw: privateKeyPEM,
		publicKeyRaw:  publicKeyRaw,
	}, nil
}

func (kp *PlainKeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *PlainKeyPair) PublicKeyRaw() []byte          { return kp.publicKeyRaw }

func (kp *PlainKeyPair) SSHSigner() (ssh.Signer, error) {
	signer, err := ssh.NewSignerFromKey(kp.privateKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return signer, nil
}
