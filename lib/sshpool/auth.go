package sshpool

import (
	"context"
	"net"
	"os"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/klpod221/kerminal/lib/session"
	"github.com/klpod221/kerminal/lib/vault/store"
)

// KeySource resolves and decrypts SSHKey vault entities, the only vault
// dependency the pool's authentication path needs.
type KeySource interface {
	FindSSHKeyByID(ctx context.Context, id string) (*store.SSHKey, error)
	OpenPrivateKey(k *store.SSHKey) ([]byte, error)
	OpenKeyPassphrase(k *store.SSHKey) ([]byte, error)
}

// authFingerprint is a stable identifier for a profile's resolved auth
// material, used as part of the pool key so distinct credentials never share
// a cached transport even when host/port/username match.
func authFingerprint(auth store.AuthPayload) string {
	switch auth.Method {
	case store.AuthMethodPassword:
		return "password:" + auth.Password
	case store.AuthMethodKeyRef:
		return "key:" + auth.SSHKeyID
	case store.AuthMethodAgent:
		return "agent"
	default:
		return "none"
	}
}

// buildAuthMethods turns a profile's tagged auth payload into the
// golang.org/x/crypto/ssh methods to offer during the handshake.
func buildAuthMethods(ctx context.Context, auth store.AuthPayload, keys KeySource) ([]ssh.AuthMethod, error) {
	switch auth.Method {
	case store.AuthMethodPassword:
		return []ssh.AuthMethod{ssh.Password(auth.Password)}, nil

	case store.AuthMethodKeyRef:
		signer, err := signerFromKeyRef(ctx, auth, keys)
		if err != nil {
			return nil, trace.Wrap(newDialError(FailureKeyDecryption, err))
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	case store.AuthMethodAgent:
		signers, err := agentSigners()
		if err != nil {
			return nil, trace.Wrap(newDialError(FailureAuth, err))
		}
		return []ssh.AuthMethod{ssh.PublicKeysCallback(func() ([]ssh.Signer, error) { return signers, nil })}, nil

	case store.AuthMethodNone:
		return nil, nil

	default:
		return nil, trace.BadParameter("unknown auth method %q", auth.Method)
	}
}

func signerFromKeyRef(ctx context.Context, auth store.AuthPayload, keys KeySource) (ssh.Signer, error) {
	key, err := keys.FindSSHKeyByID(ctx, auth.SSHKeyID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	privatePEM, err := keys.OpenPrivateKey(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer func() {
		for i := range privatePEM {
			privatePEM[i] = 0
		}
	}()

	var kp *session.PlainKeyPair
	if auth.Passphrase != "" {
		kp, err = session.NewPlainKeyPairFromEncryptedPEM(privatePEM, []byte(auth.Passphrase), []byte(key.PublicKey))
	} else {
		kp, err = session.NewPlainKeyPairFromPEM(privatePEM, []byte(key.PublicKey))
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return kp.SSHSigner()
}

// agentSigners connects to the ssh-agent at SSH_AUTH_SOCK and returns its
// available signers.
func agentSigners() ([]ssh.Signer, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, trace.BadParameter("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return agent.NewClient(conn).Signers()
}
