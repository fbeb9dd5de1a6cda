package sshpool

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/ssh"

	"github.com/klpod221/kerminal/lib/session"
	"github.com/klpod221/kerminal/lib/vault/store"
)

// sshTransport adapts one interactive shell session channel to
// session.Transport/Resizer/Pinger, and releases its pool reference on
// Close so the underlying connection becomes eviction-eligible again.
type sshTransport struct {
	sess    *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	client  *ssh.Client
	pool    *Pool
	profile *store.SSHProfile

	closeOnce sync.Once
}

func (t *sshTransport) Read(b []byte) (int, error)  { return t.stdout.Read(b) }
func (t *sshTransport) Write(b []byte) (int, error) { return t.stdin.Write(b) }

func (t *sshTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.sess.Close()
		t.pool.Release(t.profile)
	})
	return err
}

func (t *sshTransport) Resize(cols, rows int) error {
	return trace.Wrap(t.sess.WindowChange(rows, cols))
}

func (t *sshTransport) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil)
		done <- result{ok: ok, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return 0, trace.Wrap(r.err)
		}
		return time.Since(start), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Spawner opens a new interactive shell session over a pooled SSH transport.
// It implements session.Spawner for session.KindSSH and session.KindSSHConfig
// by looking up params.ProfileID in the vault. params.HostName and
// params.Password are not read, so a KindSSHConfig spawn does not resolve an
// ssh_config entry and succeeds only when ProfileID names a saved profile.
type Spawner struct {
	Pool *Pool
}

func (s Spawner) Spawn(ctx context.Context, params session.SpawnParams) (session.Transport, error) {
	profile, err := s.Pool.Profiles.FindSSHProfileByID(ctx, params.ProfileID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	client, err := s.Pool.Dial(ctx, profile)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	sess, err := client.NewSession()
	if err != nil {
		s.Pool.Release(profile)
		return nil, newDialError(FailureSSHHandshake, err)
	}

	cols, rows := params.Cols, params.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		sess.Close()
		s.Pool.Release(profile)
		return nil, trace.Wrap(err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		s.Pool.Release(profile)
		return nil, trace.Wrap(err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		s.Pool.Release(profile)
		return nil, trace.Wrap(err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		s.Pool.Release(profile)
		return nil, trace.Wrap(err)
	}
	if command := profile.StartupCommand; command != "" {
		if _, err := io.WriteString(stdin, command+"\n"); err != nil {
			sess.Close()
			s.Pool.Release(profile)
			return nil, trace.Wrap(err)
		}
	}

	return &sshTransport{
		sess:    sess,
		stdin:   stdin,
		stdout:  stdout,
		client:  client,
		pool:    s.Pool,
		profile: profile,
	}, nil
}
