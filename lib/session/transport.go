package session

import (
	"context"
	"io"
	"time"
)

// Transport is the minimal byte-stream contract a session drives: a local
// PTY and an SSH interactive channel both satisfy it.
type Transport interface {
	io.ReadWriteCloser
}

// Resizer is implemented by transports that support a live window size
// change (both local PTYs and SSH channels do).
type Resizer interface {
	Resize(cols, rows int) error
}

// Pinger is implemented by transports that can measure round-trip latency
// on their control channel (SSH only; local PTYs have no latency to probe).
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Spawner produces the Transport for a session's Kind. lib/sshpool supplies
// the ssh implementation; pty.go supplies the local implementation.
type Spawner interface {
	Spawn(ctx context.Context, params SpawnParams) (Transport, error)
}

// Kind selects how a session's transport is produced.
type Kind string

const (
	KindLocal    Kind = "local"
	KindSSH      Kind = "ssh"
	KindSSHConfig Kind = "ssh-config"
)

// SpawnParams carries every field a Spawner might need, regardless of Kind;
// a given Spawner implementation reads only the fields relevant to it.
type SpawnParams struct {
	Kind Kind

	// local
	Shell      string
	WorkingDir string
	Env        map[string]string

	// ssh
	ProfileID string

	// ssh-config
	HostName string
	Password string

	Cols, Rows int
}
