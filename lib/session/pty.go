package session

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"runtime"

	"github.com/creack/pty"
	"github.com/gravitational/trace"
)

// localSpawner starts a child shell process attached to a pseudo-terminal,
// matching the spec's kind=local contract.
type localSpawner struct{}

func (localSpawner) Spawn(ctx context.Context, params SpawnParams) (Transport, error) {
	shell := params.Shell
	if shell == "" {
		shell = defaultShell()
	}

	cmd := exec.CommandContext(ctx, shell)
	cmd.Dir = params.WorkingDir
	cmd.Env = os.Environ()
	for k, v := range params.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, trace.Wrap(ErrSpawnFailed, "starting pty for %s: %v", shell, err)
	}
	if params.Cols > 0 && params.Rows > 0 {
		_ = pty.Setsize(f, &pty.Winsize{Cols: uint16(params.Cols), Rows: uint16(params.Rows)})
	}

	return &ptyTransport{file: f, cmd: cmd}, nil
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "powershell.exe"
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

// ptyTransport adapts a *os.File backed pty plus its child process to the
// Transport/Resizer interfaces.
type ptyTransport struct {
	file *os.File
	cmd  *exec.Cmd
}

func (p *ptyTransport) Read(b []byte) (int, error)  { return p.file.Read(b) }
func (p *ptyTransport) Write(b []byte) (int, error) { return p.file.Write(b) }

func (p *ptyTransport) Close() error {
	p.file.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}

func (p *ptyTransport) Resize(cols, rows int) error {
	return trace.Wrap(pty.Setsize(p.file, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}))
}

// ExitCode returns the child process's exit code once it has exited, or -1
// if it hasn't exited yet or exited due to a signal.
func (p *ptyTransport) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// defaultTitle discovers "user@hostname" for a local session without an
// explicit title, matching the spec's fallback title rule.
func defaultTitle() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	u, err := user.Current()
	username := "user"
	if err == nil {
		username = u.Username
	}
	return username + "@" + host
}
