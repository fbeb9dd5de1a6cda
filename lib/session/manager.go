package session

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/klpod221/kerminal/lib/eventbus"
)

// CloseDrainDeadline bounds how long Manager.Close waits for a session's
// reader goroutine to observe the transport closing before giving up.
const CloseDrainDeadline = 3 * time.Second

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Bus   *eventbus.Bus
	Clock clockwork.Clock
	Log   logrus.FieldLogger

	// SSHSpawner spawns kind=ssh and kind=ssh-config transports. It is
	// supplied by lib/sshpool; Manager has no direct SSH dependency.
	SSHSpawner Spawner
}

func (c *ManagerConfig) CheckAndSetDefaults() error {
	if c.Bus == nil {
		return trace.BadParameter("session.ManagerConfig: Bus is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return nil
}

// Manager owns the table of live terminals for one process: one Session per
// open terminal, addressed by its id.
type Manager struct {
	ManagerConfig
	log logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs an empty Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Manager{
		ManagerConfig: cfg,
		log:           cfg.Log.WithField(trace.Component, "session-manager"),
		sessions:      make(map[string]*Session),
	}, nil
}

// SpawnLocal opens a new local PTY-backed terminal and registers it.
func (m *Manager) SpawnLocal(ctx context.Context, params SpawnParams, title string) (*Session, error) {
	params.Kind = KindLocal
	return m.spawn(ctx, localSpawner{}, params, title)
}

// SpawnSSH opens a new SSH-backed terminal via the configured SSH spawner
// and registers it. Kind must be KindSSH or KindSSHConfig.
func (m *Manager) SpawnSSH(ctx context.Context, params SpawnParams, title string) (*Session, error) {
	if m.SSHSpawner == nil {
		return nil, trace.BadParameter("session.Manager: no SSH spawner configured")
	}
	if params.Kind != KindSSH && params.Kind != KindSSHConfig {
		params.Kind = KindSSH
	}
	return m.spawn(ctx, m.SSHSpawner, params, title)
}

func (m *Manager) spawn(ctx context.Context, spawner Spawner, params SpawnParams, title string) (*Session, error) {
	sess, err := New(Config{
		Bus:   m.Bus,
		Clock: m.Clock,
		Log:   m.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if err := sess.Spawn(ctx, spawner, params, title); err != nil {
		return nil, trace.Wrap(err)
	}

	m.mu.Lock()
	m.sessions[sess.ID()] = sess
	m.mu.Unlock()

	if params.Kind != KindLocal {
		sess.StartLatencyProbe(ctx, 30*time.Second, 10*time.Second)
	}

	return sess, nil
}

// Get returns the session registered under id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, trace.Wrap(ErrNotFound, "terminal %s", id)
	}
	return sess, nil
}

// List returns every currently registered terminal id.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Write forwards to the named session's Write.
func (m *Manager) Write(id string, b []byte) error {
	sess, err := m.Get(id)
	if err != nil {
		return trace.Wrap(err)
	}
	return sess.Write(b)
}

// Resize forwards to the named session's Resize.
func (m *Manager) Resize(id string, cols, rows int) error {
	sess, err := m.Get(id)
	if err != nil {
		return trace.Wrap(err)
	}
	return sess.Resize(cols, rows)
}

// Close closes the named session and removes it from the table.
func (m *Manager) Close(id string) error {
	sess, err := m.Get(id)
	if err != nil {
		return trace.Wrap(err)
	}
	closeErr := sess.Close(CloseDrainDeadline)

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	return trace.Wrap(closeErr)
}

// CloseAll closes every open session, collecting but not stopping on errors.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Close(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
