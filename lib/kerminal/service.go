// Package kerminal assembles the crypto, vault, session, SSH pool, sync, and
// auth session components into one process-wide Service, following the
// teacher's daemon.Service construction pattern: a Config with
// CheckAndSetDefaults, explicit dependency wiring in New, no package-level
// globals.
package kerminal

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/klpod221/kerminal/lib/authsession"
	"github.com/klpod221/kerminal/lib/eventbus"
	"github.com/klpod221/kerminal/lib/session"
	"github.com/klpod221/kerminal/lib/sshpool"
	"github.com/klpod221/kerminal/lib/sync"
	"github.com/klpod221/kerminal/lib/vault/keyhierarchy"
	"github.com/klpod221/kerminal/lib/vault/store"
)

// Config configures a Service.
type Config struct {
	// VaultPath is the filesystem path to the SQLite vault database.
	VaultPath string
	// DeviceID is this process's device identifier.
	DeviceID     string
	DeviceName   string
	OSDescriptor string

	// IdleLockTimeout auto-locks the auth session after this much
	// inactivity. Zero disables idle locking.
	IdleLockTimeout time.Duration
	// Keystore backs auto-unlock; nil disables the feature.
	Keystore authsession.Keystore

	// SSHIdleTTL/SSHSweepInterval configure the SSH connection pool.
	SSHIdleTTL       time.Duration
	SSHSweepInterval time.Duration
	SSHDialTimeout   time.Duration

	Clock clockwork.Clock
	Log   logrus.FieldLogger
}

func (c *Config) CheckAndSetDefaults() error {
	if c.VaultPath == "" {
		return trace.BadParameter("kerminal.Config: VaultPath is required")
	}
	if c.DeviceID == "" {
		return trace.BadParameter("kerminal.Config: DeviceID is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return nil
}

// syncableTables lists every entity table and the sync entity type name it
// is replicated under, in pass order.
var syncableTables = []struct{ table, entityType string }{
	{"ssh_profiles", "ssh_profile"},
	{"ssh_groups", "ssh_group"},
	{"ssh_keys", "ssh_key"},
	{"saved_commands", "saved_command"},
}

// Service wires together the vault store, key hierarchy, auth session,
// session manager, SSH pool, event bus, and sync engine for one process.
type Service struct {
	Config
	log logrus.FieldLogger

	Bus        *eventbus.Bus
	Store      *store.Store
	Cache      *keyhierarchy.Cache
	Auth       *authsession.Session
	Sessions   *session.Manager
	SSHPool    *sshpool.Pool
	SyncEngine *sync.Engine
	Scheduler  *sync.Scheduler
}

// New constructs every component and wires their dependencies, but performs
// no I/O beyond opening the SQLite file handle; call Start to run migrations
// and bootstrap the auth session.
func New(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	log := cfg.Log.WithField(trace.Component, "kerminal")

	bus, err := eventbus.New(eventbus.Config{Log: cfg.Log})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	cache := keyhierarchy.NewCache(cfg.Log)

	s := &Service{
		Config: cfg,
		log:    log,
		Bus:    bus,
		Cache:  cache,
	}

	vaultStore, err := store.New(store.Config{
		Path: cfg.VaultPath,
		Sealer: &store.FieldSealer{
			Keys:       cache,
			Device:     s,
			KeyVersion: 1,
		},
		Clock: cfg.Clock,
		Log:   cfg.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.Store = vaultStore

	authSess, err := authsession.New(authsession.Config{
		Store:        vaultStore,
		Cache:        cache,
		Bus:          bus,
		Clock:        cfg.Clock,
		Log:          cfg.Log,
		DeviceID:     cfg.DeviceID,
		DeviceName:   cfg.DeviceName,
		OSDescriptor: cfg.OSDescriptor,
		Keystore:     cfg.Keystore,
		IdleTimeout:  cfg.IdleLockTimeout,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.Auth = authSess

	sshPool, err := sshpool.New(sshpool.Config{
		Profiles:      vaultStore,
		Keys:          vaultStore,
		IdleTTL:       cfg.SSHIdleTTL,
		SweepInterval: cfg.SSHSweepInterval,
		DialTimeout:   cfg.SSHDialTimeout,
		Clock:         cfg.Clock,
		Log:           cfg.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.SSHPool = sshPool

	sessions, err := session.NewManager(session.ManagerConfig{
		Bus:        bus,
		Clock:      cfg.Clock,
		Log:        cfg.Log,
		SSHSpawner: sshpool.Spawner{Pool: sshPool},
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.Sessions = sessions

	adapters := make([]sync.LocalAdapter, 0, len(syncableTables))
	for _, t := range syncableTables {
		adapters = append(adapters, sync.NewStoreAdapter(vaultStore, t.table, t.entityType))
	}
	engine, err := sync.New(sync.Config{
		Store:    vaultStore,
		Bus:      bus,
		Clock:    cfg.Clock,
		Log:      cfg.Log,
		Adapters: adapters,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.SyncEngine = engine
	s.Scheduler = sync.NewScheduler(engine)

	return s, nil
}

// ActiveDeviceID implements store.ActiveDevice by returning the configured
// device id. Passed to FieldSealer at construction time, before
// Auth is assigned, so it reads s.DeviceID directly rather than through
// s.Auth to avoid a nil-pointer window during New.
func (s *Service) ActiveDeviceID() string { return s.DeviceID }

// Start runs schema migrations, recognizes an existing vault for this
// device, and enables auto-sync for every database configured for it.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Store.Migrate(ctx); err != nil {
		return trace.Wrap(err)
	}
	if err := s.Auth.Bootstrap(ctx); err != nil {
		return trace.Wrap(err)
	}

	configs, err := s.Store.FindAllExternalDatabaseConfigs(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, c := range configs {
		if c.AutoSyncEnabled {
			s.Scheduler.Enable(c)
		}
	}
	return nil
}

// Stop releases every held resource: the SSH pool's cached transports, the
// sync scheduler's background loops, all open terminal sessions, the event
// bus's subscriptions, and finally the vault database handle.
func (s *Service) Stop() error {
	s.Scheduler.DisableAll()
	s.SSHPool.Close()

	var firstErr error
	if err := s.Sessions.CloseAll(); err != nil {
		firstErr = err
	}
	s.Bus.Close()
	if err := s.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return trace.Wrap(firstErr)
}
