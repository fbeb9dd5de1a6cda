package sync

import (
	"context"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/klpod221/kerminal/lib/eventbus"
	"github.com/klpod221/kerminal/lib/vault/store"
)

const (
	TopicSyncStarted   = "sync.started"
	TopicSyncProgress  = "sync.progress"
	TopicSyncCompleted = "sync.completed"
)

// SyncStarted is published when a pass begins.
type SyncStarted struct {
	DatabaseID string
	Direction  store.SyncDirection
}

// SyncProgress is published after each entity type finishes its pass.
type SyncProgress struct {
	DatabaseID string
	EntityType string
	Processed  int
	Total      int
}

// Stats summarizes one completed pass.
type Stats struct {
	Inserted        int
	Overwritten     int
	Synced          int
	Deleted         int
	ConflictsAuto   int
	ConflictsManual int
}

// SyncCompleted is published when a pass ends, successfully or not.
type SyncCompleted struct {
	DatabaseID string
	OK         bool
	Error      string
	Stats      Stats
}

// Config configures an Engine.
type Config struct {
	Store *store.Store
	Bus   *eventbus.Bus
	Clock clockwork.Clock
	Log   logrus.FieldLogger

	// Adapters lists every local entity type the engine may replicate, in
	// the order a pass processes them.
	Adapters []LocalAdapter
}

func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("sync.Config: Store is required")
	}
	if c.Bus == nil {
		return trace.BadParameter("sync.Config: Bus is required")
	}
	if len(c.Adapters) == 0 {
		return trace.BadParameter("sync.Config: at least one Adapter is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return nil
}

// Engine runs push/pull/bidirectional replication passes against configured
// external databases, serializing concurrent runs on the same database.
type Engine struct {
	Config
	log logrus.FieldLogger

	mu       sync.Mutex
	running  map[string]bool
	backends map[string]Backend
}

// New constructs an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{
		Config:   cfg,
		log:      cfg.Log.WithField(trace.Component, "sync"),
		running:  make(map[string]bool),
		backends: make(map[string]Backend),
	}, nil
}

// backendFor returns (creating if needed) the Backend for a database config.
func (e *Engine) backendFor(ctx context.Context, cfg store.ExternalDatabaseConfig) (Backend, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.backends[cfg.ID]; ok {
		return b, nil
	}
	b, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	e.backends[cfg.ID] = b
	return b, nil
}

// Disconnect closes and drops the cached backend for a database, matching
// the external disconnect_from_database operation.
func (e *Engine) Disconnect(databaseID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.backends[databaseID]
	if !ok {
		return nil
	}
	delete(e.backends, databaseID)
	return trace.Wrap(b.Close())
}

// TestConnection dials the backend once and pings it without caching the
// connection, matching test_external_database_connection.
func (e *Engine) TestConnection(ctx context.Context, cfg store.ExternalDatabaseConfig) error {
	b, err := NewBackend(ctx, cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	defer b.Close()
	return trace.Wrap(b.Ping(ctx))
}

func (e *Engine) acquire(databaseID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[databaseID] {
		return false
	}
	e.running[databaseID] = true
	return true
}

func (e *Engine) release(databaseID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, databaseID)
}

// Run executes one pass against cfg in the given direction (falling back to
// cfg.SyncDirection when direction is empty), serialized per database id.
func (e *Engine) Run(ctx context.Context, cfg store.ExternalDatabaseConfig, direction store.SyncDirection) (Stats, error) {
	if direction == "" {
		direction = cfg.SyncDirection
	}
	if !e.acquire(cfg.ID) {
		return Stats{}, trace.Wrap(ErrAlreadyRunning)
	}
	defer e.release(cfg.ID)

	e.Bus.Publish(TopicSyncStarted, SyncStarted{DatabaseID: cfg.ID, Direction: direction})

	backend, err := e.backendFor(ctx, cfg)
	if err != nil {
		e.complete(cfg.ID, false, err, Stats{})
		return Stats{}, trace.Wrap(err)
	}

	var stats Stats
	for _, adapter := range e.Adapters {
		select {
		case <-ctx.Done():
			err := trace.Wrap(ErrCancelled)
			e.complete(cfg.ID, false, err, stats)
			return stats, err
		default:
		}

		s, err := e.runEntity(ctx, cfg, backend, adapter, direction)
		stats.Inserted += s.Inserted
		stats.Overwritten += s.Overwritten
		stats.Synced += s.Synced
		stats.Deleted += s.Deleted
		stats.ConflictsAuto += s.ConflictsAuto
		stats.ConflictsManual += s.ConflictsManual
		if err != nil {
			e.complete(cfg.ID, false, err, stats)
			return stats, trace.Wrap(err)
		}
		e.Bus.Publish(TopicSyncProgress, SyncProgress{DatabaseID: cfg.ID, EntityType: adapter.EntityType()})
	}

	e.complete(cfg.ID, true, nil, stats)
	return stats, nil
}

func (e *Engine) complete(databaseID string, ok bool, err error, stats Stats) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e.Bus.Publish(TopicSyncCompleted, SyncCompleted{DatabaseID: databaseID, OK: ok, Error: msg, Stats: stats})
}

func (e *Engine) runEntity(ctx context.Context, cfg store.ExternalDatabaseConfig, backend Backend, adapter LocalAdapter, direction store.SyncDirection) (Stats, error) {
	switch direction {
	case store.SyncDirectionPush:
		return e.push(ctx, cfg, backend, adapter)
	case store.SyncDirectionPull:
		return e.pull(ctx, cfg, backend, adapter)
	default:
		return e.bidirectional(ctx, cfg, backend, adapter)
	}
}

func (e *Engine) collection(adapter LocalAdapter) string {
	return collectionFor(adapter.EntityType())
}

// push replicates local pending/failed records to the remote side.
func (e *Engine) push(ctx context.Context, cfg store.ExternalDatabaseConfig, backend Backend, adapter LocalAdapter) (Stats, error) {
	var stats Stats
	locals, err := adapter.ListPending(ctx)
	if err != nil {
		return stats, trace.Wrap(err)
	}
	collection := e.collection(adapter)

	for _, local := range locals {
		remote, ok, err := backend.FindByID(ctx, collection, local.ID)
		if err != nil {
			return stats, trace.Wrap(err)
		}
		switch {
		case !ok:
			if err := backend.Insert(ctx, collection, local); err != nil {
				return stats, trace.Wrap(err)
			}
			stats.Inserted++
			e.logSync(ctx, cfg.ID, "push", adapter.EntityType(), local.ID, store.SyncLogActionInserted, "")
		case remote.Version < local.Version:
			if err := backend.Overwrite(ctx, collection, local); err != nil {
				return stats, trace.Wrap(err)
			}
			stats.Overwritten++
			e.logSync(ctx, cfg.ID, "push", adapter.EntityType(), local.ID, store.SyncLogActionOverwritten, "")
		case remote.Version > local.Version:
			stats.ConflictsManual++
			if err := e.raiseConflict(ctx, cfg.ID, adapter.EntityType(), local, remote); err != nil {
				return stats, trace.Wrap(err)
			}
			continue
		default:
			stats.Synced++
		}
		if err := adapter.MarkSynced(ctx, local.ID); err != nil {
			return stats, trace.Wrap(err)
		}
	}
	return stats, nil
}

// pull replicates remote records with a higher version into the local store.
func (e *Engine) pull(ctx context.Context, cfg store.ExternalDatabaseConfig, backend Backend, adapter LocalAdapter) (Stats, error) {
	var stats Stats
	collection := e.collection(adapter)
	remotes, err := backend.ListAll(ctx, collection)
	if err != nil {
		return stats, trace.Wrap(err)
	}

	for _, remote := range remotes {
		local, ok, err := adapter.FindByID(ctx, remote.ID)
		if err != nil {
			return stats, trace.Wrap(err)
		}
		switch {
		case !ok:
			if err := adapter.ApplyRemote(ctx, remote); err != nil {
				return stats, trace.Wrap(err)
			}
			stats.Inserted++
			e.logSync(ctx, cfg.ID, "pull", adapter.EntityType(), remote.ID, store.SyncLogActionInserted, "")
		case remote.Version > local.Version:
			if err := adapter.ApplyRemote(ctx, remote); err != nil {
				return stats, trace.Wrap(err)
			}
			stats.Overwritten++
			e.logSync(ctx, cfg.ID, "pull", adapter.EntityType(), remote.ID, store.SyncLogActionOverwritten, "")
		case remote.Version < local.Version:
			stats.ConflictsManual++
			if err := e.raiseConflict(ctx, cfg.ID, adapter.EntityType(), local, remote); err != nil {
				return stats, trace.Wrap(err)
			}
			continue
		default:
			stats.Synced++
			if err := adapter.MarkSynced(ctx, remote.ID); err != nil {
				return stats, trace.Wrap(err)
			}
		}
	}
	return stats, nil
}

// bidirectional performs the merge pass described for the sync engine: for
// every id on either side, insert the missing side, propagate the strictly
// greater side, or resolve/raise a conflict when versions are incomparable.
func (e *Engine) bidirectional(ctx context.Context, cfg store.ExternalDatabaseConfig, backend Backend, adapter LocalAdapter) (Stats, error) {
	var stats Stats
	collection := e.collection(adapter)

	locals, err := adapter.ListAll(ctx)
	if err != nil {
		return stats, trace.Wrap(err)
	}
	remotes, err := backend.ListAll(ctx, collection)
	if err != nil {
		return stats, trace.Wrap(err)
	}

	localByID := make(map[string]Record, len(locals))
	for _, r := range locals {
		localByID[r.ID] = r
	}
	remoteByID := make(map[string]Record, len(remotes))
	for _, r := range remotes {
		remoteByID[r.ID] = r
	}

	ids := make(map[string]bool, len(locals)+len(remotes))
	for id := range localByID {
		ids[id] = true
	}
	for id := range remoteByID {
		ids[id] = true
	}

	for id := range ids {
		local, hasLocal := localByID[id]
		remote, hasRemote := remoteByID[id]

		switch {
		case !hasRemote:
			if err := backend.Insert(ctx, collection, local); err != nil {
				return stats, trace.Wrap(err)
			}
			if err := adapter.MarkSynced(ctx, id); err != nil {
				return stats, trace.Wrap(err)
			}
			stats.Inserted++
			e.logSync(ctx, cfg.ID, "bidirectional", adapter.EntityType(), id, store.SyncLogActionInserted, "to remote")

		case !hasLocal:
			if err := adapter.ApplyRemote(ctx, remote); err != nil {
				return stats, trace.Wrap(err)
			}
			stats.Inserted++
			e.logSync(ctx, cfg.ID, "bidirectional", adapter.EntityType(), id, store.SyncLogActionInserted, "to local")

		case local.SameVersion(remote):
			if err := adapter.MarkSynced(ctx, id); err != nil {
				return stats, trace.Wrap(err)
			}
			stats.Synced++

		case local.Dominates(remote) && !remote.Dominates(local):
			if err := backend.Overwrite(ctx, collection, local); err != nil {
				return stats, trace.Wrap(err)
			}
			if err := adapter.MarkSynced(ctx, id); err != nil {
				return stats, trace.Wrap(err)
			}
			stats.Overwritten++
			e.logSync(ctx, cfg.ID, "bidirectional", adapter.EntityType(), id, store.SyncLogActionOverwritten, "local wins")

		case remote.Dominates(local) && !local.Dominates(remote):
			if err := adapter.ApplyRemote(ctx, remote); err != nil {
				return stats, trace.Wrap(err)
			}
			stats.Overwritten++
			e.logSync(ctx, cfg.ID, "bidirectional", adapter.EntityType(), id, store.SyncLogActionOverwritten, "remote wins")

		default:
			if err := e.resolveConflict(ctx, cfg, backend, adapter, local, remote, &stats); err != nil {
				return stats, trace.Wrap(err)
			}
		}
	}
	return stats, nil
}

// resolveConflict applies cfg's configured strategy to an incomparable pair.
func (e *Engine) resolveConflict(ctx context.Context, cfg store.ExternalDatabaseConfig, backend Backend, adapter LocalAdapter, local, remote Record, stats *Stats) error {
	collection := e.collection(adapter)
	side := resolve(cfg.ConflictStrategy, local, remote)

	switch side {
	case SideLocal:
		if err := backend.Overwrite(ctx, collection, local); err != nil {
			return trace.Wrap(err)
		}
		if err := adapter.MarkSynced(ctx, local.ID); err != nil {
			return trace.Wrap(err)
		}
		stats.ConflictsAuto++
		e.logSync(ctx, cfg.ID, "bidirectional", adapter.EntityType(), local.ID, store.SyncLogActionConflictAuto, "resolved to local")
		return nil

	case SideRemote:
		if err := adapter.ApplyRemote(ctx, remote); err != nil {
			return trace.Wrap(err)
		}
		stats.ConflictsAuto++
		e.logSync(ctx, cfg.ID, "bidirectional", adapter.EntityType(), local.ID, store.SyncLogActionConflictAuto, "resolved to remote")
		return nil

	default:
		stats.ConflictsManual++
		return trace.Wrap(e.raiseConflict(ctx, cfg.ID, adapter.EntityType(), local, remote))
	}
}

func (e *Engine) raiseConflict(ctx context.Context, databaseID, entityType string, local, remote Record) error {
	if err := e.Store.CreateConflictRecord(ctx, &store.ConflictRecord{
		DatabaseID:     databaseID,
		EntityType:     entityType,
		EntityID:       local.ID,
		LocalSnapshot:  local.Payload,
		RemoteSnapshot: remote.Payload,
	}); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(e.logSync(ctx, databaseID, "bidirectional", entityType, local.ID, store.SyncLogActionConflict, ""))
}

func (e *Engine) logSync(ctx context.Context, databaseID, direction, entityType, entityID string, action store.SyncLogAction, detail string) error {
	return trace.Wrap(e.Store.AppendSyncLog(ctx, store.SyncLogEntry{
		OccurredAt: e.Clock.Now().UTC(),
		DatabaseID: databaseID,
		Direction:  direction,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Detail:     detail,
	}))
}

// ResolveManualConflict applies the user's chosen side to an existing,
// unresolved ConflictRecord, matching resolve_conflict{useLocal|useRemote}.
func (e *Engine) ResolveManualConflict(ctx context.Context, conflictID string, useLocal bool) error {
	resolution := "useRemote"
	if useLocal {
		resolution = "useLocal"
	}
	return trace.Wrap(e.Store.ResolveConflict(ctx, conflictID, resolution))
}
