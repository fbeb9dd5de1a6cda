package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/klpod221/kerminal/lib/cryptoutil"
	"github.com/klpod221/kerminal/lib/eventbus"
	"github.com/klpod221/kerminal/lib/vault/store"
)

type fakeKeys struct {
	keys map[string][cryptoutil.KeySize]byte
}

func (f *fakeKeys) Get(deviceID string) ([cryptoutil.KeySize]byte, bool) {
	k, ok := f.keys[deviceID]
	return k, ok
}

type fakeActiveDevice struct{ id string }

func (f fakeActiveDevice) ActiveDeviceID() string { return f.id }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	var key [cryptoutil.KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	keys := &fakeKeys{keys: map[string][cryptoutil.KeySize]byte{"device-a": key}}

	s, err := store.New(store.Config{
		Path: "file:" + t.Name() + "?mode=memory&cache=shared",
		Sealer: &store.FieldSealer{
			Keys:       keys,
			Device:     fakeActiveDevice{id: "device-a"},
			KeyVersion: 1,
		},
		Clock: clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// fakeBackend is an in-memory Backend used so engine tests never dial a
// real MySQL/Postgres/Mongo server.
type fakeBackend struct {
	mu   sync.Mutex
	docs map[string]map[string]Record // collection -> id -> record
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{docs: make(map[string]map[string]Record)}
}

func (b *fakeBackend) col(collection string) map[string]Record {
	c, ok := b.docs[collection]
	if !ok {
		c = make(map[string]Record)
		b.docs[collection] = c
	}
	return c
}

func (b *fakeBackend) FindByID(ctx context.Context, collection, id string) (Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.col(collection)[id]
	return rec, ok, nil
}

func (b *fakeBackend) ListAll(ctx context.Context, collection string) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Record
	for _, rec := range b.col(collection) {
		if !rec.Deleted {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (b *fakeBackend) Insert(ctx context.Context, collection string, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.col(collection)[rec.ID] = rec
	return nil
}

func (b *fakeBackend) Overwrite(ctx context.Context, collection string, rec Record) error {
	return b.Insert(ctx, collection, rec)
}

func (b *fakeBackend) MarkDeleted(ctx context.Context, collection, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.col(collection)[id]
	rec.Deleted = true
	b.col(collection)[id] = rec
	return nil
}

func (b *fakeBackend) Ping(ctx context.Context) error { return nil }
func (b *fakeBackend) Close() error                   { return nil }

func newTestEngine(t *testing.T, s *store.Store, backend Backend) (*Engine, string) {
	t.Helper()
	adapter := store2SyncAdapter(s)
	bus, err := eventbus.New(eventbus.Config{})
	require.NoError(t, err)
	engine, err := New(Config{
		Store:    s,
		Bus:      bus,
		Clock:    clockwork.NewFakeClock(),
		Log:      logrus.StandardLogger(),
		Adapters: []LocalAdapter{adapter},
	})
	require.NoError(t, err)

	cfg := store.ExternalDatabaseConfig{
		BaseRecord:       store.BaseRecord{ID: "db-1"},
		Name:             "test target",
		Kind:             store.ExternalDatabaseMySQL,
		ConflictStrategy: store.ConflictStrategyLastWriteWins,
	}
	engine.mu.Lock()
	engine.backends[cfg.ID] = backend
	engine.mu.Unlock()
	return engine, cfg.ID
}

func store2SyncAdapter(s *store.Store) LocalAdapter {
	return NewStoreAdapter(s, "ssh_groups", "ssh_group")
}

func saveGroup(t *testing.T, s *store.Store, name string) *store.SSHGroup {
	t.Helper()
	g := &store.SSHGroup{BaseRecord: store.BaseRecord{DeviceID: "device-a"}, Name: name}
	require.NoError(t, s.SaveSSHGroup(context.Background(), g))
	return g
}

func TestEnginePushInsertsNewLocalRecordRemotely(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	saveGroup(t, s, "prod boxes")

	backend := newFakeBackend()
	engine, dbID := newTestEngine(t, s, backend)
	cfg := store.ExternalDatabaseConfig{BaseRecord: store.BaseRecord{ID: dbID}, ConflictStrategy: store.ConflictStrategyLastWriteWins}

	stats, err := engine.Run(ctx, cfg, store.SyncDirectionPush)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Inserted)

	remoteDocs, err := backend.ListAll(ctx, "kerminal_ssh_group")
	require.NoError(t, err)
	require.Len(t, remoteDocs, 1)
}

func TestEnginePullInsertsNewRemoteRecordLocally(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	backend := newFakeBackend()
	require.NoError(t, backend.Insert(ctx, "kerminal_ssh_group", Record{
		ID:        "remote-1",
		Version:   1,
		UpdatedAt: time.Now().UTC(),
		Checksum:  "c1",
		DeviceID:  "device-b",
		Payload:   []byte(`{"name":"staging"}`),
	}))

	engine, dbID := newTestEngine(t, s, backend)
	cfg := store.ExternalDatabaseConfig{BaseRecord: store.BaseRecord{ID: dbID}, ConflictStrategy: store.ConflictStrategyLastWriteWins}

	stats, err := engine.Run(ctx, cfg, store.SyncDirectionPull)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Inserted)

	got, err := s.FindSSHGroupByID(ctx, "remote-1")
	require.NoError(t, err)
	require.Equal(t, "staging", got.Name)
}

func TestEngineBidirectionalResolvesConflictByLastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g := saveGroup(t, s, "prod boxes")

	// Remote has a lower version but a later timestamp than local, and local
	// has a higher version but an earlier timestamp -- neither dominates,
	// so the pass must fall through to conflict resolution.
	backend := newFakeBackend()
	require.NoError(t, backend.Insert(ctx, "kerminal_ssh_group", Record{
		ID:        g.ID,
		Version:   g.Version - 1,
		UpdatedAt: time.Now().UTC().Add(time.Hour),
		Checksum:  "different-checksum",
		DeviceID:  "device-b",
		Payload:   []byte(`{"name":"remote wins"}`),
	}))

	engine, dbID := newTestEngine(t, s, backend)
	cfg := store.ExternalDatabaseConfig{BaseRecord: store.BaseRecord{ID: dbID}, ConflictStrategy: store.ConflictStrategyLastWriteWins}

	stats, err := engine.Run(ctx, cfg, store.SyncDirectionBidirectional)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ConflictsAuto)

	got, err := s.FindSSHGroupByID(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, "remote wins", got.Name)
}

func TestEngineRunRejectsConcurrentPassOnSameDatabase(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	backend := newFakeBackend()
	engine, dbID := newTestEngine(t, s, backend)
	cfg := store.ExternalDatabaseConfig{BaseRecord: store.BaseRecord{ID: dbID}, ConflictStrategy: store.ConflictStrategyLastWriteWins}

	require.True(t, engine.acquire(dbID))
	_, err := engine.Run(ctx, cfg, store.SyncDirectionPush)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	engine.release(dbID)
}
