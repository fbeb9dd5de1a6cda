package sync

import (
	"context"
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/klpod221/kerminal/lib/vault/store"
)

// LocalAdapter bridges one local entity table to the engine's Record shape.
// Secret columns never leave Extra/Payload decrypted -- the adapter never
// calls a Sealer.
type LocalAdapter interface {
	EntityType() string
	ListPending(ctx context.Context) ([]Record, error)
	ListAll(ctx context.Context) ([]Record, error)
	FindByID(ctx context.Context, id string) (Record, bool, error)
	// ApplyRemote inserts or overwrites the local row from a remote record
	// that has won a push/pull/merge decision, marking it synced.
	ApplyRemote(ctx context.Context, rec Record) error
	MarkSynced(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// storeAdapter is the one LocalAdapter implementation, parameterized by
// table name; every syncable entity in lib/vault/store shares the same
// raw-row shape (BaseRecord plus opaque extra columns) so one adapter type
// serves all of them.
type storeAdapter struct {
	store      *store.Store
	table      string
	entityType string
}

// NewStoreAdapter constructs the LocalAdapter for a syncable vault table.
func NewStoreAdapter(s *store.Store, table, entityType string) LocalAdapter {
	return &storeAdapter{store: s, table: table, entityType: entityType}
}

func (a *storeAdapter) EntityType() string { return a.entityType }

func (a *storeAdapter) ListPending(ctx context.Context) ([]Record, error) {
	rows, err := a.store.RawRecordsPending(ctx, a.table)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return toRecords(rows)
}

func (a *storeAdapter) ListAll(ctx context.Context) ([]Record, error) {
	rows, err := a.store.RawRecordsAll(ctx, a.table)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return toRecords(rows)
}

func (a *storeAdapter) FindByID(ctx context.Context, id string) (Record, bool, error) {
	raw, err := a.store.RawRecordByID(ctx, a.table, id)
	if trace.IsNotFound(err) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, trace.Wrap(err)
	}
	rec, err := toRecord(*raw)
	return rec, true, trace.Wrap(err)
}

func (a *storeAdapter) ApplyRemote(ctx context.Context, rec Record) error {
	raw, err := fromRecord(rec)
	if err != nil {
		return trace.Wrap(err)
	}
	raw.SyncStatus = store.SyncStatusSynced
	return trace.Wrap(a.store.UpsertRawRecord(ctx, a.table, raw))
}

func (a *storeAdapter) MarkSynced(ctx context.Context, id string) error {
	return trace.Wrap(a.store.MarkRecordSynced(ctx, a.table, id))
}

func (a *storeAdapter) Delete(ctx context.Context, id string) error {
	return trace.Wrap(a.store.DeleteRecordByTable(ctx, a.table, id))
}

func toRecords(rows []store.RawRecord) ([]Record, error) {
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		rec, err := toRecord(r)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func toRecord(raw store.RawRecord) (Record, error) {
	payload, err := json.Marshal(raw.Extra)
	if err != nil {
		return Record{}, trace.Wrap(err)
	}
	return Record{
		ID:        raw.ID,
		CreatedAt: raw.CreatedAt,
		Version:   raw.Version,
		UpdatedAt: raw.UpdatedAt,
		Checksum:  raw.Checksum,
		DeviceID:  raw.DeviceID,
		Payload:   payload,
	}, nil
}

func fromRecord(rec Record) (store.RawRecord, error) {
	extra := map[string]interface{}{}
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &extra); err != nil {
			return store.RawRecord{}, trace.Wrap(err)
		}
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = rec.UpdatedAt
	}
	return store.RawRecord{
		ID:         rec.ID,
		CreatedAt:  createdAt,
		UpdatedAt:  rec.UpdatedAt,
		DeviceID:   rec.DeviceID,
		Version:    rec.Version,
		SyncStatus: store.SyncStatusSynced,
		Checksum:   rec.Checksum,
		Extra:      extra,
	}, nil
}
