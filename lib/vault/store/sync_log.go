package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// SyncLogAction names what a sync log entry recorded.
type SyncLogAction string

const (
	SyncLogActionInserted      SyncLogAction = "inserted"
	SyncLogActionOverwritten   SyncLogAction = "overwritten"
	SyncLogActionDeleted       SyncLogAction = "deleted"
	SyncLogActionConflict      SyncLogAction = "conflict"
	SyncLogActionConflictAuto  SyncLogAction = "conflict-auto-resolved"
)

// SyncLogEntry is one time-ordered operation performed by the sync engine.
type SyncLogEntry struct {
	ID         string
	OccurredAt time.Time
	DatabaseID string
	Direction  string
	EntityType string
	EntityID   string
	Action     SyncLogAction
	Detail     string
}

// AppendSyncLog records one sync operation. Sync-log writes are never
// dropped, per the backpressure rules in the concurrency model.
func (s *Store) AppendSyncLog(ctx context.Context, e SyncLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, occurred_at, database_id, direction, entity_type, entity_id, action, detail)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.OccurredAt, e.DatabaseID, e.Direction, e.EntityType, e.EntityID, e.Action, e.Detail)
	return trace.Wrap(err)
}

// FindSyncLogs returns every log entry for a database, most recent first.
func (s *Store) FindSyncLogs(ctx context.Context, databaseID string) ([]SyncLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, database_id, direction, entity_type, entity_id, action, detail
		FROM sync_logs WHERE database_id = ? ORDER BY occurred_at DESC`, databaseID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.DatabaseID, &e.Direction, &e.EntityType, &e.EntityID, &e.Action, &e.Detail); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, e)
	}
	return out, trace.Wrap(rows.Err())
}

// ConflictRecord persists both snapshots of an unresolved or manually
// resolved conflict.
type ConflictRecord struct {
	ID             string
	CreatedAt      time.Time
	DatabaseID     string
	EntityType     string
	EntityID       string
	LocalSnapshot  json.RawMessage
	RemoteSnapshot json.RawMessage
	Resolved       bool
	Resolution     string
}

// CreateConflictRecord persists a new, unresolved conflict.
func (s *Store) CreateConflictRecord(ctx context.Context, c *ConflictRecord) error {
	c.ID = uuid.NewString()
	c.CreatedAt = s.clock.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflict_records (id, created_at, database_id, entity_type, entity_id, local_snapshot_json, remote_snapshot_json, resolved, resolution)
		VALUES (?,?,?,?,?,?,?,0,NULL)`,
		c.ID, c.CreatedAt, c.DatabaseID, c.EntityType, c.EntityID, string(c.LocalSnapshot), string(c.RemoteSnapshot))
	return trace.Wrap(err)
}

// FindUnresolvedConflicts returns every conflict not yet resolved.
func (s *Store) FindUnresolvedConflicts(ctx context.Context) ([]ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, database_id, entity_type, entity_id, local_snapshot_json, remote_snapshot_json, resolved, resolution
		FROM conflict_records WHERE resolved = 0`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []ConflictRecord
	for rows.Next() {
		var c ConflictRecord
		var resolved int
		var resolution, localJSON, remoteJSON string
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.DatabaseID, &c.EntityType, &c.EntityID, &localJSON, &remoteJSON, &resolved, &resolution); err != nil {
			return nil, trace.Wrap(err)
		}
		c.Resolved = resolved != 0
		c.Resolution = resolution
		c.LocalSnapshot = json.RawMessage(localJSON)
		c.RemoteSnapshot = json.RawMessage(remoteJSON)
		out = append(out, c)
	}
	return out, trace.Wrap(rows.Err())
}

// ResolveConflict marks a conflict resolved with the given side, recorded
// verbatim ("useLocal" / "useRemote" / a named strategy).
func (s *Store) ResolveConflict(ctx context.Context, id, resolution string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conflict_records SET resolved = 1, resolution = ? WHERE id = ?`, resolution, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(requireRowAffected(res))
}
