package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/gravitational/trace"
)

// RawRecord is a full table row for an entity the sync engine replicates,
// split into the base-record fields every entity carries plus every other
// column verbatim. Secret columns travel inside Extra exactly as stored --
// still AEAD-sealed -- so the sync engine never has plaintext to leak to a
// remote database.
type RawRecord struct {
	ID         string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeviceID   string
	Version    int64
	SyncStatus SyncStatus
	Checksum   string
	Deleted    bool

	// Extra holds every non-base column by name, using the types the
	// database/sql driver itself returns (string, int64, float64, []byte,
	// bool, time.Time, or nil).
	Extra map[string]interface{}
}

var baseColumns = []string{"id", "created_at", "updated_at", "device_id", "version", "sync_status", "checksum"}

// syncableTables lists every entity table the sync engine may replicate.
// Adding a new syncable entity means adding its table name here.
var syncableTables = map[string]bool{
	"ssh_profiles":   true,
	"ssh_groups":     true,
	"ssh_keys":       true,
	"saved_commands": true,
}

func requireSyncableTable(table string) error {
	if !syncableTables[table] {
		return trace.BadParameter("store: %q is not a syncable table", table)
	}
	return nil
}

// RawRecordByID returns the full row for id in table, or ErrNotFound.
func (s *Store) RawRecordByID(ctx context.Context, table, id string) (*RawRecord, error) {
	if err := requireSyncableTable(table); err != nil {
		return nil, trace.Wrap(err)
	}
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, trace.Wrap(ErrNotFound)
	}
	rec, err := scanRawRecord(rows)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return rec, trace.Wrap(rows.Err())
}

// RawRecordsPending returns every row in table whose sync_status is pending
// or failed, the set a push pass must attempt.
func (s *Store) RawRecordsPending(ctx context.Context, table string) ([]RawRecord, error) {
	return s.rawRecordsWhere(ctx, table, "WHERE sync_status IN ('pending','failed')")
}

// RawRecordsAll returns every row in table, used by a bidirectional pass.
func (s *Store) RawRecordsAll(ctx context.Context, table string) ([]RawRecord, error) {
	return s.rawRecordsWhere(ctx, table, "")
}

func (s *Store) rawRecordsWhere(ctx context.Context, table, clause string) ([]RawRecord, error) {
	if err := requireSyncableTable(table); err != nil {
		return nil, trace.Wrap(err)
	}
	query := "SELECT * FROM " + table
	if clause != "" {
		query += " " + clause
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []RawRecord
	for rows.Next() {
		rec, err := scanRawRecord(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *rec)
	}
	return out, trace.Wrap(rows.Err())
}

func scanRawRecord(rows *sql.Rows) (*RawRecord, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, trace.Wrap(err)
	}

	rec := &RawRecord{Extra: make(map[string]interface{})}
	for i, col := range cols {
		v := values[i]
		switch col {
		case "id":
			rec.ID, _ = v.(string)
		case "created_at":
			rec.CreatedAt, _ = v.(time.Time)
		case "updated_at":
			rec.UpdatedAt, _ = v.(time.Time)
		case "device_id":
			rec.DeviceID, _ = v.(string)
		case "version":
			rec.Version = toInt64(v)
		case "sync_status":
			s, _ := v.(string)
			rec.SyncStatus = SyncStatus(s)
		case "checksum":
			rec.Checksum, _ = v.(string)
		default:
			rec.Extra[col] = v
		}
	}
	return rec, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// UpsertRawRecord writes rec into table verbatim, used to apply a record
// pulled from a remote peer without ever decrypting its secret columns.
// The caller is responsible for conflict/domination decisions; this only
// performs the write.
func (s *Store) UpsertRawRecord(ctx context.Context, table string, rec RawRecord) error {
	if err := requireSyncableTable(table); err != nil {
		return trace.Wrap(err)
	}

	cols := append([]string{}, baseColumns...)
	vals := []interface{}{rec.ID, rec.CreatedAt, rec.UpdatedAt, rec.DeviceID, rec.Version, rec.SyncStatus, rec.Checksum}
	for k, v := range rec.Extra {
		cols = append(cols, k)
		vals = append(vals, v)
	}

	placeholders := make([]byte, 0, len(cols)*2)
	updateClause := make([]byte, 0, len(cols)*16)
	for i, c := range cols {
		if i > 0 {
			placeholders = append(placeholders, ',')
			updateClause = append(updateClause, ',')
		}
		placeholders = append(placeholders, '?')
		if c != "id" {
			updateClause = append(updateClause, (c + "=excluded." + c)...)
		} else {
			updateClause = append(updateClause, "id=excluded.id"...)
		}
	}

	query := "INSERT INTO " + table + " (" + joinColumns(cols) + ") VALUES (" + string(placeholders) + ") " +
		"ON CONFLICT(id) DO UPDATE SET " + string(updateClause)
	_, err := s.db.ExecContext(ctx, query, vals...)
	return trace.Wrap(err)
}

// MarkRecordSynced reconciles sync_status to synced without otherwise
// mutating the row, used when a push/pull finds both sides already equal.
func (s *Store) MarkRecordSynced(ctx context.Context, table, id string) error {
	if err := requireSyncableTable(table); err != nil {
		return trace.Wrap(err)
	}
	_, err := s.db.ExecContext(ctx, "UPDATE "+table+" SET sync_status = ? WHERE id = ?", SyncStatusSynced, id)
	return trace.Wrap(err)
}

// DeleteRecordByTable removes a row by table name, used when applying a
// remote tombstone during pull.
func (s *Store) DeleteRecordByTable(ctx context.Context, table, id string) error {
	if err := requireSyncableTable(table); err != nil {
		return trace.Wrap(err)
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	return trace.Wrap(err)
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}
