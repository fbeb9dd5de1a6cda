package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v4"

	"github.com/klpod221/kerminal/lib/vault/store"
)

// postgresBackend replicates entity documents into one table per collection
// on a Postgres server via a single pgx connection.
type postgresBackend struct {
	conn *pgx.Conn
}

func newPostgresBackend(ctx context.Context, desc store.ConnectionDescriptor) (Backend, error) {
	url := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", desc.Username, desc.Password, desc.Host, desc.Port, desc.Database)
	if desc.UseTLS {
		url += "?sslmode=require"
	} else {
		url += "?sslmode=disable"
	}
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, trace.Wrap(newTransportError(err))
	}
	return &postgresBackend{conn: conn}, nil
}

func (b *postgresBackend) ensureTable(ctx context.Context, collection string) error {
	_, err := b.conn.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		version BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		checksum TEXT NOT NULL,
		device_id TEXT NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		payload_json JSONB NOT NULL
	)`, collection))
	return trace.Wrap(err)
}

func (b *postgresBackend) FindByID(ctx context.Context, collection, id string) (Record, bool, error) {
	if err := b.ensureTable(ctx, collection); err != nil {
		return Record{}, false, err
	}
	row := b.conn.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, version, updated_at, checksum, device_id, deleted, payload_json FROM %s WHERE id = $1`, collection), id)
	rec, err := scanPGRow(row)
	if err == pgx.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, trace.Wrap(newTransportError(err))
	}
	return rec, true, nil
}

func (b *postgresBackend) ListAll(ctx context.Context, collection string) ([]Record, error) {
	if err := b.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	rows, err := b.conn.Query(ctx, fmt.Sprintf(
		`SELECT id, version, updated_at, checksum, device_id, deleted, payload_json FROM %s WHERE deleted = FALSE`, collection))
	if err != nil {
		return nil, trace.Wrap(newTransportError(err))
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPGRow(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, rec)
	}
	return out, trace.Wrap(rows.Err())
}

func (b *postgresBackend) Insert(ctx context.Context, collection string, rec Record) error {
	if err := b.ensureTable(ctx, collection); err != nil {
		return err
	}
	_, err := b.conn.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, version, updated_at, checksum, device_id, deleted, payload_json) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		collection), rec.ID, rec.Version, rec.UpdatedAt, rec.Checksum, rec.DeviceID, rec.Deleted, string(rec.Payload))
	return trace.Wrap(newTransportErrorIfAny(err))
}

func (b *postgresBackend) Overwrite(ctx context.Context, collection string, rec Record) error {
	return b.upsert(ctx, collection, rec)
}

func (b *postgresBackend) upsert(ctx context.Context, collection string, rec Record) error {
	if err := b.ensureTable(ctx, collection); err != nil {
		return err
	}
	_, err := b.conn.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, version, updated_at, checksum, device_id, deleted, payload_json)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET version=excluded.version, updated_at=excluded.updated_at,
			checksum=excluded.checksum, device_id=excluded.device_id, deleted=excluded.deleted, payload_json=excluded.payload_json`,
		collection), rec.ID, rec.Version, rec.UpdatedAt, rec.Checksum, rec.DeviceID, rec.Deleted, string(rec.Payload))
	return trace.Wrap(newTransportErrorIfAny(err))
}

func (b *postgresBackend) MarkDeleted(ctx context.Context, collection, id string) error {
	if err := b.ensureTable(ctx, collection); err != nil {
		return err
	}
	_, err := b.conn.Exec(ctx, fmt.Sprintf(`UPDATE %s SET deleted = TRUE WHERE id = $1`, collection), id)
	return trace.Wrap(newTransportErrorIfAny(err))
}

func (b *postgresBackend) Ping(ctx context.Context) error {
	return trace.Wrap(newTransportErrorIfAny(b.conn.Ping(ctx)))
}

func (b *postgresBackend) Close() error {
	return trace.Wrap(b.conn.Close(context.Background()))
}

type pgRowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPGRow(row pgRowScanner) (Record, error) {
	var rec Record
	var payload []byte
	err := row.Scan(&rec.ID, &rec.Version, &rec.UpdatedAt, &rec.Checksum, &rec.DeviceID, &rec.Deleted, &payload)
	if err != nil {
		return Record{}, err
	}
	rec.Payload = json.RawMessage(payload)
	return rec, nil
}
