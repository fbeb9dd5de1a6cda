package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-mysql-org/go-mysql/client"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/gravitational/trace"

	"github.com/klpod221/kerminal/lib/vault/store"
)

// mysqlBackend replicates entity documents into one table per collection on
// a MySQL server, using go-mysql's lightweight protocol client rather than
// database/sql since the connection only ever runs a handful of
// hand-built statements.
type mysqlBackend struct {
	mu   sync.Mutex
	conn *client.Conn
}

func newMySQLBackend(ctx context.Context, desc store.ConnectionDescriptor) (Backend, error) {
	addr := fmt.Sprintf("%s:%d", desc.Host, desc.Port)
	conn, err := client.Connect(addr, desc.Username, desc.Password, desc.Database)
	if err != nil {
		return nil, trace.Wrap(newTransportError(err))
	}
	return &mysqlBackend{conn: conn}, nil
}

func (b *mysqlBackend) ensureTable(collection string) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(64) PRIMARY KEY,
		version BIGINT NOT NULL,
		updated_at DATETIME NOT NULL,
		checksum VARCHAR(64) NOT NULL,
		device_id VARCHAR(64) NOT NULL,
		deleted TINYINT NOT NULL DEFAULT 0,
		payload_json MEDIUMTEXT NOT NULL
	)`, collection)
	_, err := b.conn.Execute(stmt)
	return trace.Wrap(err)
}

func (b *mysqlBackend) FindByID(ctx context.Context, collection, id string) (Record, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureTable(collection); err != nil {
		return Record{}, false, err
	}
	res, err := b.conn.Execute(fmt.Sprintf(
		`SELECT id, version, updated_at, checksum, device_id, deleted, payload_json FROM %s WHERE id = ?`, collection), id)
	if err != nil {
		return Record{}, false, trace.Wrap(newTransportError(err))
	}
	defer res.Close()
	if res.RowNumber() == 0 {
		return Record{}, false, nil
	}
	rec, err := rowToRecord(res, 0)
	return rec, true, trace.Wrap(err)
}

func (b *mysqlBackend) ListAll(ctx context.Context, collection string) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureTable(collection); err != nil {
		return nil, err
	}
	res, err := b.conn.Execute(fmt.Sprintf(
		`SELECT id, version, updated_at, checksum, device_id, deleted, payload_json FROM %s`, collection))
	if err != nil {
		return nil, trace.Wrap(newTransportError(err))
	}
	defer res.Close()

	out := make([]Record, 0, res.RowNumber())
	for i := 0; i < res.RowNumber(); i++ {
		rec, err := rowToRecord(res, i)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if !rec.Deleted {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (b *mysqlBackend) Insert(ctx context.Context, collection string, rec Record) error {
	return b.upsert(collection, rec, false)
}

func (b *mysqlBackend) Overwrite(ctx context.Context, collection string, rec Record) error {
	return b.upsert(collection, rec, true)
}

func (b *mysqlBackend) upsert(collection string, rec Record, overwrite bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureTable(collection); err != nil {
		return err
	}

	deleted := 0
	if rec.Deleted {
		deleted = 1
	}
	if overwrite {
		_, err := b.conn.Execute(fmt.Sprintf(`
			INSERT INTO %s (id, version, updated_at, checksum, device_id, deleted, payload_json)
			VALUES (?,?,?,?,?,?,?)
			ON DUPLICATE KEY UPDATE version=VALUES(version), updated_at=VALUES(updated_at),
				checksum=VALUES(checksum), device_id=VALUES(device_id), deleted=VALUES(deleted),
				payload_json=VALUES(payload_json)`, collection),
			rec.ID, rec.Version, rec.UpdatedAt, rec.Checksum, rec.DeviceID, deleted, string(rec.Payload))
		return trace.Wrap(newTransportErrorIfAny(err))
	}
	_, err := b.conn.Execute(fmt.Sprintf(
		`INSERT INTO %s (id, version, updated_at, checksum, device_id, deleted, payload_json) VALUES (?,?,?,?,?,?,?)`, collection),
		rec.ID, rec.Version, rec.UpdatedAt, rec.Checksum, rec.DeviceID, deleted, string(rec.Payload))
	return trace.Wrap(newTransportErrorIfAny(err))
}

func (b *mysqlBackend) MarkDeleted(ctx context.Context, collection, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureTable(collection); err != nil {
		return err
	}
	_, err := b.conn.Execute(fmt.Sprintf(`UPDATE %s SET deleted = 1, updated_at = ? WHERE id = ?`, collection), time.Now().UTC(), id)
	return trace.Wrap(newTransportErrorIfAny(err))
}

func (b *mysqlBackend) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return trace.Wrap(newTransportErrorIfAny(b.conn.Ping()))
}

func (b *mysqlBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return trace.Wrap(b.conn.Close())
}

func rowToRecord(res *mysql.Result, row int) (Record, error) {
	id, err := res.GetString(row, 0)
	if err != nil {
		return Record{}, trace.Wrap(err)
	}
	version, err := res.GetInt(row, 1)
	if err != nil {
		return Record{}, trace.Wrap(err)
	}
	updatedAtRaw, err := res.GetString(row, 2)
	if err != nil {
		return Record{}, trace.Wrap(err)
	}
	updatedAt, _ := time.Parse("2006-01-02 15:04:05", updatedAtRaw)
	checksum, err := res.GetString(row, 3)
	if err != nil {
		return Record{}, trace.Wrap(err)
	}
	deviceID, err := res.GetString(row, 4)
	if err != nil {
		return Record{}, trace.Wrap(err)
	}
	deletedInt, err := res.GetInt(row, 5)
	if err != nil {
		return Record{}, trace.Wrap(err)
	}
	payloadStr, err := res.GetString(row, 6)
	if err != nil {
		return Record{}, trace.Wrap(err)
	}
	return Record{
		ID:        id,
		Version:   version,
		UpdatedAt: updatedAt,
		Checksum:  checksum,
		DeviceID:  deviceID,
		Deleted:   deletedInt != 0,
		Payload:   json.RawMessage(payloadStr),
	}, nil
}

func newTransportErrorIfAny(err error) error {
	if err == nil {
		return nil
	}
	return newTransportError(err)
}
