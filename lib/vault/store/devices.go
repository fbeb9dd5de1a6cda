package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/gravitational/trace"
)

// Device is a machine that has set up or unlocked this vault.
type Device struct {
	ID          string
	DisplayName string
	OSDescriptor string
	CreatedAt   time.Time
	LastSeenAt  time.Time
	IsCurrent   bool
}

// SaveDevice inserts or updates a device row.
func (s *Store) SaveDevice(ctx context.Context, d Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, display_name, os_descriptor, created_at, last_seen_at, is_current)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			os_descriptor = excluded.os_descriptor,
			last_seen_at = excluded.last_seen_at,
			is_current = excluded.is_current`,
		d.ID, d.DisplayName, d.OSDescriptor, d.CreatedAt.UTC(), d.LastSeenAt.UTC(), boolToInt(d.IsCurrent))
	return trace.Wrap(err)
}

// FindDeviceByID returns the device with the given id, or ErrNotFound.
func (s *Store) FindDeviceByID(ctx context.Context, id string) (*Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, os_descriptor, created_at, last_seen_at, is_current
		FROM devices WHERE id = ?`, id)
	return scanDevice(row)
}

// FindAllDevices returns every registered device.
func (s *Store) FindAllDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, os_descriptor, created_at, last_seen_at, is_current FROM devices`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		var isCurrent int
		if err := rows.Scan(&d.ID, &d.DisplayName, &d.OSDescriptor, &d.CreatedAt, &d.LastSeenAt, &isCurrent); err != nil {
			return nil, trace.Wrap(err)
		}
		d.IsCurrent = isCurrent != 0
		out = append(out, d)
	}
	return out, trace.Wrap(rows.Err())
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var isCurrent int
	err := row.Scan(&d.ID, &d.DisplayName, &d.OSDescriptor, &d.CreatedAt, &d.LastSeenAt, &isCurrent)
	if err == sql.ErrNoRows {
		return nil, trace.Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	d.IsCurrent = isCurrent != 0
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
