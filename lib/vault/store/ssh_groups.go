package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// SSHGroup organizes SSH profiles for display.
type SSHGroup struct {
	BaseRecord
	Name              string
	Description       string
	Color             string
	DefaultAuthMethod string
	Expanded          bool
}

func (g *SSHGroup) computeChecksum() string {
	return Checksum(g.Name, g.Description, g.Color, g.DefaultAuthMethod, boolString(g.Expanded))
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// SaveSSHGroup inserts a new group or updates an existing one, incrementing
// version and recomputing the checksum as required by the save contract.
func (s *Store) SaveSSHGroup(ctx context.Context, g *SSHGroup) error {
	now := s.clock.Now().UTC()
	if g.ID == "" {
		g.ID = uuid.NewString()
		g.CreatedAt = now
		g.Version = 0
	}
	g.UpdatedAt = now
	g.Version++
	g.SyncStatus = SyncStatusPending
	g.Checksum = g.computeChecksum()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ssh_groups (id, created_at, updated_at, device_id, version, sync_status, checksum,
			name, description, color, default_auth_method, expanded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			device_id = excluded.device_id,
			version = excluded.version,
			sync_status = excluded.sync_status,
			checksum = excluded.checksum,
			name = excluded.name,
			description = excluded.description,
			color = excluded.color,
			default_auth_method = excluded.default_auth_method,
			expanded = excluded.expanded`,
		g.ID, g.CreatedAt, g.UpdatedAt, g.DeviceID, g.Version, g.SyncStatus, g.Checksum,
		g.Name, g.Description, g.Color, g.DefaultAuthMethod, boolToInt(g.Expanded))
	return trace.Wrap(err)
}

// FindSSHGroupByID returns the group with the given id.
func (s *Store) FindSSHGroupByID(ctx context.Context, id string) (*SSHGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, device_id, version, sync_status, checksum,
			name, description, color, default_auth_method, expanded
		FROM ssh_groups WHERE id = ?`, id)
	return scanSSHGroup(row)
}

// FindAllSSHGroups returns every group.
func (s *Store) FindAllSSHGroups(ctx context.Context) ([]SSHGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, updated_at, device_id, version, sync_status, checksum,
			name, description, color, default_auth_method, expanded FROM ssh_groups`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []SSHGroup
	for rows.Next() {
		g, err := scanSSHGroup(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *g)
	}
	return out, trace.Wrap(rows.Err())
}

// DeleteSSHGroup removes a group by id.
func (s *Store) DeleteSSHGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ssh_groups WHERE id = ?`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(requireRowAffected(res))
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if n == 0 {
		return trace.Wrap(ErrNotFound)
	}
	return nil
}

func scanSSHGroup(row rowScanner) (*SSHGroup, error) {
	var g SSHGroup
	var expanded int
	err := row.Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt, &g.DeviceID, &g.Version, &g.SyncStatus, &g.Checksum,
		&g.Name, &g.Description, &g.Color, &g.DefaultAuthMethod, &expanded)
	if err == sql.ErrNoRows {
		return nil, trace.Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	g.Expanded = expanded != 0
	return &g, nil
}
