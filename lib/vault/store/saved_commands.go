package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// SavedCommandGroup organizes saved commands.
type SavedCommandGroup struct {
	BaseRecord
	Name        string
	Description string
}

// SavedCommand is a reusable shell command snippet.
type SavedCommand struct {
	BaseRecord
	Body        string
	Description string
	Tags        []string
	Favorite    bool
	UsageCount  int
	GroupID     string
}

func (c *SavedCommand) computeChecksum() string {
	tagsJSON, _ := json.Marshal(c.Tags)
	return Checksum(c.Body, c.Description, string(tagsJSON), boolString(c.Favorite))
}

// SaveSavedCommand inserts or updates a saved command.
func (s *Store) SaveSavedCommand(ctx context.Context, c *SavedCommand) error {
	now := s.clock.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = now
		c.Version = 0
	}
	c.UpdatedAt = now
	c.Version++
	c.SyncStatus = SyncStatusPending
	c.Checksum = c.computeChecksum()
	tagsJSON, _ := json.Marshal(c.Tags)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saved_commands (id, created_at, updated_at, device_id, version, sync_status, checksum,
			body, description, tags_json, favorite, usage_count, group_id)
		VALUES (?,?,?,?,?,?,?, ?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at=excluded.updated_at, device_id=excluded.device_id, version=excluded.version,
			sync_status=excluded.sync_status, checksum=excluded.checksum, body=excluded.body,
			description=excluded.description, tags_json=excluded.tags_json, favorite=excluded.favorite,
			usage_count=excluded.usage_count, group_id=excluded.group_id`,
		c.ID, c.CreatedAt, c.UpdatedAt, c.DeviceID, c.Version, c.SyncStatus, c.Checksum,
		c.Body, c.Description, string(tagsJSON), boolToInt(c.Favorite), c.UsageCount, nullableString(c.GroupID))
	return trace.Wrap(err)
}

// IncrementSavedCommandUsage bumps the usage counter without otherwise
// mutating the command, used every time a saved command is executed.
func (s *Store) IncrementSavedCommandUsage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE saved_commands SET usage_count = usage_count + 1 WHERE id = ?`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(requireRowAffected(res))
}

// FindAllSavedCommands returns every saved command.
func (s *Store) FindAllSavedCommands(ctx context.Context) ([]SavedCommand, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, updated_at, device_id, version, sync_status, checksum,
			body, description, tags_json, favorite, usage_count, group_id FROM saved_commands`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []SavedCommand
	for rows.Next() {
		var c SavedCommand
		var favorite int
		var tagsJSON string
		var groupID sql.NullString
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &c.DeviceID, &c.Version, &c.SyncStatus, &c.Checksum,
			&c.Body, &c.Description, &tagsJSON, &favorite, &c.UsageCount, &groupID); err != nil {
			return nil, trace.Wrap(err)
		}
		c.Favorite = favorite != 0
		c.GroupID = groupID.String
		_ = json.Unmarshal([]byte(tagsJSON), &c.Tags)
		out = append(out, c)
	}
	return out, trace.Wrap(rows.Err())
}

// DeleteSavedCommand removes a saved command by id.
func (s *Store) DeleteSavedCommand(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_commands WHERE id = ?`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(requireRowAffected(res))
}

// SaveSavedCommandGroup inserts or updates a saved-command group.
func (s *Store) SaveSavedCommandGroup(ctx context.Context, g *SavedCommandGroup) error {
	now := s.clock.Now().UTC()
	if g.ID == "" {
		g.ID = uuid.NewString()
		g.CreatedAt = now
		g.Version = 0
	}
	g.UpdatedAt = now
	g.Version++
	g.SyncStatus = SyncStatusPending
	g.Checksum = Checksum(g.Name, g.Description)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saved_command_groups (id, created_at, updated_at, device_id, version, sync_status, checksum, name, description)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at=excluded.updated_at, device_id=excluded.device_id, version=excluded.version,
			sync_status=excluded.sync_status, checksum=excluded.checksum, name=excluded.name, description=excluded.description`,
		g.ID, g.CreatedAt, g.UpdatedAt, g.DeviceID, g.Version, g.SyncStatus, g.Checksum, g.Name, g.Description)
	return trace.Wrap(err)
}
