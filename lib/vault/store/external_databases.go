package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// ExternalDatabaseKind identifies the remote backend a sync target speaks.
type ExternalDatabaseKind string

const (
	ExternalDatabaseMySQL   ExternalDatabaseKind = "mysql"
	ExternalDatabasePostgres ExternalDatabaseKind = "postgres"
	ExternalDatabaseMongo   ExternalDatabaseKind = "mongodb"
)

// SyncDirection controls which way a scheduled sync pass replicates.
type SyncDirection string

const (
	SyncDirectionPush          SyncDirection = "push"
	SyncDirectionPull          SyncDirection = "pull"
	SyncDirectionBidirectional SyncDirection = "bidirectional"
)

// ConflictStrategy names a resolution policy, see lib/sync.
type ConflictStrategy string

const (
	ConflictStrategyLastWriteWins  ConflictStrategy = "last-write-wins"
	ConflictStrategyFirstWriteWins ConflictStrategy = "first-write-wins"
	ConflictStrategyLocalPriority  ConflictStrategy = "local-priority"
	ConflictStrategyRemotePriority ConflictStrategy = "remote-priority"
	ConflictStrategyManual         ConflictStrategy = "manual"
)

// ConnectionDescriptor is the tagged connection info for a remote sync
// target. It is serialized to JSON and sealed as one secret column.
type ConnectionDescriptor struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
	UseTLS   bool   `json:"useTls"`
}

// ExternalDatabaseConfig is a configured remote sync target.
type ExternalDatabaseConfig struct {
	BaseRecord
	Name             string
	Kind             ExternalDatabaseKind
	Connection       ConnectionDescriptor
	SyncDirection    SyncDirection
	SyncIntervalSecs int
	ConflictStrategy ConflictStrategy
	AutoSyncEnabled  bool
}

// SaveExternalDatabaseConfig encrypts the connection descriptor and inserts
// or updates the row.
func (s *Store) SaveExternalDatabaseConfig(ctx context.Context, c *ExternalDatabaseConfig) error {
	connJSON, err := json.Marshal(c.Connection)
	if err != nil {
		return trace.Wrap(err)
	}
	encConn, err := s.Sealer.Seal(connJSON)
	if err != nil {
		return trace.Wrap(err, "sealing connection descriptor")
	}

	now := s.clock.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = now
		c.Version = 0
	}
	c.UpdatedAt = now
	c.Version++
	c.SyncStatus = SyncStatusPending
	c.Checksum = Checksum(c.Name, string(c.Kind), string(encConn), string(c.SyncDirection), string(c.ConflictStrategy))

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO external_database_configs (id, created_at, updated_at, device_id, version, sync_status, checksum,
			name, db_type, encrypted_connection_descriptor, sync_direction, sync_interval_seconds, conflict_strategy, auto_sync_enabled)
		VALUES (?,?,?,?,?,?,?, ?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at=excluded.updated_at, device_id=excluded.device_id, version=excluded.version,
			sync_status=excluded.sync_status, checksum=excluded.checksum, name=excluded.name, db_type=excluded.db_type,
			encrypted_connection_descriptor=excluded.encrypted_connection_descriptor,
			sync_direction=excluded.sync_direction, sync_interval_seconds=excluded.sync_interval_seconds,
			conflict_strategy=excluded.conflict_strategy, auto_sync_enabled=excluded.auto_sync_enabled`,
		c.ID, c.CreatedAt, c.UpdatedAt, c.DeviceID, c.Version, c.SyncStatus, c.Checksum,
		c.Name, c.Kind, encConn, c.SyncDirection, c.SyncIntervalSecs, c.ConflictStrategy, boolToInt(c.AutoSyncEnabled))
	return trace.Wrap(err)
}

// FindExternalDatabaseConfigByID returns the config with its connection
// descriptor decrypted.
func (s *Store) FindExternalDatabaseConfigByID(ctx context.Context, id string) (*ExternalDatabaseConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at, device_id, version, sync_status, checksum,
			name, db_type, encrypted_connection_descriptor, sync_direction, sync_interval_seconds, conflict_strategy, auto_sync_enabled
		FROM external_database_configs WHERE id = ?`, id)
	return s.scanExternalDatabaseConfig(row)
}

// FindAllExternalDatabaseConfigs returns every configured sync target.
func (s *Store) FindAllExternalDatabaseConfigs(ctx context.Context) ([]ExternalDatabaseConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, updated_at, device_id, version, sync_status, checksum,
			name, db_type, encrypted_connection_descriptor, sync_direction, sync_interval_seconds, conflict_strategy, auto_sync_enabled
		FROM external_database_configs`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []ExternalDatabaseConfig
	for rows.Next() {
		c, err := s.scanExternalDatabaseConfig(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *c)
	}
	return out, trace.Wrap(rows.Err())
}

// DeleteExternalDatabaseConfig removes a sync target by id.
func (s *Store) DeleteExternalDatabaseConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM external_database_configs WHERE id = ?`, id)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(requireRowAffected(res))
}

func (s *Store) scanExternalDatabaseConfig(row rowScanner) (*ExternalDatabaseConfig, error) {
	var c ExternalDatabaseConfig
	var encConn []byte
	var autoSync int
	err := row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &c.DeviceID, &c.Version, &c.SyncStatus, &c.Checksum,
		&c.Name, &c.Kind, &encConn, &c.SyncDirection, &c.SyncIntervalSecs, &c.ConflictStrategy, &autoSync)
	if err == sql.ErrNoRows {
		return nil, trace.Wrap(ErrNotFound)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	c.AutoSyncEnabled = autoSync != 0

	plain, err := s.Sealer.Open(encConn)
	if err != nil {
		return nil, trace.Wrap(err, "opening connection descriptor for %s", c.ID)
	}
	if err := json.Unmarshal(plain, &c.Connection); err != nil {
		return nil, trace.Wrap(err)
	}
	return &c, nil
}
