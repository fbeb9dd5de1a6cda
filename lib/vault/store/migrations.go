package store

import (
	"context"
	"database/sql"

	"github.com/gravitational/trace"
)

// migration is one numbered, idempotent schema step. Steps run inside a
// transaction and are skipped if their version is already recorded in
// schema_migrations.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "base entities",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS schema_migrations (
				version INTEGER PRIMARY KEY,
				applied_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS devices (
				id TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				os_descriptor TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				last_seen_at TIMESTAMP NOT NULL,
				is_current INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS master_password_entries (
				device_id TEXT PRIMARY KEY REFERENCES devices(id),
				salt BLOB NOT NULL,
				verification_tag BLOB NOT NULL,
				argon_time INTEGER NOT NULL,
				argon_memory_kib INTEGER NOT NULL,
				argon_threads INTEGER NOT NULL,
				auto_unlock_enabled INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				last_verified_at TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS device_encryption_keys (
				device_id TEXT PRIMARY KEY REFERENCES devices(id),
				wrap_salt BLOB NOT NULL,
				pbkdf2_iterations INTEGER NOT NULL,
				wrapped_key_blob BLOB NOT NULL,
				key_version INTEGER NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "ssh keys, groups, profiles",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS ssh_groups (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				device_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				sync_status TEXT NOT NULL,
				checksum TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT,
				color TEXT,
				default_auth_method TEXT,
				expanded INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS ssh_keys (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				device_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				sync_status TEXT NOT NULL,
				checksum TEXT NOT NULL,
				name TEXT NOT NULL,
				key_type TEXT NOT NULL,
				encrypted_private_key BLOB NOT NULL,
				public_key TEXT,
				encrypted_passphrase BLOB,
				fingerprint TEXT NOT NULL,
				last_used_at TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS ssh_profiles (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				device_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				sync_status TEXT NOT NULL,
				checksum TEXT NOT NULL,
				name TEXT NOT NULL,
				host TEXT NOT NULL,
				port INTEGER NOT NULL,
				username TEXT NOT NULL,
				group_id TEXT,
				auth_method TEXT NOT NULL,
				encrypted_auth_payload BLOB,
				ssh_key_id TEXT,
				timeout_seconds INTEGER NOT NULL DEFAULT 10,
				keep_alive INTEGER NOT NULL DEFAULT 1,
				compression INTEGER NOT NULL DEFAULT 0,
				proxy_type TEXT,
				proxy_host TEXT,
				proxy_port INTEGER,
				encrypted_proxy_credentials BLOB,
				jump_hosts_json TEXT NOT NULL DEFAULT '[]',
				working_dir TEXT,
				startup_command TEXT,
				env_json TEXT NOT NULL DEFAULT '{}',
				color TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ssh_profiles_group ON ssh_profiles(group_id)`,
		},
	},
	{
		version: 3,
		name:    "saved commands",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS saved_command_groups (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				device_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				sync_status TEXT NOT NULL,
				checksum TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS saved_commands (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				device_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				sync_status TEXT NOT NULL,
				checksum TEXT NOT NULL,
				body TEXT NOT NULL,
				description TEXT,
				tags_json TEXT NOT NULL DEFAULT '[]',
				favorite INTEGER NOT NULL DEFAULT 0,
				usage_count INTEGER NOT NULL DEFAULT 0,
				group_id TEXT
			)`,
		},
	},
	{
		version: 4,
		name:    "sync support tables",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS external_database_configs (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				device_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				sync_status TEXT NOT NULL,
				checksum TEXT NOT NULL,
				name TEXT NOT NULL,
				db_type TEXT NOT NULL,
				encrypted_connection_descriptor BLOB NOT NULL,
				sync_direction TEXT NOT NULL,
				sync_interval_seconds INTEGER NOT NULL,
				conflict_strategy TEXT NOT NULL,
				auto_sync_enabled INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS sync_logs (
				id TEXT PRIMARY KEY,
				occurred_at TIMESTAMP NOT NULL,
				database_id TEXT NOT NULL,
				direction TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				action TEXT NOT NULL,
				detail TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS conflict_records (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMP NOT NULL,
				database_id TEXT NOT NULL,
				entity_type TEXT NOT NULL,
				entity_id TEXT NOT NULL,
				local_snapshot_json TEXT NOT NULL,
				remote_snapshot_json TEXT NOT NULL,
				resolved INTEGER NOT NULL DEFAULT 0,
				resolution TEXT
			)`,
		},
	},
}

// Migrate runs every migration whose version is not yet present in
// schema_migrations, each inside its own transaction, in ascending order.
// Each step's statements are idempotent (CREATE TABLE/INDEX IF NOT EXISTS)
// so re-running an already-applied step is a no-op rather than an error.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migrations[0].stmts[0]); err != nil {
		return trace.Wrap(ErrMigrationFailed, "bootstrapping schema_migrations: %v", err)
	}

	applied := make(map[int]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return trace.Wrap(ErrMigrationFailed, "reading schema_migrations: %v", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return trace.Wrap(ErrMigrationFailed, "scanning schema_migrations: %v", err)
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return trace.Wrap(err)
		}
		s.log.WithField("version", m.version).WithField("name", m.name).Info("applied schema migration")
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return trace.Wrap(ErrMigrationFailed, "migration %d (%s): %v", m.version, m.name, err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, s.clock.Now().UTC())
		if err != nil {
			return trace.Wrap(ErrMigrationFailed, "recording migration %d: %v", m.version, err)
		}
		return nil
	})
}
