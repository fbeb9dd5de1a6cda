// Package store implements the vault's persistent entity tables: one table
// per entity, transparent field-level encryption of secret columns via a
// FieldSealer, monotonic versioning, and numbered idempotent migrations.
//
// It follows the teacher's orchestrator shape (Config with
// CheckAndSetDefaults, a constructor that validates before doing anything
// else) rather than a package-level global database handle.
package store

import (
	"context"
	"database/sql"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures a Store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. Use
	// "file::memory:?cache=shared" for an in-process test database.
	Path string
	// Sealer performs field-level encryption of secret columns. Required.
	Sealer *FieldSealer
	// Clock is used for all timestamp generation, so tests can control time.
	Clock clockwork.Clock
	// Log receives structured, component-tagged log entries.
	Log logrus.FieldLogger
	// MaxOpenConns bounds the underlying connection pool. SQLite tolerates
	// a small pool better than unbounded concurrent writers.
	MaxOpenConns int
}

// CheckAndSetDefaults validates required fields and fills in defaults for
// everything else.
func (c *Config) CheckAndSetDefaults() error {
	if c.Path == "" {
		return trace.BadParameter("store.Config: Path is required")
	}
	if c.Sealer == nil {
		return trace.BadParameter("store.Config: Sealer is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 1
	}
	return nil
}

// Store is the vault's persistence layer.
type Store struct {
	Config
	db    *sql.DB
	log   logrus.FieldLogger
	clock clockwork.Clock
}

// New opens (creating if necessary) the SQLite database at cfg.Path and
// returns a Store ready for Migrate.
func New(cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, trace.Wrap(err, "opening vault database at %s", cfg.Path)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, trace.Wrap(err, "enabling foreign keys")
	}

	return &Store{
		Config: cfg,
		db:     db,
		log:    cfg.Log.WithField(trace.Component, "vault/store"),
		clock:  cfg.Clock,
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return trace.Wrap(s.db.Close())
}

// Transaction runs f inside a single atomic unit, rolling back on any error
// f returns (including a panic, which is re-raised after rollback).
func (s *Store) Transaction(ctx context.Context, f func(ctx context.Context, tx *sql.Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return f(ctx, tx)
	})
}

func (s *Store) withTx(ctx context.Context, f func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.Wrap(err, "beginning transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.WithError(rbErr).Warn("rollback failed after error")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return trace.Wrap(err, "committing transaction")
	}
	return nil
}
