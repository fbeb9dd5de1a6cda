package sync

import (
	"context"

	"github.com/klpod221/kerminal/lib/vault/store"
)

// Backend is one remote database kind's document access, scoped to a
// single collection (one per entity type per the remote data layout).
// Implementations exist for MySQL, Postgres, and MongoDB; the engine is
// otherwise backend-agnostic.
type Backend interface {
	// FindByID returns the remote document for id, or ok=false if absent.
	FindByID(ctx context.Context, collection, id string) (rec Record, ok bool, err error)
	// ListAll returns every non-deleted document in collection.
	ListAll(ctx context.Context, collection string) ([]Record, error)
	// Insert creates a new remote document. It must fail if one already
	// exists with the same id.
	Insert(ctx context.Context, collection string, rec Record) error
	// Overwrite replaces an existing remote document unconditionally.
	Overwrite(ctx context.Context, collection string, rec Record) error
	// MarkDeleted tombstones a remote document so other peers pull the
	// deletion instead of resurrecting it.
	MarkDeleted(ctx context.Context, collection, id string) error
	// Ping verifies connectivity, used by test_external_database_connection.
	Ping(ctx context.Context) error
	// Close releases any connection held by the backend.
	Close() error
}

// NewBackend constructs the Backend for a configured external database.
func NewBackend(ctx context.Context, cfg store.ExternalDatabaseConfig) (Backend, error) {
	switch cfg.Kind {
	case store.ExternalDatabaseMySQL:
		return newMySQLBackend(ctx, cfg.Connection)
	case store.ExternalDatabasePostgres:
		return newPostgresBackend(ctx, cfg.Connection)
	case store.ExternalDatabaseMongo:
		return newMongoBackend(ctx, cfg.Connection)
	default:
		return nil, ErrUnknownBackend
	}
}

// collectionFor names the remote collection/table for an entity type, one
// per the data layout described for the sync engine.
func collectionFor(entityType string) string {
	return "kerminal_" + entityType
}
