// Package store defines the polymorphic storage-backend contract consumed by
// gosession's Store, plus the sentinel errors shared by every concrete
// backend (store/memory, store/redis, store/postgres).
package store

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound indicates that the provided id does not map to any
	// stored (non-expired) record.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists indicates that the provided id already maps to a
	// stored record (returned by backends with compare-and-swap semantics;
	// the reference backends here use upsert semantics instead, see Store).
	ErrSessionExists = errors.New("session exists")
	// ErrInvalidSessionData indicates that the session payload could not be
	// marshalled for storage.
	ErrInvalidSessionData = errors.New("invalid session data")
	// ErrInvalidStoredSessionData indicates that the payload fetched from
	// storage could not be unmarshalled.
	ErrInvalidStoredSessionData = errors.New("invalid stored session data")
)

// Backend is the uniform contract over heterogeneous session storage
// backends (relational, document, key-value, in-memory). table is a
// logical namespace supplied from config.Database.TableName.
//
// Store writes with at-least-once durability; concurrent Store calls for the
// same id must produce one surviving record with last-writer-wins semantics
// on both the payload and expiresUnix. expiresUnix is a Unix epoch second. A
// backend lacking native TTL must encode it as a column and filter reads on
// it. Backends declaring AutoHandlesExpiry() == true may return an empty
// slice from DeleteByExpiry; that is not an error.
type Backend interface {
	// Initiate creates the durable schema/namespace if absent. Idempotent.
	Initiate(ctx context.Context, table string) error
	// Count returns the number of non-expired records.
	Count(ctx context.Context, table string) (int64, error)
	// Store upserts the serialized record under id with the given
	// expiresUnix.
	Store(ctx context.Context, id string, serialized string, expiresUnix int64, table string) error
	// Load returns the serialized record for id, or (nil, nil) on a miss —
	// never ("", nil). Expired rows are treated as a miss.
	Load(ctx context.Context, id string, table string) (*string, error)
	// Exists reports whether id maps to a non-expired record.
	Exists(ctx context.Context, id string, table string) (bool, error)
	// DeleteOneByID deletes at most the single record matching id exactly
	// (never a prefix or inequality match).
	DeleteOneByID(ctx context.Context, id string, table string) error
	// DeleteByExpiry deletes all expired records and returns their ids.
	DeleteByExpiry(ctx context.Context, table string) ([]string, error)
	// DeleteAll deletes every record in table.
	DeleteAll(ctx context.Context, table string) error
	// GetIDs returns the ids of all non-expired records in table.
	GetIDs(ctx context.Context, table string) ([]string, error)
	// AutoHandlesExpiry declares whether the backend self-evicts expired
	// records (e.g. via native TTL), making DeleteByExpiry a safe no-op.
	AutoHandlesExpiry() bool
}
