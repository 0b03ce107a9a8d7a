// ABOUTME: Backend contract shared by the embedded SQL store and the KV fallback store
// ABOUTME: Defines Row/Result/Statement types and the sentinel errors of the storage layer

package store

import (
	"context"
	"errors"
)

// Storage errors
var (
	// ErrQuery is returned for malformed statements or backend execution failures.
	ErrQuery = errors.New("query failed")
	// ErrInitializationTimeout is returned when the external store-ready signal
	// never arrives within the bounded wait.
	ErrInitializationTimeout = errors.New("store initialization timeout")
	// ErrBackupRestore is returned when a snapshot is malformed or cannot be imported.
	ErrBackupRestore = errors.New("backup restore failed")
	// ErrClosed is returned when an operation is attempted on a closed coordinator.
	ErrClosed = errors.New("store is closed")
)

// Row is a single result row, column name to value.
type Row map[string]any

// Result acknowledges a non-SELECT statement.
type Result struct {
	RowsAffected int64
}

// Statement is one parameterized statement of a batch.
type Statement struct {
	SQL  string
	Args []any
}

// Backend executes parameterized statements against one storage engine.
// Implementations: EmbeddedStore (durable SQLite) and EphemeralKVStore
// (volatile key-value fallback interpreting the bounded statement dialect).
type Backend interface {
	// Query runs a SELECT and returns the matching rows.
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)
	// Run executes a mutating statement.
	Run(ctx context.Context, sql string, args ...any) (Result, error)
	// ExecuteBatch executes statements as one logical unit.
	ExecuteBatch(ctx context.Context, statements []Statement) error
	// CreateSchema creates the logical schema. Idempotent.
	CreateSchema(ctx context.Context) error
	// Export serializes the full logical database.
	Export(ctx context.Context) (*Snapshot, error)
	// Import replaces the database contents with the snapshot's rows.
	Import(ctx context.Context, snap *Snapshot) error
	// Close releases the underlying engine.
	Close() error
}
