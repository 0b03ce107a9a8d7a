// ABOUTME: Tests for the embedded SQLite backend.
// ABOUTME: Covers row scanning, batch transactions, and snapshot export/import round trips.

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEmbedded creates a temporary SQLite backend with the schema applied.
func setupEmbedded(t *testing.T) *EmbeddedStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenEmbeddedStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.CreateSchema(context.Background()))

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// runner is the statement surface shared by backends and the coordinator.
type runner interface {
	Run(ctx context.Context, sql string, args ...any) (Result, error)
}

func insertUser(t *testing.T, b runner, id, name, email string) {
	t.Helper()
	_, err := b.Run(context.Background(),
		`INSERT INTO users (id, name, email, password_hash, roles, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, name, email, "hash", `["USER"]`, "2026-01-02T10:00:00Z", "2026-01-02T10:00:00Z")
	require.NoError(t, err)
}

func TestEmbeddedStore_WriteThenRead(t *testing.T) {
	s := setupEmbedded(t)
	ctx := context.Background()

	insertUser(t, s, "u1", "Ada", "ada@example.com")

	rows, err := s.Query(ctx, "SELECT id, name, email FROM users WHERE id = ?", "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0]["id"])
	assert.Equal(t, "Ada", rows[0]["name"])
	assert.Equal(t, "ada@example.com", rows[0]["email"])
}

func TestEmbeddedStore_SchemaIsIdempotent(t *testing.T) {
	s := setupEmbedded(t)
	ctx := context.Background()

	insertUser(t, s, "u1", "Ada", "ada@example.com")
	require.NoError(t, s.CreateSchema(ctx))

	rows, err := s.Query(ctx, "SELECT COUNT(*) AS count FROM users")
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows[0]["count"])
}

func TestEmbeddedStore_QueryError(t *testing.T) {
	s := setupEmbedded(t)

	_, err := s.Query(context.Background(), "SELECT nope FROM nothing")
	assert.ErrorIs(t, err, ErrQuery)
}

func TestEmbeddedStore_UniqueEmail(t *testing.T) {
	s := setupEmbedded(t)

	insertUser(t, s, "u1", "Ada", "ada@example.com")
	_, err := s.Run(context.Background(),
		`INSERT INTO users (id, name, email, password_hash, roles, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"u2", "Other", "ada@example.com", "hash", "[]", "2026-01-02T10:00:00Z", "2026-01-02T10:00:00Z")
	require.Error(t, err)
	assert.True(t, isConstraintViolation(err))
}

func TestEmbeddedStore_BatchIsAtomic(t *testing.T) {
	s := setupEmbedded(t)
	ctx := context.Background()

	insertUser(t, s, "u1", "Ada", "ada@example.com")

	// Second statement violates the unique email; the first insert must roll back.
	err := s.ExecuteBatch(ctx, []Statement{
		{SQL: `INSERT INTO categories (id, name, user_id) VALUES (?, ?, ?)`, Args: []any{"c1", "Work", "u1"}},
		{SQL: `INSERT INTO users (id, name, email, password_hash, roles, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			Args: []any{"u2", "Dup", "ada@example.com", "hash", "[]", "2026-01-02T10:00:00Z", "2026-01-02T10:00:00Z"}},
	})
	require.Error(t, err)

	rows, err := s.Query(ctx, "SELECT COUNT(*) AS count FROM categories")
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows[0]["count"])
}

func TestEmbeddedStore_ExportImportRoundTrip(t *testing.T) {
	src := setupEmbedded(t)
	ctx := context.Background()

	insertUser(t, src, "u1", "Ada", "ada@example.com")
	_, err := src.Run(ctx,
		`INSERT INTO tasks (id, title, status, priority, user_id, tags, attachments, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"t1", "Write tests", "TODO", "HIGH", "u1", "[]", "[]", "2026-01-02T10:00:00Z", "2026-01-02T10:00:00Z")
	require.NoError(t, err)

	snap, err := src.Export(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Tables["users"], 1)
	require.Len(t, snap.Tables["tasks"], 1)

	// JSON round trip, then import into a fresh database
	encoded, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	decoded, err := DecodeSnapshot(encoded)
	require.NoError(t, err)

	dst := setupEmbedded(t)
	require.NoError(t, dst.Import(ctx, decoded))

	rows, err := dst.Query(ctx, "SELECT title, status FROM tasks WHERE id = ?", "t1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Write tests", rows[0]["title"])
	assert.Equal(t, "TODO", rows[0]["status"])

	users, err := dst.Query(ctx, "SELECT COUNT(*) AS count FROM users")
	require.NoError(t, err)
	assert.EqualValues(t, 1, users[0]["count"])
}

func TestDecodeSnapshot_Malformed(t *testing.T) {
	_, err := DecodeSnapshot("{not json")
	assert.ErrorIs(t, err, ErrBackupRestore)

	_, err = DecodeSnapshot(`{"exported_at":"2026-01-02T10:00:00Z"}`)
	assert.ErrorIs(t, err, ErrBackupRestore)
}
