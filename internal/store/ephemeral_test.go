// ABOUTME: Tests for the KV fallback backend's statement interpretation.
// ABOUTME: Covers insert-or-replace, constraint checks, filtering, ordering, and unsupported shapes.

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/kv"
)

func setupEphemeral(t *testing.T) *EphemeralKVStore {
	t.Helper()
	s := NewEphemeralKVStore(kv.NewMemoryStore(0))
	require.NoError(t, s.CreateSchema(context.Background()))
	return s
}

func TestEphemeral_InsertAndSelect(t *testing.T) {
	s := setupEphemeral(t)
	ctx := context.Background()

	insertUser(t, s, "u1", "Ada", "ada@example.com")

	rows, err := s.Query(ctx, "SELECT * FROM users WHERE id = ?", "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada", rows[0]["name"])

	rows, err = s.Query(ctx, "SELECT id, email FROM users WHERE email = ?", "ada@example.com")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0]["id"])
	assert.NotContains(t, rows[0], "name")
}

func TestEphemeral_Count(t *testing.T) {
	s := setupEphemeral(t)
	ctx := context.Background()

	rows, err := s.Query(ctx, "SELECT COUNT(*) AS count FROM users")
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows[0]["count"])

	insertUser(t, s, "u1", "Ada", "ada@example.com")
	insertUser(t, s, "u2", "Grace", "grace@example.com")

	rows, err = s.Query(ctx, "SELECT COUNT(*) AS count FROM users")
	require.NoError(t, err)
	assert.EqualValues(t, 2, rows[0]["count"])
}

func TestEphemeral_PrimaryKeyConflict(t *testing.T) {
	s := setupEphemeral(t)

	insertUser(t, s, "u1", "Ada", "ada@example.com")
	_, err := s.Run(context.Background(),
		`INSERT INTO users (id, name, email, password_hash, roles, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"u1", "Clone", "clone@example.com", "hash", "[]", "2026-01-02T10:00:00Z", "2026-01-02T10:00:00Z")
	assert.ErrorIs(t, err, ErrQuery)
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")
}

func TestEphemeral_UniqueEmail(t *testing.T) {
	s := setupEphemeral(t)

	insertUser(t, s, "u1", "Ada", "ada@example.com")
	_, err := s.Run(context.Background(),
		`INSERT INTO users (id, name, email, password_hash, roles, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"u2", "Other", "ada@example.com", "hash", "[]", "2026-01-02T10:00:00Z", "2026-01-02T10:00:00Z")
	assert.ErrorIs(t, err, ErrQuery)
}

func TestEphemeral_InsertOrReplace(t *testing.T) {
	s := setupEphemeral(t)
	ctx := context.Background()

	insertUser(t, s, "u1", "Ada", "ada@example.com")

	_, err := s.Run(ctx,
		`INSERT OR REPLACE INTO auth_tokens (user_id, token, refresh_token, expires_at) VALUES (?, ?, ?, ?)`,
		"u1", "tok-1", "ref-1", "2026-01-03T10:00:00Z")
	require.NoError(t, err)

	_, err = s.Run(ctx,
		`INSERT OR REPLACE INTO auth_tokens (user_id, token, refresh_token, expires_at) VALUES (?, ?, ?, ?)`,
		"u1", "tok-2", "ref-2", "2026-01-04T10:00:00Z")
	require.NoError(t, err)

	rows, err := s.Query(ctx, "SELECT * FROM auth_tokens WHERE user_id = ?", "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "replace must keep at most one row per user")
	assert.Equal(t, "tok-2", rows[0]["token"])
}

func TestEphemeral_UpdateAndDelete(t *testing.T) {
	s := setupEphemeral(t)
	ctx := context.Background()

	insertUser(t, s, "u1", "Ada", "ada@example.com")

	res, err := s.Run(ctx, "UPDATE users SET name = ?, bio = ? WHERE id = ?", "Ada L.", "pioneer", "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)

	rows, err := s.Query(ctx, "SELECT name, bio FROM users WHERE id = ?", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", rows[0]["name"])

	res, err = s.Run(ctx, "DELETE FROM users WHERE id = ?", "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)

	rows, err = s.Query(ctx, "SELECT COUNT(*) AS count FROM users")
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows[0]["count"])
}

func TestEphemeral_OrderBy(t *testing.T) {
	s := setupEphemeral(t)
	ctx := context.Background()

	for _, u := range []struct{ id, created string }{
		{"u1", "2026-01-01T00:00:00Z"},
		{"u2", "2026-01-03T00:00:00Z"},
		{"u3", "2026-01-02T00:00:00Z"},
	} {
		_, err := s.Run(ctx,
			`INSERT INTO users (id, name, email, password_hash, roles, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.id, "n", u.id+"@example.com", "hash", "[]", u.created, u.created)
		require.NoError(t, err)
	}

	rows, err := s.Query(ctx, "SELECT id FROM users ORDER BY created_at DESC")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "u2", rows[0]["id"])
	assert.Equal(t, "u3", rows[1]["id"])
	assert.Equal(t, "u1", rows[2]["id"])
}

func TestEphemeral_IsNullFilter(t *testing.T) {
	s := setupEphemeral(t)
	ctx := context.Background()

	insertUser(t, s, "u1", "Ada", "ada@example.com")
	_, err := s.Run(ctx,
		`INSERT INTO categories (id, name, user_id) VALUES (?, ?, ?)`,
		"c1", "Global", nil)
	require.NoError(t, err)
	_, err = s.Run(ctx,
		`INSERT INTO categories (id, name, user_id) VALUES (?, ?, ?)`,
		"c2", "Mine", "u1")
	require.NoError(t, err)

	rows, err := s.Query(ctx, "SELECT id FROM categories WHERE user_id IS NULL")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c1", rows[0]["id"])
}

func TestEphemeral_UnsupportedStatements(t *testing.T) {
	s := setupEphemeral(t)
	ctx := context.Background()

	_, err := s.Query(ctx, "SELECT * FROM users JOIN tasks ON tasks.user_id = users.id")
	assert.ErrorIs(t, err, ErrQuery)

	_, err = s.Run(ctx, "PRAGMA journal_mode=WAL")
	assert.ErrorIs(t, err, ErrQuery)

	_, err = s.Query(ctx, "SELECT * FROM nowhere")
	assert.ErrorIs(t, err, ErrQuery)
}

func TestEphemeral_RowsPersistInUnderlyingStore(t *testing.T) {
	underlying := kv.NewMemoryStore(0)
	s := NewEphemeralKVStore(underlying)
	ctx := context.Background()
	require.NoError(t, s.CreateSchema(ctx))

	insertUser(t, s, "u1", "Ada", "ada@example.com")

	// A second backend over the same store sees the rows after re-creating
	// the schema, the way a reloaded page re-reads web storage.
	reopened := NewEphemeralKVStore(underlying)
	require.NoError(t, reopened.CreateSchema(ctx))
	rows, err := reopened.Query(ctx, "SELECT COUNT(*) AS count FROM users")
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows[0]["count"])
}

func TestEphemeral_ExportImportRoundTrip(t *testing.T) {
	s := setupEphemeral(t)
	ctx := context.Background()

	insertUser(t, s, "u1", "Ada", "ada@example.com")

	snap, err := s.Export(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Tables["users"], 1)

	dst := setupEphemeral(t)
	require.NoError(t, dst.Import(ctx, snap))

	rows, err := dst.Query(ctx, "SELECT name FROM users WHERE id = ?", "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada", rows[0]["name"])
}
