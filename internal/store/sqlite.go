// ABOUTME: Embedded SQLite backend using modernc.org/sqlite
// ABOUTME: Durable storage engine for native targets, with generic row scanning and snapshot export

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// EmbeddedStore implements Backend on top of a SQLite database file.
type EmbeddedStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenEmbeddedStore opens (or creates) the SQLite database at path.
// Parent directories are created if needed.
func OpenEmbeddedStore(path string) (*EmbeddedStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys so cascade/set-null rules apply
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	logger.Info("embedded store opened", "path", path)
	return &EmbeddedStore{db: db, logger: logger}, nil
}

// Query runs a SELECT and scans every row into a column-name map.
func (s *EmbeddedStore) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: reading columns: %v", ErrQuery, err)
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: scanning row: %v", ErrQuery, err)
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return result, nil
}

// Run executes a mutating statement.
func (s *EmbeddedStore) Run(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return Result{RowsAffected: affected}, nil
}

// ExecuteBatch runs all statements inside one transaction.
func (s *EmbeddedStore) ExecuteBatch(ctx context.Context, statements []Statement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning batch: %v", ErrQuery, err)
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: %v", ErrQuery, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing batch: %v", ErrQuery, err)
	}
	return nil
}

// Export reads every table's full row set into a snapshot.
func (s *EmbeddedStore) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Tables: make(map[string][]Row, len(tableNames))}
	for _, table := range tableNames {
		rows, err := s.Query(ctx, "SELECT * FROM "+table)
		if err != nil {
			return nil, fmt.Errorf("exporting %s: %w", table, err)
		}
		if rows == nil {
			rows = []Row{}
		}
		snap.Tables[table] = rows
	}
	return snap, nil
}

// Import replaces the database contents with the snapshot's rows. Existing
// rows are deleted first; the whole import runs in one transaction.
func (s *EmbeddedStore) Import(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning import: %v", ErrBackupRestore, err)
	}

	// Children first on delete, parents first on insert
	for i := len(tableNames) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+tableNames[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: clearing %s: %v", ErrBackupRestore, tableNames[i], err)
		}
	}

	for _, table := range tableNames {
		for _, row := range snap.Tables[table] {
			query, args := buildInsert(table, row)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				tx.Rollback()
				return fmt.Errorf("%w: importing into %s: %v", ErrBackupRestore, table, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing import: %v", ErrBackupRestore, err)
	}
	return nil
}

// CreateSchema creates all tables and indexes if they don't exist.
func (s *EmbeddedStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *EmbeddedStore) Close() error {
	return s.db.Close()
}

// buildInsert assembles a parameterized INSERT for one exported row.
// Columns are sorted for a deterministic statement.
func buildInsert(table string, row Row) (string, []any) {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = "?"
		args[i] = row[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return query, args
}

// normalizeValue maps driver values to the portable forms used in Row:
// []byte becomes string so rows survive a JSON round trip unchanged.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// isConstraintViolation reports whether err is a SQLite constraint failure.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

var _ Backend = (*EmbeddedStore)(nil)
