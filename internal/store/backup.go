// ABOUTME: Write-through backup channel persisting full-database snapshots to a secondary store
// ABOUTME: Best-effort on write, restore-on-empty at startup, explicit restore on demand

package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskdeck/taskdeck/internal/kv"
)

// Secondary-store keys for the latest snapshot. At most one snapshot is
// retained per store; every save overwrites the previous one.
const (
	backupKey          = "taskdeck_db_backup"
	backupTimestampKey = "taskdeck_db_backup_timestamp"
)

// BackupChannel writes snapshots of a Backend into a secondary kv.Store and
// restores from them. Its failures never propagate to the mutating caller;
// the coordinator logs them and moves on.
type BackupChannel struct {
	dest   kv.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewBackupChannel creates a channel targeting the given secondary store.
func NewBackupChannel(dest kv.Store) *BackupChannel {
	return &BackupChannel{
		dest:   dest,
		logger: slog.Default().With("component", "backup"),
		now:    time.Now,
	}
}

// Save exports the full database and persists it with a timestamp.
func (b *BackupChannel) Save(ctx context.Context, backend Backend) error {
	snap, err := backend.Export(ctx)
	if err != nil {
		return fmt.Errorf("exporting database: %w", err)
	}
	snap.ExportedAt = b.now().UTC()

	encoded, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	if err := b.dest.SetItem(backupKey, encoded); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := b.dest.SetItem(backupTimestampKey, snap.ExportedAt.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("writing snapshot timestamp: %w", err)
	}

	b.logger.Debug("snapshot saved", "rows", snap.RowCount())
	return nil
}

// Restore imports the latest snapshot into the backend. A missing snapshot is
// the normal false result, not an error.
func (b *BackupChannel) Restore(ctx context.Context, backend Backend) (bool, error) {
	encoded, ok := b.dest.GetItem(backupKey)
	if !ok {
		b.logger.Info("no snapshot found in secondary store")
		return false, nil
	}

	snap, err := DecodeSnapshot(encoded)
	if err != nil {
		return false, err
	}

	if err := b.Import(ctx, backend, snap); err != nil {
		return false, err
	}

	b.logger.Info("database restored from snapshot",
		"exported_at", snap.ExportedAt.Format(time.RFC3339),
		"rows", snap.RowCount(),
	)
	return true, nil
}

// Import loads an already-decoded snapshot into the backend.
func (b *BackupChannel) Import(ctx context.Context, backend Backend, snap *Snapshot) error {
	if err := backend.Import(ctx, snap); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupRestore, err)
	}
	return nil
}

// CheckAndRestore runs once per initialization: restore only when the core
// table is empty and a snapshot exists. Existing data always wins. Failures
// are logged and the store starts empty; boot is never fatal on restore.
func (b *BackupChannel) CheckAndRestore(ctx context.Context, backend Backend) {
	rows, err := backend.Query(ctx, "SELECT COUNT(*) AS count FROM users")
	if err != nil {
		b.logger.Error("checking for existing data", "error", err)
		return
	}

	count := int64(0)
	if len(rows) > 0 {
		count = asInt64(rows[0]["count"])
	}
	if count > 0 {
		b.logger.Debug("database has existing data, no restore needed", "users", count)
		return
	}

	if _, ok := b.dest.GetItem(backupKey); !ok {
		b.logger.Info("empty database and no snapshot, starting fresh")
		return
	}

	if _, err := b.Restore(ctx, backend); err != nil {
		b.logger.Error("restoring snapshot at startup", "error", err)
	}
}

// LatestTimestamp returns the recorded export time of the stored snapshot.
func (b *BackupChannel) LatestTimestamp() (time.Time, bool) {
	raw, ok := b.dest.GetItem(backupTimestampKey)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Clear removes the stored snapshot and its timestamp.
func (b *BackupChannel) Clear() {
	b.dest.RemoveItem(backupKey)
	b.dest.RemoveItem(backupTimestampKey)
}

// asInt64 coerces the count column across backends (SQLite returns int64,
// the KV backend returns int64, a JSON round trip yields float64).
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
