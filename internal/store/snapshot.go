// ABOUTME: Portable snapshot format for full-database export and import
// ABOUTME: JSON document holding every table's row set plus the export timestamp

package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is a full serialized export of the logical database. Import is the
// structural inverse of Export: table order follows tableNames so parent rows
// land before children.
type Snapshot struct {
	ExportedAt time.Time        `json:"exported_at"`
	Tables     map[string][]Row `json:"tables"`
}

// EncodeSnapshot serializes a snapshot to its portable JSON form.
func EncodeSnapshot(snap *Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	return string(data), nil
}

// DecodeSnapshot parses the portable JSON form back into a snapshot.
// Returns ErrBackupRestore for malformed documents.
func DecodeSnapshot(data string) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("%w: parsing snapshot: %v", ErrBackupRestore, err)
	}
	if snap.Tables == nil {
		return nil, fmt.Errorf("%w: snapshot has no tables", ErrBackupRestore)
	}
	return &snap, nil
}

// encodeRows serializes one table's row set.
func encodeRows(rows []Row) (string, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeRows parses one table's row set.
func decodeRows(data string) ([]Row, error) {
	var rows []Row
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// RowCount returns the total number of rows across all tables.
func (s *Snapshot) RowCount() int {
	n := 0
	for _, rows := range s.Tables {
		n += len(rows)
	}
	return n
}
