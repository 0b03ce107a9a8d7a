// ABOUTME: Ephemeral key-value store abstraction modeled after browser local storage
// ABOUTME: Provides an in-memory implementation and a JSON-file-backed implementation

package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrQuotaExceeded is returned when a write would push the store past its byte quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Store is a flat string key-value store. It mirrors the web storage contract:
// writes can be rejected for size, reads never fail.
type Store interface {
	// GetItem returns the value for key and whether it exists.
	GetItem(key string) (string, bool)
	// SetItem stores value under key. Returns ErrQuotaExceeded if the store
	// has a quota and the write would exceed it.
	SetItem(key, value string) error
	// RemoveItem deletes key. Removing an absent key is a no-op.
	RemoveItem(key string)
	// Keys returns all keys in sorted order.
	Keys() []string
	// Clear removes every key.
	Clear()
}

// MemoryStore is a volatile, in-process Store. A zero maxBytes means unlimited.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]string
	maxBytes int
	used     int
}

// NewMemoryStore creates an empty in-memory store with the given byte quota.
// maxBytes <= 0 disables the quota.
func NewMemoryStore(maxBytes int) *MemoryStore {
	return &MemoryStore{
		items:    make(map[string]string),
		maxBytes: maxBytes,
	}
}

func (m *MemoryStore) GetItem(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *MemoryStore) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.used + len(key) + len(value)
	if old, ok := m.items[key]; ok {
		next -= len(key) + len(old)
	}
	if m.maxBytes > 0 && next > m.maxBytes {
		return fmt.Errorf("%w: %d bytes over %d byte limit", ErrQuotaExceeded, next-m.maxBytes, m.maxBytes)
	}

	m.items[key] = value
	m.used = next
	return nil
}

func (m *MemoryStore) RemoveItem(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.items[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.items, key)
	}
}

func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]string)
	m.used = 0
}

// FileStore is a Store persisted as a single JSON document on disk. Every
// mutation rewrites the file, the way browser local storage flushes writes
// before returning. Suitable for small payloads (sessions, snapshots).
type FileStore struct {
	mu       sync.Mutex
	path     string
	items    map[string]string
	maxBytes int
}

// NewFileStore opens (or creates) a file-backed store at path.
// maxBytes <= 0 disables the quota.
func NewFileStore(path string, maxBytes int) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		items:    make(map[string]string),
		maxBytes: maxBytes,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Fresh store
	case err != nil:
		return nil, fmt.Errorf("reading store file: %w", err)
	default:
		if len(data) > 0 {
			if err := json.Unmarshal(data, &s.items); err != nil {
				return nil, fmt.Errorf("parsing store file: %w", err)
			}
		}
	}

	return s, nil
}

func (f *FileStore) GetItem(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[key]
	return v, ok
}

func (f *FileStore) SetItem(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.maxBytes > 0 {
		used := 0
		for k, v := range f.items {
			if k == key {
				continue
			}
			used += len(k) + len(v)
		}
		if used+len(key)+len(value) > f.maxBytes {
			return fmt.Errorf("%w: %d byte limit", ErrQuotaExceeded, f.maxBytes)
		}
	}

	old, existed := f.items[key]
	f.items[key] = value
	if err := f.flushLocked(); err != nil {
		if existed {
			f.items[key] = old
		} else {
			delete(f.items, key)
		}
		return err
	}
	return nil
}

func (f *FileStore) RemoveItem(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key)
	// Flush failure on delete leaves a stale value behind, which the next
	// successful write overwrites.
	_ = f.flushLocked()
}

func (f *FileStore) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *FileStore) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = make(map[string]string)
	_ = f.flushLocked()
}

func (f *FileStore) flushLocked() error {
	data, err := json.Marshal(f.items)
	if err != nil {
		return fmt.Errorf("encoding store file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("writing store file: %w", err)
	}
	return nil
}
