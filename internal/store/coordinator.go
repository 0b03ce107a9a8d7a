// ABOUTME: Persistence coordinator owning backend selection, initialization and write-through backup
// ABOUTME: Reentrant-safe initialize with bounded wait for the external store-ready signal

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/taskdeck/taskdeck/internal/kv"
)

// State is the coordinator lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Default bounded wait for the external store-ready signal.
const (
	defaultReadyMaxAttempts = 50
	defaultReadyInterval    = 100 * time.Millisecond
)

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// OpenBackend creates the storage backend. Called on every (re)initialization.
	OpenBackend func() (Backend, error)
	// BackupStore is the secondary store for write-through snapshots.
	// Nil disables the backup channel.
	BackupStore kv.Store
	// ReadyProbe reports whether the external runtime shim is ready.
	// Nil skips the bounded wait (native targets).
	ReadyProbe func() bool
	// ReadyMaxAttempts bounds the probe loop. Zero means the default (50).
	ReadyMaxAttempts int
	// ReadyInterval spaces the probe attempts. Zero means the default (100ms).
	ReadyInterval time.Duration
	Logger        *slog.Logger
}

// Coordinator owns the storage backend and the backup channel exclusively.
// All access to the primary store is mediated through Query/Run/ExecuteBatch.
type Coordinator struct {
	opts   CoordinatorOptions
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	backend Backend
	backup  *BackupChannel

	initGroup singleflight.Group
}

// NewCoordinator creates an uninitialized coordinator.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "coordinator")
	}
	if opts.ReadyMaxAttempts <= 0 {
		opts.ReadyMaxAttempts = defaultReadyMaxAttempts
	}
	if opts.ReadyInterval <= 0 {
		opts.ReadyInterval = defaultReadyInterval
	}

	c := &Coordinator{opts: opts, logger: logger, state: StateUninitialized}
	if opts.BackupStore != nil {
		c.backup = NewBackupChannel(opts.BackupStore)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialize opens the backend, creates the schema and restores from backup
// if needed. Idempotent: once ready it returns immediately, and concurrent
// callers share a single in-flight initialization instead of racing to open
// duplicate connections. A failed attempt returns the coordinator to
// Uninitialized so the caller can retry.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateReady {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	_, err, _ := c.initGroup.Do("initialize", func() (any, error) {
		return nil, c.initialize(ctx)
	})
	return err
}

func (c *Coordinator) initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateReady {
		c.mu.Unlock()
		return nil
	}
	c.state = StateInitializing
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		c.state = StateUninitialized
		c.mu.Unlock()
		return err
	}

	if c.opts.ReadyProbe != nil {
		if err := c.awaitStoreReady(ctx); err != nil {
			return fail(err)
		}
	}

	backend, err := c.opts.OpenBackend()
	if err != nil {
		return fail(fmt.Errorf("opening backend: %w", err))
	}

	if err := backend.CreateSchema(ctx); err != nil {
		backend.Close()
		return fail(fmt.Errorf("creating schema: %w", err))
	}

	if c.backup != nil {
		c.backup.CheckAndRestore(ctx, backend)
	}

	c.mu.Lock()
	c.backend = backend
	c.state = StateReady
	c.mu.Unlock()

	c.logger.Info("store initialized")
	return nil
}

// awaitStoreReady polls the external ready signal at a fixed interval up to
// a bounded number of attempts.
func (c *Coordinator) awaitStoreReady(ctx context.Context) error {
	for attempt := 0; attempt < c.opts.ReadyMaxAttempts; attempt++ {
		if c.opts.ReadyProbe() {
			c.logger.Debug("external store ready", "attempts", attempt+1)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.ReadyInterval):
		}
	}
	return fmt.Errorf("%w: store not ready after %d attempts",
		ErrInitializationTimeout, c.opts.ReadyMaxAttempts)
}

// ready returns the active backend, initializing lazily if needed.
func (c *Coordinator) ready(ctx context.Context) (Backend, error) {
	c.mu.Lock()
	if c.state == StateReady {
		backend := c.backend
		c.mu.Unlock()
		return backend, nil
	}
	c.mu.Unlock()

	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil, ErrClosed
	}
	return c.backend, nil
}

// Query executes a parameterized SELECT.
func (c *Coordinator) Query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	backend, err := c.ready(ctx)
	if err != nil {
		return nil, err
	}
	return backend.Query(ctx, sql, args...)
}

// Run executes a parameterized mutating statement, then writes through to the
// backup channel. A backup failure is logged, never surfaced: the committed
// write stands.
func (c *Coordinator) Run(ctx context.Context, sql string, args ...any) (Result, error) {
	backend, err := c.ready(ctx)
	if err != nil {
		return Result{}, err
	}

	res, err := backend.Run(ctx, sql, args...)
	if err != nil {
		return Result{}, err
	}

	c.writeThrough(ctx, backend)
	return res, nil
}

// ExecuteBatch executes the statements as one logical unit and triggers a
// single backup write-through afterwards.
func (c *Coordinator) ExecuteBatch(ctx context.Context, statements []Statement) error {
	backend, err := c.ready(ctx)
	if err != nil {
		return err
	}

	if err := backend.ExecuteBatch(ctx, statements); err != nil {
		return err
	}

	c.writeThrough(ctx, backend)
	return nil
}

func (c *Coordinator) writeThrough(ctx context.Context, backend Backend) {
	if c.backup == nil {
		return
	}
	if err := c.backup.Save(ctx, backend); err != nil {
		c.logger.Error("backup write-through failed", "error", err)
	}
}

// Flush synchronously persists a snapshot. Callers that need the backup on
// disk before returning (auth writes) use this; the error is theirs to log.
func (c *Coordinator) Flush(ctx context.Context) error {
	if c.backup == nil {
		return nil
	}
	backend, err := c.ready(ctx)
	if err != nil {
		return err
	}
	return c.backup.Save(ctx, backend)
}

// GenerateID returns a random, unpredictable unique id.
func (c *Coordinator) GenerateID() string {
	return uuid.NewString()
}

// ExportJSON serializes the full database to the portable snapshot form.
func (c *Coordinator) ExportJSON(ctx context.Context) (string, error) {
	backend, err := c.ready(ctx)
	if err != nil {
		return "", err
	}
	snap, err := backend.Export(ctx)
	if err != nil {
		return "", err
	}
	snap.ExportedAt = time.Now().UTC()
	return EncodeSnapshot(snap)
}

// RestoreFromBackup closes any open connection, reinitializes and imports the
// latest snapshot. A missing snapshot is a normal false result.
func (c *Coordinator) RestoreFromBackup(ctx context.Context) (bool, error) {
	if c.backup == nil {
		return false, nil
	}

	if err := c.Close(); err != nil {
		c.logger.Warn("closing before restore", "error", err)
	}
	if err := c.Initialize(ctx); err != nil {
		return false, err
	}

	backend, err := c.ready(ctx)
	if err != nil {
		return false, err
	}
	return c.backup.Restore(ctx, backend)
}

// BackupTimestamp returns the export time of the latest stored snapshot.
func (c *Coordinator) BackupTimestamp() (time.Time, bool) {
	if c.backup == nil {
		return time.Time{}, false
	}
	return c.backup.LatestTimestamp()
}

// Close releases the backend connection. Initialize may be called again
// afterwards.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend == nil {
		c.state = StateClosed
		return nil
	}

	err := c.backend.Close()
	c.backend = nil
	c.state = StateClosed
	if err != nil {
		return fmt.Errorf("closing backend: %w", err)
	}
	return nil
}
