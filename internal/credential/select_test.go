// ABOUTME: Tests for the startup capability probe and strategy selection.

package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/kv"
	"github.com/taskdeck/taskdeck/internal/store"
)

func TestSelect_EmbeddedWhenStoreAvailable(t *testing.T) {
	db := store.NewCoordinator(store.CoordinatorOptions{
		OpenBackend: func() (store.Backend, error) {
			return store.NewEphemeralKVStore(kv.NewMemoryStore(0)), nil
		},
		BackupStore: kv.NewMemoryStore(0),
	})
	t.Cleanup(func() { db.Close() })

	sel := Select(context.Background(), SelectOptions{
		Mode:     ModeAuto,
		DB:       db,
		Sessions: kv.NewMemoryStore(0),
		Issuer:   NewTokenIssuer([]byte("test-secret"), time.Hour),
	})

	assert.Equal(t, TargetEmbedded, sel.Target)
	assert.Equal(t, "embedded", sel.Provider.Name())
	assert.True(t, sel.HasSimulatedFallback)
	assert.True(t, sel.VerifiesExistence)
	assert.True(t, sel.EnforcesTokenShape)
}

func TestSelect_FallsBackWhenStoreFailsToOpen(t *testing.T) {
	db := store.NewCoordinator(store.CoordinatorOptions{
		OpenBackend: func() (store.Backend, error) {
			return nil, errors.New("disk gone")
		},
		BackupStore: kv.NewMemoryStore(0),
	})

	sel := Select(context.Background(), SelectOptions{
		Mode:     ModeAuto,
		DB:       db,
		Sessions: kv.NewMemoryStore(0),
	})

	assert.Equal(t, TargetSimulated, sel.Target)
	assert.Equal(t, "simulated", sel.Provider.Name())
	assert.False(t, sel.VerifiesExistence)
}

func TestSelect_WebModeSkipsDurableStore(t *testing.T) {
	sel := Select(context.Background(), SelectOptions{
		Mode:     ModeWeb,
		Sessions: kv.NewMemoryStore(0),
	})

	assert.Equal(t, TargetSimulated, sel.Target)

	// The seed account must be usable immediately.
	payload, err := sel.Provider.Login(context.Background(), Credentials{Email: SeedEmail, Password: SeedPassword})
	require.NoError(t, err)
	assert.Equal(t, SeedEmail, payload.User.Email)
}

func TestSelect_RemoteMode(t *testing.T) {
	sel := Select(context.Background(), SelectOptions{
		Mode:          ModeRemote,
		RemoteBaseURL: "https://api.example.com/v1",
	})

	assert.Equal(t, TargetRemote, sel.Target)
	assert.Equal(t, "remote", sel.Provider.Name())
}
