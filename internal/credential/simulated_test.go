// ABOUTME: Tests for the volatile credential strategy.
// ABOUTME: Covers seeding, seed preservation across restarts and token shape.

package credential

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/kv"
)

func TestSimulatedProvider_SeedAccountLogin(t *testing.T) {
	p := NewSimulatedProvider(kv.NewMemoryStore(0))

	payload, err := p.Login(context.Background(), Credentials{Email: SeedEmail, Password: SeedPassword})
	require.NoError(t, err)
	assert.Equal(t, SeedEmail, payload.User.Email)
	assert.True(t, HasTokenShape(payload.Token))
	assert.True(t, HasTokenShape(payload.RefreshToken))
}

func TestSimulatedProvider_SeedDoesNotClobberExistingUsers(t *testing.T) {
	sessions := kv.NewMemoryStore(0)

	first := NewSimulatedProvider(sessions)
	reg, err := first.Register(context.Background(), Registration{Name: "Ada", Email: "ada@example.com", Password: "pw"})
	require.NoError(t, err)

	// A second provider over the same store must keep the registered account.
	second := NewSimulatedProvider(sessions)
	payload, err := second.Login(context.Background(), Credentials{Email: "ada@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, payload.User.ID)
}

func TestSimulatedProvider_LoginFailuresShareOneError(t *testing.T) {
	p := NewSimulatedProvider(kv.NewMemoryStore(0))
	ctx := context.Background()

	_, unknownErr := p.Login(ctx, Credentials{Email: "nobody@example.com", Password: "pw"})
	_, badPassErr := p.Login(ctx, Credentials{Email: SeedEmail, Password: "wrong"})

	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.ErrorIs(t, badPassErr, ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), badPassErr.Error())
}

func TestSimulatedProvider_DuplicateEmail(t *testing.T) {
	p := NewSimulatedProvider(kv.NewMemoryStore(0))

	_, err := p.Register(context.Background(), Registration{Name: "Test", Email: SeedEmail, Password: "pw"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestSimulatedProvider_RefreshRotation(t *testing.T) {
	p := NewSimulatedProvider(kv.NewMemoryStore(0))
	ctx := context.Background()

	login, err := p.Login(ctx, Credentials{Email: SeedEmail, Password: SeedPassword})
	require.NoError(t, err)

	payload, err := p.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.NotEqual(t, login.RefreshToken, payload.RefreshToken)

	// The old refresh token is single use.
	dead, err := p.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.Nil(t, dead)
}

func TestSimulatedProvider_RefreshUnknownToken(t *testing.T) {
	p := NewSimulatedProvider(kv.NewMemoryStore(0))

	payload, err := p.Refresh(context.Background(), "aaa.bbb.ccc")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestSimulatedProvider_UpdateUser(t *testing.T) {
	p := NewSimulatedProvider(kv.NewMemoryStore(0))
	ctx := context.Background()

	login, err := p.Login(ctx, Credentials{Email: SeedEmail, Password: SeedPassword})
	require.NoError(t, err)

	name := "Renamed"
	user, err := p.UpdateUser(ctx, login.User.ID, UserUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", user.Name)
	assert.Equal(t, SeedEmail, user.Email)
}
