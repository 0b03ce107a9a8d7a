// ABOUTME: Tests for the remote API strategy against a stub HTTP server.

package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireMethod emulates the method-qualified patterns of the Go 1.22 ServeMux
// on older toolchains.
func requireMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func newAuthStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/login", requireMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var creds Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if creds.Email != "ada@example.com" || creds.Password != "hunter22" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(SessionPayload{
			User:         &User{ID: "u1", Email: creds.Email, Name: "Ada"},
			Token:        "aaa.bbb.ccc",
			RefreshToken: "ddd.eee.fff",
			ExpiresIn:    3600,
		})
	}))
	mux.HandleFunc("/auth/register", requireMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var reg Registration
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
		if reg.Email == "taken@example.com" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		json.NewEncoder(w).Encode(SessionPayload{
			User:  &User{ID: "u2", Email: reg.Email, Name: reg.Name},
			Token: "aaa.bbb.ccc",
		})
	}))
	mux.HandleFunc("/auth/refresh", requireMethod(http.MethodPost, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["refresh_token"] != "ddd.eee.fff" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(SessionPayload{
			User:  &User{ID: "u1"},
			Token: "ggg.hhh.iii",
		})
	}))
	mux.HandleFunc("/users/profile", requireMethod(http.MethodPut, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(User{ID: "u1", Name: "Renamed"})
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteProvider_Login(t *testing.T) {
	p := NewRemoteProvider(newAuthStub(t).URL)

	payload, err := p.Login(context.Background(), Credentials{Email: "ada@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, "u1", payload.User.ID)
	assert.Equal(t, "aaa.bbb.ccc", payload.Token)
}

func TestRemoteProvider_LoginUnauthorized(t *testing.T) {
	p := NewRemoteProvider(newAuthStub(t).URL)

	_, err := p.Login(context.Background(), Credentials{Email: "ada@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRemoteProvider_RegisterConflict(t *testing.T) {
	p := NewRemoteProvider(newAuthStub(t).URL)

	_, err := p.Register(context.Background(), Registration{Name: "X", Email: "taken@example.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRemoteProvider_RefreshDeadTokenIsNil(t *testing.T) {
	p := NewRemoteProvider(newAuthStub(t).URL)

	payload, err := p.Refresh(context.Background(), "stale.stale.stale")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestRemoteProvider_ConcurrentTokenAccess(t *testing.T) {
	p := NewRemoteProvider(newAuthStub(t).URL)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := p.Login(ctx, Credentials{Email: "ada@example.com", Password: "hunter22"})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			p.SetToken("xxx.yyy.zzz")
		}()
	}
	wg.Wait()

	name := "Renamed"
	user, err := p.UpdateUser(ctx, "u1", UserUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", user.Name)
}

func TestRemoteProvider_UpdateUserSendsBearer(t *testing.T) {
	p := NewRemoteProvider(newAuthStub(t).URL)
	ctx := context.Background()

	_, err := p.Login(ctx, Credentials{Email: "ada@example.com", Password: "hunter22"})
	require.NoError(t, err)

	name := "Renamed"
	user, err := p.UpdateUser(ctx, "u1", UserUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", user.Name)
}
