// ABOUTME: Session lifecycle manager over the active credential strategy
// ABOUTME: Persists the token pair and user summary, guards refresh against duplicate flights

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/taskdeck/taskdeck/internal/credential"
	"github.com/taskdeck/taskdeck/internal/kv"
	"github.com/taskdeck/taskdeck/internal/store"
)

// Session storage keys.
const (
	tokenKey    = "auth_token"
	refreshKey  = "refresh_token"
	userDataKey = "user_data"
)

// DefaultRevalidationInterval is how often the background check re-examines
// the stored token.
const DefaultRevalidationInterval = 60 * time.Second

// State tracks where the manager is in the session lifecycle.
type State int

const (
	StateLoggedOut State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateLoggedOut:
		return "logged_out"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// ManagerOptions wires the manager to its strategy and stores.
type ManagerOptions struct {
	// Sessions persists the token pair and user summary.
	Sessions kv.Store
	// Selection is the startup strategy selection with its traits.
	Selection *credential.Selection
	// DB backs the existence check for strategies that verify it. May be
	// nil for the simulated and remote strategies.
	DB *store.Coordinator
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager owns the local session state. All mutation goes through it; reads
// of token and user id are pure kv lookups with no I/O beyond the store.
type Manager struct {
	mu        sync.Mutex
	sessions  kv.Store
	selection *credential.Selection
	db        *store.Coordinator
	logger    *slog.Logger

	// shared by RefreshToken and the revalidation loop
	refreshGroup singleflight.Group

	state     State
	current   *credential.User
	callbacks []func(*credential.User)
}

// NewManager creates the manager and rehydrates any session left in the
// store from a previous run.
func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		sessions:  opts.Sessions,
		selection: opts.Selection,
		db:        opts.DB,
		logger:    logger.With("component", "session"),
		state:     StateLoggedOut,
	}
	m.rehydrate()
	return m
}

func (m *Manager) rehydrate() {
	token, ok := m.sessions.GetItem(tokenKey)
	if !ok || token == "" {
		return
	}
	raw, ok := m.sessions.GetItem(userDataKey)
	if !ok {
		return
	}
	var user credential.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		m.logger.Warn("discarding unreadable stored session", "error", err)
		m.clearSessionLocked()
		return
	}
	m.current = &user
	m.state = StateAuthenticated
	m.logger.Debug("restored session", "user_id", user.ID)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentUser returns the cached user summary, or nil when logged out.
func (m *Manager) CurrentUser() *credential.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// OnChange registers a callback invoked with the new user on login, register
// and refresh, and with nil on logout or session clearing. No history is
// replayed.
func (m *Manager) OnChange(fn func(*credential.User)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

func (m *Manager) notify(user *credential.User) {
	m.mu.Lock()
	callbacks := make([]func(*credential.User), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(user)
	}
}

// Login authenticates and persists the session. On credential failure the
// previous session state is left untouched.
func (m *Manager) Login(ctx context.Context, email, password string) (*credential.User, error) {
	m.mu.Lock()
	prev := m.state
	m.state = StateAuthenticating
	m.mu.Unlock()

	payload, err := m.selection.Provider.Login(ctx, credential.Credentials{Email: email, Password: password})
	if err != nil {
		m.mu.Lock()
		m.state = prev
		m.mu.Unlock()
		return nil, err
	}

	m.adoptSession(payload)
	m.notify(payload.User)
	return payload.User, nil
}

// Register creates an account and persists its first session.
func (m *Manager) Register(ctx context.Context, reg credential.Registration) (*credential.User, error) {
	m.mu.Lock()
	prev := m.state
	m.state = StateAuthenticating
	m.mu.Unlock()

	payload, err := m.selection.Provider.Register(ctx, reg)
	if err != nil {
		m.mu.Lock()
		m.state = prev
		m.mu.Unlock()
		return nil, err
	}

	m.adoptSession(payload)
	m.notify(payload.User)
	return payload.User, nil
}

// Logout revokes the session best-effort, then unconditionally clears local
// state. A failed revocation never leaves the user logged in locally.
func (m *Manager) Logout(ctx context.Context) {
	userID := m.GetCurrentUserID()
	if userID != "" {
		if err := m.selection.Provider.Logout(ctx, userID); err != nil {
			m.logger.Warn("revocation failed, clearing local session anyway", "error", err)
		}
	}

	m.mu.Lock()
	m.clearSessionLocked()
	m.mu.Unlock()
	m.notify(nil)
}

// GetToken returns the stored access token, or "" when logged out. Pure read.
func (m *Manager) GetToken() string {
	token, _ := m.sessions.GetItem(tokenKey)
	return token
}

// GetCurrentUserID returns the cached user id, or "" when logged out. Pure read.
func (m *Manager) GetCurrentUserID() string {
	raw, ok := m.sessions.GetItem(userDataKey)
	if !ok {
		return ""
	}
	var user struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return ""
	}
	return user.ID
}

// HasValidToken is the cheap structural check. Strategies that enforce shape
// require three dot-separated segments; otherwise presence is enough.
func (m *Manager) HasValidToken() bool {
	token := m.GetToken()
	if token == "" {
		return false
	}
	if m.selection.EnforcesTokenShape {
		return credential.HasTokenShape(token)
	}
	return true
}

// IsAuthenticatedAndExists is the authoritative gate before protected views.
// Strategies that cannot verify existence trust the stored token; the durable
// strategy checks the user row and clears a dangling session.
func (m *Manager) IsAuthenticatedAndExists(ctx context.Context) bool {
	userID := m.GetCurrentUserID()
	if userID == "" || !m.HasValidToken() {
		return false
	}

	if !m.selection.VerifiesExistence {
		return true
	}

	rows, err := m.db.Query(ctx, "SELECT id FROM users WHERE id = ?", userID)
	if err != nil {
		if m.selection.HasSimulatedFallback {
			// Do not lock the user out over a store hiccup.
			m.logger.Warn("existence check failed, allowing session", "error", err)
			return true
		}
		m.clearSession()
		return false
	}
	if len(rows) == 0 {
		m.logger.Info("session user no longer exists, clearing session", "user_id", userID)
		m.clearSession()
		return false
	}
	return true
}

// RefreshToken exchanges the stored refresh token for a new pair. A missing
// or rejected token clears the session and returns nil. Concurrent callers
// share one in-flight exchange.
func (m *Manager) RefreshToken(ctx context.Context) (*credential.User, error) {
	result, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.(*credential.User), nil
}

func (m *Manager) refresh(ctx context.Context) (*credential.User, error) {
	refreshToken, ok := m.sessions.GetItem(refreshKey)
	if !ok || refreshToken == "" {
		m.clearSession()
		m.notify(nil)
		return nil, nil
	}

	m.mu.Lock()
	prev := m.state
	m.state = StateRefreshing
	m.mu.Unlock()

	payload, err := m.selection.Provider.Refresh(ctx, refreshToken)
	if err != nil {
		m.mu.Lock()
		m.state = prev
		m.mu.Unlock()
		return nil, fmt.Errorf("refreshing session: %w", err)
	}
	if payload == nil {
		m.clearSession()
		m.notify(nil)
		return nil, nil
	}

	m.adoptSession(payload)
	m.notify(payload.User)
	return payload.User, nil
}

// StartRevalidation runs the periodic structural check until ctx is done.
// A stale token triggers one shared refresh; a dead refresh clears the session.
func (m *Manager) StartRevalidation(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRevalidationInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if m.State() != StateAuthenticated || m.HasValidToken() {
					continue
				}
				m.logger.Info("stored token failed validation, attempting refresh")
				if _, err := m.RefreshToken(ctx); err != nil {
					m.logger.Warn("revalidation refresh failed, clearing session", "error", err)
					m.clearSession()
					m.notify(nil)
				}
			}
		}
	}()
}

// UpdateUser applies a partial profile update through the active strategy and
// refreshes the cached summary.
func (m *Manager) UpdateUser(ctx context.Context, update credential.UserUpdate) (*credential.User, error) {
	userID := m.GetCurrentUserID()
	if userID == "" {
		return nil, credential.ErrUserNotFound
	}

	user, err := m.selection.Provider.UpdateUser(ctx, userID, update)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(user); err == nil {
		if err := m.sessions.SetItem(userDataKey, string(raw)); err != nil {
			m.logger.Error("persisting updated user summary", "error", err)
		}
	}
	m.mu.Lock()
	m.current = user
	m.mu.Unlock()
	m.notify(user)
	return user, nil
}

// adoptSession persists the payload and flips the manager to authenticated.
func (m *Manager) adoptSession(payload *credential.SessionPayload) {
	m.persistSession(payload)
	m.mu.Lock()
	m.current = payload.User
	m.state = StateAuthenticated
	m.mu.Unlock()
}

// persistSession writes the token pair and user summary. A quota rejection
// removes the session keys once and retries with a minimal payload before
// giving up. Only the session's own keys are touched; unrelated keys in a
// shared store stay intact.
func (m *Manager) persistSession(payload *credential.SessionPayload) {
	userData, err := json.Marshal(payload.User)
	if err != nil {
		m.logger.Error("encoding user summary", "error", err)
		userData = []byte(fmt.Sprintf(`{"id":%q}`, payload.User.ID))
	}

	err = m.writeSession(payload.Token, payload.RefreshToken, string(userData))
	if !errors.Is(err, kv.ErrQuotaExceeded) {
		if err != nil {
			m.logger.Error("persisting session", "error", err)
		}
		return
	}

	m.logger.Warn("session store quota exceeded, clearing session keys and retrying with minimal payload")
	m.sessions.RemoveItem(tokenKey)
	m.sessions.RemoveItem(refreshKey)
	m.sessions.RemoveItem(userDataKey)
	minimal := fmt.Sprintf(`{"id":%q}`, payload.User.ID)
	if err := m.writeSession(payload.Token, payload.RefreshToken, minimal); err != nil {
		m.logger.Error("persisting minimal session", "error", err)
	}
}

func (m *Manager) writeSession(token, refreshToken, userData string) error {
	if err := m.sessions.SetItem(tokenKey, token); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := m.sessions.SetItem(refreshKey, refreshToken); err != nil {
			return err
		}
	}
	return m.sessions.SetItem(userDataKey, userData)
}

func (m *Manager) clearSession() {
	m.mu.Lock()
	m.clearSessionLocked()
	m.mu.Unlock()
}

func (m *Manager) clearSessionLocked() {
	m.sessions.RemoveItem(tokenKey)
	m.sessions.RemoveItem(refreshKey)
	m.sessions.RemoveItem(userDataKey)
	m.current = nil
	m.state = StateLoggedOut
}
