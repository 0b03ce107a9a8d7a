// ABOUTME: Volatile credential strategy for runtime targets without a durable store
// ABOUTME: Keeps a JSON user set in the key-value store and seeds one default account

package credential

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/internal/kv"
)

const simulatedUsersKey = "mock_users"

// Default account available on every fresh simulated install.
const (
	SeedEmail    = "test@mock.com"
	SeedPassword = "password"
)

// simulatedUser is the stored record; passwords stay plain here because the
// whole set is volatile test data.
type simulatedUser struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Bio       string `json:"bio,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// SimulatedProvider implements Provider over a kv.Store. Tokens are real JWTs
// signed with a per-process ephemeral secret, so they have the right shape but
// no meaning beyond this run.
type SimulatedProvider struct {
	mu       sync.Mutex
	sessions kv.Store
	issuer   *TokenIssuer
	logger   *slog.Logger

	// refresh token -> user id, this process only
	refreshIndex map[string]string
}

// NewSimulatedProvider creates the volatile strategy and seeds the default
// account if the user set has never been written. An existing set, seeded or
// registered, is never clobbered.
func NewSimulatedProvider(sessions kv.Store) *SimulatedProvider {
	secret := make([]byte, 32)
	rand.Read(secret)

	p := &SimulatedProvider{
		sessions:     sessions,
		issuer:       NewTokenIssuer(secret, DefaultTokenTTL),
		logger:       slog.Default().With("component", "auth", "strategy", "simulated"),
		refreshIndex: make(map[string]string),
	}
	p.seed()
	return p
}

func (p *SimulatedProvider) Name() string { return "simulated" }

func (p *SimulatedProvider) seed() {
	if _, ok := p.sessions.GetItem(simulatedUsersKey); ok {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)
	users := []simulatedUser{{
		ID:        uuid.NewString(),
		Name:      "Test User",
		Email:     SeedEmail,
		Password:  SeedPassword,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	if err := p.writeUsers(users); err != nil {
		p.logger.Warn("seeding default account", "error", err)
	}
}

func (p *SimulatedProvider) readUsers() ([]simulatedUser, error) {
	raw, ok := p.sessions.GetItem(simulatedUsersKey)
	if !ok {
		return nil, nil
	}
	var users []simulatedUser
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		return nil, fmt.Errorf("decoding user set: %w", err)
	}
	return users, nil
}

func (p *SimulatedProvider) writeUsers(users []simulatedUser) error {
	raw, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("encoding user set: %w", err)
	}
	return p.sessions.SetItem(simulatedUsersKey, string(raw))
}

// Login checks email and password against the stored set. Both failure modes
// share ErrInvalidCredentials.
func (p *SimulatedProvider) Login(ctx context.Context, creds Credentials) (*SessionPayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, err := p.readUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Email == creds.Email {
			if u.Password != creds.Password {
				return nil, ErrInvalidCredentials
			}
			return p.issueSession(u)
		}
	}
	return nil, ErrInvalidCredentials
}

// Register appends a new account to the stored set.
func (p *SimulatedProvider) Register(ctx context.Context, reg Registration) (*SessionPayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, err := p.readUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Email == reg.Email {
			return nil, ErrDuplicateEmail
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	user := simulatedUser{
		ID:        uuid.NewString(),
		Name:      reg.Name,
		Email:     reg.Email,
		Password:  reg.Password,
		CreatedAt: now,
		UpdatedAt: now,
	}
	users = append(users, user)
	if err := p.writeUsers(users); err != nil {
		return nil, err
	}

	p.logger.Info("registered user", "user_id", user.ID)
	return p.issueSession(user)
}

// Logout drops the process-local refresh index entries for the user. There is
// no token table to revoke from.
func (p *SimulatedProvider) Logout(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for token, id := range p.refreshIndex {
		if id == userID {
			delete(p.refreshIndex, token)
		}
	}
	return nil
}

// Refresh rotates the pair when the refresh token is known to this process.
// Anything else yields a dead session.
func (p *SimulatedProvider) Refresh(ctx context.Context, refreshToken string) (*SessionPayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.refreshIndex[refreshToken]
	if !ok {
		return nil, nil
	}
	if _, err := p.issuer.Verify(refreshToken); err != nil {
		delete(p.refreshIndex, refreshToken)
		return nil, nil
	}

	users, err := p.readUsers()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.ID == userID {
			delete(p.refreshIndex, refreshToken)
			return p.issueSession(u)
		}
	}
	delete(p.refreshIndex, refreshToken)
	return nil, nil
}

// UpdateUser applies the provided fields to the stored record.
func (p *SimulatedProvider) UpdateUser(ctx context.Context, userID string, update UserUpdate) (*User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, err := p.readUsers()
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID != userID {
			continue
		}
		if update.Email != nil {
			for _, other := range users {
				if other.ID != userID && other.Email == *update.Email {
					return nil, ErrDuplicateEmail
				}
			}
			users[i].Email = *update.Email
		}
		if update.Name != nil {
			users[i].Name = *update.Name
		}
		if update.AvatarURL != nil {
			users[i].AvatarURL = *update.AvatarURL
		}
		if update.Bio != nil {
			users[i].Bio = *update.Bio
		}
		users[i].UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		if err := p.writeUsers(users); err != nil {
			return nil, err
		}
		return p.toUser(users[i]), nil
	}
	return nil, ErrUserNotFound
}

func (p *SimulatedProvider) issueSession(u simulatedUser) (*SessionPayload, error) {
	token, refreshToken, _, err := p.issuer.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	p.refreshIndex[refreshToken] = u.ID

	return &SessionPayload{
		User:         p.toUser(u),
		Token:        token,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(p.issuer.TTL().Seconds()),
	}, nil
}

func (p *SimulatedProvider) toUser(u simulatedUser) *User {
	user := &User{
		ID:          u.ID,
		Name:        u.Name,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
		Bio:         u.Bio,
		Roles:       []string{RoleUser},
		Active:      true,
		Preferences: defaultPreferences(),
	}
	if t, err := time.Parse(time.RFC3339, u.CreatedAt); err == nil {
		user.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, u.UpdatedAt); err == nil {
		user.UpdatedAt = t
	}
	return user
}

var _ Provider = (*SimulatedProvider)(nil)
