// ABOUTME: Credential provider contract shared by the embedded, simulated and remote strategies
// ABOUTME: Defines the user/session types and the operational error taxonomy of the auth layer

package credential

import (
	"context"
	"errors"
	"time"
)

// Credential errors. Login failures deliberately carry one message for both
// the unknown-email and wrong-password cases.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrTokenExpired       = errors.New("token expired")
	ErrUserNotFound       = errors.New("user not found")
)

// IsOperational reports whether err is an expected auth-layer outcome that a
// caller may present or retry, as opposed to an unexpected failure.
func IsOperational(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrDuplicateEmail) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrUserNotFound)
}

// Preferences holds per-user settings created with sensible defaults at
// registration.
type Preferences struct {
	Theme              string `json:"theme"`
	Language           string `json:"language"`
	PushNotifications  bool   `json:"push_notifications"`
	EmailNotifications bool   `json:"email_notifications"`
}

// User is the account record handed to callers. Password material never
// leaves the provider.
type User struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	AvatarURL   string       `json:"avatar_url,omitempty"`
	Bio         string       `json:"bio,omitempty"`
	Roles       []string     `json:"roles"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Active      bool         `json:"active"`
	Preferences *Preferences `json:"preferences,omitempty"`
}

// Credentials is a login request.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is a new-account request.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserUpdate carries the optional profile fields of a partial update.
type UserUpdate struct {
	Name      *string `json:"name,omitempty"`
	Email     *string `json:"email,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

// SessionPayload is the result of a successful login, registration or refresh.
type SessionPayload struct {
	User         *User  `json:"user"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Provider is one interchangeable credential-handling strategy.
type Provider interface {
	// Login verifies credentials and issues a fresh session. Both unknown
	// email and wrong password fail with ErrInvalidCredentials.
	Login(ctx context.Context, creds Credentials) (*SessionPayload, error)
	// Register creates an account and issues its first session.
	Register(ctx context.Context, reg Registration) (*SessionPayload, error)
	// Logout revokes the user's live session, if any.
	Logout(ctx context.Context, userID string) error
	// Refresh exchanges a refresh token for a new pair. An unknown or
	// expired refresh token yields (nil, nil); the session is dead.
	Refresh(ctx context.Context, refreshToken string) (*SessionPayload, error)
	// UpdateUser applies a partial profile update and returns the result.
	UpdateUser(ctx context.Context, userID string, update UserUpdate) (*User, error)
	// Name identifies the strategy for logs.
	Name() string
}

// Default user role assigned at registration.
const RoleUser = "USER"

// defaultPreferences returns the preferences seeded for a new account.
func defaultPreferences() *Preferences {
	return &Preferences{
		Theme:              "auto",
		Language:           "en-US",
		PushNotifications:  true,
		EmailNotifications: true,
	}
}
