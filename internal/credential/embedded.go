// ABOUTME: Credential strategy backed by the durable embedded store
// ABOUTME: bcrypt password digests, JWT session tokens, at most one live token row per user

package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/taskdeck/taskdeck/internal/store"
)

// EmbeddedProvider implements Provider on top of the persistence coordinator.
// All state lives in the users/user_preferences/auth_tokens tables.
type EmbeddedProvider struct {
	db     *store.Coordinator
	issuer *TokenIssuer
	logger *slog.Logger
}

// NewEmbeddedProvider creates the durable-store strategy.
func NewEmbeddedProvider(db *store.Coordinator, issuer *TokenIssuer) *EmbeddedProvider {
	return &EmbeddedProvider{
		db:     db,
		issuer: issuer,
		logger: slog.Default().With("component", "auth", "strategy", "embedded"),
	}
}

func (p *EmbeddedProvider) Name() string { return "embedded" }

// Login verifies the password digest and rotates the user's token row.
func (p *EmbeddedProvider) Login(ctx context.Context, creds Credentials) (*SessionPayload, error) {
	rows, err := p.db.Query(ctx, "SELECT id, password_hash FROM users WHERE email = ?", creds.Email)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if len(rows) == 0 {
		// Same error as a bad password; do not leak which field failed
		return nil, ErrInvalidCredentials
	}

	userID := rowString(rows[0], "id")
	hash := rowString(rows[0], "password_hash")
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)) != nil {
		return nil, ErrInvalidCredentials
	}

	payload, err := p.issueSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	p.logger.Info("login", "user_id", userID)
	return payload, nil
}

// Register creates the user row, default preferences and the first session.
func (p *EmbeddedProvider) Register(ctx context.Context, reg Registration) (*SessionPayload, error) {
	existing, err := p.db.Query(ctx, "SELECT id FROM users WHERE email = ?", reg.Email)
	if err != nil {
		return nil, fmt.Errorf("checking email: %w", err)
	}
	if len(existing) > 0 {
		return nil, ErrDuplicateEmail
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	userID := p.db.GenerateID()
	now := time.Now().UTC().Format(time.RFC3339)
	roles, _ := json.Marshal([]string{RoleUser})

	_, err = p.db.Run(ctx,
		`INSERT INTO users (id, name, email, password_hash, roles, created_at, updated_at, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, reg.Name, reg.Email, string(hash), string(roles), now, now, 1)
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	prefs := defaultPreferences()
	_, err = p.db.Run(ctx,
		`INSERT INTO user_preferences (user_id, theme, language, push_notifications, email_notifications)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, prefs.Theme, prefs.Language, boolToInt(prefs.PushNotifications), boolToInt(prefs.EmailNotifications))
	if err != nil {
		return nil, fmt.Errorf("inserting preferences: %w", err)
	}

	payload, err := p.issueSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	p.logger.Info("registered user", "user_id", userID)
	return payload, nil
}

// Logout deletes the user's token row.
func (p *EmbeddedProvider) Logout(ctx context.Context, userID string) error {
	if _, err := p.db.Run(ctx, "DELETE FROM auth_tokens WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("revoking tokens: %w", err)
	}
	return nil
}

// Refresh validates the refresh token row and rotates the pair. Unknown or
// expired tokens yield (nil, nil); expiry also deletes the dead row.
func (p *EmbeddedProvider) Refresh(ctx context.Context, refreshToken string) (*SessionPayload, error) {
	rows, err := p.db.Query(ctx, "SELECT user_id, expires_at FROM auth_tokens WHERE refresh_token = ?", refreshToken)
	if err != nil {
		return nil, fmt.Errorf("looking up refresh token: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	userID := rowString(rows[0], "user_id")
	expiresAt, err := time.Parse(time.RFC3339, rowString(rows[0], "expires_at"))
	if err != nil || expiresAt.Before(time.Now()) {
		if _, delErr := p.db.Run(ctx, "DELETE FROM auth_tokens WHERE user_id = ?", userID); delErr != nil {
			p.logger.Warn("deleting expired token row", "error", delErr)
		}
		return nil, nil
	}

	payload, err := p.issueSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("refreshed session", "user_id", userID)
	return payload, nil
}

// UpdateUser applies the provided fields and bumps updated_at.
func (p *EmbeddedProvider) UpdateUser(ctx context.Context, userID string, update UserUpdate) (*User, error) {
	if update.Email != nil {
		taken, err := p.db.Query(ctx, "SELECT id FROM users WHERE email = ?", *update.Email)
		if err != nil {
			return nil, fmt.Errorf("checking email: %w", err)
		}
		if len(taken) > 0 && rowString(taken[0], "id") != userID {
			return nil, ErrDuplicateEmail
		}
	}

	sql := "UPDATE users SET "
	var args []any
	appendField := func(col string, val *string) {
		if val == nil {
			return
		}
		if len(args) > 0 {
			sql += ", "
		}
		sql += col + " = ?"
		args = append(args, *val)
	}
	appendField("name", update.Name)
	appendField("email", update.Email)
	appendField("avatar_url", update.AvatarURL)
	appendField("bio", update.Bio)

	if len(args) == 0 {
		return p.getUserByID(ctx, userID)
	}

	sql += ", updated_at = ? WHERE id = ?"
	args = append(args, time.Now().UTC().Format(time.RFC3339), userID)

	if _, err := p.db.Run(ctx, sql, args...); err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}

	if err := p.db.Flush(ctx); err != nil {
		p.logger.Error("flush after profile update", "error", err)
	}

	return p.getUserByID(ctx, userID)
}

// issueSession signs a new pair, overwrites the user's token row and forces a
// synchronous persistence flush before returning.
func (p *EmbeddedProvider) issueSession(ctx context.Context, userID string) (*SessionPayload, error) {
	token, refreshToken, expiresAt, err := p.issuer.Issue(userID)
	if err != nil {
		return nil, err
	}

	_, err = p.db.Run(ctx,
		`INSERT OR REPLACE INTO auth_tokens (user_id, token, refresh_token, expires_at)
		 VALUES (?, ?, ?, ?)`,
		userID, token, refreshToken, expiresAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("storing tokens: %w", err)
	}

	if err := p.db.Flush(ctx); err != nil {
		p.logger.Error("flush after auth write", "error", err)
	}

	user, err := p.getUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	return &SessionPayload{
		User:         user,
		Token:        token,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(p.issuer.TTL().Seconds()),
	}, nil
}

// getUserByID loads a user row with its preferences. Returns (nil, nil) when
// the row does not exist.
func (p *EmbeddedProvider) getUserByID(ctx context.Context, userID string) (*User, error) {
	rows, err := p.db.Query(ctx, "SELECT * FROM users WHERE id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]

	user := &User{
		ID:        rowString(row, "id"),
		Name:      rowString(row, "name"),
		Email:     rowString(row, "email"),
		AvatarURL: rowString(row, "avatar_url"),
		Bio:       rowString(row, "bio"),
		Active:    rowInt(row, "active") != 0,
	}
	if err := json.Unmarshal([]byte(rowString(row, "roles")), &user.Roles); err != nil {
		user.Roles = []string{RoleUser}
	}
	if t, err := time.Parse(time.RFC3339, rowString(row, "created_at")); err == nil {
		user.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, rowString(row, "updated_at")); err == nil {
		user.UpdatedAt = t
	}

	prefRows, err := p.db.Query(ctx, "SELECT * FROM user_preferences WHERE user_id = ?", userID)
	if err == nil && len(prefRows) > 0 {
		user.Preferences = &Preferences{
			Theme:              rowString(prefRows[0], "theme"),
			Language:           rowString(prefRows[0], "language"),
			PushNotifications:  rowInt(prefRows[0], "push_notifications") != 0,
			EmailNotifications: rowInt(prefRows[0], "email_notifications") != 0,
		}
	}

	return user, nil
}

func rowString(row store.Row, col string) string {
	switch v := row[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func rowInt(row store.Row, col string) int64 {
	switch v := row[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Provider = (*EmbeddedProvider)(nil)
