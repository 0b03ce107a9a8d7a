// ABOUTME: Credential strategy that delegates to a remote HTTP API
// ABOUTME: JSON request/response client mapping status codes onto the auth error taxonomy

package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RemoteProvider implements Provider against the tracker's REST API. It holds
// no local state beyond the bearer token of the live session.
type RemoteProvider struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	// mu guards token, which is written on login/refresh/logout and read on
	// every authenticated call
	mu    sync.Mutex
	token string
}

// NewRemoteProvider creates the remote strategy for the given API base URL.
func NewRemoteProvider(baseURL string) *RemoteProvider {
	return &RemoteProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default().With("component", "auth", "strategy", "remote"),
	}
}

func (p *RemoteProvider) Name() string { return "remote" }

// SetToken sets the bearer token used on authenticated endpoints.
func (p *RemoteProvider) SetToken(token string) {
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
}

func (p *RemoteProvider) bearer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *RemoteProvider) Login(ctx context.Context, creds Credentials) (*SessionPayload, error) {
	var payload SessionPayload
	if err := p.post(ctx, "auth/login", creds, &payload); err != nil {
		return nil, err
	}
	p.SetToken(payload.Token)
	return &payload, nil
}

func (p *RemoteProvider) Register(ctx context.Context, reg Registration) (*SessionPayload, error) {
	var payload SessionPayload
	if err := p.post(ctx, "auth/register", reg, &payload); err != nil {
		return nil, err
	}
	p.SetToken(payload.Token)
	return &payload, nil
}

func (p *RemoteProvider) Logout(ctx context.Context, userID string) error {
	err := p.post(ctx, "auth/logout", struct{}{}, nil)
	p.SetToken("")
	return err
}

// Refresh exchanges the refresh token server-side. A 401 means the token is
// dead, which is (nil, nil) rather than an error.
func (p *RemoteProvider) Refresh(ctx context.Context, refreshToken string) (*SessionPayload, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var payload SessionPayload
	if err := p.post(ctx, "auth/refresh", body, &payload); err != nil {
		if IsOperational(err) {
			return nil, nil
		}
		return nil, err
	}
	p.SetToken(payload.Token)
	return &payload, nil
}

func (p *RemoteProvider) UpdateUser(ctx context.Context, userID string, update UserUpdate) (*User, error) {
	var user User
	if err := p.do(ctx, http.MethodPut, "users/profile", update, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *RemoteProvider) post(ctx context.Context, path string, in, out any) error {
	return p.do(ctx, http.MethodPost, path, in, out)
}

func (p *RemoteProvider) do(ctx context.Context, method, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+"/"+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := p.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return p.statusError(path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// statusError maps API failures onto the shared error taxonomy. The body's
// message is kept for anything unexpected.
func (p *RemoteProvider) statusError(path string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrInvalidCredentials
	case http.StatusConflict:
		return ErrDuplicateEmail
	case http.StatusNotFound:
		return ErrUserNotFound
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &apiErr) == nil {
		if apiErr.Message != "" {
			msg = apiErr.Message
		} else if apiErr.Error != "" {
			msg = apiErr.Error
		}
	}
	p.logger.Warn("api call failed", "path", path, "status", resp.StatusCode)
	return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, msg)
}

var _ Provider = (*RemoteProvider)(nil)
