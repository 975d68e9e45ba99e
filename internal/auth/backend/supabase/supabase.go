// Package supabase is an IdentityBackend driver for a Supabase/GoTrue-style
// REST identity provider. It only speaks the handful of endpoints the core
// needs; raw provider error bodies never reach clients.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tradekit/authcore/internal/auth/backend"
	"github.com/tradekit/authcore/internal/auth/domain"
	"github.com/tradekit/authcore/pkg/slogx"
)

type Backend struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New builds a GoTrue client. The timeout bounds every provider call so a
// hung provider cannot pin server threads.
func New(baseURL, apiKey string, timeout time.Duration) *Backend {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Backend{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

var _ backend.IdentityBackend = (*Backend)(nil)

// tokenResponse is the GoTrue session payload.
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"`
	User         userResponse `json:"user"`
}

type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	CreatedAt    time.Time      `json:"created_at"`
	LastSignInAt *time.Time     `json:"last_sign_in_at"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u userResponse) toDomain() domain.User {
	return domain.User{
		ID:           u.ID,
		Email:        u.Email,
		Metadata:     u.UserMetadata,
		CreatedAt:    u.CreatedAt,
		LastSignInAt: u.LastSignInAt,
	}
}

func (t tokenResponse) toSession() domain.Session {
	return domain.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(t.ExpiresIn) * time.Second),
		UserID:       t.User.ID,
	}
}

func (b *Backend) SignIn(ctx context.Context, email, password string) (domain.Session, domain.User, error) {
	var tr tokenResponse
	err := b.post(ctx, "/auth/v1/token?grant_type=password",
		map[string]any{"email": email, "password": password}, "", &tr)
	if err != nil {
		return domain.Session{}, domain.User{}, err
	}
	return tr.toSession(), tr.User.toDomain(), nil
}

func (b *Backend) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*domain.Session, domain.User, error) {
	payload := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		payload["data"] = metadata
	}

	var tr tokenResponse
	if err := b.post(ctx, "/auth/v1/signup", payload, "", &tr); err != nil {
		return nil, domain.User{}, err
	}

	// When email confirmation is on, GoTrue returns the user without tokens.
	if tr.AccessToken == "" {
		return nil, tr.User.toDomain(), nil
	}
	sess := tr.toSession()
	return &sess, tr.User.toDomain(), nil
}

func (b *Backend) GetUser(ctx context.Context, accessToken string) (domain.User, error) {
	var ur userResponse
	if err := b.get(ctx, "/auth/v1/user", accessToken, &ur); err != nil {
		return domain.User{}, err
	}
	return ur.toDomain(), nil
}

func (b *Backend) RefreshSession(ctx context.Context, refreshToken string) (domain.Session, domain.User, error) {
	var tr tokenResponse
	err := b.post(ctx, "/auth/v1/token?grant_type=refresh_token",
		map[string]any{"refresh_token": refreshToken}, "", &tr)
	if err != nil {
		return domain.Session{}, domain.User{}, err
	}
	return tr.toSession(), tr.User.toDomain(), nil
}

func (b *Backend) SignOut(ctx context.Context, accessToken string) error {
	return b.post(ctx, "/auth/v1/logout", nil, accessToken, nil)
}

func (b *Backend) ResetPasswordForEmail(ctx context.Context, email string) error {
	return b.post(ctx, "/auth/v1/recover", map[string]any{"email": email}, "", nil)
}

func (b *Backend) SignInWithOAuth(_ context.Context, provider, redirectTo string) (string, error) {
	if provider == "" {
		return "", backend.ErrUnsupported
	}
	q := url.Values{}
	q.Set("provider", provider)
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return b.BaseURL + "/auth/v1/authorize?" + q.Encode(), nil
}

func (b *Backend) ExchangeCodeForSession(ctx context.Context, code string) (domain.Session, domain.User, error) {
	var tr tokenResponse
	err := b.post(ctx, "/auth/v1/token?grant_type=pkce",
		map[string]any{"auth_code": code}, "", &tr)
	if err != nil {
		return domain.Session{}, domain.User{}, err
	}
	return tr.toSession(), tr.User.toDomain(), nil
}

func (b *Backend) get(ctx context.Context, path, bearer string, out any) error {
	return b.do(ctx, http.MethodGet, path, nil, bearer, out)
}

func (b *Backend) post(ctx context.Context, path string, payload map[string]any, bearer string, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	return b.do(ctx, http.MethodPost, path, body, bearer, out)
}

func (b *Backend) do(ctx context.Context, method, path string, body io.Reader, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", b.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return b.mapError(ctx, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode identity provider response: %w", err)
	}
	return nil
}

// mapError translates provider status codes to the backend sentinel errors.
// The response body is logged server-side only.
func (b *Backend) mapError(ctx context.Context, resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	slogx.FromContext(ctx).Warn("identity provider error",
		"status", resp.StatusCode,
		"body", string(detail),
	)

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusForbidden:
		// GoTrue reports bad password grants as 400 invalid_grant.
		return backend.ErrInvalidCredentials
	case http.StatusUnauthorized, http.StatusNotFound:
		return backend.ErrInvalidToken
	case http.StatusUnprocessableEntity, http.StatusConflict:
		return backend.ErrUserExists
	default:
		return fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}
}
