package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cliccoins/internal/auth"
)

// ErrNotLoggedIn is returned when no usable session file exists.
var ErrNotLoggedIn = errors.New("not logged in; run `clic login`")

// refreshLeeway renews a token slightly before the server would reject it.
const refreshLeeway = 30 * time.Second

// Session is the login kept between clic invocations in ~/.clic/session.json.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Email        string    `json:"email"`
	UserID       string    `json:"user_id"`
}

// SessionFromTokens builds the stored session for a fresh login, signup or refresh.
func SessionFromTokens(t auth.Tokens, now time.Time) Session {
	s := Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Email:        t.User.Email,
		UserID:       t.User.ID,
	}
	if t.ExpiresIn > 0 {
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	}
	return s
}

// Expired reports whether the access token is at or near its expiry. Unknown expiry never expires.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Add(refreshLeeway).Before(s.ExpiresAt)
}

func sessionPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".clic")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func SaveSession(s Session) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func LoadSession() (Session, error) {
	path, err := sessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNotLoggedIn
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("read session file: %w", err)
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, ErrNotLoggedIn
	}
	return s, nil
}

func ClearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Authorized runs fn with a valid access token. An expired token is refreshed first, and a
// 401 from the API triggers one refresh and retry. Refreshed tokens are written back to disk.
func (c *Client) Authorized(ctx context.Context, fn func(token string) error) error {
	sess, err := LoadSession()
	if err != nil {
		return err
	}
	if sess.Expired(time.Now()) && sess.RefreshToken != "" {
		if sess, err = c.renew(ctx, sess); err != nil {
			return err
		}
	}
	err = fn(sess.AccessToken)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || sess.RefreshToken == "" {
		return err
	}
	if sess, err = c.renew(ctx, sess); err != nil {
		return err
	}
	return fn(sess.AccessToken)
}

func (c *Client) renew(ctx context.Context, old Session) (Session, error) {
	tokens, err := c.Refresh(ctx, old.RefreshToken)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return Session{}, fmt.Errorf("session expired: %w", ErrNotLoggedIn)
		}
		return Session{}, fmt.Errorf("refresh session: %w", err)
	}
	next := SessionFromTokens(tokens, time.Now())
	if next.RefreshToken == "" {
		next.RefreshToken = old.RefreshToken
	}
	if next.Email == "" {
		next.Email, next.UserID = old.Email, old.UserID
	}
	if err := SaveSession(next); err != nil {
		return Session{}, err
	}
	return next, nil
}
