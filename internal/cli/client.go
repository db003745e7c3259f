package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cliccoins/internal/auth"
	"cliccoins/internal/game"
	"cliccoins/internal/syncq"
)

// APIError is a response the server produced. Anything else returned by the client is a
// transport failure and the command may be queued for replay.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// Offline reports whether err means the server could not be reached at all.
func Offline(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

type ReplayResult struct {
	Index          int    `json:"index"`
	Kind           string `json:"kind"`
	ID             string `json:"id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

type ReplayResponse struct {
	Results  []ReplayResult `json:"results"`
	Snapshot game.Snapshot  `json:"snapshot"`
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password, username string) (auth.Tokens, error) {
	var out auth.Tokens
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"username": username,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Tokens, error) {
	var out auth.Tokens
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Tokens, error) {
	var out auth.Tokens
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": refreshToken,
	}, &out, "")
	return out, err
}

func (c *Client) Snapshot(ctx context.Context, accessToken string) (game.Snapshot, error) {
	var out game.Snapshot
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/snapshot", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Catalog(ctx context.Context, accessToken string) (game.Storefront, error) {
	var out game.Storefront
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/catalog", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Click(ctx context.Context, accessToken, idem string) (game.Snapshot, error) {
	var out game.Snapshot
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/click", accessToken, nil, &out, idem)
	return out, err
}

func (c *Client) BuyBuilding(ctx context.Context, accessToken, buildingID, idem string) (game.Snapshot, error) {
	var out game.Snapshot
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/buildings/"+url.PathEscape(buildingID)+"/buy", accessToken, nil, &out, idem)
	return out, err
}

func (c *Client) BuyUpgrade(ctx context.Context, accessToken, upgradeID, idem string) (game.Snapshot, error) {
	var out game.Snapshot
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/upgrades/"+url.PathEscape(upgradeID)+"/buy", accessToken, nil, &out, idem)
	return out, err
}

func (c *Client) Reset(ctx context.Context, accessToken string) (game.Snapshot, error) {
	var out game.Snapshot
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/reset", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) EndSession(ctx context.Context, accessToken string) error {
	return c.jsonRequest(ctx, http.MethodDelete, "/v1/session", accessToken, nil, nil, "")
}

func (c *Client) SyncReplay(ctx context.Context, accessToken string, commands []syncq.Command) (ReplayResponse, error) {
	type wireCommand struct {
		Kind           string `json:"kind"`
		ID             string `json:"id,omitempty"`
		IdempotencyKey string `json:"idempotency_key,omitempty"`
	}
	wire := make([]wireCommand, 0, len(commands))
	for _, cmd := range commands {
		wire = append(wire, wireCommand{Kind: cmd.Kind, ID: cmd.ID, IdempotencyKey: cmd.IdempotencyKey})
	}
	var out ReplayResponse
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/sync/replay", accessToken, map[string]any{
		"commands": wire,
	}, &out, "")
	return out, err
}

// Send delivers a queued-style command directly.
func (c *Client) Send(ctx context.Context, accessToken string, cmd syncq.Command) (game.Snapshot, error) {
	switch cmd.Kind {
	case "click":
		return c.Click(ctx, accessToken, cmd.IdempotencyKey)
	case "buy_building":
		return c.BuyBuilding(ctx, accessToken, cmd.ID, cmd.IdempotencyKey)
	case "buy_upgrade":
		return c.BuyUpgrade(ctx, accessToken, cmd.ID, cmd.IdempotencyKey)
	default:
		return game.Snapshot{}, fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
