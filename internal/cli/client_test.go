package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cliccoins/internal/auth"
	"cliccoins/internal/syncq"

	"github.com/shopspring/decimal"
)

func TestClientSendsAuthAndIdempotency(t *testing.T) {
	var gotAuth, gotIdem, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"player_id":"u-1","balance":"115","total_actions":4,"buildings":[],"upgrades":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	snap, err := c.BuyBuilding(context.Background(), "tok", "furnace", "k-1")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if gotAuth != "Bearer tok" || gotIdem != "k-1" || gotPath != "/v1/buildings/furnace/buy" {
		t.Fatalf("unexpected request auth=%q idem=%q path=%q", gotAuth, gotIdem, gotPath)
	}
	if !snap.Balance.Equal(decimal.NewFromInt(115)) || snap.TotalActions != 4 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"building locked: previous tier not owned"}`))
	}))
	c := NewClient(srv.URL)

	_, err := c.BuyBuilding(context.Background(), "tok", "mine", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden || apiErr.Message != "building locked: previous tier not owned" {
		t.Fatalf("unexpected error %v", err)
	}
	if Offline(err) {
		t.Fatalf("a server rejection is not an offline error")
	}

	srv.Close()
	_, err = c.Click(context.Background(), "tok", "")
	if err == nil || !Offline(err) {
		t.Fatalf("expected offline error, got %v", err)
	}
}

func TestSyncReplayWireFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		var in struct {
			Commands []struct {
				Kind           string `json:"kind"`
				ID             string `json:"id"`
				IdempotencyKey string `json:"idempotency_key"`
			} `json:"commands"`
		}
		if err := dec.Decode(&in); err != nil {
			http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
			return
		}
		results := make([]ReplayResult, 0, len(in.Commands))
		for i, cmd := range in.Commands {
			results = append(results, ReplayResult{Index: i, Kind: cmd.Kind, ID: cmd.ID, Status: "applied"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL).SyncReplay(context.Background(), "tok", []syncq.Command{
		{Kind: "click", IdempotencyKey: "a"},
		{Kind: "buy_upgrade", ID: "beacon", IdempotencyKey: "b"},
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(out.Results) != 2 || out.Results[1].ID != "beacon" {
		t.Fatalf("unexpected results %+v", out.Results)
	}
}

func TestSessionFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := LoadSession(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn before login, got %v", err)
	}
	want := Session{AccessToken: "tok", RefreshToken: "r-1", Email: "miner@example.com", UserID: "u-1"}
	if err := SaveSession(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadSession()
	if err != nil || got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken || got.UserID != want.UserID {
		t.Fatalf("load: %+v %v", got, err)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if _, err := LoadSession(); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn after logout, got %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	s := SessionFromTokens(auth.Tokens{AccessToken: "tok", ExpiresIn: 3600, User: auth.User{ID: "u-1"}}, now)
	cases := []struct {
		at   time.Time
		want bool
	}{
		{now, false},
		{now.Add(59 * time.Minute), false},
		{now.Add(time.Hour - refreshLeeway), true},
		{now.Add(2 * time.Hour), true},
	}
	for _, tc := range cases {
		if got := s.Expired(tc.at); got != tc.want {
			t.Fatalf("Expired(%s) got=%v want=%v", tc.at.Sub(now), got, tc.want)
		}
	}
	if (Session{AccessToken: "tok"}).Expired(now.Add(1000 * time.Hour)) {
		t.Fatalf("a session without expiry should never expire")
	}
}

func TestAuthorizedRefreshesOnUnauthorized(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	refreshes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/refresh":
			refreshes++
			var in map[string]string
			_ = json.NewDecoder(r.Body).Decode(&in)
			if in["refresh_token"] != "r-1" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid refresh token"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"tok-new","refresh_token":"r-2","expires_in":3600,"user":{"id":"u-1","email":"miner@example.com"}}`))
		case "/v1/snapshot":
			if r.Header.Get("Authorization") != "Bearer tok-new" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid token"}`))
				return
			}
			_, _ = w.Write([]byte(`{"player_id":"u-1","balance":"42","buildings":[],"upgrades":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	if err := SaveSession(Session{AccessToken: "tok-old", RefreshToken: "r-1", UserID: "u-1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	c := NewClient(srv.URL)
	var balance decimal.Decimal
	err := c.Authorized(context.Background(), func(token string) error {
		snap, err := c.Snapshot(context.Background(), token)
		balance = snap.Balance
		return err
	})
	if err != nil {
		t.Fatalf("authorized: %v", err)
	}
	if refreshes != 1 || !balance.Equal(decimal.NewFromInt(42)) {
		t.Fatalf("expected one refresh and a snapshot, refreshes=%d balance=%s", refreshes, balance)
	}
	stored, err := LoadSession()
	if err != nil || stored.AccessToken != "tok-new" || stored.RefreshToken != "r-2" || stored.ExpiresAt.IsZero() {
		t.Fatalf("refreshed session not stored: %+v %v", stored, err)
	}

	// The rotated refresh token is now r-2, which the server rejects.
	if err := SaveSession(Session{AccessToken: "tok-old", RefreshToken: "r-2", UserID: "u-1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	err = c.Authorized(context.Background(), func(token string) error {
		_, err := c.Snapshot(context.Background(), token)
		return err
	})
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn when refresh fails, got %v", err)
	}
}
