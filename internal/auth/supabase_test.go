package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func fakeSupabase(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "anon" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		switch r.URL.Query().Get("grant_type") {
		case "password":
		case "refresh_token":
			if in["refresh_token"] != "r-1" {
				http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(Tokens{
				AccessToken:  "tok-2",
				RefreshToken: "r-2",
				ExpiresIn:    3600,
				User:         User{ID: "u-1", Email: "miner@example.com"},
			})
			return
		default:
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if in["password"] != "hunter22" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(Tokens{
			AccessToken: "tok-1",
			TokenType:   "bearer",
			User:        User{ID: "u-1", Email: in["email"]},
		})
	})
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer tok-1":
			_ = json.NewEncoder(w).Encode(User{ID: "u-1", Email: "miner@example.com"})
		case "Bearer broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.Error(w, "nope", http.StatusUnauthorized)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLogin(t *testing.T) {
	srv := fakeSupabase(t)
	c := NewSupabaseClient(srv.URL+"/", "anon")

	tok, err := c.Login(context.Background(), " miner@example.com ", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if tok.AccessToken != "tok-1" || tok.User.Email != "miner@example.com" {
		t.Fatalf("unexpected tokens %+v", tok)
	}

	if _, err := c.Login(context.Background(), "miner@example.com", "wrong"); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejected credentials, got %v", err)
	}
}

func TestVerifyAccessToken(t *testing.T) {
	srv := fakeSupabase(t)
	c := NewSupabaseClient(srv.URL, "anon")
	ctx := context.Background()

	user, err := c.VerifyAccessToken(ctx, "tok-1")
	if err != nil || user.ID != "u-1" {
		t.Fatalf("verify: %+v %v", user, err)
	}
	if _, err := c.VerifyAccessToken(ctx, "stale"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := c.VerifyAccessToken(ctx, "broken"); err == nil || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected an upstream error, got %v", err)
	}
}

func TestRefresh(t *testing.T) {
	srv := fakeSupabase(t)
	c := NewSupabaseClient(srv.URL, "anon")
	ctx := context.Background()

	tok, err := c.Refresh(ctx, " r-1 ")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tok.AccessToken != "tok-2" || tok.RefreshToken != "r-2" || tok.ExpiresIn != 3600 {
		t.Fatalf("unexpected tokens %+v", tok)
	}
	if _, err := c.Refresh(ctx, "r-used"); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejected refresh token, got %v", err)
	}
}
