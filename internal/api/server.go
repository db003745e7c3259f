package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"cliccoins/internal/auth"
	"cliccoins/internal/config"
	"cliccoins/internal/game"
	"cliccoins/internal/session"
	"cliccoins/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID   string
	Email    string
	Username string
	Token    string
}

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	auth     auth.Authenticator
	sessions *session.Manager
	mux      *chi.Mux

	// Streams are hijacked connections that http.Server.Shutdown does not wait for.
	streamMu      sync.Mutex
	streamsClosed bool
	streams       sync.WaitGroup
	streamsDone   chan struct{}
}

func New(cfg config.APIConfig, logger *slog.Logger, authClient auth.Authenticator, sessions *session.Manager) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StreamEvery <= 0 {
		cfg.StreamEvery = 500 * time.Millisecond
	}
	s := &Server{
		cfg:         cfg,
		log:         logger,
		auth:        authClient,
		sessions:    sessions,
		mux:         chi.NewRouter(),
		streamsDone: make(chan struct{}),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// CloseStreams ends every open stream and waits for their handlers to return.
func (s *Server) CloseStreams(ctx context.Context) error {
	s.streamMu.Lock()
	if !s.streamsClosed {
		s.streamsClosed = true
		close(s.streamsDone)
	}
	s.streamMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": s.sessions.Len()})
	})

	r.Route("/v1", func(r chi.Router) {
		// The stream outlives the request timeout.
		r.With(s.authMiddleware).Get("/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/catalog", s.handleCatalog)
				r.Get("/snapshot", s.handleSnapshot)
				r.Post("/click", s.handleClick)
				r.Post("/buildings/{id}/buy", s.handleBuyBuilding)
				r.Post("/upgrades/{id}/buy", s.handleBuyUpgrade)
				r.Post("/reset", s.handleReset)
				r.Delete("/session", s.handleEndSession)
				r.Post("/sync/replay", s.handleSyncReplay)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" && websocketRequest(r) {
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID:   user.ID,
			Email:    user.Email,
			Username: game.UsernameFromEmail(user.Email),
			Token:    token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokens, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if tokens.User.ID != "" {
		username := game.UsernameFromEmail(tokens.User.Email)
		if strings.TrimSpace(in.Username) != "" {
			username = game.SanitizeUsername(in.Username)
		}
		if _, err := s.sessions.Open(r.Context(), tokens.User.ID, username); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, tokens)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokens, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	// Opening the session here applies offline catch-up before the first snapshot.
	if _, err := s.sessions.Open(r.Context(), tokens.User.ID, game.UsernameFromEmail(tokens.User.Email)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	tokens, err := s.auth.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var front game.Storefront
	err = s.sessions.Do(r.Context(), user.UserID, user.Username, func(sess *session.Session) error {
		front = sess.Storefront()
		return nil
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, front)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var snap game.Snapshot
	err = s.sessions.Do(r.Context(), user.UserID, user.Username, func(sess *session.Session) error {
		snap = sess.Snapshot()
		return nil
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, Command{Kind: CommandClick})
}

func (s *Server) handleBuyBuilding(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, Command{Kind: CommandBuyBuilding, ID: chi.URLParam(r, "id")})
}

func (s *Server) handleBuyUpgrade(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, Command{Kind: CommandBuyUpgrade, ID: chi.URLParam(r, "id")})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, cmd Command) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	cmd.IdempotencyKey = idempotencyKey(r)
	snap, err := s.execute(r.Context(), user, cmd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	sess, err := s.sessions.Reset(r.Context(), user.UserID, user.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("game reset", "player_id", user.UserID)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.sessions.Close(r.Context(), user.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrDuplicateIdempotency), errors.Is(err, game.ErrAlreadyOwned):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrInsufficientFunds), errors.Is(err, game.ErrNegativeAmount), errors.Is(err, errBadCommand):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrLocked):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, game.ErrUnknownBuilding), errors.Is(err, game.ErrUnknownUpgrade):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrPersistence), errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

// idempotencyKey is optional here: a click without one is simply applied.
func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func websocketRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
