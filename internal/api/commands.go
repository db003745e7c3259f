package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cliccoins/internal/game"
	"cliccoins/internal/session"
	"cliccoins/internal/store"
)

const (
	CommandClick       = "click"
	CommandBuyBuilding = "buy_building"
	CommandBuyUpgrade  = "buy_upgrade"

	maxReplayCommands = 500
)

var errBadCommand = errors.New("bad command")

// Command is one player action. The same shape is used by sync replay and the stream.
type Command struct {
	Kind           string `json:"kind"`
	ID             string `json:"id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type ReplayResult struct {
	Index          int    `json:"index"`
	Kind           string `json:"kind"`
	ID             string `json:"id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// execute claims the command's idempotency key, when it has one, and applies it to the session.
func (s *Server) execute(ctx context.Context, user UserContext, cmd Command) (game.Snapshot, error) {
	cmd.ID = strings.TrimSpace(cmd.ID)
	switch cmd.Kind {
	case CommandClick:
	case CommandBuyBuilding, CommandBuyUpgrade:
		if cmd.ID == "" {
			return game.Snapshot{}, fmt.Errorf("%w: %s needs an id", errBadCommand, cmd.Kind)
		}
	default:
		return game.Snapshot{}, fmt.Errorf("%w: unknown kind %q", errBadCommand, cmd.Kind)
	}

	if cmd.IdempotencyKey != "" {
		if err := s.sessions.ClaimIdempotency(ctx, user.UserID, cmd.IdempotencyKey, cmd.Kind); err != nil {
			return game.Snapshot{}, err
		}
	}
	var snap game.Snapshot
	err := s.sessions.Do(ctx, user.UserID, user.Username, func(sess *session.Session) error {
		var err error
		switch cmd.Kind {
		case CommandClick:
			snap, err = sess.Click(ctx)
		case CommandBuyBuilding:
			snap, err = sess.PurchaseBuilding(ctx, cmd.ID)
		case CommandBuyUpgrade:
			snap, err = sess.PurchaseUpgrade(ctx, cmd.ID)
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, store.ErrDuplicateIdempotency) {
			s.log.Debug("command rejected", "player_id", user.UserID, "kind", cmd.Kind, "id", cmd.ID, "err", err)
		}
		return game.Snapshot{}, err
	}
	return snap, nil
}

// handleSyncReplay applies commands queued by an offline client in order. A rejected
// command does not stop the batch; a persistence failure does.
func (s *Server) handleSyncReplay(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Commands []Command `json:"commands"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(in.Commands) > maxReplayCommands {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d commands per replay", maxReplayCommands))
		return
	}

	results := make([]ReplayResult, 0, len(in.Commands))
	for i, cmd := range in.Commands {
		res := ReplayResult{Index: i, Kind: cmd.Kind, ID: cmd.ID, IdempotencyKey: cmd.IdempotencyKey, Status: "applied"}
		_, err := s.execute(r.Context(), user, cmd)
		switch {
		case err == nil:
		case errors.Is(err, store.ErrDuplicateIdempotency):
			res.Status = "duplicate"
		case errors.Is(err, store.ErrPersistence), errors.Is(err, session.ErrSessionClosed), r.Context().Err() != nil:
			writeDomainError(w, err)
			return
		default:
			res.Status = "rejected"
			res.Error = err.Error()
		}
		results = append(results, res)
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
	s.log.Info("sync replayed", "player_id", user.UserID, "commands", len(results))
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "snapshot": snap})
}
