package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cliccoins/internal/game"
	"cliccoins/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Commands are tiny; anything larger is a misbehaving peer.
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth is a bearer token, not a cookie, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamMessage is what the server writes on /v1/stream.
type StreamMessage struct {
	Type     string         `json:"type"`
	Snapshot *game.Snapshot `json:"snapshot,omitempty"`
	Command  *Command       `json:"command,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// handleStream pushes the player's snapshot every StreamEvery and accepts commands
// from the client. Each applied command is answered with a fresh snapshot.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	s.streamMu.Lock()
	if s.streamsClosed {
		s.streamMu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	s.streams.Add(1)
	s.streamMu.Unlock()
	defer s.streams.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "player_id", user.UserID, "err", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	log := s.log.With("player_id", user.UserID, "conn_id", connID)
	log.Info("stream opened")
	defer log.Info("stream closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-s.streamsDone:
			cancel()
		case <-ctx.Done():
		}
	}()

	replies := make(chan StreamMessage, 16)
	go func() {
		defer cancel()
		s.readCommands(ctx, conn, user, replies)
	}()

	push := time.NewTicker(s.cfg.StreamEvery)
	defer push.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if !s.writeSnapshot(ctx, conn, user) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-replies:
			if err := writeMessage(conn, msg); err != nil {
				return
			}
		case <-push.C:
			if !s.writeSnapshot(ctx, conn, user) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readCommands(ctx context.Context, conn *websocket.Conn, user UserContext, replies chan<- StreamMessage) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("stream read failed", "player_id", user.UserID, "err", err)
			}
			return
		}
		var cmd Command
		var reply StreamMessage
		if err := json.Unmarshal(raw, &cmd); err != nil {
			reply = StreamMessage{Type: "error", Error: "malformed command"}
		} else if snap, err := s.execute(ctx, user, cmd); err != nil {
			reply = StreamMessage{Type: "error", Command: &cmd, Error: err.Error()}
		} else {
			reply = StreamMessage{Type: "snapshot", Command: &cmd, Snapshot: &snap}
		}
		select {
		case replies <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeSnapshot(ctx context.Context, conn *websocket.Conn, user UserContext) bool {
	var snap game.Snapshot
	err := s.sessions.Do(ctx, user.UserID, user.Username, func(sess *session.Session) error {
		snap = sess.Snapshot()
		return nil
	})
	msg := StreamMessage{Type: "snapshot", Snapshot: &snap}
	if err != nil {
		msg = StreamMessage{Type: "error", Error: err.Error()}
	}
	return writeMessage(conn, msg) == nil
}

func writeMessage(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
