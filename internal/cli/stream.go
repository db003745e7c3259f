package cli

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"cliccoins/internal/game"

	"github.com/gorilla/websocket"
)

const streamWriteWait = 10 * time.Second

type StreamCommand struct {
	Kind           string `json:"kind"`
	ID             string `json:"id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type StreamMessage struct {
	Type     string         `json:"type"`
	Snapshot *game.Snapshot `json:"snapshot,omitempty"`
	Command  *StreamCommand `json:"command,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Stream is a live connection to /v1/stream. Next and Send may be used from different goroutines.
type Stream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *Client) OpenStream(ctx context.Context, accessToken string) (*Stream, error) {
	u, err := url.Parse(c.BaseURL + "/v1/stream")
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, err
	}
	return &Stream{conn: conn}, nil
}

func (s *Stream) Next() (StreamMessage, error) {
	var msg StreamMessage
	err := s.conn.ReadJSON(&msg)
	return msg, err
}

func (s *Stream) Send(cmd StreamCommand) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return s.conn.WriteJSON(cmd)
}

func (s *Stream) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(streamWriteWait))
	s.writeMu.Unlock()
	return s.conn.Close()
}
