package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/invar/vault/internal/logging"
	"github.com/invar/vault/internal/stake"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StreamMessage is one message of the snapshot stream
type StreamMessage struct {
	Type string         `json:"type"`
	Data stake.Snapshot `json:"data"`
}

// handleStream handles GET /v1/stake/ws. Every controller state change is
// pushed as a "snapshot" message; a slow client only receives the newest one.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}
	defer s.ops.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", logging.Err(err), logging.Component("websocket"))
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.StreamOpened()
		defer s.metrics.StreamClosed()
	}

	snapshots, cancel := s.controller.Subscribe()
	defer cancel()

	// The read loop only handles control frames and notices the client leaving.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logging.Debug("WebSocket read error", logging.Err(err), logging.Component("websocket"))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))
			conn.Close()
			<-closed
			return

		case <-closed:
			return

		case snap, ok := <-snapshots:
			if !ok {
				conn.Close()
				<-closed
				return
			}
			data, err := json.Marshal(StreamMessage{Type: "snapshot", Data: snap})
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				<-closed
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				<-closed
				return
			}
		}
	}
}
