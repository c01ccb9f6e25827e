package httpapi

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gianmatteo-arcana/engine-lever/pkg/models"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStream upgrades the connection and streams context events as JSON
// messages. The since query parameter replays history from that sequence
// number before following live updates.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, fmt.Errorf("%w: since must be a non-negative integer", models.ErrValidation))
			return
		}
		since = parsed
	}

	contextID := r.PathValue("id")
	events, err := s.engine.StreamUpdates(r.Context(), tc, contextID, since)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[httpapi] websocket upgrade failed: %v", err)
		return
	}

	go s.streamReadPump(conn)
	s.streamWritePump(conn, contextID, events)
}

// streamReadPump discards client messages and keeps pong deadlines fresh.
// The stream is one-way; a read error means the peer is gone.
func (s *Server) streamReadPump(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(512)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// streamWritePump forwards events to the peer until the event channel
// closes or a write fails.
func (s *Server) streamWritePump(conn *websocket.Conn, contextID string, events <-chan *models.ContextEvent) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, open := <-events:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("[httpapi] stream write for %s: %v", contextID, err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
