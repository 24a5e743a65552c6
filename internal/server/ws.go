package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hearthd/hearth/internal/gateway"
	"github.com/hearthd/hearth/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The daemon binds to localhost; channel adapters are the remote story.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn adapts a websocket to the registry's Conn interface. Writes are
// serialized because turn events and proactive notifications can race.
type wsConn struct {
	mu   sync.Mutex
	sock *websocket.Conn
}

func (c *wsConn) Send(event models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.WriteJSON(event)
}

func (c *wsConn) Close() error {
	return c.sock.Close()
}

type wsInbound struct {
	Message  string `json:"message"`
	TaskMode bool   `json:"task_mode"`
}

// handleWS upgrades the connection and serves turns over it. Each inbound
// message runs one turn; its events stream back on the same socket. The
// connection registers with the registry so proactive reminders reach it.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	householdID := r.URL.Query().Get("household_id")
	if householdID == "" {
		householdID = s.defaultHousehold
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := &wsConn{sock: sock}
	s.registry.Attach(userID, conn)
	defer func() {
		s.registry.Detach(userID, conn)
		_ = sock.Close()
	}()

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			return
		}
		var inbound wsInbound
		if err := json.Unmarshal(data, &inbound); err != nil || inbound.Message == "" {
			_ = conn.Send(models.Event{Type: models.EventDone, Error: "invalid message"})
			continue
		}

		// A client disconnect does not cancel the turn; the reply is still
		// persisted. Use the request context only for server shutdown.
		_, err = s.gateway.Process(r.Context(), gateway.Request{
			HouseholdID: householdID,
			UserID:      userID,
			Message:     inbound.Message,
			History:     s.recentHistory(r.Context(), householdID, userID),
			TaskMode:    inbound.TaskMode,
		}, func(event models.Event) {
			if err := conn.Send(event); err != nil {
				s.logger.Debug("stream write failed", "user", userID, "error", err)
			}
		})
		if err != nil {
			s.logger.Error("streamed turn failed", "user", userID, "error", err)
		}
	}
}
