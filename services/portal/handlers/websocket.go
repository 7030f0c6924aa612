package handlers

import (
	"net/http"
	"sync"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeridianWorks/MeridianPortal/services/portal/datatypes"
	"github.com/MeridianWorks/MeridianPortal/services/portal/observability"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsChatRequest is one inbound chat frame.
type wsChatRequest struct {
	Message string `json:"message"`
}

// wsConn serializes writes; the ping goroutine and the stream relay
// share the connection.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) sendJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// HandleChatWS upgrades the connection and runs the chat orchestration
// over websocket frames. The session lives for the duration of the
// connection; each {"message": ...} frame is one exchange, streamed
// back as {"token": ...} frames and a final {"done": true} frame.
func (h *chatHandler) HandleChatWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	conn := &wsConn{ws: ws}

	sessionID := uuid.New().String()
	slog.Info("New websocket session started", "sessionId", sessionID)

	// Keepalive pings; a dead peer surfaces on the read loop.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()

	if err := conn.sendJSON(map[string]interface{}{
		"action":    "session_created",
		"sessionId": sessionID,
	}); err != nil {
		return
	}

	endpoint := observability.EndpointChatWS
	for {
		var req wsChatRequest
		if err := ws.ReadJSON(&req); err != nil {
			slog.Info("Websocket client disconnected", "error", err.Error())
			break
		}

		chatReq := datatypes.ChatRequest{Message: req.Message, SessionID: sessionID}
		if err := chatReq.Validate(); err != nil {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeValidation)
			}
			if err := conn.sendJSON(map[string]interface{}{"error": "message is required"}); err != nil {
				return
			}
			continue
		}

		if m := observability.DefaultMetrics; m != nil {
			m.StreamStarted(endpoint)
		}

		emit := func(fragment string) error {
			return conn.sendJSON(map[string]interface{}{"token": fragment})
		}
		streamErr := h.runExchange(c.Request.Context(), endpoint, sessionID, req.Message, emit)

		if m := observability.DefaultMetrics; m != nil {
			m.StreamEnded(endpoint)
			m.RecordRequest(endpoint, streamErr == nil)
		}

		if streamErr != nil {
			slog.Error("Websocket chat stream failed", "error", streamErr, "sessionId", sessionID)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeLLMError)
			}
			if err := conn.sendJSON(map[string]interface{}{"error": "chat stream failed"}); err != nil {
				return
			}
			continue
		}

		if err := conn.sendJSON(map[string]interface{}{"done": true, "sessionId": sessionID}); err != nil {
			return
		}
	}
}
