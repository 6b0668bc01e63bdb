package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development; restrict in production
	},
}

// clientMessage is the inbound subscriber protocol.
type clientMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id,omitempty"`
}

// WebSocketHandler upgrades client connections and relays their
// subscribe/unsubscribe messages into the registry. Status events reach the
// connection through registry broadcasts; liveness uses ping/pong, with the
// registry's heartbeat loop sending the pings.
type WebSocketHandler struct {
	registry          *registry.Registry
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(reg *registry.Registry, heartbeatInterval time.Duration, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry:          reg,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
	}
}

// Stream handles GET /api/v1/ws (WebSocket upgrade).
func (h *WebSocketHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer func() {
		h.registry.Unsubscribe(conn)
		conn.Close()
	}()

	h.logger.Debug("WebSocket connection opened")

	// A connection that misses one heartbeat is considered dead; the read
	// deadline is pushed out on every pong.
	readDeadline := 2 * h.heartbeatInterval
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		h.registry.Touch(conn)
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			h.logger.Debug("WebSocket read failed (client disconnected)", zap.Error(err))
			return
		}

		switch msg.Type {
		case "subscribe":
			jobID, err := uuid.Parse(msg.JobID)
			if err != nil {
				conn.WriteJSON(gin.H{"type": "error", "error": "Invalid job ID format"})
				continue
			}
			h.registry.Subscribe(jobID, conn)
		case "unsubscribe":
			h.registry.Unsubscribe(conn)
		default:
			conn.WriteJSON(gin.H{"type": "error", "error": "Unknown message type"})
		}
	}
}
