package progressbus

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/BleedingXiko/GhostStream/internal/logger"
	"github.com/BleedingXiko/GhostStream/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades /ws/progress requests and wires the resulting Client
// into hub: upgrade, register, launch the two pumps. No separate
// WebSocket-layer auth is needed since the upgrade request already passed
// through the same auth middleware as every other route.
type Handler struct {
	hub *Hub
}

// NewHandler wraps hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP upgrades the connection and starts its pumps. An optional
// ?job_id= query parameter seeds an initial explicit subscription to that
// job; with no query parameter the client starts in subscribe_all mode
// until it sends a "subscribe" message narrowing it (§6).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobFilter := r.URL.Query().Get("job_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, jobFilter == "")
	if jobFilter != "" {
		client.Subscribe([]string{jobFilter})
	}
	if !h.hub.Register(client) {
		metrics.ProgressBusRejectedTotal.Inc()
		logger.Warn("progress bus at capacity, rejecting connection", "max_clients", MaxClients)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity"))
		conn.Close()
		return
	}

	go client.WritePump()
	client.ReadPump(h.hub)
}
