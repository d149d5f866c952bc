package broadcast

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to websocket observers of a Hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	origins  []string
}

// NewHandler creates a Handler. Browser origins must appear in
// allowedOrigins, or the list must contain "*". Requests without an Origin
// header are accepted.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	h := &Handler{hub: hub, origins: allowedOrigins}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(h.origins, "*") || slices.Contains(h.origins, origin) {
		return true
	}
	h.hub.logger.Warn("websocket connection rejected from unauthorized origin", "origin", origin)
	return false
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.hub.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h.hub, conn)
	if !h.hub.join(r.Context(), client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
