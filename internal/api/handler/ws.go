package handler

import (
	"net/http"
	"slices"

	"omni/live/internal/relay"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// upgrader accepts requests without an Origin header, since those do not
// come from a browser.
func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(h.AllowedOrigins) == 0 {
				return true
			}
			return slices.Contains(h.AllowedOrigins, origin)
		},
	}
}

// ServeWebSocket upgrades an authenticated request and hands the
// connection to the hub.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the client.
		h.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	client := relay.NewWebSocketClient(h.Hub, conn, identity(c), h.logger)
	select {
	case h.Hub.RegisterCh <- client:
	case <-h.Hub.Done():
		conn.Close()
		return
	}
	client.Run()
}
