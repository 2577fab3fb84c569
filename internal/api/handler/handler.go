// Package handler exposes the relay over HTTP.
package handler

import (
	"time"

	"omni/live/internal/relay"
	"omni/live/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler holds what the relay endpoints need.
type Handler struct {
	Hub     *relay.Hub
	Storage storage.Storage
	Secret  []byte
	// DevTokens enables GET /token. Never turn it on in production.
	DevTokens bool
	TokenTTL  time.Duration
	// AllowedOrigins restricts the Origin of WebSocket upgrades. Empty
	// allows any origin.
	AllowedOrigins []string

	logger *logrus.Logger
}

func NewHandler(hub *relay.Hub, s storage.Storage, secret []byte, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Handler{
		Hub:     hub,
		Storage: s,
		Secret:  secret,
		logger:  logger,
	}
}

// Routes mounts the relay endpoints on r.
func (h *Handler) Routes(r gin.IRouter) {
	if h.DevTokens {
		r.GET("/token", h.IssueToken)
	}

	authed := r.Group("/", h.RequireToken)
	authed.GET("/bookings/:id", h.GetBooking)
	authed.GET("/bookings/:id/chat", h.GetChatHistory)
	authed.GET("/ws", h.ServeWebSocket)
}
