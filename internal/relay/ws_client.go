package relay

import (
	"encoding/json"
	"sync"
	"time"

	"omni/live/internal/auth"
	"omni/live/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// WebSocketClient implements Client over a gorilla connection.
type WebSocketClient struct {
	id        string
	identity  auth.Identity
	bookingID string

	Conn *websocket.Conn
	Hub  *Hub
	Send chan models.Envelope

	logger    *logrus.Logger
	closeOnce sync.Once
}

func NewWebSocketClient(hub *Hub, conn *websocket.Conn, id auth.Identity, logger *logrus.Logger) *WebSocketClient {
	if logger == nil {
		logger = hub.logger
	}
	return &WebSocketClient{
		id:       uuid.NewString(),
		identity: id,
		Conn:     conn,
		Hub:      hub,
		Send:     make(chan models.Envelope, sendBuffer),
		logger:   logger,
	}
}

func (c *WebSocketClient) ID() string                          { return c.id }
func (c *WebSocketClient) Identity() auth.Identity             { return c.identity }
func (c *WebSocketClient) BookingID() string                   { return c.bookingID }
func (c *WebSocketClient) SetBookingID(id string)              { c.bookingID = id }
func (c *WebSocketClient) SendChannel() chan<- models.Envelope { return c.Send }

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes Send, which makes writePump say goodbye and hang up.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.Hub.UnregisterCh <- c:
		case <-c.Hub.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.WithError(err).WithField("client", c.id).Debug("Read failed")
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			c.logger.WithField("client", c.id).Debug("Dropping malformed frame")
			continue
		}

		select {
		case c.Hub.IncomingCh <- Inbound{Client: c, Envelope: env}:
		case <-c.Hub.Done():
			return
		}
	}
}

// writePump writes one frame per envelope and keeps the connection alive
// with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
