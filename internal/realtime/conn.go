// Package realtime is the client side of the booking event channel: one
// websocket carrying JSON envelopes, redialed automatically.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"omni/live/internal/config"
	"omni/live/internal/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Config describes where and how to connect.
type Config struct {
	URL          string
	DialTimeout  time.Duration
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig returns a Config for url with the standard timeouts.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		DialTimeout:  config.RealtimeDialTimeout,
		InitialDelay: config.ReconnectInitialDelay,
		MaxDelay:     config.ReconnectMaxDelay,
	}
}

// Conn is a self-healing event connection. Handlers run on the read
// goroutine and must not call Close.
type Conn struct {
	cfg    Config
	token  string
	dialer *websocket.Dialer
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.RWMutex
	handlers     map[string][]func(json.RawMessage)
	onConnect    []func()
	onDisconnect []func()
	out          chan models.Envelope
	connected    bool
	started      bool

	closeOnce sync.Once
}

// New prepares a connection authenticated with token. It returns nil when
// there is no token; nothing is dialed until Start.
func New(cfg Config, token string, logger *logrus.Logger) *Conn {
	if token == "" {
		return nil
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	defaults := DefaultConfig(cfg.URL)
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaults.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaults.MaxDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		cfg:      cfg,
		token:    token,
		dialer:   &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: cfg.DialTimeout},
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		handlers: make(map[string][]func(json.RawMessage)),
	}
}

// On registers a handler for an inbound event.
func (c *Conn) On(event string, handler func(data json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// OnConnect registers fn to run after every successful connect, including
// reconnects.
func (c *Conn) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

func (c *Conn) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// Emit queues an event for sending. Events emitted while disconnected, or
// when the send buffer is full, are dropped.
func (c *Conn) Emit(event string, payload any) {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		c.logger.WithError(err).WithField("event", event).Error("Failed to encode event")
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.out == nil {
		c.logger.WithField("event", event).Debug("Dropping event while disconnected")
		return
	}
	select {
	case c.out <- env:
	default:
		c.logger.WithField("event", event).Warn("Send buffer full, dropping event")
	}
}

func (c *Conn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Start begins dialing in the background. It is a no-op after the first
// call or after Close.
func (c *Conn) Start() {
	c.mu.Lock()
	if c.started || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.run()
}

// Close flushes queued events, closes the socket and stops reconnecting.
// It is safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		started := c.started
		c.mu.Unlock()

		c.cancel()
		if started {
			<-c.done
		}
	})
}

func (c *Conn) run() {
	defer close(c.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialDelay
	b.MaxInterval = c.cfg.MaxDelay
	b.Reset()

	for {
		ws, err := c.dial()
		if err == nil {
			b.Reset()
			c.serve(ws)
		} else if c.ctx.Err() == nil {
			c.logger.WithError(err).WithField("url", c.cfg.URL).Warn("Realtime dial failed")
		}

		if c.ctx.Err() != nil {
			return
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop || delay > c.cfg.MaxDelay {
			delay = c.cfg.MaxDelay
		}
		c.logger.WithField("delay", delay).Debug("Reconnecting")

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Conn) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	return ws, err
}

// serve runs one connection until it fails or Close is called.
func (c *Conn) serve(ws *websocket.Conn) {
	out := make(chan models.Envelope, sendBuffer)
	stop := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		c.writePump(ws, out, stop)
	}()

	c.mu.Lock()
	c.out = out
	c.connected = true
	connectFns := append([]func(){}, c.onConnect...)
	c.mu.Unlock()

	c.logger.WithField("url", c.cfg.URL).Info("Realtime connected")
	for _, fn := range connectFns {
		fn()
	}

	c.readPump(ws)

	c.mu.Lock()
	c.out = nil
	c.connected = false
	disconnectFns := append([]func(){}, c.onDisconnect...)
	c.mu.Unlock()

	close(stop)
	<-writerDone
	ws.Close()

	c.logger.Info("Realtime disconnected")
	for _, fn := range disconnectFns {
		fn()
	}
}

func (c *Conn) readPump(ws *websocket.Conn) {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.ctx.Err() == nil {
				c.logger.WithError(err).Warn("Realtime read failed")
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.WithField("raw", string(data)).Debug("Ignoring malformed frame")
			continue
		}

		c.mu.RLock()
		handlers := append([]func(json.RawMessage){}, c.handlers[env.Event]...)
		c.mu.RUnlock()

		for _, h := range handlers {
			h(env.Data)
		}
	}
}

// writePump owns all writes to ws. On Close it flushes whatever is queued
// before sending the close frame.
func (c *Conn) writePump(ws *websocket.Conn, out <-chan models.Envelope, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-out:
			if err := c.write(ws, env); err != nil {
				ws.Close()
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				ws.Close()
				return
			}

		case <-stop:
			return

		case <-c.ctx.Done():
			c.flush(ws, out)
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			ws.Close()
			return
		}
	}
}

func (c *Conn) flush(ws *websocket.Conn, out <-chan models.Envelope) {
	for {
		select {
		case env := <-out:
			if err := c.write(ws, env); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(ws *websocket.Conn, env models.Envelope) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(env); err != nil {
		c.logger.WithError(err).WithField("event", env.Event).Warn("Realtime write failed")
		return err
	}
	return nil
}
