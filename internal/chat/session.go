package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"omni/live/internal/auth"
	"omni/live/internal/clock"
	"omni/live/internal/config"
	"omni/live/internal/localization"
	"omni/live/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrNoSession = errors.New("chat: no open conversation")
	ErrNoBooking = errors.New("chat: booking required")
)

// Transport is the realtime channel a Session talks over.
// *realtime.Conn satisfies it.
type Transport interface {
	On(event string, handler func(data json.RawMessage))
	OnConnect(fn func())
	OnDisconnect(fn func())
	Emit(event string, payload any)
	Connected() bool
	Start()
	Close()
}

// Dialer opens a transport for token. It returns nil when no transport can
// be had, which disables realtime features.
type Dialer func(token string) Transport

// HistoryLoader fetches the stored messages of a booking.
type HistoryLoader interface {
	ChatHistory(ctx context.Context, token, bookingID string) ([]models.Message, error)
}

type Options struct {
	Dial     Dialer
	History  HistoryLoader
	Clock    clock.Clock
	Logger   *logrus.Logger
	Notices  *localization.Localizer
	Language string
}

// View is a copy of the session state for display.
type View struct {
	BookingID          string
	Self               models.Role
	Messages           []models.Message
	Connected          bool
	CounterpartOnline  bool
	CounterpartReading bool
	Locked             bool
	Selected           []string
	Editing            *Edit
	Input              string
	Notice             string
}

// Session owns one open conversation at a time and its transport.
type Session struct {
	dial     Dialer
	history  HistoryLoader
	clock    clock.Clock
	logger   *logrus.Logger
	notices  *localization.Localizer
	language string

	mu            sync.Mutex
	conv          *Conversation
	transport     Transport
	token         string
	gen           uint64
	historyLoaded bool
	cancelHistory context.CancelFunc
	notice        *localization.Notice
}

func NewSession(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}
	if opts.Notices == nil {
		opts.Notices = localization.Default()
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	return &Session{
		dial:     opts.Dial,
		history:  opts.History,
		clock:    opts.Clock,
		logger:   opts.Logger,
		notices:  opts.Notices,
		language: opts.Language,
	}
}

// Open resets the session for booking. Without a token the conversation is
// shown but nothing is sent or loaded.
func (s *Session) Open(booking *models.Booking, token string) error {
	if booking == nil || booking.ID == "" {
		return ErrNoBooking
	}

	var ident auth.Identity
	if token != "" {
		id, err := auth.Inspect(token)
		if err != nil {
			return fmt.Errorf("chat: %w", err)
		}
		ident = *id
	}

	s.Close()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.conv = NewConversation(booking.ID, ident.Role, ident.Name, booking.Locked())
	s.token = token
	s.historyLoaded = false
	s.notice = nil

	var t Transport
	if token != "" && s.dial != nil {
		t = s.dial(token)
	}
	s.transport = t
	if t == nil {
		s.setNotice(localization.KeyRealtimeOffline)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"role":       ident.Role,
		"locked":     booking.Locked(),
	}).Info("Opening chat")

	t.OnConnect(func() { s.onConnect(gen) })
	s.handle(t, gen, models.EventChatMessage, func(c *Conversation, data json.RawMessage) []Outbound {
		var msg models.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil
		}
		return c.Receive(msg)
	})
	s.handle(t, gen, models.EventChatRead, func(c *Conversation, data json.RawMessage) []Outbound {
		var r models.ChatRead
		if err := json.Unmarshal(data, &r); err == nil {
			c.MarkRead(r)
		}
		return nil
	})
	s.handle(t, gen, models.EventChatPresence, func(c *Conversation, data json.RawMessage) []Outbound {
		var p models.ChatPresence
		if err := json.Unmarshal(data, &p); err != nil {
			return nil
		}
		return c.Presence(p)
	})
	s.handle(t, gen, models.EventChatEdit, func(c *Conversation, data json.RawMessage) []Outbound {
		var e models.ChatEdit
		if err := json.Unmarshal(data, &e); err == nil {
			c.ApplyRemoteEdit(e)
		}
		return nil
	})
	s.handle(t, gen, models.EventChatDelete, func(c *Conversation, data json.RawMessage) []Outbound {
		var d models.ChatDelete
		if err := json.Unmarshal(data, &d); err == nil {
			c.ApplyRemoteDelete(d)
		}
		return nil
	})
	t.Start()
	return nil
}

// handle subscribes fn to event for the open identified by gen.
func (s *Session) handle(t Transport, gen uint64, event string, fn func(*Conversation, json.RawMessage) []Outbound) {
	t.On(event, func(data json.RawMessage) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen || s.conv == nil {
			return
		}
		s.emit(fn(s.conv, data))
	})
}

func (s *Session) onConnect(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.conv == nil {
		return
	}
	s.emit(s.conv.Connected())

	if s.historyLoaded || s.history == nil {
		return
	}
	s.historyLoaded = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelHistory = cancel
	go s.loadHistory(ctx, gen, s.token, s.conv.BookingID)
}

func (s *Session) loadHistory(ctx context.Context, gen uint64, token, bookingID string) {
	msgs, err := s.history.ChatHistory(ctx, token, bookingID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.conv == nil {
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", bookingID).Warn("Failed to load chat history")
		s.setNotice(localization.KeyHistoryLoadFailed)
		return
	}
	s.emit(s.conv.LoadHistory(msgs))
}

// Send posts text as a new message. It reports whether anything was sent.
func (s *Session) Send(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil || s.transport == nil {
		return false
	}
	now := s.clock.Now()
	out := s.conv.Send(text, newMessageID(now), now)
	s.emit(out)
	s.conv.SendComplete()
	return len(out) > 0
}

func (s *Session) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv != nil {
		s.conv.Input = text
	}
}

func (s *Session) EnterSelectionMode(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv != nil && s.conv.EnterSelectionMode(messageID)
}

func (s *Session) ToggleSelect(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv != nil {
		s.conv.ToggleSelect(messageID)
	}
}

func (s *Session) DeleteSelected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv != nil {
		s.emit(s.conv.DeleteSelected())
	}
}

func (s *Session) EditSelected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv != nil && s.conv.EditSelected()
}

func (s *Session) SaveEdit(newText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv != nil {
		s.emit(s.conv.SaveEdit(newText))
	}
}

func (s *Session) CancelEdit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv != nil {
		s.conv.CancelEdit()
	}
}

// Close announces that this side went offline and disconnects. It is safe
// to call at any time, any number of times.
func (s *Session) Close() {
	s.mu.Lock()
	if s.conv == nil {
		s.mu.Unlock()
		return
	}
	s.emit(s.conv.Closing())
	t := s.transport
	s.transport = nil
	s.conv = nil
	s.gen++
	if s.cancelHistory != nil {
		s.cancelHistory()
		s.cancelHistory = nil
	}
	s.mu.Unlock()

	if t != nil {
		t.Close()
	}
}

// Snapshot returns the current state, or ErrNoSession when nothing is open.
func (s *Session) Snapshot() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return View{}, ErrNoSession
	}
	c := s.conv
	v := View{
		BookingID:          c.BookingID,
		Self:               c.Self,
		Messages:           slices.Clone(c.Messages),
		CounterpartOnline:  c.CounterpartOnline,
		CounterpartReading: c.CounterpartReading,
		Locked:             c.Locked,
		Selected:           c.Selected(),
		Input:              c.Input,
	}
	if c.Editing != nil {
		edit := *c.Editing
		v.Editing = &edit
	}
	if s.transport != nil {
		v.Connected = s.transport.Connected()
	}
	if s.notice.Active(s.clock.Now()) {
		v.Notice = s.notice.Text
	}
	return v, nil
}

// emit must be called with s.mu held.
func (s *Session) emit(out []Outbound) {
	if s.transport == nil {
		return
	}
	for _, o := range out {
		s.transport.Emit(o.Event, o.Payload)
	}
}

func (s *Session) setNotice(key string) {
	s.notice = s.notices.Notice(s.language, key, s.clock.Now(), config.NoticeTTL)
}

// newMessageID returns "<unix millis>-<random suffix>".
func newMessageID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}
