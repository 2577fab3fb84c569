package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"omni/live/internal/models"
	"omni/live/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const storageTimeout = 5 * time.Second

// Hub owns every connection of this relay instance. All state is touched
// from the Run goroutine only; the rest of the process talks to it through
// the channels.
type Hub struct {
	Clients map[string]Client
	rooms   map[string]map[string]Client

	RegisterCh   chan Client
	UnregisterCh chan Client
	IncomingCh   chan Inbound
	PubSubCh     chan models.RoomEvent

	Storage    storage.Storage
	InstanceID string

	logger *logrus.Logger
	now    func() time.Time
	done   chan struct{}
}

func NewHub(s storage.Storage, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Hub{
		Clients:      make(map[string]Client),
		rooms:        make(map[string]map[string]Client),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		IncomingCh:   make(chan Inbound),
		PubSubCh:     make(chan models.RoomEvent),
		Storage:      s,
		InstanceID:   uuid.NewString(),
		logger:       logger,
		now:          time.Now,
		done:         make(chan struct{}),
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Run serves the hub until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	h.startPubSubListener(ctx)
	h.logger.WithField("instance", h.InstanceID).Info("Relay hub started")

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.RegisterCh:
			h.Clients[c.ID()] = c
			h.logger.WithFields(logrus.Fields{"client": c.ID(), "subject": c.Identity().Subject}).Debug("Client registered")
		case c := <-h.UnregisterCh:
			h.unregister(ctx, c)
		case in := <-h.IncomingCh:
			h.handleIncoming(ctx, in)
		case ev := <-h.PubSubCh:
			if ev.Origin == h.InstanceID {
				continue
			}
			h.deliver(ctx, ev)
		}
	}
}

// startPubSubListener forwards events from other relay instances into
// PubSubCh. Without a subscription the hub still serves its own clients.
func (h *Hub) startPubSubListener(ctx context.Context) {
	events, err := h.Storage.SubscribeEvents(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("Room event subscription failed, serving local clients only")
		return
	}
	go func() {
		for ev := range events {
			select {
			case h.PubSubCh <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (h *Hub) unregister(ctx context.Context, c Client) {
	if _, ok := h.Clients[c.ID()]; !ok {
		return
	}
	bookingID := c.BookingID()
	h.remove(c)
	if bookingID != "" {
		h.announcePresence(ctx, c, bookingID, false)
	}
}

// remove drops c from every map and closes it.
func (h *Hub) remove(c Client) {
	delete(h.Clients, c.ID())
	h.leaveRoom(c)
	c.Close()
	h.logger.WithField("client", c.ID()).Debug("Client unregistered")
}

func (h *Hub) leaveRoom(c Client) {
	bookingID := c.BookingID()
	if bookingID == "" {
		return
	}
	if room, ok := h.rooms[bookingID]; ok {
		delete(room, c.ID())
		if len(room) == 0 {
			delete(h.rooms, bookingID)
		}
	}
	c.SetBookingID("")
}

func (h *Hub) closeAll() {
	for _, c := range h.Clients {
		c.Close()
	}
	h.Clients = make(map[string]Client)
	h.rooms = make(map[string]map[string]Client)
}

func (h *Hub) handleIncoming(ctx context.Context, in Inbound) {
	if _, ok := h.Clients[in.Client.ID()]; !ok {
		return
	}
	log := h.logger.WithFields(logrus.Fields{"client": in.Client.ID(), "event": in.Envelope.Event})

	var err error
	switch in.Envelope.Event {
	case models.EventJoinBooking:
		err = h.handleJoin(ctx, in.Client, in.Envelope.Data)
	case models.EventChatSend:
		err = h.handleSend(ctx, in.Client, in.Envelope.Data)
	case models.EventChatRead:
		err = h.handleRead(in.Client, in.Envelope.Data)
	case models.EventChatEdit:
		err = h.handleEdit(ctx, in.Client, in.Envelope.Data)
	case models.EventChatDelete:
		err = h.handleDelete(ctx, in.Client, in.Envelope.Data)
	case models.EventChatPresence:
		err = h.handlePresence(ctx, in.Client, in.Envelope.Data)
	case models.EventWorkerLocation:
		err = h.handleLocation(in.Client, in.Envelope.Data)
	default:
		log.Debug("Ignoring unknown event")
		return
	}
	if err != nil {
		log.WithError(err).Debug("Event rejected")
	}
}

var (
	errNotParticipant = errors.New("not a participant of the booking")
	errNotJoined      = errors.New("client has not joined the booking")
	errLocked         = errors.New("booking is locked")
	errForbiddenRole  = errors.New("role may not send this event")
	errEmptyText      = errors.New("empty text")
	errNothingChanged = errors.New("no matching messages")
)

func (h *Hub) handleJoin(ctx context.Context, c Client, data json.RawMessage) error {
	var p models.JoinBooking
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.BookingID == "" {
		return errNotParticipant
	}
	if p.BookingID == c.BookingID() {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()
	b, err := h.Storage.GetBooking(sctx, p.BookingID)
	if err != nil {
		return err
	}
	if !b.HasParticipant(c.Identity().Subject) {
		return errNotParticipant
	}

	h.leaveRoom(c)
	room, ok := h.rooms[b.ID]
	if !ok {
		room = make(map[string]Client)
		h.rooms[b.ID] = room
	}
	room[c.ID()] = c
	c.SetBookingID(b.ID)

	h.replayPresence(sctx, c, b.ID)
	return nil
}

// replayPresence tells a joining client which counterpart is online so the
// presence handshake can start even when the counterpart spoke first.
func (h *Hub) replayPresence(ctx context.Context, c Client, bookingID string) {
	roles, err := h.Storage.OnlineRoles(ctx, bookingID)
	if err != nil {
		h.logger.WithError(err).WithField("booking", bookingID).Warn("Failed to read presence")
		return
	}
	for _, r := range roles {
		if r == c.Identity().Role {
			continue
		}
		env, err := models.NewEnvelope(models.EventChatPresence, models.ChatPresence{BookingID: bookingID, Online: true, Role: r})
		if err == nil && !h.send(c, env) {
			h.unregister(ctx, c)
			return
		}
	}
}

// joinedBooking loads the booking a payload refers to, checking that c
// joined it first.
func (h *Hub) joinedBooking(ctx context.Context, c Client, bookingID string) (*models.Booking, error) {
	if bookingID == "" || bookingID != c.BookingID() {
		return nil, errNotJoined
	}
	return h.Storage.GetBooking(ctx, bookingID)
}

func (h *Hub) handleSend(ctx context.Context, c Client, data json.RawMessage) error {
	var p models.ChatSend
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	text := clampText(p.Text)
	if text == "" {
		return errEmptyText
	}

	sctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()
	b, err := h.joinedBooking(sctx, c, p.BookingID)
	if err != nil {
		return err
	}
	if b.Locked() {
		return errLocked
	}

	id := c.Identity()
	record := &models.ChatHistory{
		BookingID:  b.ID,
		MessageID:  p.ClientMsgID,
		SenderID:   id.Subject,
		SenderName: id.Name,
		SenderRole: id.Role,
		Text:       text,
	}
	record.CreatedAt = h.now()
	if err := h.Storage.SaveMessage(sctx, record); err != nil {
		return err
	}

	env, err := models.NewEnvelope(models.EventChatMessage, record.ToChatMessage())
	if err != nil {
		return err
	}
	h.broadcast(sctx, models.RoomEvent{BookingID: b.ID, Envelope: env})
	return nil
}

func (h *Hub) handleRead(c Client, data json.RawMessage) error {
	var p models.ChatRead
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.BookingID == "" || p.BookingID != c.BookingID() {
		return errNotJoined
	}
	p.ReaderRole = c.Identity().Role
	env, err := models.NewEnvelope(models.EventChatRead, p)
	if err != nil {
		return err
	}
	h.broadcast(context.Background(), models.RoomEvent{BookingID: p.BookingID, Envelope: env, Skip: c.ID()})
	return nil
}

func (h *Hub) handleEdit(ctx context.Context, c Client, data json.RawMessage) error {
	var p models.ChatEdit
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	p.Text = clampText(p.Text)
	if p.Text == "" {
		return errEmptyText
	}

	sctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()
	b, err := h.joinedBooking(sctx, c, p.BookingID)
	if err != nil {
		return err
	}
	if b.Locked() {
		return errLocked
	}
	ok, err := h.Storage.EditMessage(sctx, b.ID, p.MessageID, c.Identity().Subject, p.Text)
	if err != nil {
		return err
	}
	if !ok {
		return errNothingChanged
	}

	env, err := models.NewEnvelope(models.EventChatEdit, p)
	if err != nil {
		return err
	}
	h.broadcast(sctx, models.RoomEvent{BookingID: b.ID, Envelope: env, Skip: c.ID()})
	return nil
}

func (h *Hub) handleDelete(ctx context.Context, c Client, data json.RawMessage) error {
	var p models.ChatDelete
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if len(p.MessageIDs) == 0 {
		return errNothingChanged
	}

	sctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()
	b, err := h.joinedBooking(sctx, c, p.BookingID)
	if err != nil {
		return err
	}
	if b.Locked() {
		return errLocked
	}
	n, err := h.Storage.DeleteMessages(sctx, b.ID, c.Identity().Subject, p.MessageIDs)
	if err != nil {
		return err
	}
	if n == 0 {
		return errNothingChanged
	}

	env, err := models.NewEnvelope(models.EventChatDelete, p)
	if err != nil {
		return err
	}
	h.broadcast(sctx, models.RoomEvent{BookingID: b.ID, Envelope: env, Skip: c.ID()})
	return nil
}

func (h *Hub) handlePresence(ctx context.Context, c Client, data json.RawMessage) error {
	var p models.ChatPresence
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.BookingID == "" || p.BookingID != c.BookingID() {
		return errNotJoined
	}
	h.announcePresence(ctx, c, p.BookingID, p.Online)
	return nil
}

func (h *Hub) announcePresence(ctx context.Context, c Client, bookingID string, online bool) {
	role := c.Identity().Role
	sctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()
	if err := h.Storage.SetPresence(sctx, bookingID, role, online); err != nil {
		h.logger.WithError(err).WithField("booking", bookingID).Warn("Failed to store presence")
	}
	env, err := models.NewEnvelope(models.EventChatPresence, models.ChatPresence{BookingID: bookingID, Online: online, Role: role})
	if err != nil {
		return
	}
	h.broadcast(sctx, models.RoomEvent{BookingID: bookingID, Envelope: env, Skip: c.ID()})
}

func (h *Hub) handleLocation(c Client, data json.RawMessage) error {
	if c.Identity().Role != models.RoleWorker {
		return errForbiddenRole
	}
	var p models.WorkerLocation
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.BookingID == "" || p.BookingID != c.BookingID() {
		return errNotJoined
	}
	if !(models.GeoPoint{Lat: p.Lat, Lng: p.Lng}).Valid() {
		return errors.New("invalid coordinates")
	}
	env, err := models.NewEnvelope(models.EventWorkerLocation, p)
	if err != nil {
		return err
	}
	h.broadcast(context.Background(), models.RoomEvent{BookingID: p.BookingID, Envelope: env, Skip: c.ID()})
	return nil
}

// broadcast delivers ev locally and publishes it to the other instances.
func (h *Hub) broadcast(ctx context.Context, ev models.RoomEvent) {
	ev.Origin = h.InstanceID
	h.deliver(ctx, ev)
	if err := h.Storage.PublishEvent(ctx, ev); err != nil {
		h.logger.WithError(err).WithField("booking", ev.BookingID).Warn("Failed to publish room event")
	}
}

// deliver sends ev to the local room. Clients that cannot keep up are
// unregistered once the room has been walked, so the room sees them go
// offline.
func (h *Hub) deliver(ctx context.Context, ev models.RoomEvent) {
	var dropped []Client
	for id, c := range h.rooms[ev.BookingID] {
		if id == ev.Skip {
			continue
		}
		if !h.send(c, ev.Envelope) {
			dropped = append(dropped, c)
		}
	}
	for _, c := range dropped {
		h.unregister(ctx, c)
	}
}

// send never blocks the hub. It reports false when c's buffer is full.
func (h *Hub) send(c Client, env models.Envelope) bool {
	select {
	case c.SendChannel() <- env:
		return true
	default:
		h.logger.WithField("client", c.ID()).Warn("Client send buffer full, dropping connection")
		return false
	}
}

func clampText(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > models.MaxMessageLength {
		s = string([]rune(s)[:models.MaxMessageLength])
	}
	return s
}
