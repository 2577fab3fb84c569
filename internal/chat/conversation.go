// Package chat implements the booking conversation: a state reducer that
// applies local actions and remote events, and a Session that drives it
// over a realtime transport.
package chat

import (
	"strings"
	"time"

	"omni/live/internal/models"
)

// Outbound is an event the conversation wants sent to the server.
type Outbound struct {
	Event   string
	Payload any
}

// Edit is an in-progress edit of one own message.
type Edit struct {
	MessageID    string
	OriginalText string
}

// Conversation is the local state of one open chat. Every method is a
// state transition that returns the events to emit; none of them block or
// perform I/O. It is not safe for concurrent use.
type Conversation struct {
	BookingID string
	Self      models.Role
	SelfName  string
	Locked    bool

	Messages           []models.Message
	CounterpartReading bool
	CounterpartOnline  bool
	Input              string
	Sending            bool
	Editing            *Edit

	seen            map[string]struct{}
	pending         map[string]struct{}
	selected        map[string]struct{}
	presenceReplied bool
}

func NewConversation(bookingID string, self models.Role, selfName string, locked bool) *Conversation {
	return &Conversation{
		BookingID: bookingID,
		Self:      self,
		SelfName:  selfName,
		Locked:    locked,
		seen:      make(map[string]struct{}),
		pending:   make(map[string]struct{}),
		selected:  make(map[string]struct{}),
	}
}

// Connected returns the announcements due on every (re)connect.
func (c *Conversation) Connected() []Outbound {
	return []Outbound{
		{Event: models.EventJoinBooking, Payload: models.JoinBooking{BookingID: c.BookingID}},
		{Event: models.EventChatPresence, Payload: models.ChatPresence{BookingID: c.BookingID, Online: true}},
	}
}

// Send appends an optimistic message with the given id. Blank text, a send
// already in flight and a locked conversation are all no-ops.
func (c *Conversation) Send(text, messageID string, now time.Time) []Outbound {
	text = strings.TrimSpace(text)
	if text == "" || c.Sending || c.Locked {
		return nil
	}
	if r := []rune(text); len(r) > models.MaxMessageLength {
		text = string(r[:models.MaxMessageLength])
	}

	c.Sending = true
	c.Messages = append(c.Messages, models.Message{
		MessageID:  messageID,
		SenderName: c.SelfName,
		SenderRole: c.Self,
		Text:       text,
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		Status:     models.StatusSending,
	})
	c.pending[messageID] = struct{}{}
	c.Input = ""

	return []Outbound{{
		Event:   models.EventChatSend,
		Payload: models.ChatSend{BookingID: c.BookingID, Text: text, ClientMsgID: messageID},
	}}
}

// SendComplete marks the current send as handed to the transport.
func (c *Conversation) SendComplete() {
	c.Sending = false
}

// Receive applies a server broadcast. The echo of a pending message updates
// it in place; anything already seen is dropped.
func (c *Conversation) Receive(msg models.ChatMessage) []Outbound {
	if msg.BookingID != c.BookingID || msg.MessageID == "" {
		return nil
	}

	if _, ok := c.pending[msg.MessageID]; ok {
		delete(c.pending, msg.MessageID)
		c.seen[msg.MessageID] = struct{}{}
		if i := c.indexOf(msg.MessageID); i >= 0 {
			c.Messages[i].Status = models.StatusSent
			if c.CounterpartReading {
				c.Messages[i].Status = models.StatusRead
			}
			if msg.Timestamp != "" {
				c.Messages[i].Timestamp = msg.Timestamp
			}
		}
		return nil
	}

	if _, ok := c.seen[msg.MessageID]; ok {
		return nil
	}
	c.seen[msg.MessageID] = struct{}{}
	c.Messages = append(c.Messages, msg.ToMessage(models.StatusSent))

	if msg.SenderRole != c.Self {
		return []Outbound{c.readReceipt()}
	}
	return nil
}

// LoadHistory puts the stored conversation ahead of anything that arrived
// live in the meantime and acknowledges it as read.
func (c *Conversation) LoadHistory(history []models.Message) []Outbound {
	merged := make([]models.Message, 0, len(history)+len(c.Messages))
	inHistory := make(map[string]struct{}, len(history))
	for _, m := range history {
		if m.MessageID == "" {
			continue
		}
		if _, dup := inHistory[m.MessageID]; dup {
			continue
		}
		inHistory[m.MessageID] = struct{}{}
		m.Status = models.StatusSent
		merged = append(merged, m)
		c.seen[m.MessageID] = struct{}{}
		delete(c.pending, m.MessageID)
	}
	for _, m := range c.Messages {
		if _, ok := inHistory[m.MessageID]; !ok {
			merged = append(merged, m)
		}
	}
	c.Messages = merged

	return []Outbound{c.readReceipt()}
}

// MarkRead records that the counterpart is reading.
func (c *Conversation) MarkRead(r models.ChatRead) {
	if r.BookingID != c.BookingID || !r.ReaderRole.Valid() || r.ReaderRole == c.Self {
		return
	}
	c.CounterpartReading = true
	for i := range c.Messages {
		if c.Messages[i].SenderRole == c.Self && c.Messages[i].Status == models.StatusSent {
			c.Messages[i].Status = models.StatusRead
		}
	}
}

// Presence updates the counterpart's online flag and answers the first
// online signal of this conversation exactly once.
func (c *Conversation) Presence(p models.ChatPresence) []Outbound {
	if p.BookingID != c.BookingID || !p.Role.Valid() || p.Role == c.Self {
		return nil
	}
	c.CounterpartOnline = p.Online
	if !p.Online || c.presenceReplied {
		return nil
	}
	c.presenceReplied = true
	return []Outbound{{
		Event:   models.EventChatPresence,
		Payload: models.ChatPresence{BookingID: c.BookingID, Online: true},
	}}
}

// EnterSelectionMode starts a selection with one own message.
func (c *Conversation) EnterSelectionMode(messageID string) bool {
	if c.Locked || !c.isOwn(messageID) {
		return false
	}
	clear(c.selected)
	c.selected[messageID] = struct{}{}
	return true
}

// ToggleSelect adds or removes an own message. Removing the last one
// leaves selection mode.
func (c *Conversation) ToggleSelect(messageID string) {
	if _, ok := c.selected[messageID]; ok {
		delete(c.selected, messageID)
		return
	}
	if c.Locked || !c.isOwn(messageID) {
		return
	}
	c.selected[messageID] = struct{}{}
}

func (c *Conversation) Selecting() bool {
	return len(c.selected) > 0
}

// Selected returns the selected ids in display order.
func (c *Conversation) Selected() []string {
	var ids []string
	for _, m := range c.Messages {
		if _, ok := c.selected[m.MessageID]; ok {
			ids = append(ids, m.MessageID)
		}
	}
	return ids
}

func (c *Conversation) ClearSelection() {
	clear(c.selected)
}

// DeleteSelected removes the selection locally without waiting for the
// server.
func (c *Conversation) DeleteSelected() []Outbound {
	if c.Locked || len(c.selected) == 0 {
		return nil
	}
	ids := c.Selected()
	c.remove(ids)
	clear(c.selected)
	if len(ids) == 0 {
		return nil
	}
	return []Outbound{{
		Event:   models.EventChatDelete,
		Payload: models.ChatDelete{BookingID: c.BookingID, MessageIDs: ids},
	}}
}

// EditSelected begins editing when exactly one message is selected.
func (c *Conversation) EditSelected() bool {
	if c.Locked || len(c.selected) != 1 {
		return false
	}
	id := c.Selected()[0]
	i := c.indexOf(id)
	if i < 0 || c.Messages[i].SenderRole != c.Self {
		return false
	}
	c.Editing = &Edit{MessageID: id, OriginalText: c.Messages[i].Text}
	c.Input = c.Messages[i].Text
	clear(c.selected)
	return true
}

// SaveEdit applies newText to the message being edited. Unchanged or blank
// text just ends the edit.
func (c *Conversation) SaveEdit(newText string) []Outbound {
	if c.Editing == nil || c.Locked {
		return nil
	}
	edit := c.Editing
	newText = strings.TrimSpace(newText)
	if newText == "" || newText == edit.OriginalText {
		c.CancelEdit()
		return nil
	}
	if r := []rune(newText); len(r) > models.MaxMessageLength {
		newText = string(r[:models.MaxMessageLength])
	}

	c.Editing = nil
	c.Input = ""
	i := c.indexOf(edit.MessageID)
	if i < 0 {
		return nil
	}
	c.Messages[i].Text = newText
	c.Messages[i].Edited = true

	return []Outbound{{
		Event:   models.EventChatEdit,
		Payload: models.ChatEdit{BookingID: c.BookingID, MessageID: edit.MessageID, Text: newText},
	}}
}

func (c *Conversation) CancelEdit() {
	c.Editing = nil
	c.Input = ""
}

func (c *Conversation) ApplyRemoteDelete(d models.ChatDelete) {
	if d.BookingID != c.BookingID {
		return
	}
	c.remove(d.MessageIDs)
	for _, id := range d.MessageIDs {
		delete(c.selected, id)
	}
}

func (c *Conversation) ApplyRemoteEdit(e models.ChatEdit) {
	if e.BookingID != c.BookingID {
		return
	}
	if i := c.indexOf(e.MessageID); i >= 0 {
		c.Messages[i].Text = e.Text
		c.Messages[i].Edited = true
	}
}

// Closing returns the offline announcement sent before disconnecting.
func (c *Conversation) Closing() []Outbound {
	return []Outbound{{
		Event:   models.EventChatPresence,
		Payload: models.ChatPresence{BookingID: c.BookingID, Online: false},
	}}
}

func (c *Conversation) readReceipt() Outbound {
	return Outbound{Event: models.EventChatRead, Payload: models.ChatRead{BookingID: c.BookingID}}
}

func (c *Conversation) remove(ids []string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
		delete(c.seen, id)
		delete(c.pending, id)
	}
	kept := c.Messages[:0]
	for _, m := range c.Messages {
		if _, ok := drop[m.MessageID]; !ok {
			kept = append(kept, m)
		}
	}
	c.Messages = kept
}

func (c *Conversation) indexOf(messageID string) int {
	for i := range c.Messages {
		if c.Messages[i].MessageID == messageID {
			return i
		}
	}
	return -1
}

func (c *Conversation) isOwn(messageID string) bool {
	i := c.indexOf(messageID)
	return i >= 0 && c.Messages[i].SenderRole == c.Self
}
