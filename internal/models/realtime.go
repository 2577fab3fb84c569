package models

import "encoding/json"

// Event names exchanged over the realtime channel.
const (
	EventJoinBooking    = "join:booking"
	EventChatSend       = "chat:send"
	EventChatMessage    = "chat:message"
	EventChatRead       = "chat:read"
	EventChatEdit       = "chat:edit"
	EventChatDelete     = "chat:delete"
	EventChatPresence   = "chat:presence"
	EventWorkerLocation = "worker:location"
)

// Envelope is a single frame on the realtime channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes payload as the data of a named event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// RoomEvent is an envelope addressed to every connection joined to a booking.
// The relay publishes these between instances.
type RoomEvent struct {
	BookingID string   `json:"bookingId"`
	Envelope  Envelope `json:"envelope"`
	// Origin is the relay instance that produced the event.
	Origin string `json:"origin,omitempty"`
	// Skip is the connection that caused the event and should not receive it.
	Skip string `json:"skip,omitempty"`
}

type JoinBooking struct {
	BookingID string `json:"bookingId"`
}

type ChatSend struct {
	BookingID   string `json:"bookingId"`
	Text        string `json:"text"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
}

// ChatMessage is the authoritative copy of a message broadcast by the server.
type ChatMessage struct {
	BookingID  string `json:"bookingId"`
	MessageID  string `json:"messageId"`
	SenderName string `json:"senderName"`
	SenderRole Role   `json:"senderRole"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
}

// ChatRead is sent without ReaderRole; the server fills it in on rebroadcast.
type ChatRead struct {
	BookingID  string `json:"bookingId"`
	ReaderRole Role   `json:"readerRole,omitempty"`
}

type ChatEdit struct {
	BookingID string `json:"bookingId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

type ChatDelete struct {
	BookingID  string   `json:"bookingId"`
	MessageIDs []string `json:"messageIds"`
}

// ChatPresence carries Role only on the way back from the server.
type ChatPresence struct {
	BookingID string `json:"bookingId"`
	Online    bool   `json:"online"`
	Role      Role   `json:"role,omitempty"`
}

type WorkerLocation struct {
	BookingID string  `json:"bookingId"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}
