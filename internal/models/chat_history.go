package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatHistory represents a saved chat message in the PostgreSQL database.
// The embedded gorm.Model provides the row ID and timestamps; MessageID is the
// identifier shared with clients.
type ChatHistory struct {
	gorm.Model

	// BookingID is the booking whose conversation the message belongs to.
	BookingID string `gorm:"type:text;not null;index:idx_booking_msg"`
	// MessageID is the client-chosen (or server-assigned) message identifier.
	MessageID string `gorm:"type:text;not null;uniqueIndex"`
	// SenderID is the subject of the sender's token.
	SenderID   string `gorm:"type:text;not null;index:idx_booking_msg"`
	SenderName string `gorm:"type:text"`
	SenderRole Role   `gorm:"type:text;not null"`
	Text       string `gorm:"type:text;not null"`
	Edited     bool
}

// BeforeCreate is a GORM hook that assigns a MessageID if the client did not pick one.
func (h *ChatHistory) BeforeCreate(tx *gorm.DB) (err error) {
	if h.MessageID == "" {
		h.MessageID = uuid.New().String()
	}
	return
}

// Timestamp formats the creation time the way clients expect it.
func (h *ChatHistory) Timestamp() string {
	return h.CreatedAt.UTC().Format(time.RFC3339Nano)
}

// ToMessage converts a stored row into a conversation entry with status sent.
func (h *ChatHistory) ToMessage() Message {
	return Message{
		MessageID:  h.MessageID,
		SenderName: h.SenderName,
		SenderRole: h.SenderRole,
		Text:       h.Text,
		Timestamp:  h.Timestamp(),
		Status:     StatusSent,
		Edited:     h.Edited,
	}
}

// ToChatMessage converts a stored row into the broadcast payload.
func (h *ChatHistory) ToChatMessage() ChatMessage {
	return ChatMessage{
		BookingID:  h.BookingID,
		MessageID:  h.MessageID,
		SenderName: h.SenderName,
		SenderRole: h.SenderRole,
		Text:       h.Text,
		Timestamp:  h.Timestamp(),
	}
}
