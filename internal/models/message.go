package models

// Role identifies which side of a booking a participant is on.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleWorker   Role = "worker"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleWorker
}

// MessageStatus tracks the delivery state of a message from the sender's point of view.
type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusRead    MessageStatus = "read"
)

// MaxMessageLength is the longest text a single chat message may carry.
const MaxMessageLength = 1000

// Message is one entry of a booking conversation.
type Message struct {
	MessageID  string        `json:"messageId"`
	SenderName string        `json:"senderName"`
	SenderRole Role          `json:"senderRole"`
	Text       string        `json:"text"`
	Timestamp  string        `json:"timestamp"`
	Status     MessageStatus `json:"status,omitempty"`
	Edited     bool          `json:"edited,omitempty"`
}

// ToMessage converts a server broadcast into a conversation entry.
func (m ChatMessage) ToMessage(status MessageStatus) Message {
	return Message{
		MessageID:  m.MessageID,
		SenderName: m.SenderName,
		SenderRole: m.SenderRole,
		Text:       m.Text,
		Timestamp:  m.Timestamp,
		Status:     status,
	}
}
