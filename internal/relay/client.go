// Package relay routes realtime events between the participants of a booking.
package relay

import (
	"omni/live/internal/auth"
	"omni/live/internal/models"
)

// Client is one realtime connection as the hub sees it.
type Client interface {
	// ID identifies the connection, not the user: a user may hold several.
	ID() string
	Identity() auth.Identity

	// BookingID is the room the connection joined, or "".
	BookingID() string
	// SetBookingID is called by the hub only.
	SetBookingID(string)

	// SendChannel receives envelopes the hub addresses to this connection.
	SendChannel() chan<- models.Envelope

	// Run starts the read and write pumps.
	Run()
	// Close stops the connection. The hub calls it exactly once.
	Close()
}

// Inbound is an envelope read from a client.
type Inbound struct {
	Client   Client
	Envelope models.Envelope
}
