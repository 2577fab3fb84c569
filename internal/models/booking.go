package models

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending     BookingStatus = "pending"
	BookingAccepted    BookingStatus = "accepted"
	BookingInProgress  BookingStatus = "in-progress"
	BookingCompleted   BookingStatus = "completed"
	BookingCancelled   BookingStatus = "cancelled"
	BookingNotProvided BookingStatus = "not-provided"
)

// Booking links a customer and a worker for one service visit.
// Its ID scopes both the conversation and live tracking.
type Booking struct {
	// ID is the booking identifier.
	ID string `gorm:"primaryKey" json:"id"`
	// Status decides whether the conversation still accepts changes.
	Status BookingStatus `gorm:"type:text;not null;default:pending" json:"status"`
	// Location is the free-text service address entered by the customer.
	Location string `gorm:"type:text" json:"location,omitempty"`
	// Lat and Lng are the exact service coordinates, when the customer shared them.
	Lat *float64 `json:"lat,omitempty"`
	Lng *float64 `json:"lng,omitempty"`

	CustomerID   string `gorm:"type:text;index" json:"customerId,omitempty"`
	CustomerName string `gorm:"type:text" json:"customerName,omitempty"`
	WorkerID     string `gorm:"type:text;index" json:"workerId,omitempty"`
	WorkerName   string `gorm:"type:text" json:"workerName,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Locked reports whether the booking is finished and its chat is read-only.
func (b *Booking) Locked() bool {
	switch b.Status {
	case BookingCompleted, BookingCancelled, BookingNotProvided:
		return true
	}
	return false
}

// ExactLocation returns the booking coordinates when both are present and finite.
func (b *Booking) ExactLocation() (GeoPoint, bool) {
	if b.Lat == nil || b.Lng == nil {
		return GeoPoint{}, false
	}
	p := GeoPoint{Lat: *b.Lat, Lng: *b.Lng}
	return p, p.Valid()
}

// HasParticipant reports whether userID is the booking's customer or worker.
func (b *Booking) HasParticipant(userID string) bool {
	return userID != "" && (b.CustomerID == userID || b.WorkerID == userID)
}
