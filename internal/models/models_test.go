package models_test

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"

	"omni/live/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChatHistoryBeforeCreate_GeneratesMessageID verifies that the hook assigns a UUID when the client sent none.
func TestChatHistoryBeforeCreate_GeneratesMessageID(t *testing.T) {
	// Arrange
	h := &models.ChatHistory{BookingID: "b1", SenderID: "u1", SenderRole: models.RoleWorker, Text: "on my way"}

	// Act
	err := h.BeforeCreate(nil) // nil *gorm.DB is acceptable for this hook

	// Assert
	assert.NoError(t, err)
	parsed, parseErr := uuid.Parse(h.MessageID)
	assert.NoError(t, parseErr, "MessageID must be a valid UUID string")
	assert.NotEqual(t, uuid.Nil, parsed)
}

// TestChatHistoryBeforeCreate_PreservesClientID verifies that a client-chosen id survives the hook.
func TestChatHistoryBeforeCreate_PreservesClientID(t *testing.T) {
	h := &models.ChatHistory{MessageID: "1700000000000-abc123"}

	err := h.BeforeCreate(nil)

	assert.NoError(t, err)
	assert.Equal(t, "1700000000000-abc123", h.MessageID)
}

// TestChatHistoryStructTags guards the indexes the relay relies on.
func TestChatHistoryStructTags(t *testing.T) {
	historyType := reflect.TypeOf(models.ChatHistory{})

	idField, found := historyType.FieldByName("MessageID")
	assert.True(t, found)
	assert.Contains(t, idField.Tag.Get("gorm"), "uniqueIndex", "MessageID must be unique")

	bookingField, found := historyType.FieldByName("BookingID")
	assert.True(t, found)
	assert.Contains(t, bookingField.Tag.Get("gorm"), "idx_booking_msg")
}

func TestChatHistoryToMessage(t *testing.T) {
	h := &models.ChatHistory{
		MessageID:  "m1",
		BookingID:  "b1",
		SenderName: "Asha",
		SenderRole: models.RoleCustomer,
		Text:       "hello",
		Edited:     true,
	}

	msg := h.ToMessage()

	assert.Equal(t, "m1", msg.MessageID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.True(t, msg.Edited)
	assert.Equal(t, models.RoleCustomer, msg.SenderRole)

	broadcast := h.ToChatMessage()
	assert.Equal(t, "b1", broadcast.BookingID)
	assert.Equal(t, msg.Timestamp, broadcast.Timestamp)
}

func TestBookingLocked(t *testing.T) {
	tests := []struct {
		status models.BookingStatus
		locked bool
	}{
		{models.BookingPending, false},
		{models.BookingAccepted, false},
		{models.BookingInProgress, false},
		{models.BookingCompleted, true},
		{models.BookingCancelled, true},
		{models.BookingNotProvided, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			b := &models.Booking{ID: "b1", Status: tt.status}
			assert.Equal(t, tt.locked, b.Locked())
		})
	}
}

func TestBookingExactLocation(t *testing.T) {
	lat, lng := 30.3165, 78.0322
	nan := math.NaN()

	p, ok := (&models.Booking{Lat: &lat, Lng: &lng}).ExactLocation()
	assert.True(t, ok)
	assert.Equal(t, models.GeoPoint{Lat: lat, Lng: lng}, p)

	_, ok = (&models.Booking{Lat: &lat}).ExactLocation()
	assert.False(t, ok, "missing longitude means no exact location")

	_, ok = (&models.Booking{Lat: &nan, Lng: &lng}).ExactLocation()
	assert.False(t, ok, "non-finite coordinates are treated as absent")
}

func TestGeoPointValid(t *testing.T) {
	assert.True(t, models.GeoPoint{Lat: 0, Lng: 0}.Valid())
	assert.False(t, models.GeoPoint{Lat: math.Inf(1), Lng: 0}.Valid())
	assert.False(t, models.GeoPoint{Lat: 1, Lng: math.NaN()}.Valid())
}

func TestNewEnvelope(t *testing.T) {
	env, err := models.NewEnvelope(models.EventChatDelete, models.ChatDelete{BookingID: "b1", MessageIDs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, "chat:delete", env.Event)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"chat:delete","data":{"bookingId":"b1","messageIds":["a","b"]}}`, string(raw))
}

func TestRoleValid(t *testing.T) {
	assert.True(t, models.RoleCustomer.Valid())
	assert.True(t, models.RoleWorker.Valid())
	assert.False(t, models.Role("broker").Valid())
}
