package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"omni/live/internal/api"
	"omni/live/internal/apicache"
	"omni/live/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient(t *testing.T) {
	var chatHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/bookings/b1":
			w.Write([]byte(`{"id":"b1","status":"completed","location":"Green Park","lat":30.1,"lng":78.2}`))
		case "/bookings/b1/chat":
			chatHits.Add(1)
			w.Write([]byte(`{"messages":[{"messageId":"m1","senderName":"Ravi","senderRole":"worker","text":"done","timestamp":"2026-03-01T10:00:00Z"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cache := apicache.New(nil, time.Minute, nil, nil)
	client := api.NewClient(server.URL, &http.Client{Transport: cache}, nil)
	ctx := context.Background()

	b, err := client.Booking(ctx, "tok", "b1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, b.Status)
	assert.True(t, b.Locked())
	p, ok := b.ExactLocation()
	assert.True(t, ok)
	assert.Equal(t, models.GeoPoint{Lat: 30.1, Lng: 78.2}, p)
	assert.Equal(t, 1, cache.Len(), "booking lookups are cacheable")

	for i := 0; i < 2; i++ {
		msgs, err := client.ChatHistory(ctx, "tok", "b1")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, models.RoleWorker, msgs[0].SenderRole)
	}
	assert.Equal(t, int32(2), chatHits.Load(), "history bypasses the cache")

	_, err = client.Booking(ctx, "bad", "b1")
	assert.ErrorIs(t, err, api.ErrUnauthorized)

	_, err = client.Booking(ctx, "tok", "nope")
	assert.ErrorIs(t, err, api.ErrNotFound)
}
