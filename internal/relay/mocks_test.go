package relay_test

import (
	"context"
	"sync/atomic"

	"omni/live/internal/auth"
	"omni/live/internal/models"

	"github.com/stretchr/testify/mock"
)

// MockStorage is a testify mock of storage.Storage.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockStorage) SaveBooking(ctx context.Context, b *models.Booking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockStorage) SaveMessage(ctx context.Context, h *models.ChatHistory) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *MockStorage) GetChatHistory(ctx context.Context, bookingID string) ([]models.ChatHistory, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatHistory), args.Error(1)
}

func (m *MockStorage) EditMessage(ctx context.Context, bookingID, messageID, senderID, text string) (bool, error) {
	args := m.Called(ctx, bookingID, messageID, senderID, text)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) DeleteMessages(ctx context.Context, bookingID, senderID string, messageIDs []string) (int64, error) {
	args := m.Called(ctx, bookingID, senderID, messageIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) PublishEvent(ctx context.Context, ev models.RoomEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockStorage) SubscribeEvents(ctx context.Context) (<-chan models.RoomEvent, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan models.RoomEvent), args.Error(1)
}

func (m *MockStorage) SetPresence(ctx context.Context, bookingID string, role models.Role, online bool) error {
	args := m.Called(ctx, bookingID, role, online)
	return args.Error(0)
}

func (m *MockStorage) OnlineRoles(ctx context.Context, bookingID string) ([]models.Role, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Role), args.Error(1)
}

// MockClient records what the hub sends it.
type MockClient struct {
	id          string
	identity    auth.Identity
	bookingID   string
	RecvChannel chan models.Envelope
	closed      atomic.Bool
}

func newMockClient(id string, identity auth.Identity) *MockClient {
	return newMockClientBuf(id, identity, 10)
}

func newMockClientBuf(id string, identity auth.Identity, buf int) *MockClient {
	return &MockClient{
		id:          id,
		identity:    identity,
		RecvChannel: make(chan models.Envelope, buf),
	}
}

func (c *MockClient) ID() string                          { return c.id }
func (c *MockClient) Identity() auth.Identity             { return c.identity }
func (c *MockClient) BookingID() string                   { return c.bookingID }
func (c *MockClient) SetBookingID(id string)              { c.bookingID = id }
func (c *MockClient) SendChannel() chan<- models.Envelope { return c.RecvChannel }
func (c *MockClient) Run()                                {}
func (c *MockClient) Close()                              { c.closed.Store(true) }
func (c *MockClient) Closed() bool                        { return c.closed.Load() }
