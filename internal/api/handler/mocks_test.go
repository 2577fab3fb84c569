package handler_test

import (
	"context"

	"omni/live/internal/models"

	"github.com/stretchr/testify/mock"
)

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
	return m.Called(ctx, b).Error(0)
}

func (m *MockStorage) SaveMessage(ctx context.Context, h *models.ChatHistory) error {
	return m.Called(ctx, h).Error(0)
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
	return m.Called(ctx, ev).Error(0)
}

func (m *MockStorage) SubscribeEvents(ctx context.Context) (<-chan models.RoomEvent, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan models.RoomEvent), args.Error(1)
}

func (m *MockStorage) SetPresence(ctx context.Context, bookingID string, role models.Role, online bool) error {
	return m.Called(ctx, bookingID, role, online).Error(0)
}

func (m *MockStorage) OnlineRoles(ctx context.Context, bookingID string) ([]models.Role, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Role), args.Error(1)
}
