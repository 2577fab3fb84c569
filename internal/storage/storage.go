// Package storage persists bookings and chat history for the relay and
// fans room events out between relay instances.
package storage

import (
	"context"
	"errors"

	"omni/live/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var ErrBookingNotFound = errors.New("storage: booking not found")

type Storage interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	SaveBooking(ctx context.Context, b *models.Booking) error

	SaveMessage(ctx context.Context, h *models.ChatHistory) error
	GetChatHistory(ctx context.Context, bookingID string) ([]models.ChatHistory, error)
	EditMessage(ctx context.Context, bookingID, messageID, senderID, text string) (bool, error)
	DeleteMessages(ctx context.Context, bookingID, senderID string, messageIDs []string) (int64, error)

	PublishEvent(ctx context.Context, ev models.RoomEvent) error
	SubscribeEvents(ctx context.Context) (<-chan models.RoomEvent, error)
	SetPresence(ctx context.Context, bookingID string, role models.Role, online bool) error
	OnlineRoles(ctx context.Context, bookingID string) ([]models.Role, error)
}

// Service is the Postgres + Redis implementation. Redis may be nil for a
// single relay instance; events then stay local and presence is not kept.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// Migrate creates or updates the relay tables.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(&models.Booking{}, &models.ChatHistory{})
}
