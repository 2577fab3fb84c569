package storage

import (
	"context"
	"errors"
	"fmt"

	"omni/live/internal/models"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

func (s *Service) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking %s: %w", id, err)
	}
	return &b, nil
}

// SaveBooking inserts or updates b.
func (s *Service) SaveBooking(ctx context.Context, b *models.Booking) error {
	return s.DB.WithContext(ctx).Save(b).Error
}

// SaveMessage stores h; BeforeCreate assigns a MessageID when the client
// sent none, and CreatedAt becomes the authoritative timestamp.
func (s *Service) SaveMessage(ctx context.Context, h *models.ChatHistory) error {
	if err := s.DB.WithContext(ctx).Create(h).Error; err != nil {
		return fmt.Errorf("failed to save message for booking %s: %w", h.BookingID, err)
	}
	return nil
}

// GetChatHistory returns the conversation of a booking, oldest first.
func (s *Service) GetChatHistory(ctx context.Context, bookingID string) ([]models.ChatHistory, error) {
	var history []models.ChatHistory
	if err := s.DB.WithContext(ctx).Where("booking_id = ?", bookingID).Order("created_at asc").Find(&history).Error; err != nil {
		return nil, fmt.Errorf("failed to get chat history for booking %s: %w", bookingID, err)
	}
	return history, nil
}

// EditMessage replaces the text of a message written by senderID. It
// reports whether such a message existed.
func (s *Service) EditMessage(ctx context.Context, bookingID, messageID, senderID, text string) (bool, error) {
	result := s.DB.WithContext(ctx).Model(&models.ChatHistory{}).
		Where("booking_id = ? AND message_id = ? AND sender_id = ?", bookingID, messageID, senderID).
		Updates(map[string]interface{}{"text": text, "edited": true})
	if result.Error != nil {
		return false, fmt.Errorf("failed to edit message %s: %w", messageID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeleteMessages removes the given messages of senderID and returns how
// many rows went away.
func (s *Service) DeleteMessages(ctx context.Context, bookingID, senderID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	result := s.DB.WithContext(ctx).
		Where("booking_id = ? AND sender_id = ? AND message_id = ANY(?)", bookingID, senderID, pq.Array(messageIDs)).
		Delete(&models.ChatHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete messages for booking %s: %w", bookingID, result.Error)
	}
	return result.RowsAffected, nil
}
