package handler

import (
	"errors"
	"net/http"

	"omni/live/internal/models"
	"omni/live/internal/storage"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetBooking(c *gin.Context) {
	b, ok := h.participantBooking(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, b)
}

// GetChatHistory returns the stored conversation, oldest first.
func (h *Handler) GetChatHistory(c *gin.Context) {
	b, ok := h.participantBooking(c)
	if !ok {
		return
	}
	rows, err := h.Storage.GetChatHistory(c.Request.Context(), b.ID)
	if err != nil {
		h.logger.WithError(err).WithField("booking", b.ID).Error("Failed to load chat history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load chat history"})
		return
	}

	messages := make([]models.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].ToMessage())
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// participantBooking loads the :id booking and writes the error response
// itself when the caller may not see it.
func (h *Handler) participantBooking(c *gin.Context) (*models.Booking, bool) {
	b, err := h.Storage.GetBooking(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, storage.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Booking not found"})
		return nil, false
	case err != nil:
		h.logger.WithError(err).Error("Failed to load booking")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load booking"})
		return nil, false
	}
	if !b.HasParticipant(identity(c).Subject) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this booking"})
		return nil, false
	}
	return b, true
}
