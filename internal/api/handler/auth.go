package handler

import (
	"net/http"
	"strings"
	"time"

	"omni/live/internal/auth"
	"omni/live/internal/config"
	"omni/live/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const identityKey = "identity"

// IssueToken signs a development token for the role, name and subject
// given in the query. A missing subject gets a fresh UUID.
func (h *Handler) IssueToken(c *gin.Context) {
	role := models.Role(c.Query("role"))
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be customer or worker"})
		return
	}
	subject := c.Query("sub")
	if subject == "" {
		subject = uuid.NewString()
	}

	ttl := h.TokenTTL
	if ttl <= 0 {
		ttl = config.TokenTTL
	}
	token, err := auth.Issue(h.Secret, auth.Identity{Subject: subject, Name: c.Query("name"), Role: role}, ttl, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "subject": subject})
}

// RequireToken accepts a bearer header or, for browsers opening a
// websocket, a token query parameter.
func (h *Handler) RequireToken(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
		return
	}
	id, err := auth.Verify(h.Secret, token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}
	c.Set(identityKey, *id)
	c.Next()
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if t, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return c.Query("token")
}

func identity(c *gin.Context) auth.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(auth.Identity)
	return id
}
