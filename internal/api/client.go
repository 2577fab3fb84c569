// Package api is the client for the booking REST endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"omni/live/internal/models"

	"github.com/sirupsen/logrus"
)

var (
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrNotFound     = errors.New("api: not found")
)

type Client struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

type historyResponse struct {
	Messages []models.Message `json:"messages"`
}

// NewClient builds a client for baseURL. Pass an http.Client whose
// transport is an apicache.Transport to cache lookups.
func NewClient(baseURL string, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
		logger:  logger,
	}
}

// Booking fetches one booking.
func (c *Client) Booking(ctx context.Context, token, id string) (*models.Booking, error) {
	var b models.Booking
	if err := c.get(ctx, token, "/bookings/"+url.PathEscape(id), false, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ChatHistory fetches the stored conversation of a booking. It always goes
// to the server.
func (c *Client) ChatHistory(ctx context.Context, token, bookingID string) ([]models.Message, error) {
	var resp historyResponse
	if err := c.get(ctx, token, "/bookings/"+url.PathEscape(bookingID)+"/chat", true, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) get(ctx context.Context, token, path string, fresh bool, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if fresh {
		req.Header.Set("Cache-Control", "no-cache")
	}

	c.logger.WithField("path", path).Debug("API request")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("api error: status %d, body: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
