// Package route fetches driving routes from an OSRM-compatible router.
package route

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"omni/live/internal/config"
	"omni/live/internal/models"

	"github.com/sirupsen/logrus"
)

// Route is a driving path between two points.
type Route struct {
	Coords          []models.GeoPoint
	DurationSeconds float64
	DistanceMeters  float64
}

// Fetcher is what tracking needs from a router.
type Fetcher interface {
	Fetch(ctx context.Context, from, to models.GeoPoint) (*Route, error)
}

type Client struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *logrus.Logger
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
		Geometry struct {
			// Coordinates are [lng, lat] pairs.
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

func NewClient(baseURL string, httpClient *http.Client, logger *logrus.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
		timeout: config.RouteFetchTimeout,
		logger:  logger,
	}
}

// Fetch returns the driving route from one point to another, or nil when
// the router has no usable route. ctx without a deadline gets the default
// fetch timeout.
func (c *Client) Fetch(ctx context.Context, from, to models.GeoPoint) (*Route, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=full&geometries=geojson",
		c.baseURL, from.Lng, from.Lat, to.Lng, to.Lat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("router error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Routes) == 0 {
		c.logger.WithField("code", out.Code).Debug("Router returned no routes")
		return nil, nil
	}

	first := out.Routes[0]
	coords := make([]models.GeoPoint, 0, len(first.Geometry.Coordinates))
	for _, pair := range first.Geometry.Coordinates {
		if len(pair) < 2 {
			continue
		}
		coords = append(coords, models.GeoPoint{Lat: pair[1], Lng: pair[0]})
	}
	if len(coords) < 2 {
		return nil, nil
	}

	return &Route{
		Coords:          coords,
		DurationSeconds: first.Duration,
		DistanceMeters:  first.Distance,
	}, nil
}
