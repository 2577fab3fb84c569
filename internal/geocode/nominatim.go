package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"omni/live/internal/models"

	"github.com/sirupsen/logrus"
)

// Place is a single match returned by the place-search service.
type Place struct {
	Point       models.GeoPoint
	DisplayName string
	// BoundingBox is [south, north, west, east].
	BoundingBox [4]float64
	HasBounds   bool
	Address     map[string]string
}

// Searcher is the external place-search service.
type Searcher interface {
	// Search returns the best match for query, or nil if nothing matched.
	Search(ctx context.Context, query string) (*Place, error)
	// Reverse returns the address at p, or nil if nothing is there.
	Reverse(ctx context.Context, p models.GeoPoint) (*Place, error)
}

// NominatimClient talks to a Nominatim-compatible place-search API.
type NominatimClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
	logger    *logrus.Logger
}

// nominatimPlace is the wire shape; Nominatim encodes numbers as strings.
type nominatimPlace struct {
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	DisplayName string            `json:"display_name"`
	BoundingBox []string          `json:"boundingbox"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error,omitempty"`
}

func NewNominatimClient(baseURL, userAgent string, httpClient *http.Client, logger *logrus.Logger) *NominatimClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &NominatimClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
		client:    httpClient,
		logger:    logger,
	}
}

func (c *NominatimClient) Search(ctx context.Context, query string) (*Place, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("addressdetails", "1")
	params.Set("q", query)

	var places []nominatimPlace
	if err := c.get(ctx, "/search?"+params.Encode(), &places); err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return nil, nil
	}
	return places[0].toPlace()
}

func (c *NominatimClient) Reverse(ctx context.Context, p models.GeoPoint) (*Place, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("addressdetails", "1")
	params.Set("lat", strconv.FormatFloat(p.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(p.Lng, 'f', -1, 64))

	var place nominatimPlace
	if err := c.get(ctx, "/reverse?"+params.Encode(), &place); err != nil {
		return nil, err
	}
	if place.Error != "" || place.Lat == "" {
		return nil, nil
	}
	return place.toPlace()
}

func (c *NominatimClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.WithField("path", path).Debug("Querying place search")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("place search error: status %d, body: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (p nominatimPlace) toPlace() (*Place, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q: %w", p.Lat, err)
	}
	lng, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q: %w", p.Lon, err)
	}
	place := &Place{
		Point:       models.GeoPoint{Lat: lat, Lng: lng},
		DisplayName: p.DisplayName,
		Address:     p.Address,
	}
	if len(p.BoundingBox) == 4 {
		place.HasBounds = true
		for i, s := range p.BoundingBox {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				place.HasBounds = false
				break
			}
			place.BoundingBox[i] = v
		}
	}
	return place, nil
}
