package tracking

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"omni/live/internal/models"
)

var (
	ErrPermissionDenied    = errors.New("tracking: location permission denied")
	ErrUnsupported         = errors.New("tracking: location not supported")
	ErrPositionUnavailable = errors.New("tracking: position unavailable")
)

// PositionSource delivers device position fixes until stopped. Errors do not
// end the watch; the source keeps trying.
type PositionSource interface {
	Watch(onFix func(models.GeoPoint), onErr func(error)) (stop func())
}

// StaticSource reports one fixed position.
type StaticSource struct {
	Point models.GeoPoint
}

func (s StaticSource) Watch(onFix func(models.GeoPoint), onErr func(error)) func() {
	go onFix(s.Point)
	return func() {}
}

// LineSource reads "lat,lng" lines, one fix per line. Lines that do not
// parse are reported as ErrPositionUnavailable.
type LineSource struct {
	R io.Reader
}

func (s LineSource) Watch(onFix func(models.GeoPoint), onErr func(error)) func() {
	var (
		mu      sync.Mutex
		stopped bool
	)
	active := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !stopped
	}

	go func() {
		scanner := bufio.NewScanner(s.R)
		for scanner.Scan() && active() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			p, err := ParsePoint(line)
			if err != nil {
				onErr(fmt.Errorf("%w: %v", ErrPositionUnavailable, err))
				continue
			}
			onFix(p)
		}
		if err := scanner.Err(); err != nil && active() {
			onErr(fmt.Errorf("%w: %v", ErrPositionUnavailable, err))
		}
	}()

	return func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
	}
}

// ParsePoint parses "lat,lng".
func ParsePoint(s string) (models.GeoPoint, error) {
	latStr, lngStr, ok := strings.Cut(s, ",")
	if !ok {
		return models.GeoPoint{}, fmt.Errorf("expected lat,lng but got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("invalid latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return models.GeoPoint{}, fmt.Errorf("invalid longitude: %w", err)
	}
	return models.GeoPoint{Lat: lat, Lng: lng}, nil
}
