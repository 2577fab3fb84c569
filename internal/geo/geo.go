// Package geo holds the pure distance and ETA helpers shared by geocoding
// and live tracking.
package geo

import (
	"math"

	"omni/live/internal/models"
)

const (
	// EarthRadiusKm is the mean Earth radius used by the haversine formula.
	EarthRadiusKm = 6371.0
	// MetersPerDegree is the length of one degree of latitude.
	MetersPerDegree = 111320.0
)

// DistanceKm returns the great-circle distance between a and b in kilometers.
func DistanceKm(a, b models.GeoPoint) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// DistanceMeters is DistanceKm scaled to meters.
func DistanceMeters(a, b models.GeoPoint) float64 {
	return DistanceKm(a, b) * 1000
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
