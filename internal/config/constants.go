package config

import "time"

const (
	// Geocoding
	GeocodeQueryTimeout    = 6 * time.Second
	GeocodeMaxRadiusMeters = 50000.0
	GeocodeMinRadiusMeters = 200.0

	// Routing
	RouteFetchTimeout = 8 * time.Second
	RouteMinInterval  = 5 * time.Second

	// Realtime
	RealtimeDialTimeout   = 15 * time.Second
	ReconnectInitialDelay = 1 * time.Second
	ReconnectMaxDelay     = 5 * time.Second

	// Tracking
	BroadcastInterval      = 1 * time.Second
	MinBroadcastMoveMeters = 10.0

	// Notices
	NoticeTTL = 5 * time.Second

	// Relay
	TokenTTL = 72 * time.Hour
)
