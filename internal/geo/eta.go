package geo

import (
	"fmt"
	"math"
	"time"
)

// BaseSpeedKmh is the assumed average urban driving speed used when no road
// route is known.
const BaseSpeedKmh = 30.0

// TrafficMultiplier models rush-hour congestion for the given hour of day.
func TrafficMultiplier(hour int) float64 {
	switch {
	case hour < 6:
		return 1.1
	case hour < 8:
		return 1.3
	case hour < 10:
		return 1.7
	case hour < 17:
		return 1.4
	case hour < 20:
		return 1.8
	case hour < 22:
		return 1.3
	default:
		return 1.2
	}
}

// FormatETAFromSeconds applies the traffic multiplier for now's hour to a raw
// travel time and renders it.
func FormatETAFromSeconds(now time.Time, rawSeconds float64) string {
	return FormatDuration(rawSeconds * TrafficMultiplier(now.Hour()))
}

// FormatETAFromDistance estimates travel time for km at BaseSpeedKmh and renders it.
func FormatETAFromDistance(now time.Time, km float64) string {
	return FormatETAFromSeconds(now, km/BaseSpeedKmh*3600)
}

// FormatDuration renders seconds rounded to the nearest minute:
// "< 1 min", "N min(s)", "N hr(s)" or "N hr M min".
func FormatDuration(seconds float64) string {
	mins := int(math.Round(seconds / 60))
	if mins < 1 {
		return "< 1 min"
	}
	if mins < 60 {
		return plural(mins, "min")
	}
	hrs, rem := mins/60, mins%60
	if rem == 0 {
		return plural(hrs, "hr")
	}
	return fmt.Sprintf("%d hr %d min", hrs, rem)
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
