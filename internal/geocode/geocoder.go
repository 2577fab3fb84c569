// Package geocode resolves free-text service addresses to an approximate
// position and turns coordinates back into addresses.
package geocode

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"omni/live/internal/config"
	"omni/live/internal/geo"
	"omni/live/internal/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Result is an approximate position: a center and how far the true address
// may be from it.
type Result struct {
	Center       models.GeoPoint
	RadiusMeters float64
	DisplayName  string
	// Query is the address fragment that produced the result.
	Query string
}

// Geocoder memoizes lookups for the lifetime of the owning session,
// failures included.
type Geocoder struct {
	searcher     Searcher
	queryTimeout time.Duration
	maxRadius    float64
	logger       *logrus.Logger

	mu    sync.Mutex
	cache map[string]*Result
	group singleflight.Group
}

func New(searcher Searcher, logger *logrus.Logger) *Geocoder {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Geocoder{
		searcher:     searcher,
		queryTimeout: config.GeocodeQueryTimeout,
		maxRadius:    config.GeocodeMaxRadiusMeters,
		logger:       logger,
		cache:        make(map[string]*Result),
	}
}

// Geocode resolves text, or returns nil when no sufficiently precise match
// exists. It never fails; sub-query errors only remove that candidate.
//
// Callers sharing a key share one resolution. A caller whose ctx is
// cancelled returns nil at once; the resolution carries on for the others
// and only its own outcome is cached.
func (g *Geocoder) Geocode(ctx context.Context, text string) *Result {
	key := normalize(text)
	if key == "" {
		return nil
	}

	g.mu.Lock()
	if res, ok := g.cache[key]; ok {
		g.mu.Unlock()
		return res
	}
	g.mu.Unlock()

	shared := context.WithoutCancel(ctx)
	ch := g.group.DoChan(key, func() (any, error) {
		res := g.resolve(shared, text)
		g.mu.Lock()
		g.cache[key] = res
		g.mu.Unlock()
		return res, nil
	})

	select {
	case r := <-ch:
		return r.Val.(*Result)
	case <-ctx.Done():
		return nil
	}
}

// Cached reports whether text already has a memoized outcome.
func (g *Geocoder) Cached(text string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.cache[normalize(text)]
	return ok
}

// Reverse looks up the address at p.
func (g *Geocoder) Reverse(ctx context.Context, p models.GeoPoint) (*Place, error) {
	ctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()
	return g.searcher.Reverse(ctx, p)
}

// resolve fires every query concurrently, waits for all of them and keeps
// the most specific acceptable answer.
func (g *Geocoder) resolve(ctx context.Context, text string) *Result {
	queries := Queries(text)
	results := make([]*Result, len(queries))

	var eg errgroup.Group
	for i, q := range queries {
		eg.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
			defer cancel()

			place, err := g.searcher.Search(qctx, q)
			if err != nil {
				g.logger.WithError(err).WithField("query", q).Debug("Geocode query failed")
				return nil
			}
			if place == nil || !place.Point.Valid() {
				return nil
			}
			radius := RadiusMeters(place)
			if radius >= g.maxRadius {
				g.logger.WithFields(logrus.Fields{"query": q, "radius": radius}).Debug("Geocode match too imprecise")
				return nil
			}
			results[i] = &Result{
				Center:       place.Point,
				RadiusMeters: radius,
				DisplayName:  place.DisplayName,
				Query:        q,
			}
			return nil
		})
	}
	_ = eg.Wait()

	for _, res := range results {
		if res != nil {
			return res
		}
	}
	return nil
}

// Queries splits text on commas and returns the progressively shorter
// suffixes, most specific first.
func Queries(text string) []string {
	var segments []string
	for _, s := range strings.Split(text, ",") {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	queries := make([]string, 0, len(segments))
	for drop := range segments {
		queries = append(queries, strings.Join(segments[drop:], ", "))
	}
	return queries
}

// RadiusMeters estimates how imprecise a match is from half the diagonal of
// its bounding box, never less than GeocodeMinRadiusMeters.
func RadiusMeters(p *Place) float64 {
	if !p.HasBounds {
		return config.GeocodeMinRadiusMeters
	}
	south, north, west, east := p.BoundingBox[0], p.BoundingBox[1], p.BoundingBox[2], p.BoundingBox[3]
	midLat := (south + north) / 2
	latMeters := math.Abs(north-south) * geo.MetersPerDegree
	lngMeters := math.Abs(east-west) * geo.MetersPerDegree * math.Cos(midLat*math.Pi/180)
	return math.Max(math.Hypot(latMeters, lngMeters)/2, config.GeocodeMinRadiusMeters)
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
