// Package tracking follows the worker's position toward a booking's service
// address and optionally broadcasts it to the customer.
package tracking

import (
	"context"
	"errors"
	"slices"
	"sync"

	"omni/live/internal/clock"
	"omni/live/internal/config"
	"omni/live/internal/geo"
	"omni/live/internal/geocode"
	"omni/live/internal/localization"
	"omni/live/internal/models"
	"omni/live/internal/route"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	ErrNoBooking          = errors.New("tracking: booking required")
	ErrSharingUnavailable = errors.New("tracking: sharing needs a token and a booking")
)

// Geocoder resolves the free-text service address.
type Geocoder interface {
	Geocode(ctx context.Context, text string) *geocode.Result
}

// Broadcaster is the realtime channel used while sharing.
// *realtime.Conn satisfies it.
type Broadcaster interface {
	OnConnect(fn func())
	Emit(event string, payload any)
	Connected() bool
	Start()
	Close()
}

type Options struct {
	Geocoder Geocoder
	Router   route.Fetcher
	Source   PositionSource
	Dial     func(token string) Broadcaster
	Clock    clock.Clock
	Logger   *logrus.Logger
	Notices  *localization.Localizer
	Language string
}

// Counterpart is where the worker is headed. Approximate positions carry
// the radius within which the real address lies.
type Counterpart struct {
	Point        models.GeoPoint
	Exact        bool
	RadiusMeters float64
	Label        string
}

// View is a copy of the session state for display.
type View struct {
	Worker      *models.GeoPoint
	Counterpart *Counterpart
	Route       []models.GeoPoint
	DistanceKm  float64
	ETA         string
	// RoadRoute is set once a driving route replaced the straight-line estimate.
	RoadRoute bool
	Watching  bool
	Sharing   bool
	Error     string
	Notice    string
}

// Session is one worker's tracking view for one booking. The view can be
// closed while sharing continues; teardown then waits for StopSharing.
type Session struct {
	geocoder Geocoder
	router   route.Fetcher
	source   PositionSource
	dial     func(token string) Broadcaster
	clock    clock.Clock
	logger   *logrus.Logger
	notices  *localization.Localizer
	language string

	mu       sync.Mutex
	booking  *models.Booking
	token    string
	viewOpen bool
	openGen  uint64
	cancelGC context.CancelFunc

	watching  bool
	watchGen  uint64
	stopWatch func()
	worker    *models.GeoPoint
	gpsError  *localization.Notice

	counterpart *Counterpart
	limiter     *rate.Limiter
	route       *route.Route
	routeGen    uint64
	routeCancel context.CancelFunc

	sharing     bool
	shareGen    uint64
	broadcaster Broadcaster
	ticker      *clock.Timer
	lastEmitted *models.GeoPoint

	notice *localization.Notice
}

func NewSession(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}
	if opts.Notices == nil {
		opts.Notices = localization.Default()
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	return &Session{
		geocoder: opts.Geocoder,
		router:   opts.Router,
		source:   opts.Source,
		dial:     opts.Dial,
		clock:    opts.Clock,
		logger:   opts.Logger,
		notices:  opts.Notices,
		language: opts.Language,
	}
}

// Open shows the tracking view for booking: it starts the position watch
// and resolves where the worker is headed.
func (s *Session) Open(booking *models.Booking, token string) error {
	if booking == nil || booking.ID == "" {
		return ErrNoBooking
	}

	s.mu.Lock()
	if s.sharing && s.booking != nil && s.booking.ID != booking.ID {
		s.mu.Unlock()
		s.Shutdown()
		s.mu.Lock()
	}

	s.resetViewLocked()
	s.booking = booking
	s.token = token
	s.viewOpen = true
	s.openGen++
	s.limiter = rate.NewLimiter(rate.Every(config.RouteMinInterval), 1)

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"sharing":    s.sharing,
	}).Info("Opening tracking view")

	startWatch := !s.watching && s.source != nil
	if startWatch {
		s.watching = true
		s.watchGen++
	}
	watchGen := s.watchGen
	s.resolveCounterpartLocked()
	s.mu.Unlock()

	if startWatch {
		stop := s.source.Watch(
			func(p models.GeoPoint) { s.onFix(watchGen, p) },
			func(err error) { s.onWatchError(watchGen, err) },
		)
		s.mu.Lock()
		if s.watchGen == watchGen {
			s.stopWatch = stop
			stop = nil
		}
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
	}
	return nil
}

// resolveCounterpartLocked uses the exact booking coordinates when present
// and otherwise geocodes the address in the background.
func (s *Session) resolveCounterpartLocked() {
	if p, ok := s.booking.ExactLocation(); ok {
		s.counterpart = &Counterpart{Point: p, Exact: true, Label: s.booking.Location}
		s.recomputeRouteLocked()
		return
	}
	if s.booking.Location == "" || s.geocoder == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelGC = cancel
	gen, text := s.openGen, s.booking.Location
	go func() {
		defer cancel()
		res := s.geocoder.Geocode(ctx, text)

		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.openGen {
			return
		}
		if res == nil {
			s.logger.WithField("location", text).Info("Service address could not be located")
			s.notice = s.notices.Notice(s.language, localization.KeyLocationNotFound, s.clock.Now(), config.NoticeTTL)
			return
		}
		s.counterpart = &Counterpart{Point: res.Center, RadiusMeters: res.RadiusMeters, Label: res.DisplayName}
		s.recomputeRouteLocked()
	}()
}

func (s *Session) onFix(gen uint64, p models.GeoPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.watchGen || !s.watching {
		return
	}
	if !p.Valid() {
		s.worker = nil
		s.clearRouteLocked()
		return
	}
	s.worker = &p
	s.gpsError = nil
	s.recomputeRouteLocked()
}

func (s *Session) onWatchError(gen uint64, err error) {
	key := localization.KeyGPSUnavailable
	switch {
	case errors.Is(err, ErrPermissionDenied):
		key = localization.KeyGPSDenied
	case errors.Is(err, ErrUnsupported):
		key = localization.KeyGPSUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.watchGen || !s.watching {
		return
	}
	s.logger.WithError(err).Debug("Position watch error")
	s.gpsError = s.notices.Notice(s.language, key, s.clock.Now(), 0)
}

// recomputeRouteLocked starts a route fetch when both ends are known and the
// throttle allows it, superseding any fetch still in flight.
func (s *Session) recomputeRouteLocked() {
	if s.worker == nil || s.counterpart == nil || s.router == nil || s.limiter == nil {
		return
	}
	if !s.limiter.AllowN(s.clock.Now(), 1) {
		return
	}
	if s.routeCancel != nil {
		s.routeCancel()
	}
	s.routeGen++
	gen := s.routeGen
	ctx, cancel := context.WithTimeout(context.Background(), config.RouteFetchTimeout)
	s.routeCancel = cancel
	from, to := *s.worker, s.counterpart.Point

	go func() {
		defer cancel()
		r, err := s.router.Fetch(ctx, from, to)

		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.routeGen {
			return
		}
		s.routeCancel = nil
		if err != nil {
			s.logger.WithError(err).Debug("Route fetch failed")
			return
		}
		if r != nil {
			s.route = r
		}
	}()
}

func (s *Session) clearRouteLocked() {
	if s.routeCancel != nil {
		s.routeCancel()
		s.routeCancel = nil
	}
	s.routeGen++
	s.route = nil
}

// StartSharing broadcasts the worker's position to the booking room once
// per BroadcastInterval until StopSharing.
func (s *Session) StartSharing() error {
	s.mu.Lock()
	if s.sharing {
		s.mu.Unlock()
		return nil
	}
	var b Broadcaster
	if s.token != "" && s.booking != nil && s.dial != nil {
		b = s.dial(s.token)
	}
	if b == nil {
		s.notice = s.notices.Notice(s.language, localization.KeySharingUnavailable, s.clock.Now(), config.NoticeTTL)
		s.mu.Unlock()
		return ErrSharingUnavailable
	}
	bookingID := s.booking.ID
	s.sharing = true
	s.shareGen++
	s.broadcaster = b
	s.lastEmitted = nil
	gen := s.shareGen
	s.mu.Unlock()

	s.logger.WithField("booking_id", bookingID).Info("Location sharing started")

	b.OnConnect(func() {
		b.Emit(models.EventJoinBooking, models.JoinBooking{BookingID: bookingID})
	})
	b.Start()

	s.mu.Lock()
	if s.shareGen == gen {
		s.scheduleTickLocked(gen)
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) scheduleTickLocked(gen uint64) {
	s.ticker = s.clock.AfterFunc(config.BroadcastInterval, func() { s.tick(gen) })
}

func (s *Session) tick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sharing || gen != s.shareGen {
		return
	}
	s.broadcastLocked()
	s.scheduleTickLocked(gen)
}

// broadcastLocked emits the current fix unless it is within
// MinBroadcastMoveMeters of the last one emitted.
func (s *Session) broadcastLocked() {
	if s.worker == nil || s.broadcaster == nil || !s.broadcaster.Connected() {
		return
	}
	p := *s.worker
	if s.lastEmitted != nil && geo.DistanceMeters(*s.lastEmitted, p) < config.MinBroadcastMoveMeters {
		return
	}
	s.broadcaster.Emit(models.EventWorkerLocation, models.WorkerLocation{
		BookingID: s.booking.ID,
		Lat:       p.Lat,
		Lng:       p.Lng,
	})
	s.lastEmitted = &p
}

// StopSharing ends the broadcast. If the view was already closed this also
// finishes its teardown.
func (s *Session) StopSharing() {
	s.mu.Lock()
	if !s.sharing {
		s.mu.Unlock()
		return
	}
	s.sharing = false
	s.shareGen++
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	b := s.broadcaster
	s.broadcaster = nil
	s.lastEmitted = nil

	var stop func()
	if !s.viewOpen {
		stop = s.teardownLocked()
	}
	s.mu.Unlock()

	s.logger.Info("Location sharing stopped")
	b.Close()
	if stop != nil {
		stop()
	}
}

// Close hides the view. While sharing, the watch and broadcast keep
// running; otherwise everything is torn down.
func (s *Session) Close() {
	s.mu.Lock()
	s.viewOpen = false
	if s.sharing {
		s.mu.Unlock()
		return
	}
	stop := s.teardownLocked()
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Shutdown stops sharing and tears everything down.
func (s *Session) Shutdown() {
	s.StopSharing()
	s.Close()
}

// teardownLocked stops tracking state and returns the watch stop func, to be
// called without the lock held.
func (s *Session) teardownLocked() func() {
	stop := s.stopWatch
	s.stopWatch = nil
	s.watching = false
	s.watchGen++
	s.worker = nil
	s.gpsError = nil
	s.resetViewLocked()
	return stop
}

func (s *Session) resetViewLocked() {
	if s.cancelGC != nil {
		s.cancelGC()
		s.cancelGC = nil
	}
	s.openGen++
	s.counterpart = nil
	s.clearRouteLocked()
	s.notice = nil
}

func (s *Session) Sharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sharing
}

// Snapshot returns the current state. Distance and ETA come from the road
// route when one is known and from the straight line otherwise.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	v := View{
		Watching: s.watching,
		Sharing:  s.sharing,
	}
	if s.worker != nil {
		p := *s.worker
		v.Worker = &p
	}
	if s.counterpart != nil {
		c := *s.counterpart
		v.Counterpart = &c
	}
	if s.gpsError.Active(now) {
		v.Error = s.gpsError.Text
	}
	if s.notice.Active(now) {
		v.Notice = s.notice.Text
	}

	if v.Worker == nil || v.Counterpart == nil {
		return v
	}
	v.DistanceKm = geo.DistanceKm(*v.Worker, v.Counterpart.Point)
	v.ETA = geo.FormatETAFromDistance(now, v.DistanceKm)
	if s.route != nil {
		v.RoadRoute = true
		v.Route = slices.Clone(s.route.Coords)
		v.ETA = geo.FormatETAFromSeconds(now, s.route.DurationSeconds)
		if s.route.DistanceMeters > 0 {
			v.DistanceKm = s.route.DistanceMeters / 1000
		}
	}
	return v
}
