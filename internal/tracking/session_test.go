package tracking_test

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"omni/live/internal/clock"
	"omni/live/internal/config"
	"omni/live/internal/geo"
	"omni/live/internal/geocode"
	"omni/live/internal/localization"
	"omni/live/internal/models"
	"omni/live/internal/route"
	"omni/live/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	depot    = models.GeoPoint{Lat: 30.3165, Lng: 78.0322}
	customer = models.GeoPoint{Lat: 30.3500, Lng: 78.0500}
)

// north returns p moved the given number of meters due north.
func north(p models.GeoPoint, meters float64) models.GeoPoint {
	return models.GeoPoint{Lat: p.Lat + meters/(geo.EarthRadiusKm*1000)*180/math.Pi, Lng: p.Lng}
}

type fakeSource struct {
	mu      sync.Mutex
	onFix   func(models.GeoPoint)
	onErr   func(error)
	watches int
	stops   int
}

func (f *fakeSource) Watch(onFix func(models.GeoPoint), onErr func(error)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFix, f.onErr = onFix, onErr
	f.watches++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stops++
	}
}

func (f *fakeSource) fix(p models.GeoPoint) {
	f.mu.Lock()
	fn := f.onFix
	f.mu.Unlock()
	fn(p)
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	fn := f.onErr
	f.mu.Unlock()
	fn(err)
}

func (f *fakeSource) stopped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type pendingFetch struct {
	ctx   context.Context
	reply chan *route.Route
}

// fakeRouter hands every fetch to the test, which answers it explicitly.
// Answers are returned even after cancellation so stale results reach the
// session.
type fakeRouter struct {
	fetches chan pendingFetch
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{fetches: make(chan pendingFetch, 32)}
}

func (r *fakeRouter) Fetch(ctx context.Context, from, to models.GeoPoint) (*route.Route, error) {
	p := pendingFetch{ctx: ctx, reply: make(chan *route.Route, 1)}
	r.fetches <- p
	return <-p.reply, nil
}

func (r *fakeRouter) next(t *testing.T) pendingFetch {
	t.Helper()
	select {
	case p := <-r.fetches:
		return p
	case <-time.After(time.Second):
		t.Fatal("expected a route fetch")
		return pendingFetch{}
	}
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	onConnect []func()
	connected bool
	emitted   []models.Envelope
	closed    int
}

func (b *fakeBroadcaster) OnConnect(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnect = append(b.onConnect, fn)
}

func (b *fakeBroadcaster) Emit(event string, payload any) {
	env, _ := models.NewEnvelope(event, payload)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitted = append(b.emitted, env)
}

func (b *fakeBroadcaster) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroadcaster) Start() {
	b.mu.Lock()
	b.connected = true
	fns := append([]func(){}, b.onConnect...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *fakeBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.closed++
}

func (b *fakeBroadcaster) locations() []models.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.Envelope
	for _, e := range b.emitted {
		if e.Event == models.EventWorkerLocation {
			out = append(out, e)
		}
	}
	return out
}

type fakeGeocoder func(text string) *geocode.Result

func (f fakeGeocoder) Geocode(_ context.Context, text string) *geocode.Result { return f(text) }

type harness struct {
	clock   *clock.FakeClock
	source  *fakeSource
	router  *fakeRouter
	caster  *fakeBroadcaster
	session *tracking.Session
}

func newHarness(geocoder tracking.Geocoder) *harness {
	h := &harness{
		clock:  clock.Fake(start),
		source: &fakeSource{},
		router: newFakeRouter(),
		caster: &fakeBroadcaster{},
	}
	h.session = tracking.NewSession(tracking.Options{
		Geocoder: geocoder,
		Router:   h.router,
		Source:   h.source,
		Dial:     func(string) tracking.Broadcaster { return h.caster },
		Clock:    h.clock,
	})
	return h
}

func exactBooking() *models.Booking {
	lat, lng := customer.Lat, customer.Lng
	return &models.Booking{ID: "b1", Status: models.BookingInProgress, Lat: &lat, Lng: &lng}
}

func TestStraightLineUntilRouteArrives(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.session.Open(exactBooking(), "tok"))
	h.source.fix(depot)

	v := h.session.Snapshot()
	require.NotNil(t, v.Counterpart)
	assert.True(t, v.Counterpart.Exact)
	km := geo.DistanceKm(depot, customer)
	assert.InDelta(t, km, v.DistanceKm, 1e-9)
	assert.Equal(t, geo.FormatETAFromDistance(start, km), v.ETA)
	assert.False(t, v.RoadRoute)

	fetch := h.router.next(t)
	fetch.reply <- &route.Route{Coords: []models.GeoPoint{depot, customer}, DurationSeconds: 600, DistanceMeters: 5200}

	assert.Eventually(t, func() bool { return h.session.Snapshot().RoadRoute }, time.Second, 5*time.Millisecond)
	v = h.session.Snapshot()
	assert.Equal(t, geo.FormatETAFromSeconds(start, 600), v.ETA)
	assert.Equal(t, 5.2, v.DistanceKm)
	assert.Len(t, v.Route, 2)
}

func TestRouteThrottle(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.session.Open(exactBooking(), "tok"))

	for i := 0; i < 10; i++ {
		h.source.fix(north(depot, float64(i*20)))
		h.clock.Advance(400 * time.Millisecond)
	}

	first := h.router.next(t)
	select {
	case <-h.router.fetches:
		t.Fatal("updates inside the throttle window must not fetch again")
	case <-time.After(50 * time.Millisecond):
	}
	first.reply <- nil
}

func TestSupersededRouteIsAbortedAndIgnored(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.session.Open(exactBooking(), "tok"))

	h.source.fix(depot)
	stale := h.router.next(t)

	h.clock.Advance(config.RouteMinInterval + time.Millisecond)
	h.source.fix(north(depot, 200))
	fresh := h.router.next(t)

	assert.Error(t, stale.ctx.Err(), "the superseded fetch is cancelled")

	fresh.reply <- &route.Route{Coords: []models.GeoPoint{depot, customer}, DurationSeconds: 300}
	assert.Eventually(t, func() bool { return h.session.Snapshot().RoadRoute }, time.Second, 5*time.Millisecond)

	stale.reply <- &route.Route{Coords: []models.GeoPoint{depot, customer}, DurationSeconds: 3000}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, geo.FormatETAFromSeconds(h.clock.Now(), 300), h.session.Snapshot().ETA)
}

func TestInvalidFixClearsRoute(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.session.Open(exactBooking(), "tok"))
	h.source.fix(depot)
	h.router.next(t).reply <- &route.Route{Coords: []models.GeoPoint{depot, customer}, DurationSeconds: 60}
	require.Eventually(t, func() bool { return h.session.Snapshot().RoadRoute }, time.Second, 5*time.Millisecond)

	h.source.fix(models.GeoPoint{Lat: math.NaN(), Lng: 78})

	v := h.session.Snapshot()
	assert.Nil(t, v.Worker)
	assert.False(t, v.RoadRoute)
	assert.Empty(t, v.ETA)
}

func TestMovementSuppression(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.session.Open(exactBooking(), "tok"))
	require.NoError(t, h.session.StartSharing())

	require.Len(t, h.caster.emitted, 1)
	assert.Equal(t, models.EventJoinBooking, h.caster.emitted[0].Event)

	h.clock.Advance(config.BroadcastInterval)
	assert.Empty(t, h.caster.locations(), "nothing to send without a fix")

	h.source.fix(depot)
	h.clock.Advance(config.BroadcastInterval)
	require.Len(t, h.caster.locations(), 1)

	h.source.fix(north(depot, 9.5))
	h.clock.Advance(config.BroadcastInterval)
	assert.Len(t, h.caster.locations(), 1, "jitter under 10 m is suppressed")

	h.source.fix(north(depot, 10.5))
	h.clock.Advance(config.BroadcastInterval)
	require.Len(t, h.caster.locations(), 2)

	var last models.WorkerLocation
	require.NoError(t, json.Unmarshal(h.caster.locations()[1].Data, &last))
	assert.Equal(t, "b1", last.BookingID)
	assert.InDelta(t, north(depot, 10.5).Lat, last.Lat, 1e-12)

	h.caster.Close()
	h.source.fix(north(depot, 100))
	h.clock.Advance(config.BroadcastInterval)
	assert.Len(t, h.caster.locations(), 2, "nothing is sent while disconnected")
}

func TestCloseWhileSharingKeepsBroadcasting(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.session.Open(exactBooking(), "tok"))
	require.NoError(t, h.session.StartSharing())
	h.source.fix(depot)

	h.session.Close()
	assert.Zero(t, h.source.stopped(), "the watch outlives the view while sharing")

	h.clock.Advance(config.BroadcastInterval)
	assert.Len(t, h.caster.locations(), 1)

	h.source.fix(north(depot, 50))
	h.clock.Advance(config.BroadcastInterval)
	assert.Len(t, h.caster.locations(), 2)

	h.session.StopSharing()
	assert.Equal(t, 1, h.source.stopped())
	assert.Equal(t, 1, h.caster.closed)
	assert.Zero(t, h.clock.Pending())

	v := h.session.Snapshot()
	assert.False(t, v.Sharing)
	assert.False(t, v.Watching)
	assert.Nil(t, v.Worker)
}

func TestCloseWithoutSharingTearsDown(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.session.Open(exactBooking(), "tok"))
	h.source.fix(depot)

	h.session.Close()

	assert.Equal(t, 1, h.source.stopped())
	v := h.session.Snapshot()
	assert.Nil(t, v.Worker)
	assert.Nil(t, v.Counterpart)
	assert.False(t, v.Watching)
}

func TestShutdownAlwaysTearsDown(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.session.Open(exactBooking(), "tok"))
	require.NoError(t, h.session.StartSharing())
	h.source.fix(depot)
	pending := h.router.next(t)

	h.session.Shutdown()

	assert.Error(t, pending.ctx.Err(), "in-flight route is aborted")
	assert.Equal(t, 1, h.source.stopped())
	assert.Equal(t, 1, h.caster.closed)
	assert.False(t, h.session.Sharing())
	pending.reply <- nil
}

func TestReopenWhileSharingKeepsWatch(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.session.Open(exactBooking(), "tok"))
	require.NoError(t, h.session.StartSharing())
	h.session.Close()

	require.NoError(t, h.session.Open(exactBooking(), "tok"))

	assert.Equal(t, 1, h.source.watches)
	assert.True(t, h.session.Snapshot().Sharing)
	h.session.Shutdown()
}

func TestStartSharingNeedsToken(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.session.Open(exactBooking(), ""))

	err := h.session.StartSharing()

	assert.ErrorIs(t, err, tracking.ErrSharingUnavailable)
	v := h.session.Snapshot()
	assert.False(t, v.Sharing)
	assert.Equal(t, localization.Default().GetString("en", localization.KeySharingUnavailable), v.Notice)
}

func TestGPSErrorsAreVisibleAndNonFatal(t *testing.T) {
	h := newHarness(nil)
	require.NoError(t, h.session.Open(exactBooking(), "tok"))

	h.source.fail(tracking.ErrPermissionDenied)
	v := h.session.Snapshot()
	assert.Equal(t, localization.Default().GetString("en", localization.KeyGPSDenied), v.Error)
	assert.True(t, v.Watching)

	h.clock.Advance(time.Hour)
	assert.NotEmpty(t, h.session.Snapshot().Error, "GPS errors persist")

	h.source.fix(depot)
	assert.Empty(t, h.session.Snapshot().Error)
}

func TestApproximateCounterpartFromGeocoder(t *testing.T) {
	var calls int
	var mu sync.Mutex
	h := newHarness(fakeGeocoder(func(text string) *geocode.Result {
		mu.Lock()
		calls++
		mu.Unlock()
		assert.Equal(t, "Green Park, Dehradun", text)
		return &geocode.Result{Center: customer, RadiusMeters: 850, DisplayName: "Green Park"}
	}))

	require.NoError(t, h.session.Open(&models.Booking{ID: "b1", Location: "Green Park, Dehradun"}, "tok"))
	require.Eventually(t, func() bool { return h.session.Snapshot().Counterpart != nil }, time.Second, 5*time.Millisecond)

	c := h.session.Snapshot().Counterpart
	assert.False(t, c.Exact)
	assert.Equal(t, 850.0, c.RadiusMeters)

	h.source.fix(depot)
	h.router.next(t).reply <- nil

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestUnresolvedAddressLeavesCounterpartUnknown(t *testing.T) {
	h := newHarness(fakeGeocoder(func(string) *geocode.Result { return nil }))

	require.NoError(t, h.session.Open(&models.Booking{ID: "b1", Location: "Atlantis"}, "tok"))
	want := localization.Default().GetString("en", localization.KeyLocationNotFound)
	require.Eventually(t, func() bool { return h.session.Snapshot().Notice == want }, time.Second, 5*time.Millisecond)

	h.source.fix(depot)
	v := h.session.Snapshot()
	assert.Nil(t, v.Counterpart)
	assert.Empty(t, v.ETA)

	select {
	case <-h.router.fetches:
		t.Fatal("no route without a destination")
	default:
	}
}

// gatedSearcher holds every query until released, then answers each with
// a place named after the query.
type gatedSearcher struct {
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
	searches atomic.Int32
}

func newGatedSearcher() *gatedSearcher {
	return &gatedSearcher{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedSearcher) Search(ctx context.Context, q string) (*geocode.Place, error) {
	s.searches.Add(1)
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
		return &geocode.Place{Point: customer, DisplayName: q}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *gatedSearcher) Reverse(context.Context, models.GeoPoint) (*geocode.Place, error) {
	return nil, nil
}

func TestReopenDuringGeocodeStillLocatesAddress(t *testing.T) {
	searcher := newGatedSearcher()
	gc := geocode.New(searcher, nil)
	h := newHarness(gc)
	booking := &models.Booking{ID: "b1", Location: "Green Park, Dehradun"}

	require.NoError(t, h.session.Open(booking, "tok"))
	select {
	case <-searcher.entered:
	case <-time.After(time.Second):
		t.Fatal("geocoder was never asked")
	}
	h.session.Close()
	assert.False(t, gc.Cached(booking.Location))

	close(searcher.release)
	require.NoError(t, h.session.Open(booking, "tok"))
	require.Eventually(t, func() bool { return h.session.Snapshot().Counterpart != nil }, time.Second, 5*time.Millisecond)

	c := h.session.Snapshot().Counterpart
	assert.Equal(t, customer, c.Point)
	assert.Equal(t, "Green Park, Dehradun", c.Label)
	assert.Equal(t, int32(2), searcher.searches.Load(), "the reopen reuses the lookup already in flight")
}

func TestOpenRequiresBooking(t *testing.T) {
	h := newHarness(nil)
	assert.ErrorIs(t, h.session.Open(nil, "tok"), tracking.ErrNoBooking)
}
