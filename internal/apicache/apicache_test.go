package apicache_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"omni/live/internal/apicache"
	"omni/live/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(r.Method + " " + r.URL.Path + " #" + string(rune('0'+n))))
	}))
	t.Cleanup(server.Close)
	return server
}

func get(t *testing.T, client *http.Client, url, auth string) (string, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body), resp.Header.Get(apicache.HeaderCache)
}

func TestKeyDependsOnEveryPart(t *testing.T) {
	base := apicache.Key("GET", "http://api/bookings/1", "Bearer a")

	assert.Len(t, base, 64)
	assert.Equal(t, base, apicache.Key("GET", "http://api/bookings/1", "Bearer a"))
	assert.NotEqual(t, base, apicache.Key("GET", "http://api/bookings/1", "Bearer b"))
	assert.NotEqual(t, base, apicache.Key("GET", "http://api/bookings/2", "Bearer a"))
	assert.NotEqual(t, apicache.Key("GET", "ab", "c"), apicache.Key("GET", "a", "bc"))
}

func TestCachesUntilExpiry(t *testing.T) {
	var hits atomic.Int32
	server := newServer(t, &hits)
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	client := &http.Client{Transport: apicache.New(nil, time.Minute, clk, nil)}

	first, cached := get(t, client, server.URL+"/bookings/1", "Bearer a")
	assert.Empty(t, cached)
	second, cached := get(t, client, server.URL+"/bookings/1", "Bearer a")
	assert.Equal(t, "hit", cached)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), hits.Load())

	get(t, client, server.URL+"/bookings/1", "Bearer other")
	assert.Equal(t, int32(2), hits.Load(), "a different caller is a different entry")

	clk.Advance(time.Minute)
	third, _ := get(t, client, server.URL+"/bookings/1", "Bearer a")
	assert.NotEqual(t, first, third)
	assert.Equal(t, int32(3), hits.Load())
}

func TestNonGetPurgesEverything(t *testing.T) {
	var hits atomic.Int32
	server := newServer(t, &hits)
	cache := apicache.New(nil, time.Hour, nil, nil)
	client := &http.Client{Transport: cache}

	get(t, client, server.URL+"/bookings/1", "")
	get(t, client, server.URL+"/bookings/2", "")
	require.Equal(t, 2, cache.Len())

	resp, err := client.Post(server.URL+"/bookings/1/status", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Zero(t, cache.Len())
}

func TestSkipsErrorsAndNoCache(t *testing.T) {
	var hits atomic.Int32
	server := newServer(t, &hits)
	cache := apicache.New(nil, time.Hour, nil, nil)
	client := &http.Client{Transport: cache}

	get(t, client, server.URL+"/missing", "")
	assert.Zero(t, cache.Len())

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/bookings/1/chat", nil)
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Zero(t, cache.Len())
}
