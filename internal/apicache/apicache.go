// Package apicache is an http.RoundTripper that keeps successful GET
// responses for a fixed time. Any other method clears the whole cache.
package apicache

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"omni/live/internal/clock"

	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// HeaderCache is set to "hit" on responses served from the cache.
const HeaderCache = "X-Omni-Cache"

type entry struct {
	status  int
	header  http.Header
	body    []byte
	expires time.Time
}

type Transport struct {
	next   http.RoundTripper
	ttl    time.Duration
	clock  clock.Clock
	logger *logrus.Logger

	mu      sync.Mutex
	entries map[string]entry
}

// New wraps next. A nil next uses http.DefaultTransport.
func New(next http.RoundTripper, ttl time.Duration, clk clock.Clock, logger *logrus.Logger) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Transport{
		next:    next,
		ttl:     ttl,
		clock:   clk,
		logger:  logger,
		entries: make(map[string]entry),
	}
}

// Key derives the cache key from everything that changes the response.
func Key(method, url, authorization string) string {
	h := blake3.New()
	for _, part := range []string{method, url, authorization} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		t.Purge()
		return t.next.RoundTrip(req)
	}
	if strings.Contains(req.Header.Get("Cache-Control"), "no-cache") {
		return t.next.RoundTrip(req)
	}

	key := Key(req.Method, req.URL.String(), req.Header.Get("Authorization"))
	now := t.clock.Now()

	t.mu.Lock()
	e, ok := t.entries[key]
	if ok && !now.Before(e.expires) {
		delete(t.entries, key)
		ok = false
	}
	t.mu.Unlock()

	if ok {
		t.logger.WithField("url", req.URL.Path).Debug("API cache hit")
		return e.response(req), nil
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	t.mu.Lock()
	t.entries[key] = entry{
		status:  resp.StatusCode,
		header:  resp.Header.Clone(),
		body:    body,
		expires: now.Add(t.ttl),
	}
	t.mu.Unlock()
	return resp, nil
}

// Purge drops every entry.
func (t *Transport) Purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) > 0 {
		t.logger.WithField("entries", len(t.entries)).Debug("API cache purged")
	}
	clear(t.entries)
}

func (t *Transport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (e entry) response(req *http.Request) *http.Response {
	header := e.header.Clone()
	header.Set(HeaderCache, "hit")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.status, http.StatusText(e.status)),
		StatusCode:    e.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.body)),
		ContentLength: int64(len(e.body)),
		Request:       req,
	}
}
