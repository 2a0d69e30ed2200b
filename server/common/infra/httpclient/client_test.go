package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(cfg Config) (*Client, *[]time.Duration) {
	c := New(cfg)
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return c, &waits
}

func TestDoSwitchesToFallbackOnServerError(t *testing.T) {
	var primaryHits, fallbackHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fallbackHits, 1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer header on fallback")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer fallback.Close()

	c, waits := newTestClient(Config{BaseURL: primary.URL, FallbackURLs: []string{fallback.URL}, RetryDelay: time.Second})
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "chats", Token: "tok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Endpoint != fallback.URL {
		t.Fatalf("unexpected response %d from %s", resp.StatusCode, resp.Endpoint)
	}
	if primaryHits != 1 || fallbackHits != 1 {
		t.Fatalf("hits primary=%d fallback=%d", primaryHits, fallbackHits)
	}
	if len(*waits) != 1 || (*waits)[0] != time.Second {
		t.Fatalf("waits = %v, want [1s]", *waits)
	}
}

func TestDoDoesNotRetryUnauthorized(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, waits := newTestClient(Config{BaseURL: srv.URL, FallbackURLs: []string{srv.URL + "/"}})
	resp, err := c.Do(context.Background(), Request{Path: "/notifications"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if hits != 1 || len(*waits) != 0 {
		t.Fatalf("expected a single attempt, hits=%d waits=%v", hits, *waits)
	}
}

func TestDoExhaustsRetriesWithLinearDelay(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, waits := newTestClient(Config{BaseURL: srv.URL, MaxRetries: 2, RetryDelay: time.Second})
	resp, err := c.Do(context.Background(), Request{Path: "/bookings"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if hits != 3 {
		t.Fatalf("hits = %d, want 3", hits)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*waits) != len(want) || (*waits)[0] != want[0] || (*waits)[1] != want[1] {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
}

func TestDoWithoutEndpoint(t *testing.T) {
	c := New(Config{})
	if _, err := c.Do(context.Background(), Request{Path: "/x"}); err != ErrNoEndpoint {
		t.Fatalf("err = %v, want ErrNoEndpoint", err)
	}
}

func TestEndpointForStaysOnLastFallback(t *testing.T) {
	c := New(Config{BaseURL: "http://a/", FallbackURLs: []string{"http://b", "http://a"}})
	if got := c.endpointFor(0); got != "http://a" {
		t.Fatalf("attempt 0 = %s", got)
	}
	if got := c.endpointFor(1); got != "http://b" {
		t.Fatalf("attempt 1 = %s", got)
	}
	if got := c.endpointFor(5); got != "http://b" {
		t.Fatalf("attempt 5 = %s", got)
	}
}
