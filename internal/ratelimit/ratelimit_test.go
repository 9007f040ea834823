package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowPerKey(t *testing.T) {
	l := New(1, 2, time.Minute)
	defer l.Close()

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of 2 should admit two requests")
	}
	if l.Allow("a") {
		t.Error("third request should be rejected")
	}

	// Keys have independent buckets.
	if !l.Allow("b") {
		t.Error("fresh key should be admitted")
	}
}

func TestMiddleware(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Close()

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status %d, want 429", rec.Code)
	}

	// A different client IP is not throttled by the first one's bucket.
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Errorf("other client: status %d", rec.Code)
	}
}

func TestSweepEvictsIdleBuckets(t *testing.T) {
	l := New(1, 1, 20*time.Millisecond)
	defer l.Close()

	l.Allow("idle")
	time.Sleep(60 * time.Millisecond)

	l.mu.Lock()
	_, ok := l.buckets["idle"]
	l.mu.Unlock()
	if ok {
		t.Error("idle bucket survived the sweep")
	}
}
