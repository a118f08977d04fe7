package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestKeyedRateLimiterRefillsPerKey(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newKeyedRateLimiter(60, 1, func() time.Time { return now })

	if !limiter.Allow("a") {
		t.Fatalf("expected first request allowed")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected second request in the same instant to be limited")
	}
	if !limiter.Allow("b") {
		t.Fatalf("expected independent bucket for another key")
	}
	now = now.Add(time.Second)
	if !limiter.Allow("a") {
		t.Fatalf("expected token refilled after one second")
	}
}

func TestKeyedRateLimiterPrunesIdleBuckets(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newKeyedRateLimiter(1, 1, func() time.Time { return now }).(*keyedRateLimiter)
	limiter.Allow("idle")
	now = now.Add(11 * time.Minute)
	limiter.Allow("fresh")
	if _, ok := limiter.buckets["idle"]; ok {
		t.Fatalf("expected idle bucket to be pruned")
	}
	if _, ok := limiter.buckets["fresh"]; !ok {
		t.Fatalf("expected fresh bucket to remain")
	}
}

func TestNewKeyedRateLimiterDisabled(t *testing.T) {
	if limiter := newKeyedRateLimiter(0, 0, nil); limiter != nil {
		t.Fatalf("expected nil limiter for non-positive rate")
	}
	handler := rateLimitByCaller(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected passthrough, got %d", rr.Code)
	}
}

func TestRateLimitByCallerKeysAnonymousByRemoteAddr(t *testing.T) {
	limiter := newKeyedRateLimiter(1, 1, nil)
	handler := rateLimitByCaller(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send("10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := send("10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send("10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("expected other address allowed, got %d", code)
	}
}
