package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sad0asc0Sh/user-sub000/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newRequest(key, body string, uid string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func TestMiddleware_OptionalAndRequiredKey(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ })

	rr := httptest.NewRecorder()
	Middleware(NewMemoryStore())(next).ServeHTTP(rr, newRequest("", `{}`, "u1"))
	if calls != 1 {
		t.Fatalf("expected pass-through without key, got %d calls", calls)
	}

	rr = httptest.NewRecorder()
	Middleware(NewMemoryStore(), WithRequiredKey())(next).ServeHTTP(rr, newRequest("", `{}`, "u1"))
	if rr.Code != http.StatusBadRequest || calls != 1 {
		t.Fatalf("expected 400 when key is required, got %d", rr.Code)
	}
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"order-1"}`))
		}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("k-1", `{"cart":"a"}`, "u1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("k-1", `{"cart":"a"}`, "u1"))

	if calls != 1 {
		t.Fatalf("expected handler once, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != `{"id":"order-1"}` {
		t.Fatalf("unexpected replay %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}

	// Same key from another customer is a distinct request.
	third := httptest.NewRecorder()
	handler.ServeHTTP(third, newRequest("k-1", `{"cart":"a"}`, "u2"))
	if calls != 2 {
		t.Fatalf("expected key to be scoped per customer, got %d calls", calls)
	}
}

func TestMiddleware_FingerprintMismatch(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("k-2", `{"a":1}`, "u1"))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("k-2", `{"a":2}`, "u1"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["error"] != "idempotency_key_conflict" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestMiddleware_ServerErrorsReleaseKey(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("k-3", `{}`, "u1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("k-3", `{}`, "u1"))
	if first.Code != http.StatusBadGateway || second.Code != http.StatusOK || calls != 2 {
		t.Fatalf("expected retry after 5xx, got %d/%d calls=%d", first.Code, second.Code, calls)
	}
}

func TestMemoryStore_PendingAndExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if res, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute); err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v %v", res, err)
	}
	if res, _ := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute); res.State != ReservationStatePending {
		t.Fatalf("expected pending, got %v", res.State)
	}
	if res, _ := store.Reserve(ctx, "k", "other", fixedTime.Add(2*time.Minute), time.Minute); res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reusable, got %v", res.State)
	}
}
