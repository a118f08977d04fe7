package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRouterHealthEndpointsAreUnversioned(t *testing.T) {
	router := NewRouter()
	for _, target := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: expected application/json, got %s", target, ct)
		}
	}
}

func TestRouterUnconfiguredGroupsAnswerNotImplemented(t *testing.T) {
	router := NewRouter(WithCartRoutes(func(r chi.Router) {
		r.Get("/cart", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/carts/cart", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected configured cart group to answer, got %d", rr.Code)
	}

	for _, target := range []string{"/api/v1/orders", "/api/v1/rma/rma_1", "/api/v1/payments/stripe/return"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected 501, got %d", target, rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: expected JSON body: %v", target, err)
		}
		if body["error"] != "not_implemented" {
			t.Fatalf("%s: expected not_implemented, got %v", target, body["error"])
		}
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	rr := httptest.NewRecorder()
	NewRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/checkout", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "route_not_found" {
		t.Fatalf("expected route_not_found, got %v", body["error"])
	}
}

func TestRouterInternalMiddlewareGuardsOnlyInternalGroup(t *testing.T) {
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	ok := func(r chi.Router) {
		r.Post("/sweeps/{job}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		r.Post("/payments/stripe", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	}
	router := NewRouter(
		WithInternalRoutes(ok),
		WithInternalMiddlewares(guard),
		WithWebhookRoutes(ok),
	)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/sweeps/cart-purge", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected internal route guarded, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/sweeps/cart-purge", nil)
	req.Header.Set("Authorization", "Bearer oidc")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected authorised internal call to pass, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/stripe", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected webhook group unaffected by internal guard, got %d", rr.Code)
	}
}
