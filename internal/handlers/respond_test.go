package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/text/language"

	"github.com/Sad0asc0Sh/user-sub000/internal/platform/requestctx"
	"github.com/Sad0asc0Sh/user-sub000/internal/services"
)

func TestWriteServiceErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", fmt.Errorf("%w: quantity", services.ErrValidation), http.StatusBadRequest, "invalid_request"},
		{"unauthorized", services.ErrUnauthorized, http.StatusForbidden, "forbidden"},
		{"not found", fmt.Errorf("%w: order", services.ErrNotFound), http.StatusNotFound, "not_found"},
		{"out of stock", fmt.Errorf("%w: lamp", services.ErrOutOfStock), http.StatusConflict, "out_of_stock"},
		{"coupon generic", services.ErrCouponInvalid, http.StatusUnprocessableEntity, "coupon_invalid"},
		{"coupon expired", fmt.Errorf("apply: %w", services.ErrCouponExpired), http.StatusUnprocessableEntity, "coupon_expired"},
		{"coupon minimum", services.ErrCouponMinimumNotMet, http.StatusUnprocessableEntity, "coupon_minimum"},
		{"invalid transition", services.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{"amount mismatch", services.ErrAmountMismatch, http.StatusConflict, "amount_mismatch"},
		{"conflict", services.ErrConflict, http.StatusConflict, "conflict"},
		{"gateway", fmt.Errorf("%w: timeout", services.ErrGateway), http.StatusBadGateway, "gateway_error"},
		{"unavailable", services.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeServiceError(context.Background(), rr, tc.err)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestWriteServiceErrorLocalisesCheckoutMessages(t *testing.T) {
	ctx := requestctx.WithLocale(context.Background(), language.Persian)
	rr := httptest.NewRecorder()
	writeServiceError(ctx, rr, services.ErrOutOfStock)

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["message"] != "موجودی کالا کافی نیست" {
		t.Fatalf("expected persian message, got %v", body["message"])
	}
	if rr.Header().Get("Content-Language") != "fa" {
		t.Fatalf("expected content-language fa, got %q", rr.Header().Get("Content-Language"))
	}
}

func TestDecodeJSONBodyRejectsOversizedPayload(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"x":"`+strings.Repeat("a", 64)+`"}`))
	rr := httptest.NewRecorder()
	var dst map[string]any
	if decodeJSONBody(rr, req, 16, &dst) {
		t.Fatalf("expected decode to fail")
	}
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}
