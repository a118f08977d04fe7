package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Sad0asc0Sh/user-sub000/internal/platform/auth"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/httpx"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/requestctx"
	"github.com/Sad0asc0Sh/user-sub000/internal/services"
)

const defaultMaxBodySize = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads a bounded JSON body into dst and writes the 400/413 response itself on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// requireIdentity returns the authenticated caller or writes a 401.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError("unavailable", fmt.Sprintf("%s service is unavailable", name), http.StatusServiceUnavailable))
}

// writeServiceError maps the service error taxonomy onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var httpErr httpx.Error
	switch {
	case errors.Is(err, services.ErrCouponInvalid):
		httpErr = httpx.NewError(services.CouponReason(err), err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrValidation):
		httpErr = httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrUnauthorized):
		httpErr = httpx.NewError("forbidden", "operation not permitted", http.StatusForbidden)
	case errors.Is(err, services.ErrNotFound):
		httpErr = httpx.NewError("not_found", err.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrOutOfStock):
		httpErr = httpx.NewError("out_of_stock", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrInvalidTransition):
		httpErr = httpx.NewError("invalid_transition", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrAmountMismatch):
		httpErr = httpx.NewError("amount_mismatch", "payment amount does not match the order total", http.StatusConflict)
	case errors.Is(err, services.ErrConflict):
		httpErr = httpx.NewError("conflict", "resource was modified concurrently; retry", http.StatusConflict)
	case errors.Is(err, services.ErrGateway):
		httpErr = httpx.NewError("gateway_error", "payment gateway request failed", http.StatusBadGateway)
	case errors.Is(err, services.ErrUnavailable):
		httpErr = httpx.NewError("unavailable", "a dependency is unavailable", http.StatusServiceUnavailable)
	default:
		httpErr = httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError)
	}
	if httpErr.Status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Error("request failed", zap.Error(err), zap.String("code", httpErr.Code))
	}
	httpx.WriteError(ctx, w, httpErr)
}
