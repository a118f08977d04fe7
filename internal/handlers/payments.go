package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Sad0asc0Sh/user-sub000/internal/payments"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/httpx"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/requestctx"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/textutil"
	"github.com/Sad0asc0Sh/user-sub000/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// WebhookParser authenticates a gateway webhook and extracts the callback. ok is false for
// events that carry no payment outcome. *payments.StripeGateway implements it.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (payments.Callback, bool, error)
}

// PaymentHandlers receives gateway browser returns and server-to-server webhooks. Neither
// surface is authenticated with Firebase; every outcome is verified with the gateway.
type PaymentHandlers struct {
	payments      services.PaymentService
	stripe        WebhookParser
	storefrontURL string
}

// NewPaymentHandlers constructs the gateway callback handlers.
func NewPaymentHandlers(payments services.PaymentService, stripe WebhookParser, storefrontURL string) *PaymentHandlers {
	return &PaymentHandlers{
		payments:      payments,
		stripe:        stripe,
		storefrontURL: strings.TrimRight(strings.TrimSpace(storefrontURL), "/"),
	}
}

// ReturnRoutes registers the browser return endpoint under /payments.
func (h *PaymentHandlers) ReturnRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{gateway}/return", h.gatewayReturn)
}

// WebhookRoutes registers gateway webhooks under /webhooks.
func (h *PaymentHandlers) WebhookRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.stripeWebhook)
}

// gatewayReturn reconciles the payment and sends the shopper back to the storefront.
// Stripe returns ?ref=<session>; PayPal returns ?token=<order id>.
func (h *PaymentHandlers) gatewayReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	params := textutil.FlattenParams(r.URL.Query())
	ref := params["ref"]
	if ref == "" {
		ref = params["token"]
	}

	order, err := h.payments.HandleCallback(ctx, services.PaymentCallback{
		Gateway:    chi.URLParam(r, "gateway"),
		GatewayRef: ref,
		Params:     params,
	})
	outcome := "success"
	if err != nil {
		outcome = "failed"
		requestctx.Logger(ctx).Warn("payment return not settled",
			zap.String("gateway", chi.URLParam(r, "gateway")),
			zap.String("gatewayRef", ref),
			zap.Error(err))
		if h.storefrontURL == "" {
			writeServiceError(ctx, w, err)
			return
		}
	}
	if h.storefrontURL == "" {
		writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
		return
	}
	http.Redirect(w, r, h.storefrontRedirect(order.ID, outcome), http.StatusSeeOther)
}

func (h *PaymentHandlers) storefrontRedirect(orderID, outcome string) string {
	target := h.storefrontURL + "/orders"
	if orderID != "" {
		target += "/" + url.PathEscape(orderID)
	}
	return target + "?payment=" + outcome
}

func (h *PaymentHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil || h.stripe == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	cb, ok, err := h.stripe.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}
	if !ok {
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "handled": false})
		return
	}

	_, err = h.payments.HandleCallback(ctx, services.PaymentCallback{
		Gateway:    payments.StripeGatewayID,
		GatewayRef: cb.GatewayRef,
		Params:     cb.Params,
	})
	switch {
	case err == nil:
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrAmountMismatch):
		// Redelivery cannot change the outcome; acknowledge so Stripe stops retrying.
		requestctx.Logger(ctx).Warn("stripe webhook not applied", zap.String("gatewayRef", cb.GatewayRef), zap.Error(err))
	default:
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true, "handled": true})
}
