package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeGatewayID identifies the Stripe adapter.
const StripeGatewayID = "stripe"

const stripeSessionCompleted = "checkout.session.completed"

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig configures the StripeGateway.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	HTTPClient    *http.Client
	Logger        Logger
	Clock         func() time.Time

	sessions stripeSessionAPI
}

// StripeGateway initiates Stripe Checkout Sessions and verifies them by retrieval.
type StripeGateway struct {
	sessions      stripeSessionAPI
	webhookSecret string
	account       string
	logger        Logger
	clock         func() time.Time
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs the Stripe adapter. Stripe's own network retries are disabled so
// CallWithRetry alone decides when to retry.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	sessions := cfg.sessions
	if sessions == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		backendCfg := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(0)}
		if cfg.HTTPClient != nil {
			backendCfg.HTTPClient = cfg.HTTPClient
		}
		backends := &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
		}
		sessions = client.New(apiKey, backends).CheckoutSessions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StripeGateway{
		sessions:      sessions,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		logger:        logger,
		clock:         func() time.Time { return clock().UTC() },
	}, nil
}

func (g *StripeGateway) ID() string { return StripeGatewayID }

// Initiate creates a Checkout Session. The session id is the gateway reference and Stripe
// substitutes it into the return URL.
func (g *StripeGateway) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(appendRawQuery(req.ReturnURL, "ref={CHECKOUT_SESSION_ID}")),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		Metadata:          map[string]string{"order_id": req.OrderID, "order_number": req.OrderNumber},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.LineItems = stripeLineItems(req)
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: map[string]string{"order_id": req.OrderID},
	}

	session, err := g.sessions.New(params)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"orderId":   req.OrderID,
		"sessionId": session.ID,
		"amount":    session.AmountTotal,
	})

	expiresAt := g.clock().Add(24 * time.Hour)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return InitiateResult{GatewayRef: session.ID, PaymentURL: session.URL, ExpiresAt: expiresAt}, nil
}

// Verify retrieves the session; it is successful only once Stripe reports it paid.
func (g *StripeGateway) Verify(ctx context.Context, cb Callback) (Verification, error) {
	ref := strings.TrimSpace(cb.GatewayRef)
	if ref == "" {
		return Verification{}, errors.New("stripe: session id is required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	session, err := g.sessions.Get(ref, params)
	if err != nil {
		return Verification{}, fmt.Errorf("stripe: retrieve checkout session: %w", err)
	}
	return Verification{
		Success:        session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		GatewayRef:     session.ID,
		VerifiedAmount: session.AmountTotal,
		Currency:       strings.ToUpper(string(session.Currency)),
		Status:         string(session.PaymentStatus),
	}, nil
}

// ParseWebhook checks the Stripe-Signature header and extracts the session reference from a
// checkout.session.completed event. Other event types return ok=false.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (Callback, bool, error) {
	if g.webhookSecret == "" {
		return Callback{}, false, errors.New("stripe: webhook secret not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Callback{}, false, fmt.Errorf("stripe: verify webhook: %w", err)
	}
	if string(event.Type) != stripeSessionCompleted {
		return Callback{}, false, nil
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return Callback{}, false, fmt.Errorf("stripe: decode session: %w", err)
	}
	if session.ID == "" {
		return Callback{}, false, errors.New("stripe: webhook session id missing")
	}
	return Callback{
		GatewayRef: session.ID,
		Params:     map[string]string{"event_id": event.ID, "event_type": string(event.Type)},
	}, true, nil
}

func stripeLineItems(req InitiateRequest) []*stripe.CheckoutSessionLineItemParams {
	currency := strings.ToLower(req.Currency)
	var sum int64
	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		sum += item.Amount * qty
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(qty),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(item.Name)},
			},
		})
	}
	// Discounts and shipping make the line sum differ from the total; charge the total as one line then.
	if len(items) == 0 || sum != req.Amount {
		name := "Order"
		if req.OrderNumber != "" {
			name = "Order " + req.OrderNumber
		}
		return []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(name)},
			},
		}}
	}
	return items
}

func appendRawQuery(base, raw string) string {
	if strings.Contains(base, "?") {
		return base + "&" + raw
	}
	return base + "?" + raw
}
