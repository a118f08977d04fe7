package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// PayPalGatewayID identifies the PayPal adapter.
const PayPalGatewayID = "paypal"

const (
	paypalTokenSkew       = time.Minute
	paypalMaxErrorBody    = 2048
	paypalStatusCompleted = "COMPLETED"
)

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[string]bool{"JPY": true, "HUF": true, "TWD": true}

// PayPalConfig configures the PayPalGateway.
type PayPalConfig struct {
	ClientID   string
	Secret     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     Logger
	Clock      func() time.Time
}

// PayPalGateway speaks the Orders v2 REST API with a client-credentials token.
type PayPalGateway struct {
	clientID string
	secret   string
	baseURL  string
	http     *http.Client
	logger   Logger
	clock    func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ Gateway = (*PayPalGateway)(nil)

// NewPayPalGateway constructs the PayPal adapter. Outbound requests are traced with otelhttp.
func NewPayPalGateway(cfg PayPalConfig) (*PayPalGateway, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("paypal: base url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &PayPalGateway{
		clientID: strings.TrimSpace(cfg.ClientID),
		secret:   strings.TrimSpace(cfg.Secret),
		baseURL:  base,
		http:     httpClient,
		logger:   logger,
		clock:    clock,
	}, nil
}

func (g *PayPalGateway) ID() string { return PayPalGatewayID }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalCapture struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount paypalAmount `json:"amount"`
}

type paypalPurchaseUnit struct {
	ReferenceID string        `json:"reference_id,omitempty"`
	CustomID    string        `json:"custom_id,omitempty"`
	Description string        `json:"description,omitempty"`
	Amount      *paypalAmount `json:"amount,omitempty"`
	Payments    *struct {
		Captures []paypalCapture `json:"captures"`
	} `json:"payments,omitempty"`
}

type paypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	Links         []paypalLink         `json:"links"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
}

type paypalErrorBody struct {
	Name    string `json:"name"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

// Initiate creates a PayPal order and returns its approval link. The PayPal order id is the reference.
func (g *PayPalGateway) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	value, err := FormatMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return InitiateResult{}, err
	}
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []paypalPurchaseUnit{{
			ReferenceID: req.OrderID,
			CustomID:    req.OrderID,
			Description: strings.TrimSpace("Order " + req.OrderNumber),
			Amount:      &paypalAmount{CurrencyCode: strings.ToUpper(req.Currency), Value: value},
		}},
		"application_context": map[string]string{
			"return_url":  req.ReturnURL,
			"cancel_url":  req.CancelURL,
			"user_action": "PAY_NOW",
		},
	}
	var order paypalOrder
	if err := g.do(ctx, http.MethodPost, "/v2/checkout/orders", req.IdempotencyKey, body, &order); err != nil {
		return InitiateResult{}, err
	}
	approve := ""
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approve = link.Href
			break
		}
	}
	if order.ID == "" || approve == "" {
		return InitiateResult{}, errors.New("paypal: order response missing id or approval link")
	}
	g.logger(ctx, "payments.paypal.order.created", map[string]any{"orderId": req.OrderID, "paypalOrderId": order.ID})
	return InitiateResult{GatewayRef: order.ID, PaymentURL: approve, ExpiresAt: g.clock().UTC().Add(3 * time.Hour)}, nil
}

// Verify captures the approved order. An order captured earlier is read back instead.
func (g *PayPalGateway) Verify(ctx context.Context, cb Callback) (Verification, error) {
	ref := strings.TrimSpace(cb.GatewayRef)
	if ref == "" {
		return Verification{}, errors.New("paypal: order id is required")
	}
	path := "/v2/checkout/orders/" + url.PathEscape(ref)
	var order paypalOrder
	err := g.do(ctx, http.MethodPost, path+"/capture", "capture-"+ref, map[string]any{}, &order)
	if err != nil {
		var statusErr *HTTPStatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnprocessableEntity {
			return Verification{}, err
		}
		if !strings.Contains(statusErr.Body, "ORDER_ALREADY_CAPTURED") {
			// Not approved or declined: a definitive negative answer.
			g.logger(ctx, "payments.paypal.capture.rejected", map[string]any{"paypalOrderId": ref, "body": statusErr.Body})
			return Verification{Success: false, GatewayRef: ref, Status: "capture_rejected"}, nil
		}
		order = paypalOrder{}
		if err := g.do(ctx, http.MethodGet, path, "", nil, &order); err != nil {
			return Verification{}, err
		}
	}
	return paypalVerification(ref, order)
}

func paypalVerification(ref string, order paypalOrder) (Verification, error) {
	result := Verification{GatewayRef: ref, Status: order.Status}
	if order.Status != paypalStatusCompleted || len(order.PurchaseUnits) == 0 {
		return result, nil
	}
	unit := order.PurchaseUnits[0]
	if unit.Payments == nil || len(unit.Payments.Captures) == 0 {
		return result, nil
	}
	capture := unit.Payments.Captures[0]
	amount, err := ParseMinorUnits(capture.Amount.Value, capture.Amount.CurrencyCode)
	if err != nil {
		return Verification{}, err
	}
	result.Success = capture.Status == paypalStatusCompleted
	result.VerifiedAmount = amount
	result.Currency = strings.ToUpper(capture.Amount.CurrencyCode)
	return result, nil
}

func (g *PayPalGateway) do(ctx context.Context, method, path, requestID string, in, out any) error {
	token, err := g.accessToken(ctx)
	if err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("paypal: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}
	return g.send(req, path, out)
}

func (g *PayPalGateway) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock()
	if g.token != "" && now.Before(g.tokenExpiry) {
		return g.token, nil
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("paypal: build token request: %w", err)
	}
	req.SetBasicAuth(g.clientID, g.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := g.send(req, "/v1/oauth2/token", &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", errors.New("paypal: token response missing access_token")
	}
	g.token = resp.AccessToken
	g.tokenExpiry = now.Add(time.Duration(resp.ExpiresIn)*time.Second - paypalTokenSkew)
	return g.token, nil
}

func (g *PayPalGateway) send(req *http.Request, op string, out any) error {
	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("paypal: %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, paypalMaxErrorBody))
		return &HTTPStatusError{Operation: "paypal " + op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("paypal: decode %s: %w", op, err)
	}
	return nil
}

// FormatMinorUnits renders an integer minor-unit amount as the decimal string PayPal expects.
func FormatMinorUnits(amount int64, currency string) (string, error) {
	if amount < 0 {
		return "", fmt.Errorf("payments: negative amount %d", amount)
	}
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return strconv.FormatInt(amount, 10), nil
	}
	return fmt.Sprintf("%d.%02d", amount/100, amount%100), nil
}

// ParseMinorUnits is the inverse of FormatMinorUnits. It avoids floating point.
func ParseMinorUnits(value, currency string) (int64, error) {
	value = strings.TrimSpace(value)
	whole, frac, _ := strings.Cut(value, ".")
	digits := 2
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		digits = 0
	}
	if len(frac) > digits {
		return 0, fmt.Errorf("payments: amount %q has too many decimals", value)
	}
	frac += strings.Repeat("0", digits-len(frac))
	n, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("payments: invalid amount %q", value)
	}
	return n, nil
}
