// Package payments adapts hosted-checkout payment gateways behind a common interface.
package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrGatewayUnavailable is returned when no enabled gateway can serve the request.
	ErrGatewayUnavailable = errors.New("payments: no gateway available")
	// ErrUnknownGateway is returned when a callback names a gateway that is not registered.
	ErrUnknownGateway = errors.New("payments: unknown gateway")
)

// Logger receives structured gateway events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// LineItem is an order line shown on the hosted payment page.
type LineItem struct {
	Name     string
	Quantity int64
	Amount   int64
}

// InitiateRequest describes the amount a customer must pay for an order.
type InitiateRequest struct {
	OrderID        string
	OrderNumber    string
	Amount         int64
	Currency       string
	ReturnURL      string
	CancelURL      string
	CustomerEmail  string
	IdempotencyKey string
	Items          []LineItem
}

// InitiateResult is the redirect target plus the gateway's reference for the payment.
type InitiateResult struct {
	GatewayRef string
	PaymentURL string
	ExpiresAt  time.Time
}

// Callback carries what the browser return or webhook delivered.
type Callback struct {
	GatewayRef string
	Params     map[string]string
}

// Verification is the gateway's server-to-server answer for a payment.
type Verification struct {
	Success        bool
	GatewayRef     string
	VerifiedAmount int64
	Currency       string
	Status         string
}

// Gateway is implemented by each payment provider adapter.
type Gateway interface {
	ID() string
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	Verify(ctx context.Context, cb Callback) (Verification, error)
}

// Manager selects among registered gateways.
type Manager struct {
	gateways       map[string]Gateway
	enabled        map[string]bool
	defaultGateway string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaultGateway sets the gateway used when the caller does not pick one.
func WithDefaultGateway(id string) ManagerOption {
	return func(m *Manager) {
		m.defaultGateway = normaliseID(id)
	}
}

// WithEnabledGateways narrows the registered gateways that may initiate payments.
// Without it every registered gateway is enabled.
func WithEnabledGateways(ids ...string) ManagerOption {
	return func(m *Manager) {
		if len(ids) == 0 {
			return
		}
		m.enabled = make(map[string]bool, len(ids))
		for _, id := range ids {
			if key := normaliseID(id); key != "" {
				m.enabled[key] = true
			}
		}
	}
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(gateways []Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	m := &Manager{gateways: make(map[string]Gateway, len(gateways))}
	for _, gw := range gateways {
		if gw == nil {
			return nil, errors.New("payments: nil gateway registration")
		}
		key := normaliseID(gw.ID())
		if key == "" {
			return nil, errors.New("payments: gateway id is required")
		}
		if _, dup := m.gateways[key]; dup {
			return nil, fmt.Errorf("payments: gateway %q registered twice", key)
		}
		m.gateways[key] = gw
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Resolve picks the gateway for a new payment: the caller's override when enabled, else the
// configured default when enabled, else the only enabled gateway.
func (m *Manager) Resolve(override string) (Gateway, error) {
	if m == nil {
		return nil, ErrGatewayUnavailable
	}
	if key := normaliseID(override); key != "" {
		if m.isEnabled(key) {
			return m.gateways[key], nil
		}
		return nil, fmt.Errorf("%w: %s is not enabled", ErrGatewayUnavailable, key)
	}
	if m.defaultGateway != "" && m.isEnabled(m.defaultGateway) {
		return m.gateways[m.defaultGateway], nil
	}
	enabled := m.Enabled()
	if len(enabled) == 1 {
		return m.gateways[enabled[0]], nil
	}
	return nil, ErrGatewayUnavailable
}

// Gateway returns a registered gateway by id regardless of whether it is enabled, so callbacks
// for payments started before a configuration change still verify.
func (m *Manager) Gateway(id string) (Gateway, error) {
	if m != nil {
		if gw, ok := m.gateways[normaliseID(id)]; ok {
			return gw, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, id)
}

// Enabled lists the enabled gateway ids in sorted order.
func (m *Manager) Enabled() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.gateways))
	for key := range m.gateways {
		if m.isEnabled(key) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Manager) isEnabled(key string) bool {
	if _, ok := m.gateways[key]; !ok {
		return false
	}
	return m.enabled == nil || m.enabled[key]
}

// IdempotencyKey derives a stable key for initiating payment of an order on a gateway, so a
// retried initiation reuses the gateway-side payment.
func IdempotencyKey(orderID, gateway string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("payments:"+normaliseID(gateway)+":"+strings.TrimSpace(orderID))).String()
}

func normaliseID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func noopLogger(context.Context, string, map[string]any) {}
