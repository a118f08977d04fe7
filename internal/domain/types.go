package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// VariantOption is a single name/value selection such as colour=red.
type VariantOption struct {
	Name  string
	Value string
}

// Cart aggregates the mutable shopping cart state for a user. The document id is the owner UID.
type Cart struct {
	ID             string
	UserID         string
	Currency       string
	Items          []CartItem
	ExpiryWarnedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsEmpty reports whether the cart carries no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// CartItem stores a single line within a cart. Name and Price are captured when the line is added.
type CartItem struct {
	ProductID      string
	Name           string
	Price          int64
	Quantity       int
	VariantOptions []VariantOption
	AddedAt        time.Time
}

// Key returns the identity key of the line.
func (i CartItem) Key() string {
	return CartItemKey(i.ProductID, i.VariantOptions)
}

// AbandonedCartStats aggregates the carts returned by an abandonment query.
type AbandonedCartStats struct {
	CartCount  int
	ItemCount  int
	TotalValue int64
}

// AbandonedCartReport is the result of an abandonment window query.
type AbandonedCartReport struct {
	Carts       []Cart
	Stats       AbandonedCartStats
	WindowStart time.Time
	WindowEnd   time.Time
}

// DiscountType enumerates coupon discount rules.
type DiscountType string

const (
	// DiscountTypeFixed subtracts a fixed amount.
	DiscountTypeFixed DiscountType = "fixed"
	// DiscountTypePercentage subtracts a percentage of the subtotal.
	DiscountTypePercentage DiscountType = "percentage"
)

// Coupon describes a discount code.
type Coupon struct {
	Code          string
	DiscountType  DiscountType
	Value         int64
	MaxDiscount   int64
	MinOrderValue int64
	UsageLimit    int
	UsageCount    int
	Active        bool
	StartsAt      time.Time
	EndsAt        time.Time
}

// Product mirrors the catalog fields the checkout pipeline consumes.
type Product struct {
	ID             string
	Name           string
	Price          int64
	Stock          int
	IsActive       bool
	VariantOptions map[string][]string
	UpdatedAt      time.Time
}

// ShippingCostFlat is the only cost type currently supported.
const ShippingCostFlat = "flat"

// ShippingMethod is a selectable delivery option.
type ShippingMethod struct {
	ID       string
	Name     string
	Cost     int64
	CostType string
	IsActive bool
}

// Address captures the shipping destination copied onto an order.
type Address struct {
	Recipient  string
	Phone      string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
}

// PaymentMethod enumerates how an order is settled.
type PaymentMethod string

const (
	// PaymentMethodCOD settles the order on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodOnline settles the order through a payment gateway.
	PaymentMethodOnline PaymentMethod = "online"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits payment or manual progression.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is paid (or accepted for COD) and is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled and its stock restored.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus enumerates gateway payment states recorded on an order.
type PaymentStatus string

const (
	PaymentStatusInitiated PaymentStatus = "initiated"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentResult records the gateway interaction for an order.
type PaymentResult struct {
	Gateway        string
	GatewayRef     string
	Status         PaymentStatus
	VerifiedAmount int64
	PaymentURL     string
	FailureReason  string
	UpdatedAt      time.Time
}

// PaymentAttempt is one gateway session opened for an order. Every attempt stays on the order so
// a late callback for an earlier session still finds it.
type PaymentAttempt struct {
	Gateway     string
	GatewayRef  string
	InitiatedAt time.Time
}

// PaymentAttemptKey is the lookup key stored for each attempt.
func PaymentAttemptKey(gateway, gatewayRef string) string {
	return gateway + ":" + gatewayRef
}

// StatusChange is an entry in an order or RMA status history.
type StatusChange struct {
	From      string
	To        string
	ActorID   string
	Reason    string
	Forced    bool
	ChangedAt time.Time
}

// Order is an immutable item snapshot plus mutable fulfilment and payment state.
type Order struct {
	ID               string
	OrderNumber      string
	UserID           string
	Items            []OrderItem
	ShippingAddress  Address
	ShippingMethodID string
	PaymentMethod    PaymentMethod
	PaymentResult    *PaymentResult
	PaymentAttempts  []PaymentAttempt
	CouponCode       string
	ItemsPrice       int64
	ShippingPrice    int64
	TaxPrice         int64
	Discount         int64
	TotalPrice       int64
	Currency         string
	IsPaid           bool
	PaidAt           *time.Time
	Status           OrderStatus
	ShippedAt        *time.Time
	DeliveredAt      *time.Time
	CancelledAt      *time.Time
	CancelReason     string
	AdminNotes       string
	StockRestored    bool
	StatusHistory    []StatusChange
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasPaymentAttempt reports whether the gateway reference was issued for this order.
func (o Order) HasPaymentAttempt(gateway, gatewayRef string) bool {
	for _, attempt := range o.PaymentAttempts {
		if attempt.Gateway == gateway && attempt.GatewayRef == gatewayRef {
			return true
		}
	}
	return false
}

// OrderItem mirrors a cart line at checkout time.
type OrderItem struct {
	ProductID      string
	Name           string
	Price          int64
	Quantity       int
	VariantOptions []VariantOption
}

// Key returns the identity key of the line.
func (i OrderItem) Key() string {
	return CartItemKey(i.ProductID, i.VariantOptions)
}

// RMAStatus enumerates return lifecycle states.
type RMAStatus string

const (
	RMAStatusPending    RMAStatus = "pending"
	RMAStatusApproved   RMAStatus = "approved"
	RMAStatusRejected   RMAStatus = "rejected"
	RMAStatusProcessing RMAStatus = "processing"
	RMAStatusCompleted  RMAStatus = "completed"
)

// RMA is a return request against a subset of a delivered order's items.
type RMA struct {
	ID            string
	OrderID       string
	UserID        string
	Items         []RMAItem
	Reason        string
	Status        RMAStatus
	RefundAmount  int64
	AdminNotes    string
	Evidence      []string
	StatusHistory []StatusChange
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// RMAItem is a returned quantity of one order line.
type RMAItem struct {
	ProductID      string
	Name           string
	Price          int64
	Quantity       int
	VariantOptions []VariantOption
}

// Key returns the identity key of the returned line.
func (i RMAItem) Key() string {
	return CartItemKey(i.ProductID, i.VariantOptions)
}

// ReturnedSubtotal sums price×quantity over the returned lines.
func (r RMA) ReturnedSubtotal() int64 {
	var total int64
	for _, item := range r.Items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

// CustomerContact is the reachable identity of a cart or order owner.
type CustomerContact struct {
	UserID      string
	Email       string
	Phone       string
	DisplayName string
}

// EvidenceUpload is a signed upload target for an RMA photo.
type EvidenceUpload struct {
	ObjectPath string
	URL        string
	Method     string
	Headers    map[string]string
	ExpiresAt  time.Time
}

// CartSettings is the cart TTL policy. It only drives the purge sweep.
type CartSettings struct {
	CartTTLHours         int
	AutoExpireEnabled    bool
	PermanentCart        bool
	ExpiryWarningEnabled bool
	ExpiryWarningMinutes int
}

// PaymentSettings captures the configured gateway selection.
type PaymentSettings struct {
	ActiveGateway string
	Enabled       map[string]bool
}

// CheckoutSettings captures order-level policy.
type CheckoutSettings struct {
	Currency           string
	ReturnWindow       time.Duration
	UnpaidOrderTimeout time.Duration
}

// StoreSettings is the explicit settings object injected into services at construction.
type StoreSettings struct {
	Cart     CartSettings
	Payment  PaymentSettings
	Checkout CheckoutSettings
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
