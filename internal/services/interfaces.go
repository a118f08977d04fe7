package services

import (
	"context"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Cart                = domain.Cart
	CartItem            = domain.CartItem
	VariantOption       = domain.VariantOption
	Order               = domain.Order
	OrderItem           = domain.OrderItem
	OrderStatus         = domain.OrderStatus
	RMA                 = domain.RMA
	RMAItem             = domain.RMAItem
	RMAStatus           = domain.RMAStatus
	Address             = domain.Address
	PricingBreakdown    = domain.PricingBreakdown
	AbandonedCartReport = domain.AbandonedCartReport
	EvidenceUpload      = domain.EvidenceUpload
	SystemHealthReport  = domain.SystemHealthReport
)

// CartService manages the owner's server-side cart and abandonment follow-ups.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
	SyncCart(ctx context.Context, cmd SyncCartCommand) (Cart, error)
	Quote(ctx context.Context, cmd QuoteCartCommand) (PricingBreakdown, error)
	ListAbandoned(ctx context.Context, filter AbandonedCartFilter) (AbandonedCartReport, error)
	RemindByEmail(ctx context.Context, cartID string) error
	RemindBySMS(ctx context.Context, cartID string) error
}

// CouponService validates discount codes against a subtotal.
type CouponService interface {
	Validate(ctx context.Context, code string, subtotal int64) (CouponResult, error)
	RecordUsage(ctx context.Context, code string) error
}

// PricingCalculator prices a set of cart lines.
type PricingCalculator interface {
	Calculate(ctx context.Context, input PricingInput) (PricingBreakdown, error)
}

// OrderService converts carts into orders and drives the order state machine.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, query OrderQuery) (Order, error)
	ListOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error)
	ForceSetStatus(ctx context.Context, cmd ForceOrderStatusCommand) (Order, error)
}

// PaymentService initiates gateway payments and reconciles their callbacks. When verification
// fails for a known order, HandleCallback returns that order alongside the error.
type PaymentService interface {
	InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error)
	HandleCallback(ctx context.Context, cb PaymentCallback) (Order, error)
}

// RMAService manages return requests.
type RMAService interface {
	CreateRMA(ctx context.Context, cmd CreateRMACommand) (RMA, error)
	GetRMA(ctx context.Context, query RMAQuery) (RMA, error)
	ListRMAs(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[RMA], error)
	ListRMAsForAdmin(ctx context.Context, filter AdminRMAFilter) (domain.CursorPage[RMA], error)
	TransitionStatus(ctx context.Context, cmd RMAStatusCommand) (RMA, error)
	CreateEvidenceUpload(ctx context.Context, cmd EvidenceUploadCommand) (EvidenceUpload, error)
}

// SweepService runs the scheduled maintenance jobs.
type SweepService interface {
	PurgeStaleCarts(ctx context.Context) (SweepReport, error)
	CancelUnpaidOrders(ctx context.Context) (SweepReport, error)
	Run(ctx context.Context, job string) (SweepReport, error)
}

// SystemService exposes health and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// EventPublisher emits lifecycle events to downstream consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event DomainEvent) error
}

// NotificationSink delivers customer reminders over email or SMS.
type NotificationSink interface {
	SendReminderEmail(ctx context.Context, msg ReminderMessage) error
	SendReminderSMS(ctx context.Context, msg ReminderMessage) error
}

// ContactDirectory resolves how to reach a customer.
type ContactDirectory interface {
	Contact(ctx context.Context, userID string) (domain.CustomerContact, error)
}

// EvidenceStorage issues signed URLs for RMA photos.
type EvidenceStorage interface {
	SignEvidenceUpload(ctx context.Context, rmaID, contentType string) (EvidenceUpload, error)
	SignEvidenceDownload(ctx context.Context, objectPath string) (string, error)
}

// GatewayResolver selects payment gateways. *payments.Manager implements it.
type GatewayResolver interface {
	Resolve(override string) (payments.Gateway, error)
	Gateway(id string) (payments.Gateway, error)
}

// Event types published through EventPublisher.
const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
	EventRMACreated         = "rma.created"
	EventRMAStatusChanged   = "rma.status_changed"
	EventRMACompleted       = "rma.completed"
)

// DomainEvent is the payload of an order or RMA lifecycle event.
type DomainEvent struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId,omitempty"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	RMAID          string    `json:"rmaId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	ActorID        string    `json:"actorId,omitempty"`
	Amount         int64     `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Reminder kinds.
const (
	ReminderAbandonedCart = "abandoned_cart"
	ReminderCartExpiry    = "cart_expiry"
)

// ReminderMessage is handed to the notification sink. DedupeKey is stable for a given cart state
// so the transport can drop repeats.
type ReminderMessage struct {
	Kind        string    `json:"kind"`
	UserID      string    `json:"userId"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	ItemCount   int       `json:"itemCount"`
	CartValue   int64     `json:"cartValue"`
	Currency    string    `json:"currency,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
	ResumeURL   string    `json:"resumeUrl,omitempty"`
	DedupeKey   string    `json:"dedupeKey"`
}

// AddCartItemCommand adds quantity of a product variant to the owner's cart.
type AddCartItemCommand struct {
	UserID         string
	ProductID      string
	Quantity       int
	VariantOptions []VariantOption
}

// UpdateCartItemCommand sets the quantity of an existing line.
type UpdateCartItemCommand struct {
	UserID         string
	ProductID      string
	VariantOptions []VariantOption
	Quantity       int
}

// RemoveCartItemCommand removes a line.
type RemoveCartItemCommand struct {
	UserID         string
	ProductID      string
	VariantOptions []VariantOption
}

// SyncCartItem is a line held client-side before login.
type SyncCartItem struct {
	ProductID      string
	Quantity       int
	VariantOptions []VariantOption
}

// SyncCartCommand merges a client-side cart into the server cart.
type SyncCartCommand struct {
	UserID string
	Items  []SyncCartItem
}

// QuoteCartCommand prices the owner's cart without placing an order.
type QuoteCartCommand struct {
	UserID           string
	ShippingMethodID string
	CouponCode       string
}

// AbandonedCartFilter selects carts last touched between DaysAgo and HoursAgo.
type AbandonedCartFilter struct {
	HoursAgo int
	DaysAgo  int
}

// CouponResult is a validated coupon and the discount it grants.
type CouponResult struct {
	Code     string
	Discount int64
}

// PricingInput is what the calculator prices.
type PricingInput struct {
	Items            []CartItem
	ShippingMethodID string
	CouponCode       string
	Currency         string
}

// CreateOrderCommand places an order from the owner's cart.
type CreateOrderCommand struct {
	UserID           string
	ShippingAddress  Address
	ShippingMethodID string
	PaymentMethod    domain.PaymentMethod
	CouponCode       string
}

// OrderQuery reads a single order. Non-admin callers only see their own orders.
type OrderQuery struct {
	OrderID string
	UserID  string
	IsAdmin bool
}

// OrderStatusCommand moves an order along the transition table. RequireUnpaid makes the change
// conditional on the order still being unpaid when the write commits.
type OrderStatusCommand struct {
	OrderID       string
	ActorID       string
	TargetStatus  OrderStatus
	AdminNotes    string
	Reason        string
	RequireUnpaid bool
}

// ForceOrderStatusCommand sets a status outside the transition table. Reason is mandatory.
type ForceOrderStatusCommand struct {
	OrderID      string
	ActorID      string
	TargetStatus OrderStatus
	Reason       string
}

// InitiatePaymentCommand starts an online payment for a pending order.
type InitiatePaymentCommand struct {
	UserID  string
	OrderID string
	Gateway string
}

// PaymentInitiation is returned to the client for redirecting to the gateway.
type PaymentInitiation struct {
	OrderID    string
	Gateway    string
	GatewayRef string
	PaymentURL string
	ExpiresAt  time.Time
}

// PaymentCallback is a gateway return or webhook notification.
type PaymentCallback struct {
	Gateway    string
	GatewayRef string
	Params     map[string]string
}

// CreateRMAItem names a returned quantity of an order line.
type CreateRMAItem struct {
	ProductID      string
	VariantOptions []VariantOption
	Quantity       int
}

// CreateRMACommand opens a return request.
type CreateRMACommand struct {
	UserID  string
	OrderID string
	Items   []CreateRMAItem
	Reason  string
}

// RMAQuery reads a single RMA. Non-admin callers only see their own.
type RMAQuery struct {
	RMAID   string
	UserID  string
	IsAdmin bool
}

// AdminRMAFilter lists RMAs across customers.
type AdminRMAFilter struct {
	Status     []RMAStatus
	Pagination Pagination
}

// RMAStatusCommand moves an RMA along its transition table.
type RMAStatusCommand struct {
	RMAID        string
	ActorID      string
	TargetStatus RMAStatus
	RefundAmount *int64
	AdminNotes   string
}

// EvidenceUploadCommand requests a signed upload for an RMA photo.
type EvidenceUploadCommand struct {
	RMAID       string
	UserID      string
	ContentType string
}

// Sweep job names.
const (
	SweepJobCartPurge    = "cart-purge"
	SweepJobUnpaidOrders = "unpaid-orders"
)

// SweepReport summarises one sweep run. Acquired is false when another instance held the lease.
type SweepReport struct {
	Job       string
	Acquired  bool
	Processed int
	Warned    int
	Failed    int
	StartedAt time.Time
	Duration  time.Duration
}
