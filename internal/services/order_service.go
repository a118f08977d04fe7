package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/textutil"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

const (
	orderIDPrefix       = "ord_"
	maxOrderNoteLength  = 2000
	maxOrderReasonRunes = 500
	defaultOrderPage    = 20
	maxOrderPage        = 100
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Pricing     PricingCalculator
	Coupons     CouponService
	Events      EventPublisher
	Settings    domain.StoreSettings
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	carts    repositories.CartRepository
	products repositories.ProductRepository
	pricing  PricingCalculator
	coupons  CouponService
	events   EventPublisher
	currency string
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing calculator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:   deps.Orders,
		carts:    deps.Carts,
		products: deps.Products,
		pricing:  deps.Pricing,
		coupons:  deps.Coupons,
		events:   deps.Events,
		currency: strings.ToUpper(strings.TrimSpace(deps.Settings.Checkout.Currency)),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder turns the owner's cart into a pending order. Stock is reserved line by line and
// given back if any line or the order insert fails.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return Order{}, validationError("user id is required")
	}
	methodID := strings.TrimSpace(cmd.ShippingMethodID)
	if methodID == "" {
		return Order{}, validationError("shipping method is required")
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodCOD, domain.PaymentMethodOnline:
	default:
		return Order{}, validationError("payment method must be %q or %q", domain.PaymentMethodCOD, domain.PaymentMethodOnline)
	}
	address, err := normaliseAddress(cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}

	cart, err := s.carts.Get(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, validationError("cart is empty")
		}
		return Order{}, mapRepositoryError("cart", err)
	}
	if cart.IsEmpty() {
		return Order{}, validationError("cart is empty")
	}
	currency := cart.Currency
	if currency == "" {
		currency = s.currency
	}

	breakdown, err := s.pricing.Calculate(ctx, PricingInput{
		Items:            cart.Items,
		ShippingMethodID: methodID,
		CouponCode:       cmd.CouponCode,
		Currency:         currency,
	})
	if err != nil {
		return Order{}, err
	}

	items := orderItemsFromCart(cart.Items)
	now := s.clock()
	orderID := orderIDPrefix + s.newID()
	logFields := map[string]any{"orderId": orderID, "userId": uid}

	if err := s.reserveStock(ctx, orderID, items); err != nil {
		return Order{}, err
	}

	order := Order{
		ID:               orderID,
		OrderNumber:      orderNumber(now),
		UserID:           uid,
		Items:            items,
		ShippingAddress:  address,
		ShippingMethodID: methodID,
		PaymentMethod:    cmd.PaymentMethod,
		CouponCode:       breakdown.CouponCode,
		ItemsPrice:       breakdown.ItemsPrice,
		ShippingPrice:    breakdown.ShippingPrice,
		TaxPrice:         breakdown.TaxPrice,
		Discount:         breakdown.Discount,
		TotalPrice:       breakdown.TotalPrice,
		Currency:         breakdown.Currency,
		Status:           domain.OrderStatusPending,
		StatusHistory: []domain.StatusChange{{
			To:        string(domain.OrderStatusPending),
			ActorID:   uid,
			ChangedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		logFields["error"] = err.Error()
		s.logger(ctx, "order.insert.failed", logFields)
		s.releaseStock(ctx, orderID, items)
		return Order{}, mapRepositoryError("order", err)
	}

	// The cart is only cleared if nothing touched it since checkout read it.
	if cleared, err := s.carts.DeleteIfUnchanged(ctx, uid, cart.UpdatedAt); err != nil {
		s.logger(ctx, "order.cart_clear.failed", map[string]any{"orderId": orderID, "userId": uid, "error": err.Error()})
	} else if !cleared {
		s.logger(ctx, "order.cart_retained", map[string]any{"orderId": orderID, "userId": uid, "reason": "cart changed during checkout"})
	}
	if order.CouponCode != "" && s.coupons != nil {
		if err := s.coupons.RecordUsage(ctx, order.CouponCode); err != nil {
			s.logger(ctx, "order.coupon_usage.failed", map[string]any{"orderId": orderID, "coupon": order.CouponCode, "error": err.Error()})
		}
	}
	s.publish(ctx, DomainEvent{
		Type:        EventOrderCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      string(order.Status),
		ActorID:     uid,
		Amount:      order.TotalPrice,
		Currency:    order.Currency,
		OccurredAt:  now,
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, query OrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, validationError("order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError("order", err)
	}
	if !query.IsAdmin && order.UserID != strings.TrimSpace(query.UserID) {
		// Foreign orders are reported as missing so ids cannot be enumerated.
		return Order{}, fmt.Errorf("%w: order", ErrNotFound)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[Order]{}, validationError("user id is required")
	}
	pager.PageSize = clampPageSize(pager.PageSize, defaultOrderPage, maxOrderPage)
	page, err := s.orders.ListByUser(ctx, uid, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError("order", err)
	}
	return page, nil
}

// TransitionStatus moves an order along the transition table. Cancelling puts stock back once.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	target, ok := ParseOrderStatus(string(cmd.TargetStatus))
	if !ok {
		return Order{}, validationError("unknown order status %q", cmd.TargetStatus)
	}
	notes := textutil.PlainText(cmd.AdminNotes, maxOrderNoteLength)
	return s.transition(ctx, cmd.OrderID, func(order *Order) error {
		if cmd.RequireUnpaid && order.IsPaid {
			return fmt.Errorf("%w: order %s was paid", ErrConflict, order.ID)
		}
		if notes != "" {
			order.AdminNotes = notes
		}
		return nil
	}, orderTransition{
		target:  target,
		actorID: strings.TrimSpace(cmd.ActorID),
		reason:  textutil.PlainText(cmd.Reason, maxOrderReasonRunes),
	})
}

// ForceSetStatus is the operator override. It ignores the transition table but never revives an
// order whose stock has already been put back.
func (s *orderService) ForceSetStatus(ctx context.Context, cmd ForceOrderStatusCommand) (Order, error) {
	target, ok := ParseOrderStatus(string(cmd.TargetStatus))
	if !ok {
		return Order{}, validationError("unknown order status %q", cmd.TargetStatus)
	}
	reason := textutil.PlainText(cmd.Reason, maxOrderReasonRunes)
	if reason == "" {
		return Order{}, validationError("a reason is required to force a status")
	}
	return s.transition(ctx, cmd.OrderID, nil, orderTransition{
		target:  target,
		actorID: strings.TrimSpace(cmd.ActorID),
		reason:  reason,
		forced:  true,
	})
}

func (s *orderService) transition(ctx context.Context, orderID string, precheck func(*Order) error, change orderTransition) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, validationError("order id is required")
	}
	now := s.clock()
	var (
		previous OrderStatus
		restore  bool
	)
	updated, err := s.orders.Update(ctx, orderID, func(order *Order) error {
		if precheck != nil {
			if err := precheck(order); err != nil {
				return err
			}
		}
		previous = order.Status
		var err error
		restore, err = applyOrderTransition(order, change, now)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrConflict) {
			return Order{}, err
		}
		return Order{}, mapRepositoryError("order", err)
	}

	if restore {
		s.releaseStock(ctx, updated.ID, updated.Items)
	}
	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId": updated.ID,
		"from":    string(previous),
		"to":      string(updated.Status),
		"actorId": change.actorID,
		"forced":  change.forced,
	})
	event := DomainEvent{
		Type:           EventOrderStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		Status:         string(updated.Status),
		PreviousStatus: string(previous),
		ActorID:        change.actorID,
		OccurredAt:     now,
	}
	if updated.Status == domain.OrderStatusCancelled && previous != domain.OrderStatusCancelled {
		event.Type = EventOrderCancelled
	}
	s.publish(ctx, event)
	return updated, nil
}

// reserveStock decrements each line in key order. On the first failure every line already taken
// is given back and ErrOutOfStock (or the mapped storage error) is returned.
func (s *orderService) reserveStock(ctx context.Context, orderID string, items []OrderItem) error {
	taken := make([]OrderItem, 0, len(items))
	for _, item := range items {
		if err := s.products.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger(ctx, "order.stock.reserve_failed", map[string]any{
				"orderId":   orderID,
				"productId": item.ProductID,
				"quantity":  item.Quantity,
				"error":     err.Error(),
			})
			s.releaseStock(ctx, orderID, taken)
			mapped := mapRepositoryError("product", err)
			if errors.Is(mapped, ErrOutOfStock) || errors.Is(mapped, ErrUnavailable) {
				return mapped
			}
			return fmt.Errorf("%w: product %s: %v", ErrOutOfStock, item.ProductID, err)
		}
		taken = append(taken, item)
	}
	return nil
}

// releaseStock is best effort; a failed increment is logged with enough context to repair by hand.
func (s *orderService) releaseStock(ctx context.Context, orderID string, items []OrderItem) {
	for _, item := range items {
		if err := s.products.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger(ctx, "order.stock.restore_failed", map[string]any{
				"orderId":   orderID,
				"productId": item.ProductID,
				"quantity":  item.Quantity,
				"error":     err.Error(),
			})
		}
	}
}

func (s *orderService) publish(ctx context.Context, event DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"status":  event.Status,
			"error":   err.Error(),
		})
	}
}

// orderItemsFromCart snapshots the cart lines sorted by key, which is also the reservation order.
func orderItemsFromCart(lines []CartItem) []OrderItem {
	items := make([]OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, OrderItem{
			ProductID:      line.ProductID,
			Name:           line.Name,
			Price:          line.Price,
			Quantity:       line.Quantity,
			VariantOptions: slices.Clone(line.VariantOptions),
		})
	}
	slices.SortFunc(items, func(a, b OrderItem) int { return strings.Compare(a.Key(), b.Key()) })
	return items
}

// orderNumber renders ORD-YYYYMMDD-XXXX using the random tail of a ulid.
func orderNumber(now time.Time) string {
	id := ulid.Make().String()
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), id[len(id)-4:])
}

func normaliseAddress(addr Address) (Address, error) {
	out := Address{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Phone:      strings.TrimSpace(addr.Phone),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      trimmedPtr(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		State:      trimmedPtr(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
	}
	var missing []string
	if out.Recipient == "" {
		missing = append(missing, "recipient")
	}
	if out.Line1 == "" {
		missing = append(missing, "line1")
	}
	if out.City == "" {
		missing = append(missing, "city")
	}
	if out.PostalCode == "" {
		missing = append(missing, "postalCode")
	}
	if out.Country == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return Address{}, validationError("shipping address is missing %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func clampPageSize(size, fallback, limit int) int {
	switch {
	case size <= 0:
		return fallback
	case size > limit:
		return limit
	}
	return size
}
