package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/payments"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

var errPaymentNotPending = errors.New("payment: order no longer awaits payment")

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders        repositories.OrderRepository
	Gateways      GatewayResolver
	Contacts      ContactDirectory
	Events        EventPublisher
	Retry         payments.RetryPolicy
	PublicBaseURL string
	StorefrontURL string
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders        repositories.OrderRepository
	gateways      GatewayResolver
	contacts      ContactDirectory
	events        EventPublisher
	retry         payments.RetryPolicy
	publicBaseURL string
	storefrontURL string
	clock         func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewPaymentService constructs the payment initiation and reconciliation service.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payment service: gateway resolver is required")
	}
	base := strings.TrimRight(strings.TrimSpace(deps.PublicBaseURL), "/")
	if base == "" {
		return nil, errors.New("payment service: public base url is required")
	}
	retry := deps.Retry
	if retry.Timeout <= 0 {
		retry = payments.DefaultRetryPolicy(0)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{
		orders:        deps.Orders,
		gateways:      deps.Gateways,
		contacts:      deps.Contacts,
		events:        deps.Events,
		retry:         retry,
		publicBaseURL: base,
		storefrontURL: strings.TrimRight(strings.TrimSpace(deps.StorefrontURL), "/"),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// InitiatePayment opens a gateway payment for a pending online order. A gateway failure leaves the
// order untouched.
func (s *paymentService) InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (PaymentInitiation, error) {
	uid := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if uid == "" || orderID == "" {
		return PaymentInitiation{}, validationError("user id and order id are required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentInitiation{}, mapRepositoryError("order", err)
	}
	if order.UserID != uid {
		return PaymentInitiation{}, fmt.Errorf("%w: order", ErrNotFound)
	}
	if order.PaymentMethod != domain.PaymentMethodOnline {
		return PaymentInitiation{}, validationError("order %s is not an online payment order", orderID)
	}
	if err := awaitingPayment(order); err != nil {
		return PaymentInitiation{}, err
	}

	gateway, err := s.gateways.Resolve(cmd.Gateway)
	if err != nil {
		if errors.Is(err, payments.ErrUnknownGateway) {
			return PaymentInitiation{}, validationError("unknown gateway %q", cmd.Gateway)
		}
		return PaymentInitiation{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	gatewayID := gateway.ID()
	fields := map[string]any{"orderId": orderID, "gateway": gatewayID}

	req := payments.InitiateRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Amount:         order.TotalPrice,
		Currency:       order.Currency,
		ReturnURL:      s.publicBaseURL + "/api/v1/payments/" + url.PathEscape(gatewayID) + "/return",
		CancelURL:      s.orderPageURL(order.ID, "cancelled"),
		CustomerEmail:  s.customerEmail(ctx, order.UserID),
		IdempotencyKey: payments.IdempotencyKey(order.ID, gatewayID),
		Items:          gatewayLineItems(order),
	}
	result, err := payments.CallWithRetry(ctx, s.retry, func(ctx context.Context) (payments.InitiateResult, error) {
		return gateway.Initiate(ctx, req)
	})
	if err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "payment.initiate.failed", fields)
		return PaymentInitiation{}, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	fields["gatewayRef"] = result.GatewayRef

	now := s.clock()
	_, err = s.orders.Update(ctx, order.ID, func(current *Order) error {
		if err := awaitingPayment(*current); err != nil {
			return err
		}
		current.PaymentResult = &domain.PaymentResult{
			Gateway:    gatewayID,
			GatewayRef: result.GatewayRef,
			Status:     domain.PaymentStatusInitiated,
			PaymentURL: result.PaymentURL,
			UpdatedAt:  now,
		}
		if !current.HasPaymentAttempt(gatewayID, result.GatewayRef) {
			current.PaymentAttempts = append(current.PaymentAttempts, domain.PaymentAttempt{
				Gateway:     gatewayID,
				GatewayRef:  result.GatewayRef,
				InitiatedAt: now,
			})
		}
		current.UpdatedAt = now
		return nil
	})
	if err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "payment.initiate.record_failed", fields)
		if errors.Is(err, ErrInvalidTransition) {
			return PaymentInitiation{}, err
		}
		return PaymentInitiation{}, mapRepositoryError("order", err)
	}
	s.logger(ctx, "payment.initiated", fields)

	return PaymentInitiation{
		OrderID:    order.ID,
		Gateway:    gatewayID,
		GatewayRef: result.GatewayRef,
		PaymentURL: result.PaymentURL,
		ExpiresAt:  result.ExpiresAt,
	}, nil
}

// HandleCallback reconciles a gateway return or webhook. Replays for an already paid order are
// no-ops, so both surfaces can deliver the same payment.
func (s *paymentService) HandleCallback(ctx context.Context, cb PaymentCallback) (Order, error) {
	gatewayID := strings.ToLower(strings.TrimSpace(cb.Gateway))
	ref := strings.TrimSpace(cb.GatewayRef)
	if gatewayID == "" || ref == "" {
		return Order{}, validationError("gateway and gateway reference are required")
	}
	fields := map[string]any{"gateway": gatewayID, "gatewayRef": ref}

	gateway, err := s.gateways.Gateway(gatewayID)
	if err != nil {
		return Order{}, validationError("unknown gateway %q", gatewayID)
	}
	order, err := s.orders.FindByGatewayRef(ctx, gatewayID, ref)
	if err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "payment.callback.order_lookup_failed", fields)
		return Order{}, mapRepositoryError("order", err)
	}
	fields["orderId"] = order.ID
	if order.IsPaid {
		if p := order.PaymentResult; p != nil && (p.Gateway != gatewayID || p.GatewayRef != ref) {
			fields["settledBy"] = domain.PaymentAttemptKey(p.Gateway, p.GatewayRef)
			s.logger(ctx, "payment.callback.settled_elsewhere", fields)
			return order, nil
		}
		s.logger(ctx, "payment.callback.replayed", fields)
		return order, nil
	}

	verification, err := payments.CallWithRetry(ctx, s.retry, func(ctx context.Context) (payments.Verification, error) {
		return gateway.Verify(ctx, payments.Callback{GatewayRef: ref, Params: cb.Params})
	})
	if err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "payment.verify.failed", fields)
		return order, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	fields["verifiedAmount"] = verification.VerifiedAmount
	fields["gatewayStatus"] = verification.Status

	if !verification.Success {
		s.recordFailure(ctx, order.ID, ref, verification.VerifiedAmount, "gateway reported "+verification.Status)
		s.logger(ctx, "payment.verify.declined", fields)
		return order, fmt.Errorf("%w: payment not completed (%s)", ErrGateway, verification.Status)
	}
	if verification.VerifiedAmount != order.TotalPrice ||
		(verification.Currency != "" && !strings.EqualFold(verification.Currency, order.Currency)) {
		reason := fmt.Sprintf("verified %d %s, expected %d %s", verification.VerifiedAmount, verification.Currency, order.TotalPrice, order.Currency)
		s.recordFailure(ctx, order.ID, ref, verification.VerifiedAmount, reason)
		fields["expectedAmount"] = order.TotalPrice
		s.logger(ctx, "payment.verify.amount_mismatch", fields)
		return order, fmt.Errorf("%w: %s", ErrAmountMismatch, reason)
	}

	now := s.clock()
	var (
		markedPaid bool
		previous   OrderStatus
	)
	updated, err := s.orders.Update(ctx, order.ID, func(current *Order) error {
		markedPaid = false
		if current.IsPaid {
			return nil
		}
		previous = current.Status
		current.IsPaid = true
		current.PaidAt = &now
		current.UpdatedAt = now
		current.PaymentResult = &domain.PaymentResult{
			Gateway:        gatewayID,
			GatewayRef:     ref,
			Status:         domain.PaymentStatusPaid,
			VerifiedAmount: verification.VerifiedAmount,
			PaymentURL:     paymentURLOf(current.PaymentResult),
			UpdatedAt:      now,
		}
		markedPaid = true
		if current.Status == domain.OrderStatusPending {
			_, err := applyOrderTransition(current, orderTransition{
				target:  domain.OrderStatusProcessing,
				actorID: "gateway:" + gatewayID,
				reason:  "payment verified",
			}, now)
			return err
		}
		return nil
	})
	if err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "payment.settle.failed", fields)
		return Order{}, mapRepositoryError("order", err)
	}
	if !markedPaid {
		s.logger(ctx, "payment.callback.replayed", fields)
		return updated, nil
	}
	if previous == domain.OrderStatusCancelled {
		// The unpaid sweep won the race; the money needs to go back by hand.
		s.logger(ctx, "payment.settled_after_cancel", fields)
	} else {
		s.logger(ctx, "payment.settled", fields)
	}
	s.publish(ctx, DomainEvent{
		Type:           EventOrderPaid,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		Status:         string(updated.Status),
		PreviousStatus: string(previous),
		ActorID:        "gateway:" + gatewayID,
		Amount:         verification.VerifiedAmount,
		Currency:       updated.Currency,
		OccurredAt:     now,
	})
	return updated, nil
}

// orderPageURL is the storefront page a shopper returns to.
func (s *paymentService) orderPageURL(orderID, outcome string) string {
	base := s.storefrontURL
	if base == "" {
		base = s.publicBaseURL
	}
	return base + "/orders/" + url.PathEscape(orderID) + "?payment=" + url.QueryEscape(outcome)
}

func (s *paymentService) recordFailure(ctx context.Context, orderID, ref string, verified int64, reason string) {
	now := s.clock()
	_, err := s.orders.Update(ctx, orderID, func(current *Order) error {
		if current.IsPaid {
			return nil
		}
		result := domain.PaymentResult{}
		if current.PaymentResult != nil {
			result = *current.PaymentResult
		}
		if result.GatewayRef != "" && result.GatewayRef != ref {
			// A newer payment attempt owns the record.
			return nil
		}
		result.GatewayRef = ref
		result.Status = domain.PaymentStatusFailed
		result.VerifiedAmount = verified
		result.FailureReason = reason
		result.UpdatedAt = now
		current.PaymentResult = &result
		current.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.logger(ctx, "payment.failure.record_failed", map[string]any{
			"orderId":    orderID,
			"gatewayRef": ref,
			"error":      err.Error(),
		})
	}
}

func (s *paymentService) customerEmail(ctx context.Context, userID string) string {
	if s.contacts == nil {
		return ""
	}
	contact, err := s.contacts.Contact(ctx, userID)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(contact.Email)
}

func (s *paymentService) publish(ctx context.Context, event DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func awaitingPayment(order Order) error {
	if order.IsPaid || order.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: %v (status %s)", ErrInvalidTransition, errPaymentNotPending, order.Status)
	}
	return nil
}

func gatewayLineItems(order Order) []payments.LineItem {
	items := make([]payments.LineItem, 0, len(order.Items)+1)
	for _, item := range order.Items {
		items = append(items, payments.LineItem{Name: item.Name, Quantity: int64(item.Quantity), Amount: item.Price})
	}
	if order.ShippingPrice > 0 {
		items = append(items, payments.LineItem{Name: "Shipping", Quantity: 1, Amount: order.ShippingPrice})
	}
	return items
}

func paymentURLOf(result *domain.PaymentResult) string {
	if result == nil {
		return ""
	}
	return result.PaymentURL
}
