package services

import (
	"fmt"
	"slices"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

// ParseOrderStatus validates a status name received from a caller.
func ParseOrderStatus(value string) (OrderStatus, bool) {
	status := OrderStatus(value)
	if slices.Contains(OrderStatuses(), status) {
		return status, true
	}
	return "", false
}

// OrderStatuses lists every order status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		domain.OrderStatusPending, domain.OrderStatusProcessing, domain.OrderStatusShipped,
		domain.OrderStatusDelivered, domain.OrderStatusCancelled,
	}
}

func canTransitionOrder(current, target OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

type orderTransition struct {
	target  OrderStatus
	actorID string
	reason  string
	forced  bool
}

// applyOrderTransition mutates order in place. It reports whether the caller must put the order's
// stock back; the StockRestored flag is claimed here so that happens at most once.
func applyOrderTransition(order *Order, change orderTransition, now time.Time) (bool, error) {
	current := order.Status
	if change.forced {
		if current == domain.OrderStatusCancelled && order.StockRestored && change.target != domain.OrderStatusCancelled {
			return false, fmt.Errorf("%w: order %s was cancelled and its stock restored", ErrInvalidTransition, order.ID)
		}
	} else if !canTransitionOrder(current, change.target) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, change.target)
	}

	order.Status = change.target
	order.UpdatedAt = now
	restore := false
	switch change.target {
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
		if change.reason != "" {
			order.CancelReason = change.reason
		}
		if !order.StockRestored {
			order.StockRestored = true
			restore = true
		}
	}
	order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
		From:      string(current),
		To:        string(change.target),
		ActorID:   change.actorID,
		Reason:    change.reason,
		Forced:    change.forced,
		ChangedAt: now,
	})
	return restore, nil
}
