package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/lease"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

const (
	defaultSweepLeaseTTL  = 4 * time.Minute
	defaultSweepBatchSize = 200
	sweepActorID          = "system:sweep"
)

// SweepServiceDeps bundles collaborators required by the maintenance sweeps.
type SweepServiceDeps struct {
	Carts         repositories.CartRepository
	Orders        repositories.OrderRepository
	OrderService  OrderService
	Leases        lease.Locker
	Contacts      ContactDirectory
	Notifications NotificationSink
	Settings      domain.StoreSettings
	StorefrontURL string
	LeaseTTL      time.Duration
	BatchSize     int
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type sweepService struct {
	carts         repositories.CartRepository
	orders        repositories.OrderRepository
	orderService  OrderService
	leases        lease.Locker
	contacts      ContactDirectory
	notifications NotificationSink
	cart          domain.CartSettings
	unpaidTimeout time.Duration
	storefrontURL string
	leaseTTL      time.Duration
	batchSize     int
	clock         func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewSweepService constructs the lease-guarded sweep runner.
func NewSweepService(deps SweepServiceDeps) (SweepService, error) {
	if deps.Carts == nil {
		return nil, errors.New("sweep service: cart repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("sweep service: order repository is required")
	}
	if deps.OrderService == nil {
		return nil, errors.New("sweep service: order service is required")
	}
	if deps.Leases == nil {
		return nil, errors.New("sweep service: lease locker is required")
	}
	ttl := deps.LeaseTTL
	if ttl <= 0 {
		ttl = defaultSweepLeaseTTL
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &sweepService{
		carts:         deps.Carts,
		orders:        deps.Orders,
		orderService:  deps.OrderService,
		leases:        deps.Leases,
		contacts:      deps.Contacts,
		notifications: deps.Notifications,
		cart:          deps.Settings.Cart,
		unpaidTimeout: deps.Settings.Checkout.UnpaidOrderTimeout,
		storefrontURL: strings.TrimRight(strings.TrimSpace(deps.StorefrontURL), "/"),
		leaseTTL:      ttl,
		batchSize:     batch,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Run dispatches a sweep by job name.
func (s *sweepService) Run(ctx context.Context, job string) (SweepReport, error) {
	switch strings.TrimSpace(job) {
	case SweepJobCartPurge:
		return s.PurgeStaleCarts(ctx)
	case SweepJobUnpaidOrders:
		return s.CancelUnpaidOrders(ctx)
	}
	return SweepReport{}, fmt.Errorf("%w: unknown sweep job %q", ErrNotFound, job)
}

// PurgeStaleCarts deletes carts idle for longer than the cart TTL and, when enabled, warns owners
// once before their cart goes.
func (s *sweepService) PurgeStaleCarts(ctx context.Context) (SweepReport, error) {
	return s.withLease(ctx, SweepJobCartPurge, func(ctx context.Context, report *SweepReport) error {
		if !s.cart.AutoExpireEnabled || s.cart.PermanentCart || s.cart.CartTTLHours <= 0 {
			return nil
		}
		now := s.clock()
		ttl := time.Duration(s.cart.CartTTLHours) * time.Hour
		cutoff := now.Add(-ttl)

		stale, err := s.carts.ListUpdatedBefore(ctx, cutoff, s.batchSize)
		if err != nil {
			return mapRepositoryError("cart", err)
		}
		for _, cart := range stale {
			// DeleteIfStale re-checks inside a transaction so a cart touched since the query survives.
			deleted, err := s.carts.DeleteIfStale(ctx, cart.UserID, cutoff)
			if err != nil {
				report.Failed++
				s.logger(ctx, "sweep.cart_purge.delete_failed", map[string]any{"cartId": cart.ID, "error": err.Error()})
				continue
			}
			if deleted {
				report.Processed++
			}
		}

		if !s.cart.ExpiryWarningEnabled || s.cart.ExpiryWarningMinutes <= 0 || s.notifications == nil || s.contacts == nil {
			return nil
		}
		warnFrom := cutoff
		warnTo := cutoff.Add(time.Duration(s.cart.ExpiryWarningMinutes) * time.Minute)
		expiring, err := s.carts.ListUpdatedBetween(ctx, warnFrom, warnTo)
		if err != nil {
			return mapRepositoryError("cart", err)
		}
		for _, cart := range expiring {
			if cart.IsEmpty() || cart.ExpiryWarnedAt != nil {
				continue
			}
			if err := s.warnExpiry(ctx, cart, cart.UpdatedAt.Add(ttl), now); err != nil {
				report.Failed++
				s.logger(ctx, "sweep.cart_purge.warning_failed", map[string]any{"cartId": cart.ID, "error": err.Error()})
				continue
			}
			report.Warned++
		}
		return nil
	})
}

func (s *sweepService) warnExpiry(ctx context.Context, cart Cart, expiresAt, now time.Time) error {
	contact, err := s.contacts.Contact(ctx, cart.UserID)
	if err != nil {
		return err
	}
	email := strings.TrimSpace(contact.Email)
	if email == "" {
		return fmt.Errorf("customer %s has no email address", cart.UserID)
	}
	items := 0
	for _, item := range cart.Items {
		items += item.Quantity
	}
	msg := ReminderMessage{
		Kind:        ReminderCartExpiry,
		UserID:      cart.UserID,
		Email:       email,
		DisplayName: contact.DisplayName,
		ItemCount:   items,
		CartValue:   domain.ItemsPrice(cart.Items),
		Currency:    cart.Currency,
		ExpiresAt:   expiresAt,
		DedupeKey:   reminderDedupeKey(cart, reminderChannelEmail, ReminderCartExpiry),
	}
	if s.storefrontURL != "" {
		msg.ResumeURL = s.storefrontURL + "/cart"
	}
	if err := s.notifications.SendReminderEmail(ctx, msg); err != nil {
		return err
	}
	return s.carts.MarkExpiryWarned(ctx, cart.UserID, now)
}

// CancelUnpaidOrders cancels online orders that stayed unpaid past the timeout. The cancellation
// only commits while the order is still unpaid, so a late payment wins.
func (s *sweepService) CancelUnpaidOrders(ctx context.Context) (SweepReport, error) {
	return s.withLease(ctx, SweepJobUnpaidOrders, func(ctx context.Context, report *SweepReport) error {
		if s.unpaidTimeout <= 0 {
			return nil
		}
		before := s.clock().Add(-s.unpaidTimeout)
		orders, err := s.orders.ListUnpaidBefore(ctx, before, s.batchSize)
		if err != nil {
			return mapRepositoryError("order", err)
		}
		for _, order := range orders {
			if order.PaymentMethod != domain.PaymentMethodOnline {
				continue
			}
			_, err := s.orderService.TransitionStatus(ctx, OrderStatusCommand{
				OrderID:       order.ID,
				ActorID:       sweepActorID,
				TargetStatus:  domain.OrderStatusCancelled,
				Reason:        "payment not received in time",
				RequireUnpaid: true,
			})
			switch {
			case err == nil:
				report.Processed++
			case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
				// Paid or moved on since the query.
			default:
				report.Failed++
				s.logger(ctx, "sweep.unpaid_orders.cancel_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
			}
		}
		return nil
	})
}

func (s *sweepService) withLease(ctx context.Context, job string, fn func(context.Context, *SweepReport) error) (SweepReport, error) {
	started := s.clock()
	report := SweepReport{Job: job, StartedAt: started}
	held, ok, err := s.leases.Acquire(ctx, "sweep:"+job, s.leaseTTL)
	if err != nil {
		return report, fmt.Errorf("%w: acquire sweep lease: %v", ErrUnavailable, err)
	}
	if !ok {
		s.logger(ctx, "sweep.skipped", map[string]any{"job": job, "reason": "lease held"})
		return report, nil
	}
	report.Acquired = true
	defer func() {
		// Release on a fresh context so a cancelled request still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.leases.Release(releaseCtx, held); err != nil {
			s.logger(ctx, "sweep.lease.release_failed", map[string]any{"job": job, "error": err.Error()})
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.leaseTTL)
	defer cancel()
	err = fn(runCtx, &report)
	report.Duration = s.clock().Sub(started)
	fields := map[string]any{
		"job":       job,
		"processed": report.Processed,
		"warned":    report.Warned,
		"failed":    report.Failed,
		"duration":  report.Duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "sweep.failed", fields)
		return report, err
	}
	s.logger(ctx, "sweep.completed", fields)
	return report, nil
}
