package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/lease"
)

type sweepFixture struct {
	*checkoutFixture
	leases        *lease.MemoryLocker
	notifications *recordingNotifications
	settings      domain.StoreSettings
}

func newSweepFixture(t *testing.T, settings domain.StoreSettings, products ...domain.Product) (*sweepFixture, SweepService) {
	t.Helper()
	return newBatchedSweepFixture(t, settings, 0, products...)
}

func newBatchedSweepFixture(t *testing.T, settings domain.StoreSettings, batchSize int, products ...domain.Product) (*sweepFixture, SweepService) {
	t.Helper()
	fx := &sweepFixture{
		checkoutFixture: newCheckoutFixture(t, products...),
		notifications:   &recordingNotifications{},
		settings:        settings,
	}
	fx.leases = lease.NewMemoryLocker(fx.clock)
	svc, err := NewSweepService(SweepServiceDeps{
		Carts:         fx.carts,
		Orders:        fx.orders,
		OrderService:  fx.orderSvc,
		Leases:        fx.leases,
		Contacts:      stubContacts{"u1": {UserID: "u1", Email: "u1@example.com"}, "u2": {UserID: "u2", Email: "u2@example.com"}},
		Notifications: fx.notifications,
		Settings:      settings,
		StorefrontURL: "https://shop.example",
		BatchSize:     batchSize,
		Clock:         fx.clock,
	})
	if err != nil {
		t.Fatalf("NewSweepService: %v", err)
	}
	return fx, svc
}

func TestSweepPurgeStaleCartsAndWarnings(t *testing.T) {
	settings := domain.StoreSettings{Cart: domain.CartSettings{
		CartTTLHours: 24, AutoExpireEnabled: true, ExpiryWarningEnabled: true, ExpiryWarningMinutes: 60,
	}}
	fx, svc := newSweepFixture(t, settings)
	line := CartItem{ProductID: "a", Price: 100, Quantity: 1}
	fx.carts.carts["stale"] = domain.Cart{ID: "stale", UserID: "stale", Items: []CartItem{line}, UpdatedAt: fx.now.Add(-25 * time.Hour)}
	fx.carts.carts["u1"] = domain.Cart{ID: "u1", UserID: "u1", Items: []CartItem{line}, UpdatedAt: fx.now.Add(-23*time.Hour - 30*time.Minute)}
	warned := fx.now.Add(-time.Hour)
	fx.carts.carts["u2"] = domain.Cart{ID: "u2", UserID: "u2", Items: []CartItem{line}, UpdatedAt: fx.now.Add(-23*time.Hour - 10*time.Minute), ExpiryWarnedAt: &warned}
	fx.carts.carts["fresh"] = domain.Cart{ID: "fresh", UserID: "fresh", Items: []CartItem{line}, UpdatedAt: fx.now.Add(-time.Hour)}

	report, err := svc.PurgeStaleCarts(context.Background())
	if err != nil {
		t.Fatalf("PurgeStaleCarts: %v", err)
	}
	if !report.Acquired || report.Processed != 1 || report.Warned != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, ok := fx.carts.cart("stale"); ok {
		t.Fatalf("expected stale cart purged")
	}
	if _, ok := fx.carts.cart("fresh"); !ok {
		t.Fatalf("fresh cart must survive")
	}
	if len(fx.notifications.emails) != 1 || fx.notifications.emails[0].Kind != ReminderCartExpiry || fx.notifications.emails[0].UserID != "u1" {
		t.Fatalf("expected one expiry warning for u1, got %+v", fx.notifications.emails)
	}
	wantExpiry := fx.now.Add(-23*time.Hour - 30*time.Minute).Add(24 * time.Hour)
	if !fx.notifications.emails[0].ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %s, got %s", wantExpiry, fx.notifications.emails[0].ExpiresAt)
	}
	if cart, _ := fx.carts.cart("u1"); cart.ExpiryWarnedAt == nil {
		t.Fatalf("expected expiryWarnedAt recorded")
	}
}

func TestSweepPurgeHonoursPermanentCart(t *testing.T) {
	settings := domain.StoreSettings{Cart: domain.CartSettings{CartTTLHours: 1, AutoExpireEnabled: true, PermanentCart: true}}
	fx, svc := newSweepFixture(t, settings)
	fx.carts.carts["old"] = domain.Cart{ID: "old", UserID: "old", UpdatedAt: fx.now.Add(-100 * time.Hour)}

	report, err := svc.Run(context.Background(), SweepJobCartPurge)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Processed != 0 {
		t.Fatalf("expected nothing purged, got %+v", report)
	}
	if _, ok := fx.carts.cart("old"); !ok {
		t.Fatalf("permanent carts must not be purged")
	}
}

func TestSweepCancelUnpaidOrdersRestoresStock(t *testing.T) {
	settings := domain.StoreSettings{Checkout: domain.CheckoutSettings{UnpaidOrderTimeout: 30 * time.Minute}}
	fx, svc := newSweepFixture(t, settings, domain.Product{ID: "a", Name: "A", Price: 100, Stock: 0, IsActive: true})
	stale := pendingOnlineOrder("stale", 100)
	stale.CreatedAt = fx.now.Add(-2 * time.Hour)
	recent := pendingOnlineOrder("recent", 100)
	recent.CreatedAt = fx.now.Add(-5 * time.Minute)
	cod := pendingOnlineOrder("cod", 100)
	cod.PaymentMethod = domain.PaymentMethodCOD
	cod.CreatedAt = fx.now.Add(-2 * time.Hour)
	for _, o := range []domain.Order{stale, recent, cod} {
		fx.orders.orders[o.ID] = o
	}

	report, err := svc.CancelUnpaidOrders(context.Background())
	if err != nil {
		t.Fatalf("CancelUnpaidOrders: %v", err)
	}
	if report.Processed != 1 {
		t.Fatalf("expected one cancellation, got %+v", report)
	}
	if got := fx.orders.order("stale"); got.Status != domain.OrderStatusCancelled || !got.StockRestored {
		t.Fatalf("expected stale order cancelled with stock restored, got %+v", got)
	}
	if fx.products.stock("a") != 1 {
		t.Fatalf("expected one unit back in stock, got %d", fx.products.stock("a"))
	}
	if fx.orders.order("recent").Status != domain.OrderStatusPending || fx.orders.order("cod").Status != domain.OrderStatusPending {
		t.Fatalf("recent and COD orders must stay pending")
	}

	// A second run finds nothing left and restores nothing again.
	if _, err := svc.CancelUnpaidOrders(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if fx.products.stock("a") != 1 {
		t.Fatalf("stock restored twice: %d", fx.products.stock("a"))
	}
}

func TestSweepCancelUnpaidOrdersNotStarvedByCOD(t *testing.T) {
	settings := domain.StoreSettings{Checkout: domain.CheckoutSettings{UnpaidOrderTimeout: 30 * time.Minute}}
	fx, svc := newBatchedSweepFixture(t, settings, 2, domain.Product{ID: "a", Name: "A", Price: 100, Stock: 0, IsActive: true})
	for _, id := range []string{"cod_1", "cod_2"} {
		cod := pendingOnlineOrder(id, 100)
		cod.PaymentMethod = domain.PaymentMethodCOD
		cod.CreatedAt = fx.now.Add(-48 * time.Hour)
		fx.orders.orders[id] = cod
	}
	online := pendingOnlineOrder("online", 100)
	online.CreatedAt = fx.now.Add(-2 * time.Hour)
	fx.orders.orders["online"] = online

	for i := 0; i < 2; i++ {
		if _, err := svc.CancelUnpaidOrders(context.Background()); err != nil {
			t.Fatalf("CancelUnpaidOrders run %d: %v", i+1, err)
		}
	}
	if got := fx.orders.order("online"); got.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected online order cancelled, got %s", got.Status)
	}
	for _, id := range []string{"cod_1", "cod_2"} {
		if got := fx.orders.order(id); got.Status != domain.OrderStatusPending {
			t.Fatalf("expected %s to stay pending, got %s", id, got.Status)
		}
	}
}

func TestSweepIsSingleFlight(t *testing.T) {
	settings := domain.StoreSettings{Checkout: domain.CheckoutSettings{UnpaidOrderTimeout: 30 * time.Minute}}
	fx, svc := newSweepFixture(t, settings)

	held, ok, err := fx.leases.Acquire(context.Background(), "sweep:"+SweepJobUnpaidOrders, time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}
	report, err := svc.CancelUnpaidOrders(context.Background())
	if err != nil {
		t.Fatalf("CancelUnpaidOrders: %v", err)
	}
	if report.Acquired {
		t.Fatalf("expected sweep to skip while the lease is held")
	}
	if err := fx.leases.Release(context.Background(), held); err != nil {
		t.Fatalf("Release: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := svc.CancelUnpaidOrders(context.Background())
			if err != nil {
				t.Errorf("CancelUnpaidOrders: %v", err)
				return
			}
			if report.Acquired {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if acquired < 1 {
		t.Fatalf("expected at least one run to hold the lease")
	}
	if _, ok, _ := fx.leases.Acquire(context.Background(), "sweep:"+SweepJobUnpaidOrders, time.Minute); !ok {
		t.Fatalf("expected lease released after runs")
	}
}

func TestSweepRunRejectsUnknownJob(t *testing.T) {
	_, svc := newSweepFixture(t, domain.StoreSettings{})
	if _, err := svc.Run(context.Background(), "reindex"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
