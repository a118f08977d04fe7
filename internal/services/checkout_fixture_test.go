package services

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/payments"
)

type checkoutFixture struct {
	now      time.Time
	carts    *memCartRepository
	products *memProductRepository
	coupons  *memCouponRepository
	orders   *memOrderRepository
	events   *recordingEvents
	gateway  *stubGateway
	orderSvc OrderService
	paySvc   PaymentService

	logMu sync.Mutex
	logs  []string
}

func newCheckoutFixture(t *testing.T, products ...domain.Product) *checkoutFixture {
	t.Helper()
	fx := &checkoutFixture{
		now:      time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC),
		carts:    newMemCartRepository(),
		products: newMemProductRepository(products...),
		coupons: newMemCouponRepository(
			domain.Coupon{Code: "WELCOME", DiscountType: domain.DiscountTypeFixed, Value: 20000, MinOrderValue: 150000, Active: true},
		),
		orders:  newMemOrderRepository(),
		events:  &recordingEvents{},
		gateway: &stubGateway{id: "stripe"},
	}
	settings := domain.StoreSettings{Checkout: domain.CheckoutSettings{Currency: "USD"}}
	couponSvc, err := NewCouponService(CouponServiceDeps{Coupons: fx.coupons, Clock: fx.clock})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	pricing, err := NewPricingCalculator(PricingCalculatorDeps{
		ShippingMethods: newMemShippingRepository(
			domain.ShippingMethod{ID: "std", Cost: 20000, CostType: domain.ShippingCostFlat, IsActive: true},
		),
		Coupons:  couponSvc,
		Settings: settings,
	})
	if err != nil {
		t.Fatalf("NewPricingCalculator: %v", err)
	}
	logger := func(_ context.Context, event string, _ map[string]any) {
		fx.logMu.Lock()
		defer fx.logMu.Unlock()
		fx.logs = append(fx.logs, event)
	}
	fx.orderSvc, err = NewOrderService(OrderServiceDeps{
		Orders:   fx.orders,
		Carts:    fx.carts,
		Products: fx.products,
		Pricing:  pricing,
		Coupons:  couponSvc,
		Events:   fx.events,
		Settings: settings,
		Clock:    fx.clock,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	manager, err := payments.NewManager([]payments.Gateway{fx.gateway}, payments.WithDefaultGateway("stripe"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	fx.paySvc, err = NewPaymentService(PaymentServiceDeps{
		Orders:        fx.orders,
		Gateways:      manager,
		Events:        fx.events,
		Retry:         payments.RetryPolicy{Timeout: time.Second},
		PublicBaseURL: "https://api.example",
		StorefrontURL: "https://shop.example",
		Clock:         fx.clock,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	return fx
}

func (fx *checkoutFixture) clock() time.Time { return fx.now }

func (fx *checkoutFixture) logged(event string) bool {
	fx.logMu.Lock()
	defer fx.logMu.Unlock()
	return slices.Contains(fx.logs, event)
}

func (fx *checkoutFixture) putCart(userID string, items ...CartItem) {
	fx.carts.carts[userID] = domain.Cart{ID: userID, UserID: userID, Currency: "USD", Items: items, UpdatedAt: fx.now}
}

func (fx *checkoutFixture) placeOrder(t *testing.T, userID string, method domain.PaymentMethod, coupon string) Order {
	t.Helper()
	order, err := fx.orderSvc.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:           userID,
		ShippingAddress:  testAddress(),
		ShippingMethodID: "std",
		PaymentMethod:    method,
		CouponCode:       coupon,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func testAddress() Address {
	return Address{Recipient: "Ada", Phone: "+15550100", Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "us"}
}
