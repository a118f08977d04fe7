package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
)

func newTestPricing(t *testing.T, coupons *memCouponRepository) PricingCalculator {
	t.Helper()
	couponSvc, err := NewCouponService(CouponServiceDeps{Coupons: coupons})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	calc, err := NewPricingCalculator(PricingCalculatorDeps{
		ShippingMethods: newMemShippingRepository(
			domain.ShippingMethod{ID: "std", Cost: 500, CostType: domain.ShippingCostFlat, IsActive: true},
			domain.ShippingMethod{ID: "legacy", Cost: 500, IsActive: false},
			domain.ShippingMethod{ID: "weight", Cost: 500, CostType: "per_kg", IsActive: true},
		),
		Coupons:  couponSvc,
		Settings: domain.StoreSettings{Checkout: domain.CheckoutSettings{Currency: "usd"}},
	})
	if err != nil {
		t.Fatalf("NewPricingCalculator: %v", err)
	}
	return calc
}

func TestPricingCalculatorUsesSnapshotsShippingAndCoupon(t *testing.T) {
	calc := newTestPricing(t, newMemCouponRepository(
		domain.Coupon{Code: "SAVE10", DiscountType: domain.DiscountTypePercentage, Value: 10, Active: true},
	))

	breakdown, err := calc.Calculate(context.Background(), PricingInput{
		Items: []CartItem{
			{ProductID: "p1", Price: 1000, Quantity: 2},
			{ProductID: "p2", Price: 250, Quantity: 1},
		},
		ShippingMethodID: "std",
		CouponCode:       "save10",
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	want := PricingBreakdown{
		Currency:      "USD",
		ItemsPrice:    2250,
		ShippingPrice: 500,
		TaxPrice:      0,
		Discount:      225,
		TotalPrice:    2525,
		CouponCode:    "SAVE10",
	}
	if breakdown != want {
		t.Fatalf("expected %+v, got %+v", want, breakdown)
	}
}

func TestPricingCalculatorClampsTotalAtZero(t *testing.T) {
	calc := newTestPricing(t, newMemCouponRepository(
		domain.Coupon{Code: "ALL", DiscountType: domain.DiscountTypeFixed, Value: 100000, Active: true},
	))
	breakdown, err := calc.Calculate(context.Background(), PricingInput{
		Items:      []CartItem{{ProductID: "p1", Price: 700, Quantity: 1}},
		CouponCode: "ALL",
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if breakdown.Discount != 700 || breakdown.TotalPrice != 0 {
		t.Fatalf("expected discount 700 and total 0, got %+v", breakdown)
	}
}

func TestPricingCalculatorRejections(t *testing.T) {
	calc := newTestPricing(t, newMemCouponRepository())
	line := []CartItem{{ProductID: "p1", Price: 700, Quantity: 1}}

	tests := []struct {
		name  string
		input PricingInput
		want  error
	}{
		{name: "empty", input: PricingInput{}, want: ErrValidation},
		{name: "zero quantity", input: PricingInput{Items: []CartItem{{ProductID: "p1", Price: 1}}}, want: ErrValidation},
		{name: "inactive method", input: PricingInput{Items: line, ShippingMethodID: "legacy"}, want: ErrValidation},
		{name: "unsupported cost type", input: PricingInput{Items: line, ShippingMethodID: "weight"}, want: ErrValidation},
		{name: "unknown method", input: PricingInput{Items: line, ShippingMethodID: "drone"}, want: ErrNotFound},
		{name: "unknown coupon", input: PricingInput{Items: line, CouponCode: "NOPE"}, want: ErrCouponNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := calc.Calculate(context.Background(), tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
