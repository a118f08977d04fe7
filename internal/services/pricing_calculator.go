package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

// PricingCalculatorDeps bundles collaborators required to construct the pricing calculator.
type PricingCalculatorDeps struct {
	ShippingMethods repositories.ShippingMethodRepository
	Coupons         CouponService
	Settings        domain.StoreSettings
}

type pricingCalculator struct {
	shipping repositories.ShippingMethodRepository
	coupons  CouponService
	currency string
}

// NewPricingCalculator constructs the calculator.
func NewPricingCalculator(deps PricingCalculatorDeps) (PricingCalculator, error) {
	if deps.ShippingMethods == nil {
		return nil, errors.New("pricing calculator: shipping method repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("pricing calculator: coupon service is required")
	}
	return &pricingCalculator{
		shipping: deps.ShippingMethods,
		coupons:  deps.Coupons,
		currency: strings.ToUpper(strings.TrimSpace(deps.Settings.Checkout.Currency)),
	}, nil
}

// Calculate prices lines from their stored snapshots. Live catalog prices are never consulted.
// Tax is always zero.
func (c *pricingCalculator) Calculate(ctx context.Context, input PricingInput) (PricingBreakdown, error) {
	if len(input.Items) == 0 {
		return PricingBreakdown{}, validationError("cart is empty")
	}
	for _, item := range input.Items {
		if item.Quantity < 1 {
			return PricingBreakdown{}, validationError("item %s has quantity %d", item.ProductID, item.Quantity)
		}
		if item.Price < 0 {
			return PricingBreakdown{}, validationError("item %s has negative price", item.ProductID)
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = c.currency
	}
	breakdown := PricingBreakdown{
		Currency:   currency,
		ItemsPrice: domain.ItemsPrice(input.Items),
	}

	if methodID := strings.TrimSpace(input.ShippingMethodID); methodID != "" {
		shipping, err := c.shippingPrice(ctx, methodID)
		if err != nil {
			return PricingBreakdown{}, err
		}
		breakdown.ShippingPrice = shipping
	}

	if code := NormalizeCouponCode(input.CouponCode); code != "" {
		result, err := c.coupons.Validate(ctx, code, breakdown.ItemsPrice)
		if err != nil {
			return PricingBreakdown{}, err
		}
		breakdown.Discount = result.Discount
		breakdown.CouponCode = result.Code
	}

	breakdown.TotalPrice = domain.ComputeTotal(breakdown.ItemsPrice, breakdown.ShippingPrice, breakdown.TaxPrice, breakdown.Discount)
	return breakdown, nil
}

func (c *pricingCalculator) shippingPrice(ctx context.Context, methodID string) (int64, error) {
	method, err := c.shipping.FindByID(ctx, methodID)
	if err != nil {
		return 0, mapRepositoryError("shipping method", err)
	}
	if !method.IsActive {
		return 0, validationError("shipping method %s is not available", methodID)
	}
	switch method.CostType {
	case "", domain.ShippingCostFlat:
		if method.Cost < 0 {
			return 0, validationError("shipping method %s has negative cost", methodID)
		}
		return method.Cost, nil
	default:
		return 0, validationError("shipping method %s uses unsupported cost type %q", methodID, method.CostType)
	}
}
