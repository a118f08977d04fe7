package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Coupons repositories.CouponRepository
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewCouponService constructs the coupon engine.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &couponService{
		coupons: deps.Coupons,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// NormalizeCouponCode trims and upper-cases a code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate re-reads the coupon and computes its discount on subtotal. It never trusts a previously
// computed discount.
func (s *couponService) Validate(ctx context.Context, code string, subtotal int64) (CouponResult, error) {
	code = NormalizeCouponCode(code)
	if code == "" {
		return CouponResult{}, validationError("coupon code is required")
	}
	if subtotal < 0 {
		return CouponResult{}, validationError("subtotal must not be negative")
	}
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return CouponResult{}, fmt.Errorf("%w: %s", ErrCouponNotFound, code)
		}
		return CouponResult{}, mapRepositoryError("coupon", err)
	}
	if !coupon.Active {
		return CouponResult{}, fmt.Errorf("%w: %s", ErrCouponNotFound, code)
	}

	now := s.clock()
	if (!coupon.StartsAt.IsZero() && now.Before(coupon.StartsAt)) || (!coupon.EndsAt.IsZero() && now.After(coupon.EndsAt)) {
		return CouponResult{}, fmt.Errorf("%w: %s", ErrCouponExpired, code)
	}
	if coupon.UsageLimit > 0 && coupon.UsageCount >= coupon.UsageLimit {
		return CouponResult{}, fmt.Errorf("%w: %s", ErrCouponUsageLimitReached, code)
	}
	if subtotal < coupon.MinOrderValue {
		return CouponResult{}, fmt.Errorf("%w: %s requires %d", ErrCouponMinimumNotMet, code, coupon.MinOrderValue)
	}

	discount, err := couponDiscount(coupon, subtotal)
	if err != nil {
		return CouponResult{}, err
	}
	return CouponResult{Code: coupon.Code, Discount: discount}, nil
}

func couponDiscount(coupon domain.Coupon, subtotal int64) (int64, error) {
	var discount int64
	switch coupon.DiscountType {
	case domain.DiscountTypeFixed:
		discount = coupon.Value
	case domain.DiscountTypePercentage:
		if coupon.Value < 0 || coupon.Value > 100 {
			return 0, fmt.Errorf("%w: coupon %s has percentage %d", ErrCouponInvalid, coupon.Code, coupon.Value)
		}
		discount = subtotal * coupon.Value / 100
		if coupon.MaxDiscount > 0 && discount > coupon.MaxDiscount {
			discount = coupon.MaxDiscount
		}
	default:
		return 0, fmt.Errorf("%w: coupon %s has unknown discount type %q", ErrCouponInvalid, coupon.Code, coupon.DiscountType)
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return discount, nil
}

// RecordUsage increments the usage counter after an order using the code was stored.
func (s *couponService) RecordUsage(ctx context.Context, code string) error {
	code = NormalizeCouponCode(code)
	if code == "" {
		return nil
	}
	if err := s.coupons.IncrementUsage(ctx, code); err != nil {
		return mapRepositoryError("coupon", err)
	}
	return nil
}
