package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
)

func TestCouponServiceValidate(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemCouponRepository(
		domain.Coupon{Code: "SAVE10", DiscountType: domain.DiscountTypePercentage, Value: 10, Active: true},
		domain.Coupon{Code: "CAP", DiscountType: domain.DiscountTypePercentage, Value: 50, MaxDiscount: 300, Active: true},
		domain.Coupon{Code: "FLAT", DiscountType: domain.DiscountTypeFixed, Value: 5000, Active: true},
		domain.Coupon{Code: "OFF", DiscountType: domain.DiscountTypeFixed, Value: 100, Active: false},
		domain.Coupon{Code: "OLD", DiscountType: domain.DiscountTypeFixed, Value: 100, Active: true, EndsAt: now.Add(-time.Hour)},
		domain.Coupon{Code: "SOON", DiscountType: domain.DiscountTypeFixed, Value: 100, Active: true, StartsAt: now.Add(time.Hour)},
		domain.Coupon{Code: "USED", DiscountType: domain.DiscountTypeFixed, Value: 100, Active: true, UsageLimit: 2, UsageCount: 2},
		domain.Coupon{Code: "BIG", DiscountType: domain.DiscountTypeFixed, Value: 100, Active: true, MinOrderValue: 5000},
	)
	svc, err := NewCouponService(CouponServiceDeps{Coupons: repo, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}

	tests := []struct {
		name     string
		code     string
		subtotal int64
		discount int64
		reason   error
	}{
		{name: "percentage", code: " save10 ", subtotal: 2000, discount: 200},
		{name: "percentage capped", code: "CAP", subtotal: 2000, discount: 300},
		{name: "fixed clamped to subtotal", code: "FLAT", subtotal: 1200, discount: 1200},
		{name: "unknown", code: "NOPE", subtotal: 1000, reason: ErrCouponNotFound},
		{name: "inactive", code: "OFF", subtotal: 1000, reason: ErrCouponNotFound},
		{name: "ended", code: "OLD", subtotal: 1000, reason: ErrCouponExpired},
		{name: "not started", code: "SOON", subtotal: 1000, reason: ErrCouponExpired},
		{name: "exhausted", code: "USED", subtotal: 1000, reason: ErrCouponUsageLimitReached},
		{name: "below minimum", code: "BIG", subtotal: 4999, reason: ErrCouponMinimumNotMet},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := svc.Validate(context.Background(), tc.code, tc.subtotal)
			if tc.reason != nil {
				if !errors.Is(err, tc.reason) {
					t.Fatalf("expected %v, got %v", tc.reason, err)
				}
				if !errors.Is(err, ErrCouponInvalid) {
					t.Fatalf("expected reason to match ErrCouponInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if result.Discount != tc.discount {
				t.Fatalf("expected discount %d, got %d", tc.discount, result.Discount)
			}
		})
	}
}

func TestCouponReason(t *testing.T) {
	if got := CouponReason(ErrCouponExpired); got != "coupon_expired" {
		t.Fatalf("expected coupon_expired, got %s", got)
	}
	wrapped := errors.Join(errors.New("context"), ErrCouponUsageLimitReached)
	if got := CouponReason(wrapped); got != "coupon_exhausted" {
		t.Fatalf("expected coupon_exhausted, got %s", got)
	}
	if got := CouponReason(ErrCouponInvalid); got != "coupon_invalid" {
		t.Fatalf("expected coupon_invalid fallback, got %s", got)
	}
}

func TestCouponServiceRecordUsage(t *testing.T) {
	repo := newMemCouponRepository(domain.Coupon{Code: "SAVE10", DiscountType: domain.DiscountTypeFixed, Value: 10, Active: true})
	svc, err := NewCouponService(CouponServiceDeps{Coupons: repo})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	if err := svc.RecordUsage(context.Background(), "save10"); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if got := repo.coupons["SAVE10"].UsageCount; got != 1 {
		t.Fatalf("expected usage 1, got %d", got)
	}
	if err := svc.RecordUsage(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
