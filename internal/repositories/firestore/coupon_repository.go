package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	pfirestore "github.com/Sad0asc0Sh/user-sub000/internal/platform/firestore"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

const couponCollection = "coupons"

// CouponRepository reads discount codes stored under their upper-case code.
type CouponRepository struct {
	base *pfirestore.BaseRepository[couponDocument]
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{base: pfirestore.NewBaseRepository[couponDocument](provider, couponCollection, nil, nil)}, nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	doc, err := r.base.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CouponRepository) IncrementUsage(ctx context.Context, code string) error {
	_, err := r.base.Update(ctx, strings.ToUpper(strings.TrimSpace(code)), []firestore.Update{
		{Path: "usageCount", Value: firestore.Increment(1)},
	})
	return err
}

type couponDocument struct {
	DiscountType  string    `firestore:"discountType"`
	Value         int64     `firestore:"value"`
	MaxDiscount   int64     `firestore:"maxDiscount"`
	MinOrderValue int64     `firestore:"minOrderValue"`
	UsageLimit    int       `firestore:"usageLimit"`
	UsageCount    int       `firestore:"usageCount"`
	Active        bool      `firestore:"active"`
	StartsAt      time.Time `firestore:"startsAt"`
	EndsAt        time.Time `firestore:"endsAt"`
}

func (d couponDocument) toDomain(code string) domain.Coupon {
	return domain.Coupon{
		Code:          code,
		DiscountType:  domain.DiscountType(strings.ToLower(d.DiscountType)),
		Value:         d.Value,
		MaxDiscount:   d.MaxDiscount,
		MinOrderValue: d.MinOrderValue,
		UsageLimit:    d.UsageLimit,
		UsageCount:    d.UsageCount,
		Active:        d.Active,
		StartsAt:      d.StartsAt.UTC(),
		EndsAt:        d.EndsAt.UTC(),
	}
}
