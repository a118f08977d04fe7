package services

import (
	"errors"
	"fmt"

	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

// Error taxonomy shared by every checkout service. Callers match with errors.Is; handlers map
// each sentinel to one HTTP status.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrOutOfStock        = errors.New("out of stock")
	ErrCouponInvalid     = errors.New("coupon invalid")
	ErrGateway           = errors.New("payment gateway error")
	ErrAmountMismatch    = errors.New("payment amount mismatch")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrConflict          = errors.New("conflict")
	ErrUnavailable       = errors.New("dependency unavailable")
)

// Coupon rejection reasons. Each also matches ErrCouponInvalid.
var (
	ErrCouponNotFound          = &couponReason{reason: "coupon_not_found", msg: "coupon not found"}
	ErrCouponExpired           = &couponReason{reason: "coupon_expired", msg: "coupon expired or not yet active"}
	ErrCouponMinimumNotMet     = &couponReason{reason: "coupon_minimum", msg: "order value below coupon minimum"}
	ErrCouponUsageLimitReached = &couponReason{reason: "coupon_exhausted", msg: "coupon usage limit reached"}
)

type couponReason struct {
	reason string
	msg    string
}

func (c *couponReason) Error() string { return c.msg }

// Is lets every reason match ErrCouponInvalid as well as itself.
func (c *couponReason) Is(target error) bool {
	return target == ErrCouponInvalid
}

// CouponReason returns the machine readable reason carried by a coupon error, or "coupon_invalid".
func CouponReason(err error) string {
	var reason *couponReason
	if errors.As(err, &reason) {
		return reason.reason
	}
	return "coupon_invalid"
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapRepositoryError folds storage failures into the service taxonomy, tagging them with the entity.
func mapRepositoryError(entity string, err error) error {
	if err == nil {
		return nil
	}
	if repositories.IsStockCode(err, repositories.StockErrorInsufficient) ||
		repositories.IsStockCode(err, repositories.StockErrorProductInactive) {
		return fmt.Errorf("%w: %v", ErrOutOfStock, err)
	}
	if repositories.IsStockCode(err, repositories.StockErrorProductNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrNotFound, entity)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s: %v", ErrConflict, entity, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, entity, err)
		}
	}
	return fmt.Errorf("%s: %w", entity, err)
}

func isRepoError(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
