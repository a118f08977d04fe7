package repositories

import (
	"context"
	"time"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartMutator edits a cart inside a repository transaction.
type CartMutator func(cart *domain.Cart) error

// CartRepository persists one cart document per owner.
type CartRepository interface {
	// Get returns a not-found RepositoryError when the owner has no cart document.
	Get(ctx context.Context, userID string) (domain.Cart, error)
	// Update runs mutate against the stored cart, or an empty cart keyed by the owner when none
	// exists, and writes the result atomically. Errors from mutate abort the write and are returned.
	Update(ctx context.Context, userID string, mutate CartMutator) (domain.Cart, error)
	Delete(ctx context.Context, userID string) error
	// DeleteIfUnchanged deletes the cart only while its updatedAt still equals the given instant.
	DeleteIfUnchanged(ctx context.Context, userID string, updatedAt time.Time) (bool, error)
	// DeleteIfStale deletes the cart only when it was last mutated before the cutoff, reporting whether it did.
	DeleteIfStale(ctx context.Context, userID string, cutoff time.Time) (bool, error)
	MarkExpiryWarned(ctx context.Context, userID string, at time.Time) error
	ListUpdatedBetween(ctx context.Context, from, to time.Time) ([]domain.Cart, error)
	ListUpdatedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Cart, error)
}

// ProductRepository reads catalog products and mutates their stock counters.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// DecrementStock subtracts quantity only when stock >= quantity, otherwise returns a StockError.
	DecrementStock(ctx context.Context, productID string, quantity int) error
	IncrementStock(ctx context.Context, productID string, quantity int) error
}

// CouponRepository exposes discount codes.
type CouponRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	IncrementUsage(ctx context.Context, code string) error
}

// ShippingMethodRepository exposes delivery options.
type ShippingMethodRepository interface {
	FindByID(ctx context.Context, methodID string) (domain.ShippingMethod, error)
}

// OrderMutator mutates an order inside a storage transaction. Returning an error aborts the write.
type OrderMutator func(order *domain.Order) error

// OrderRepository persists orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayRef(ctx context.Context, gateway, gatewayRef string) (domain.Order, error)
	// Update reads the order, applies the mutator, and writes it back atomically.
	Update(ctx context.Context, orderID string, mutate OrderMutator) (domain.Order, error)
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	ListUnpaidBefore(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
}

// RMAMutator mutates an RMA inside a storage transaction.
type RMAMutator func(rma *domain.RMA) error

// RMARepository persists return requests.
type RMARepository interface {
	Insert(ctx context.Context, rma domain.RMA) error
	FindByID(ctx context.Context, rmaID string) (domain.RMA, error)
	Update(ctx context.Context, rmaID string, mutate RMAMutator) (domain.RMA, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.RMA, error)
	List(ctx context.Context, filter RMAListFilter) (domain.CursorPage[domain.RMA], error)
}

// RMAListFilter narrows RMA listings. Empty fields are ignored.
type RMAListFilter struct {
	UserID     string
	Status     []domain.RMAStatus
	Pagination domain.Pagination
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
