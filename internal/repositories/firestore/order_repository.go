package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	pfirestore "github.com/Sad0asc0Sh/user-sub000/internal/platform/firestore"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/pagination"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists orders in Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base:     pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil),
		provider: provider,
	}, nil
}

// Insert creates the order document, failing with a conflict when the id already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByGatewayRef looks the order up by any reference a gateway issued for it, not only the
// latest one.
func (r *OrderRepository) FindByGatewayRef(ctx context.Context, gateway, gatewayRef string) (domain.Order, error) {
	gateway = strings.ToLower(strings.TrimSpace(gateway))
	gatewayRef = strings.TrimSpace(gatewayRef)
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentRefs", "array-contains", domain.PaymentAttemptKey(gateway, gatewayRef)).
			Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.find_by_gateway_ref",
			fmt.Errorf("no order for %s reference %s", gateway, gatewayRef))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// Update applies mutate to the stored order inside a transaction and writes the result.
func (r *OrderRepository) Update(ctx context.Context, orderID string, mutate repositories.OrderMutator) (domain.Order, error) {
	if mutate == nil {
		return domain.Order{}, errors.New("order repository: mutator is required")
	}
	orderID = strings.TrimSpace(orderID)
	var updated domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.TxGet(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order := doc.Data.toDomain(doc.ID)
		if err := mutate(&order); err != nil {
			return err
		}
		updated = order
		return r.base.TxSet(ctx, tx, orderID, newOrderDocument(order))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// ListByUser pages the owner's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	docs, next, err := r.base.Page(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", strings.TrimSpace(userID)).OrderBy("createdAt", firestore.Desc)
	}, pager.PageSize, cursor.After)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(docs))}
	for _, doc := range docs {
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	if page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{After: next}); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return page, nil
}

// ListUnpaidBefore returns pending unpaid online orders created before the cutoff, oldest first.
// COD orders are filtered in the query so they never occupy a batch.
func (r *OrderRepository) ListUnpaidBefore(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.OrderStatusPending)).
			Where("paymentMethod", "==", string(domain.PaymentMethodOnline)).
			Where("isPaid", "==", false).
			Where("createdAt", "<", before.UTC()).
			OrderBy("createdAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

type orderDocument struct {
	OrderNumber      string                 `firestore:"orderNumber"`
	UserID           string                 `firestore:"userId"`
	Items            []lineItemDocument     `firestore:"items"`
	ShippingAddress  addressDocument        `firestore:"shippingAddress"`
	ShippingMethodID string                 `firestore:"shippingMethodId"`
	PaymentMethod    string                 `firestore:"paymentMethod"`
	Payment          *paymentResultDocument `firestore:"payment,omitempty"`
	PaymentAttempts  []paymentAttemptDoc    `firestore:"paymentAttempts,omitempty"`
	PaymentRefs      []string               `firestore:"paymentRefs,omitempty"`
	CouponCode       string                 `firestore:"couponCode,omitempty"`
	ItemsPrice       int64                  `firestore:"itemsPrice"`
	ShippingPrice    int64                  `firestore:"shippingPrice"`
	TaxPrice         int64                  `firestore:"taxPrice"`
	Discount         int64                  `firestore:"discount"`
	TotalPrice       int64                  `firestore:"totalPrice"`
	Currency         string                 `firestore:"currency"`
	IsPaid           bool                   `firestore:"isPaid"`
	PaidAt           *time.Time             `firestore:"paidAt,omitempty"`
	Status           string                 `firestore:"status"`
	ShippedAt        *time.Time             `firestore:"shippedAt,omitempty"`
	DeliveredAt      *time.Time             `firestore:"deliveredAt,omitempty"`
	CancelledAt      *time.Time             `firestore:"cancelledAt,omitempty"`
	CancelReason     string                 `firestore:"cancelReason,omitempty"`
	AdminNotes       string                 `firestore:"adminNotes,omitempty"`
	StockRestored    bool                   `firestore:"stockRestored"`
	StatusHistory    []statusChangeDocument `firestore:"statusHistory,omitempty"`
	CreatedAt        time.Time              `firestore:"createdAt"`
	UpdatedAt        time.Time              `firestore:"updatedAt"`
}

type lineItemDocument struct {
	ProductID      string                  `firestore:"productId"`
	Name           string                  `firestore:"name"`
	Price          int64                   `firestore:"price"`
	Quantity       int                     `firestore:"quantity"`
	VariantOptions []variantOptionDocument `firestore:"variantOptions,omitempty"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Phone      string  `firestore:"phone"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
}

type paymentResultDocument struct {
	Gateway        string    `firestore:"gateway"`
	GatewayRef     string    `firestore:"gatewayRef"`
	Status         string    `firestore:"status"`
	VerifiedAmount int64     `firestore:"verifiedAmount"`
	PaymentURL     string    `firestore:"paymentUrl,omitempty"`
	FailureReason  string    `firestore:"failureReason,omitempty"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

type paymentAttemptDoc struct {
	Gateway     string    `firestore:"gateway"`
	GatewayRef  string    `firestore:"gatewayRef"`
	InitiatedAt time.Time `firestore:"initiatedAt"`
}

type statusChangeDocument struct {
	From      string    `firestore:"from"`
	To        string    `firestore:"to"`
	ActorID   string    `firestore:"actorId,omitempty"`
	Reason    string    `firestore:"reason,omitempty"`
	Forced    bool      `firestore:"forced,omitempty"`
	ChangedAt time.Time `firestore:"changedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:      order.OrderNumber,
		UserID:           order.UserID,
		Items:            make([]lineItemDocument, 0, len(order.Items)),
		ShippingAddress:  addressDocument(order.ShippingAddress),
		ShippingMethodID: order.ShippingMethodID,
		PaymentMethod:    string(order.PaymentMethod),
		CouponCode:       order.CouponCode,
		ItemsPrice:       order.ItemsPrice,
		ShippingPrice:    order.ShippingPrice,
		TaxPrice:         order.TaxPrice,
		Discount:         order.Discount,
		TotalPrice:       order.TotalPrice,
		Currency:         order.Currency,
		IsPaid:           order.IsPaid,
		PaidAt:           utcPtr(order.PaidAt),
		Status:           string(order.Status),
		ShippedAt:        utcPtr(order.ShippedAt),
		DeliveredAt:      utcPtr(order.DeliveredAt),
		CancelledAt:      utcPtr(order.CancelledAt),
		CancelReason:     order.CancelReason,
		AdminNotes:       order.AdminNotes,
		StockRestored:    order.StockRestored,
		StatusHistory:    encodeStatusHistory(order.StatusHistory),
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, lineItemDocument{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Price:          item.Price,
			Quantity:       item.Quantity,
			VariantOptions: encodeVariantOptions(item.VariantOptions),
		})
	}
	for _, attempt := range order.PaymentAttempts {
		doc.PaymentAttempts = append(doc.PaymentAttempts, paymentAttemptDoc{
			Gateway:     attempt.Gateway,
			GatewayRef:  attempt.GatewayRef,
			InitiatedAt: attempt.InitiatedAt.UTC(),
		})
		doc.PaymentRefs = append(doc.PaymentRefs, domain.PaymentAttemptKey(attempt.Gateway, attempt.GatewayRef))
	}
	if p := order.PaymentResult; p != nil {
		doc.Payment = &paymentResultDocument{
			Gateway:        p.Gateway,
			GatewayRef:     p.GatewayRef,
			Status:         string(p.Status),
			VerifiedAmount: p.VerifiedAmount,
			PaymentURL:     p.PaymentURL,
			FailureReason:  p.FailureReason,
			UpdatedAt:      p.UpdatedAt.UTC(),
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:               id,
		OrderNumber:      d.OrderNumber,
		UserID:           d.UserID,
		Items:            make([]domain.OrderItem, 0, len(d.Items)),
		ShippingAddress:  domain.Address(d.ShippingAddress),
		ShippingMethodID: d.ShippingMethodID,
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		CouponCode:       d.CouponCode,
		ItemsPrice:       d.ItemsPrice,
		ShippingPrice:    d.ShippingPrice,
		TaxPrice:         d.TaxPrice,
		Discount:         d.Discount,
		TotalPrice:       d.TotalPrice,
		Currency:         d.Currency,
		IsPaid:           d.IsPaid,
		PaidAt:           utcPtr(d.PaidAt),
		Status:           domain.OrderStatus(d.Status),
		ShippedAt:        utcPtr(d.ShippedAt),
		DeliveredAt:      utcPtr(d.DeliveredAt),
		CancelledAt:      utcPtr(d.CancelledAt),
		CancelReason:     d.CancelReason,
		AdminNotes:       d.AdminNotes,
		StockRestored:    d.StockRestored,
		StatusHistory:    decodeStatusHistory(d.StatusHistory),
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Price:          item.Price,
			Quantity:       item.Quantity,
			VariantOptions: decodeVariantOptions(item.VariantOptions),
		})
	}
	for _, attempt := range d.PaymentAttempts {
		order.PaymentAttempts = append(order.PaymentAttempts, domain.PaymentAttempt{
			Gateway:     attempt.Gateway,
			GatewayRef:  attempt.GatewayRef,
			InitiatedAt: attempt.InitiatedAt.UTC(),
		})
	}
	if p := d.Payment; p != nil {
		order.PaymentResult = &domain.PaymentResult{
			Gateway:        p.Gateway,
			GatewayRef:     p.GatewayRef,
			Status:         domain.PaymentStatus(p.Status),
			VerifiedAmount: p.VerifiedAmount,
			PaymentURL:     p.PaymentURL,
			FailureReason:  p.FailureReason,
			UpdatedAt:      p.UpdatedAt.UTC(),
		}
	}
	return order
}

func encodeStatusHistory(history []domain.StatusChange) []statusChangeDocument {
	if len(history) == 0 {
		return nil
	}
	out := make([]statusChangeDocument, 0, len(history))
	for _, entry := range history {
		out = append(out, statusChangeDocument{
			From:      entry.From,
			To:        entry.To,
			ActorID:   entry.ActorID,
			Reason:    entry.Reason,
			Forced:    entry.Forced,
			ChangedAt: entry.ChangedAt.UTC(),
		})
	}
	return out
}

func decodeStatusHistory(history []statusChangeDocument) []domain.StatusChange {
	if len(history) == 0 {
		return nil
	}
	out := make([]domain.StatusChange, 0, len(history))
	for _, entry := range history {
		out = append(out, domain.StatusChange{
			From:      entry.From,
			To:        entry.To,
			ActorID:   entry.ActorID,
			Reason:    entry.Reason,
			Forced:    entry.Forced,
			ChangedAt: entry.ChangedAt.UTC(),
		})
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
