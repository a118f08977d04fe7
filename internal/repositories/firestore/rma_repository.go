package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	pfirestore "github.com/Sad0asc0Sh/user-sub000/internal/platform/firestore"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/pagination"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

const rmaCollection = "rmas"

// RMARepository persists return requests.
type RMARepository struct {
	base     *pfirestore.BaseRepository[rmaDocument]
	provider *pfirestore.Provider
}

var _ repositories.RMARepository = (*RMARepository)(nil)

func NewRMARepository(provider *pfirestore.Provider) (*RMARepository, error) {
	if provider == nil {
		return nil, errors.New("rma repository requires firestore provider")
	}
	return &RMARepository{
		base:     pfirestore.NewBaseRepository[rmaDocument](provider, rmaCollection, nil, nil),
		provider: provider,
	}, nil
}

func (r *RMARepository) Insert(ctx context.Context, rma domain.RMA) error {
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(rma.ID))
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newRMADocument(rma)); err != nil {
		return pfirestore.WrapError("rmas.insert", err)
	}
	return nil
}

func (r *RMARepository) FindByID(ctx context.Context, rmaID string) (domain.RMA, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(rmaID))
	if err != nil {
		return domain.RMA{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Update applies mutate inside a transaction so concurrent admin actions cannot interleave.
func (r *RMARepository) Update(ctx context.Context, rmaID string, mutate repositories.RMAMutator) (domain.RMA, error) {
	if mutate == nil {
		return domain.RMA{}, errors.New("rma repository: mutator is required")
	}
	rmaID = strings.TrimSpace(rmaID)
	var updated domain.RMA
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.TxGet(ctx, tx, rmaID)
		if err != nil {
			return err
		}
		rma := doc.Data.toDomain(doc.ID)
		if err := mutate(&rma); err != nil {
			return err
		}
		updated = rma
		return r.base.TxSet(ctx, tx, rmaID, newRMADocument(rma))
	})
	if err != nil {
		return domain.RMA{}, err
	}
	return updated, nil
}

func (r *RMARepository) ListByOrder(ctx context.Context, orderID string) ([]domain.RMA, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID))
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.RMA, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

// List pages RMAs newest first, optionally narrowed to one owner and a set of statuses.
func (r *RMARepository) List(ctx context.Context, filter repositories.RMAListFilter) (domain.CursorPage[domain.RMA], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.RMA]{}, err
	}
	docs, next, err := r.base.Page(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		return q.OrderBy("createdAt", firestore.Desc)
	}, filter.Pagination.PageSize, cursor.After)
	if err != nil {
		return domain.CursorPage[domain.RMA]{}, err
	}
	page := domain.CursorPage[domain.RMA]{Items: make([]domain.RMA, 0, len(docs))}
	for _, doc := range docs {
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	if page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{After: next}); err != nil {
		return domain.CursorPage[domain.RMA]{}, err
	}
	return page, nil
}

type rmaDocument struct {
	OrderID       string                 `firestore:"orderId"`
	UserID        string                 `firestore:"userId"`
	Items         []lineItemDocument     `firestore:"items"`
	Reason        string                 `firestore:"reason"`
	Status        string                 `firestore:"status"`
	RefundAmount  int64                  `firestore:"refundAmount"`
	AdminNotes    string                 `firestore:"adminNotes,omitempty"`
	Evidence      []string               `firestore:"evidence,omitempty"`
	StatusHistory []statusChangeDocument `firestore:"statusHistory,omitempty"`
	CreatedAt     time.Time              `firestore:"createdAt"`
	UpdatedAt     time.Time              `firestore:"updatedAt"`
	CompletedAt   *time.Time             `firestore:"completedAt,omitempty"`
}

func newRMADocument(rma domain.RMA) rmaDocument {
	doc := rmaDocument{
		OrderID:       rma.OrderID,
		UserID:        rma.UserID,
		Items:         make([]lineItemDocument, 0, len(rma.Items)),
		Reason:        rma.Reason,
		Status:        string(rma.Status),
		RefundAmount:  rma.RefundAmount,
		AdminNotes:    rma.AdminNotes,
		Evidence:      append([]string(nil), rma.Evidence...),
		StatusHistory: encodeStatusHistory(rma.StatusHistory),
		CreatedAt:     rma.CreatedAt.UTC(),
		UpdatedAt:     rma.UpdatedAt.UTC(),
		CompletedAt:   utcPtr(rma.CompletedAt),
	}
	for _, item := range rma.Items {
		doc.Items = append(doc.Items, lineItemDocument{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Price:          item.Price,
			Quantity:       item.Quantity,
			VariantOptions: encodeVariantOptions(item.VariantOptions),
		})
	}
	return doc
}

func (d rmaDocument) toDomain(id string) domain.RMA {
	rma := domain.RMA{
		ID:            id,
		OrderID:       d.OrderID,
		UserID:        d.UserID,
		Items:         make([]domain.RMAItem, 0, len(d.Items)),
		Reason:        d.Reason,
		Status:        domain.RMAStatus(d.Status),
		RefundAmount:  d.RefundAmount,
		AdminNotes:    d.AdminNotes,
		Evidence:      append([]string(nil), d.Evidence...),
		StatusHistory: decodeStatusHistory(d.StatusHistory),
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
		CompletedAt:   utcPtr(d.CompletedAt),
	}
	for _, item := range d.Items {
		rma.Items = append(rma.Items, domain.RMAItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Price:          item.Price,
			Quantity:       item.Quantity,
			VariantOptions: decodeVariantOptions(item.VariantOptions),
		})
	}
	return rma
}
