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

const (
	cartCollection = "carts"
	cartTxAttempts = 5
	cartTxTimeout  = 5 * time.Second
)

// CartRepository persists one cart document per owner, keyed by the owner's UID.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base:     pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil),
		provider: provider,
	}, nil
}

// Get loads the owner's cart.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Update applies mutate to the stored cart inside a transaction. A missing document starts as an
// empty cart owned by userID.
func (r *CartRepository) Update(ctx context.Context, userID string, mutate repositories.CartMutator) (domain.Cart, error) {
	if mutate == nil {
		return domain.Cart{}, errors.New("cart repository: mutator is required")
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: owner id is required")
	}
	var updated domain.Cart
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cart := domain.Cart{ID: id, UserID: id}
		doc, err := r.base.TxGet(ctx, tx, id)
		switch {
		case err == nil:
			cart = doc.Data.toDomain(doc.ID)
		case !pfirestore.IsNotFound(err):
			return err
		}
		if err := mutate(&cart); err != nil {
			return err
		}
		updated = cart
		return r.base.TxSet(ctx, tx, id, newCartDocument(id, cart))
	}, pfirestore.WithTxAttempts(cartTxAttempts), pfirestore.WithTxTimeout(cartTxTimeout))
	if err != nil {
		return domain.Cart{}, err
	}
	return updated, nil
}

// DeleteIfUnchanged removes the cart only while updatedAt matches, so lines added after the
// caller read the cart survive.
func (r *CartRepository) DeleteIfUnchanged(ctx context.Context, userID string, updatedAt time.Time) (bool, error) {
	id := strings.TrimSpace(userID)
	deleted := false
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = false
		doc, err := r.base.TxGet(ctx, tx, id)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return nil
			}
			return err
		}
		if !doc.Data.UpdatedAt.Equal(updatedAt) {
			return nil
		}
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		deleted = true
		return tx.Delete(ref)
	}, pfirestore.WithTxAttempts(cartTxAttempts), pfirestore.WithTxTimeout(cartTxTimeout))
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// Delete removes the cart. Missing carts are ignored.
func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	return r.base.Delete(ctx, strings.TrimSpace(userID))
}

// DeleteIfStale removes the cart inside a transaction only when it has not been touched since cutoff.
func (r *CartRepository) DeleteIfStale(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	deleted := false
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = false
		doc, err := r.base.TxGet(ctx, tx, userID)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return nil
			}
			return err
		}
		if !doc.Data.UpdatedAt.Before(cutoff) {
			return nil
		}
		ref, err := r.base.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}
		deleted = true
		return tx.Delete(ref)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// MarkExpiryWarned records when the expiry warning was sent without touching updatedAt.
func (r *CartRepository) MarkExpiryWarned(ctx context.Context, userID string, at time.Time) error {
	_, err := r.base.Update(ctx, strings.TrimSpace(userID), []firestore.Update{
		{Path: "expiryWarnedAt", Value: at.UTC()},
	})
	return err
}

// ListUpdatedBetween returns carts whose updatedAt lies in [from, to].
func (r *CartRepository) ListUpdatedBetween(ctx context.Context, from, to time.Time) ([]domain.Cart, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("updatedAt", ">=", from.UTC()).
			Where("updatedAt", "<=", to.UTC()).
			OrderBy("updatedAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	return cartsFromDocuments(docs), nil
}

// ListUpdatedBefore returns up to limit carts last mutated before the given instant, oldest first.
func (r *CartRepository) ListUpdatedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Cart, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("updatedAt", "<", before.UTC()).OrderBy("updatedAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return cartsFromDocuments(docs), nil
}

func cartsFromDocuments(docs []pfirestore.Document[cartDocument]) []domain.Cart {
	carts := make([]domain.Cart, 0, len(docs))
	for _, doc := range docs {
		carts = append(carts, doc.Data.toDomain(doc.ID))
	}
	return carts
}

type cartDocument struct {
	UserID         string             `firestore:"userId"`
	Currency       string             `firestore:"currency"`
	Items          []cartItemDocument `firestore:"items"`
	ItemCount      int                `firestore:"itemCount"`
	ExpiryWarnedAt *time.Time         `firestore:"expiryWarnedAt,omitempty"`
	CreatedAt      time.Time          `firestore:"createdAt"`
	UpdatedAt      time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID      string                  `firestore:"productId"`
	Name           string                  `firestore:"name"`
	Price          int64                   `firestore:"price"`
	Quantity       int                     `firestore:"quantity"`
	VariantOptions []variantOptionDocument `firestore:"variantOptions,omitempty"`
	AddedAt        time.Time               `firestore:"addedAt"`
}

type variantOptionDocument struct {
	Name  string `firestore:"name"`
	Value string `firestore:"value"`
}

func newCartDocument(id string, cart domain.Cart) cartDocument {
	doc := cartDocument{
		UserID:    id,
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:     make([]cartItemDocument, 0, len(cart.Items)),
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
	if cart.ExpiryWarnedAt != nil {
		at := cart.ExpiryWarnedAt.UTC()
		doc.ExpiryWarnedAt = &at
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Price:          item.Price,
			Quantity:       item.Quantity,
			VariantOptions: encodeVariantOptions(item.VariantOptions),
			AddedAt:        item.AddedAt.UTC(),
		})
		doc.ItemCount += item.Quantity
	}
	return doc
}

func (d cartDocument) toDomain(id string) domain.Cart {
	cart := domain.Cart{
		ID:        id,
		UserID:    d.UserID,
		Currency:  d.Currency,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
	if cart.UserID == "" {
		cart.UserID = id
	}
	if d.ExpiryWarnedAt != nil {
		at := d.ExpiryWarnedAt.UTC()
		cart.ExpiryWarnedAt = &at
	}
	for _, item := range d.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Price:          item.Price,
			Quantity:       item.Quantity,
			VariantOptions: decodeVariantOptions(item.VariantOptions),
			AddedAt:        item.AddedAt.UTC(),
		})
	}
	return cart
}

func encodeVariantOptions(options []domain.VariantOption) []variantOptionDocument {
	if len(options) == 0 {
		return nil
	}
	out := make([]variantOptionDocument, 0, len(options))
	for _, opt := range options {
		out = append(out, variantOptionDocument{Name: opt.Name, Value: opt.Value})
	}
	return out
}

func decodeVariantOptions(options []variantOptionDocument) []domain.VariantOption {
	if len(options) == 0 {
		return nil
	}
	out := make([]domain.VariantOption, 0, len(options))
	for _, opt := range options {
		out = append(out, domain.VariantOption{Name: opt.Name, Value: opt.Value})
	}
	return out
}
