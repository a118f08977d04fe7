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

const productCollection = "products"

// ProductRepository reads catalog products and guards their stock counters.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		base:     pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil),
		provider: provider,
	}, nil
}

// FindByID loads a product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// DecrementStock subtracts quantity in a transaction that only writes when enough stock remains.
// Concurrent decrements on the same product are serialised by Firestore's optimistic retries.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, quantity int) error {
	productID = strings.TrimSpace(productID)
	if quantity <= 0 {
		return errors.New("product repository: quantity must be positive")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.TxGet(ctx, tx, productID)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, productID, quantity, 0)
			}
			return err
		}
		if !doc.Data.IsActive {
			return repositories.NewStockError(repositories.StockErrorProductInactive, productID, quantity, doc.Data.Stock)
		}
		if doc.Data.Stock < quantity {
			return repositories.NewStockError(repositories.StockErrorInsufficient, productID, quantity, doc.Data.Stock)
		}
		ref, err := r.base.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "stock", Value: doc.Data.Stock - quantity},
			{Path: "updatedAt", Value: time.Now().UTC()},
		})
	})
}

// IncrementStock adds quantity back with a server-side increment.
func (r *ProductRepository) IncrementStock(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return errors.New("product repository: quantity must be positive")
	}
	_, err := r.base.Update(ctx, strings.TrimSpace(productID), []firestore.Update{
		{Path: "stock", Value: firestore.Increment(quantity)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	return err
}

type productDocument struct {
	Name           string              `firestore:"name"`
	Price          int64               `firestore:"price"`
	Stock          int                 `firestore:"stock"`
	IsActive       bool                `firestore:"isActive"`
	VariantOptions map[string][]string `firestore:"variantOptions,omitempty"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:             id,
		Name:           d.Name,
		Price:          d.Price,
		Stock:          d.Stock,
		IsActive:       d.IsActive,
		VariantOptions: d.VariantOptions,
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}
