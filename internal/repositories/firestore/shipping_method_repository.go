package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	pfirestore "github.com/Sad0asc0Sh/user-sub000/internal/platform/firestore"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

const shippingMethodCollection = "shippingMethods"

// ShippingMethodRepository reads delivery options.
type ShippingMethodRepository struct {
	base *pfirestore.BaseRepository[shippingMethodDocument]
}

var _ repositories.ShippingMethodRepository = (*ShippingMethodRepository)(nil)

func NewShippingMethodRepository(provider *pfirestore.Provider) (*ShippingMethodRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping method repository requires firestore provider")
	}
	return &ShippingMethodRepository{
		base: pfirestore.NewBaseRepository[shippingMethodDocument](provider, shippingMethodCollection, nil, nil),
	}, nil
}

func (r *ShippingMethodRepository) FindByID(ctx context.Context, methodID string) (domain.ShippingMethod, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(methodID))
	if err != nil {
		return domain.ShippingMethod{}, err
	}
	return domain.ShippingMethod{
		ID:       doc.ID,
		Name:     doc.Data.Name,
		Cost:     doc.Data.Cost,
		CostType: strings.ToLower(strings.TrimSpace(doc.Data.CostType)),
		IsActive: doc.Data.IsActive,
	}, nil
}

type shippingMethodDocument struct {
	Name     string `firestore:"name"`
	Cost     int64  `firestore:"cost"`
	CostType string `firestore:"costType"`
	IsActive bool   `firestore:"isActive"`
}
