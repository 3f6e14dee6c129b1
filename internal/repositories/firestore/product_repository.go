package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/mekongmart/api/internal/domain"
	pfirestore "github.com/mekongmart/api/internal/platform/firestore"
	"github.com/mekongmart/api/internal/repositories"
)

const (
	productCollection = "products"
)

// ProductRepository exposes the read-only catalog projection owned by the
// catalog subsystem.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product catalog reader.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{base: base}, nil
}

// ListSellerProducts returns every product owned by the seller.
func (r *ProductRepository) ListSellerProducts(ctx context.Context, sellerID string) ([]domain.SellerProduct, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("product repository not initialised")
	}
	sid := strings.TrimSpace(sellerID)
	if sid == "" {
		return nil, errors.New("product repository: seller id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sellerId", "==", sid)
	})
	if err != nil {
		return nil, err
	}

	products := make([]domain.SellerProduct, 0, len(docs))
	for _, doc := range docs {
		products = append(products, domain.SellerProduct{
			ID:       doc.ID,
			SellerID: doc.Data.SellerID,
			Name:     doc.Data.Name,
		})
	}
	return products, nil
}

type productDocument struct {
	SellerID string `firestore:"sellerId"`
	Name     string `firestore:"name"`
}

var _ repositories.ProductCatalog = (*ProductRepository)(nil)
