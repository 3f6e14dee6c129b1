package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/mekongmart/api/internal/domain"
	pfirestore "github.com/mekongmart/api/internal/platform/firestore"
	"github.com/mekongmart/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository reads buyer carts and removes paid-for lines.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// GetCart loads the cart for the given buyer. The buyer ID doubles as the
// document identifier.
func (r *CartRepository) GetCart(ctx context.Context, buyerID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(buyerID)
	if uid == "" {
		return domain.Cart{}, errors.New("cart repository: buyer id is required")
	}

	doc, err := r.base.Get(ctx, uid)
	if err != nil {
		return domain.Cart{}, err
	}

	items := make([]domain.CartItem, 0, len(doc.Data.Items))
	for _, item := range doc.Data.Items {
		items = append(items, domain.CartItem{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Size:        item.Size,
			Color:       item.Color,
		})
	}

	cart := domain.Cart{
		ID:        doc.ID,
		BuyerID:   doc.ID,
		Items:     items,
		CreatedAt: doc.Data.CreatedAt,
		UpdatedAt: doc.Data.UpdatedAt,
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = doc.CreateTime
	}
	return cart, nil
}

// RemoveProductLines deletes every cart line whose product appears in the
// given set. A missing cart or already-removed line is a no-op, which keeps
// the operation safe to retry.
func (r *CartRepository) RemoveProductLines(ctx context.Context, buyerID string, productIDs []string, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	uid := strings.TrimSpace(buyerID)
	if uid == "" {
		return errors.New("cart repository: buyer id is required")
	}
	if len(productIDs) == 0 {
		return nil
	}

	remove := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			remove[id] = struct{}{}
		}
	}
	if len(remove) == 0 {
		return nil
	}

	docRef, err := r.base.DocumentRef(ctx, uid)
	if err != nil {
		return err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	return pfirestore.RunTransaction(ctx, client, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			if wrapped := pfirestore.WrapError("carts.get", err); isNotFound(wrapped) {
				return nil
			}
			return err
		}
		var doc cartDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}

		kept := make([]cartItemDocument, 0, len(doc.Items))
		for _, item := range doc.Items {
			if _, drop := remove[item.ProductID]; drop {
				continue
			}
			kept = append(kept, item)
		}
		if len(kept) == len(doc.Items) {
			return nil
		}

		return tx.Update(docRef, []firestore.Update{
			{Path: "items", Value: kept},
			{Path: "updatedAt", Value: updatedAt.UTC()},
		})
	})
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID          string `firestore:"id"`
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Size        string `firestore:"size,omitempty"`
	Color       string `firestore:"color,omitempty"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
