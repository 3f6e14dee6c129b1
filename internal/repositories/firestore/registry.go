package firestore

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"

	pfirestore "github.com/mekongmart/api/internal/platform/firestore"
	"github.com/mekongmart/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the shared provider.
type Registry struct {
	provider *pfirestore.Provider

	orders   *OrderRepository
	carts    *CartRepository
	products *ProductRepository
	health   *healthRepository
}

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		orders:   orders,
		carts:    carts,
		products: products,
		health:   &healthRepository{provider: provider},
	}, nil
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Carts returns the cart repository.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Products returns the product catalog reader.
func (r *Registry) Products() repositories.ProductCatalog { return r.products }

// Health returns the dependency health prober.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn directly. Order mutations carry their own conditional
// transactions, so no outer transactional scope is layered on top.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	return fn(ctx)
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

type healthRepository struct {
	provider *pfirestore.Provider
}

// Ping verifies that the Firestore backend answers a minimal read.
func (h *healthRepository) Ping(ctx context.Context) error {
	if h == nil || h.provider == nil {
		return errors.New("health repository not initialised")
	}
	client, err := h.provider.Client(ctx)
	if err != nil {
		return err
	}

	iter := client.Collection(orderCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("health.ping", err)
	}
	return nil
}

var _ repositories.Registry = (*Registry)(nil)
