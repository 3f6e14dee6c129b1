package repositories

import (
	"context"
	"time"

	domain "github.com/mekongmart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Carts() CartRepository
	Products() ProductCatalog
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and the conditional mutations the
// payment lifecycle relies on.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)

	// UpdatePaymentURL stores a freshly minted payment URL and expiry. The
	// write succeeds only while the order is still pending.
	UpdatePaymentURL(ctx context.Context, orderID string, paymentURL string, expireAt time.Time, updatedAt time.Time) error

	// TransitionStatus moves the order from one status to another atomically.
	// The write fails with a conflict error when the current status no longer
	// matches the expected one.
	TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, updatedAt time.Time) error
}

// OrderListFilter narrows order queries for statistics and admin views.
type OrderListFilter struct {
	BuyerID   string
	Status    []domain.OrderStatus
	CreatedAt RangeFilter[time.Time]
	Limit     int
}

// RangeFilter represents inclusive range bounds for a query field.
type RangeFilter[T comparable] struct {
	From *T
	To   *T
}

// CartRepository reads buyer carts and prunes paid-for lines.
type CartRepository interface {
	GetCart(ctx context.Context, buyerID string) (domain.Cart, error)

	// RemoveProductLines deletes every cart line whose product identifier is
	// in the given set. Missing carts and already-removed lines are no-ops.
	RemoveProductLines(ctx context.Context, buyerID string, productIDs []string, updatedAt time.Time) error
}

// ProductCatalog exposes the read-only catalog projection used to scope
// statistics to a seller.
type ProductCatalog interface {
	ListSellerProducts(ctx context.Context, sellerID string) ([]domain.SellerProduct, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
