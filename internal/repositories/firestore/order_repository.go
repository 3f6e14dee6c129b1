package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mekongmart/api/internal/domain"
	pfirestore "github.com/mekongmart/api/internal/platform/firestore"
	"github.com/mekongmart/api/internal/repositories"
)

const (
	orderCollection = "orders"
)

// OrderRepository persists order documents within Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert persists a new order document using the order ID as document
// identifier. An existing document with the same ID surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	_, err := r.base.Create(ctx, orderID, encodeOrder(order))
	return err
}

// FindByID loads a single order by its identifier.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// ListByBuyer returns every order belonging to the buyer, newest first.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(buyerID)
	if uid == "" {
		return nil, errors.New("order repository: buyer id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("buyerId", "==", uid).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, decodeOrder(doc.ID, doc.Data))
	}
	return orders, nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.BuyerID); uid != "" {
			q = q.Where("buyerId", "==", uid)
		}
		if len(filter.Status) == 1 {
			q = q.Where("status", "==", string(filter.Status[0]))
		}
		if filter.CreatedAt.From != nil {
			q = q.Where("createdAt", ">=", filter.CreatedAt.From.UTC())
		}
		if filter.CreatedAt.To != nil {
			q = q.Where("createdAt", "<=", filter.CreatedAt.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order := decodeOrder(doc.ID, doc.Data)
		if len(filter.Status) > 1 && !statusIn(order.Status, filter.Status) {
			continue
		}
		orders = append(orders, order)
	}
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

// UpdatePaymentURL stores a fresh payment URL while the order is still pending.
func (r *OrderRepository) UpdatePaymentURL(ctx context.Context, orderID string, paymentURL string, expireAt time.Time, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, id)
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
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if domain.OrderStatus(doc.Status) != domain.OrderStatusPending {
			return status.Errorf(codes.FailedPrecondition, "order %s is %s, expected %s", id, doc.Status, domain.OrderStatusPending)
		}
		return tx.Update(docRef, []firestore.Update{
			{Path: "paymentUrl", Value: paymentURL},
			{Path: "paymentExpireAt", Value: expireAt.UTC()},
			{Path: "updatedAt", Value: updatedAt.UTC()},
		})
	})
}

// TransitionStatus moves the order between statuses atomically. The write
// fails with a conflict when the current status no longer matches.
func (r *OrderRepository) TransitionStatus(ctx context.Context, orderID string, from, to domain.OrderStatus, updatedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("order repository: unknown status transition %s -> %s", from, to)
	}

	docRef, err := r.base.DocumentRef(ctx, id)
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
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if domain.OrderStatus(doc.Status) != from {
			return status.Errorf(codes.FailedPrecondition, "order %s is %s, expected %s", id, doc.Status, from)
		}
		return tx.Update(docRef, []firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: updatedAt.UTC()},
		})
	})
}

func statusIn(status domain.OrderStatus, allowed []domain.OrderStatus) bool {
	for _, candidate := range allowed {
		if status == candidate {
			return true
		}
	}
	return false
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Size:        item.Size,
			Color:       item.Color,
		})
	}

	doc := orderDocument{
		BuyerID:         order.BuyerID,
		Status:          string(order.Status),
		TotalPrice:      order.TotalPrice,
		Items:           items,
		ShippingAddress: order.ShippingAddress,
		RecipientName:   order.ShippingRecipientName,
		RecipientPhone:  order.ShippingPhone,
		Notes:           order.Notes,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
	if order.ShippingAddressID != nil {
		doc.AddressID = strings.TrimSpace(*order.ShippingAddressID)
	}
	if order.PaymentURL != nil {
		doc.PaymentURL = *order.PaymentURL
	}
	if order.PaymentExpireAt != nil {
		t := order.PaymentExpireAt.UTC()
		doc.PaymentExpireAt = &t
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Size:        item.Size,
			Color:       item.Color,
		})
	}

	order := domain.Order{
		ID:                    id,
		BuyerID:               doc.BuyerID,
		Status:                domain.OrderStatus(doc.Status),
		TotalPrice:            doc.TotalPrice,
		Items:                 items,
		ShippingAddress:       doc.ShippingAddress,
		ShippingRecipientName: doc.RecipientName,
		ShippingPhone:         doc.RecipientPhone,
		Notes:                 doc.Notes,
		CreatedAt:             doc.CreatedAt,
		UpdatedAt:             doc.UpdatedAt,
	}
	if addr := strings.TrimSpace(doc.AddressID); addr != "" {
		order.ShippingAddressID = &addr
	}
	if doc.PaymentURL != "" {
		url := doc.PaymentURL
		order.PaymentURL = &url
	}
	if doc.PaymentExpireAt != nil {
		t := *doc.PaymentExpireAt
		order.PaymentExpireAt = &t
	}
	return order
}

type orderDocument struct {
	BuyerID         string              `firestore:"buyerId"`
	Status          string              `firestore:"status"`
	TotalPrice      int64               `firestore:"totalPrice"`
	Items           []orderItemDocument `firestore:"items"`
	ShippingAddress string              `firestore:"shippingAddress"`
	RecipientName   string              `firestore:"recipientName,omitempty"`
	RecipientPhone  string              `firestore:"recipientPhone,omitempty"`
	AddressID       string              `firestore:"addressId,omitempty"`
	Notes           string              `firestore:"notes,omitempty"`
	PaymentURL      string              `firestore:"paymentUrl,omitempty"`
	PaymentExpireAt *time.Time          `firestore:"paymentExpireAt,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Size        string `firestore:"size,omitempty"`
	Color       string `firestore:"color,omitempty"`
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
