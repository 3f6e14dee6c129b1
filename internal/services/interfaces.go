package services

import (
	"context"
	"time"

	domain "github.com/mekongmart/api/internal/domain"
	"github.com/mekongmart/api/internal/payments"
)

// OrderService exposes the order lifecycle: creation from the cart, payment
// URL issuance, cancellation, gateway outcome application, and statistics.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	ListOrders(ctx context.Context, buyerID string) ([]domain.Order, error)
	GetOrder(ctx context.Context, buyerID, orderID string) (domain.Order, error)
	CancelOrder(ctx context.Context, buyerID, orderID string) (domain.Order, error)
	IssuePaymentURL(ctx context.Context, cmd IssuePaymentCommand) (PaymentURLResult, error)
	ApplyPaymentOutcome(ctx context.Context, cb payments.Callback) (PaymentOutcome, error)
	Statistics(ctx context.Context, sellerID string) (OrderStatistics, error)
}

// CreateOrderCommand carries buyer input for order creation.
type CreateOrderCommand struct {
	BuyerID         string
	CartLineIDs     []string
	ShippingAddress string
	RecipientName   string
	RecipientPhone  string
	AddressID       *string
	Notes           string
	ClientIP        string
}

// CreateOrderResult returns the persisted order together with its payment URL.
type CreateOrderResult struct {
	Order      domain.Order
	PaymentURL string
	ExpireAt   time.Time
}

// IssuePaymentCommand requests a payment URL for an existing pending order.
type IssuePaymentCommand struct {
	BuyerID  string
	OrderID  string
	ClientIP string
}

// PaymentURLResult reports the payment URL and whether it was freshly minted.
type PaymentURLResult struct {
	PaymentURL string
	ExpireAt   time.Time
	IsNew      bool
}

// PaymentSignal classifies the effect of a gateway notification on an order.
type PaymentSignal string

const (
	// SignalOrderNotFound means the referenced order does not exist.
	SignalOrderNotFound PaymentSignal = "order_not_found"
	// SignalAmountMismatch means the notified amount differs from the order total.
	SignalAmountMismatch PaymentSignal = "amount_mismatch"
	// SignalAlreadyProcessed means the order was already confirmed by an
	// earlier notification.
	SignalAlreadyProcessed PaymentSignal = "already_processed"
	// SignalNoOp means the order sits in a state no notification may change,
	// such as cancelled; nothing was mutated.
	SignalNoOp PaymentSignal = "no_op"
	// SignalCompleted means the order was confirmed by this notification.
	SignalCompleted PaymentSignal = "completed"
	// SignalFailed means the gateway reported a failed payment and the order
	// was cancelled.
	SignalFailed PaymentSignal = "failed"
)

// PaymentOutcome reports how a gateway notification was applied.
type PaymentOutcome struct {
	Signal PaymentSignal
	Order  domain.Order
}

// OrderStatistics aggregates a seller's share of the order book.
type OrderStatistics struct {
	SellerID       string
	TotalOrders    int
	PendingOrders  int
	PaidOrders     int
	CancelledOrder int
	Revenue        int64
	UnitsSold      int64
}

// PaymentURLBuilder mints signed gateway redirect URLs.
type PaymentURLBuilder interface {
	BuildRedirectURL(req payments.PaymentRequest) (string, time.Time, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	BuyerID        string
	PreviousStatus string
	CurrentStatus  string
	OccurredAt     time.Time
	Metadata       map[string]any
}
