package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mekongmart/api/internal/domain"
	"github.com/mekongmart/api/internal/payments"
	"github.com/mekongmart/api/internal/repositories"
)

const (
	orderEventCreated        = "order.created"
	orderEventStatusChanged  = "order.status.changed"
	orderEventPaymentApplied = "order.payment.applied"

	orderIDPrefix = "ord_"

	defaultReuseMargin = 60 * time.Second
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order is not in a state that permits the operation.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderEmptyCart indicates the buyer's cart is missing or has no lines.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderNoValidSelection indicates none of the requested cart lines exist.
	ErrOrderNoValidSelection = errors.New("order: no valid cart lines selected")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Products    repositories.ProductCatalog
	UnitOfWork  repositories.UnitOfWork
	Gateway     PaymentURLBuilder
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
	ReuseMargin time.Duration
}

type orderService struct {
	orders      repositories.OrderRepository
	carts       repositories.CartRepository
	products    repositories.ProductCatalog
	unitOfWork  repositories.UnitOfWork
	gateway     PaymentURLBuilder
	clock       func() time.Time
	newID       func() string
	events      OrderEventPublisher
	logger      func(context.Context, string, map[string]any)
	reuseMargin time.Duration
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	margin := deps.ReuseMargin
	if margin <= 0 {
		margin = defaultReuseMargin
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		products:   deps.Products,
		unitOfWork: unit,
		gateway:    deps.Gateway,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:       idGen,
		events:      deps.Events,
		logger:      logger,
		reuseMargin: margin,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	shippingAddress := strings.TrimSpace(cmd.ShippingAddress)
	if shippingAddress == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: shipping address is required", ErrOrderInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, buyerID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return CreateOrderResult{}, ErrOrderEmptyCart
		}
		return CreateOrderResult{}, s.mapRepositoryError(err)
	}
	if len(cart.Items) == 0 {
		return CreateOrderResult{}, ErrOrderEmptyCart
	}

	selected := selectCartLines(cart.Items, cmd.CartLineIDs)
	if len(selected) == 0 {
		return CreateOrderResult{}, ErrOrderNoValidSelection
	}

	now := s.now()
	items := make([]domain.OrderItem, 0, len(selected))
	var total int64
	for _, line := range selected {
		item := domain.OrderItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Size:        line.Size,
			Color:       line.Color,
		}
		items = append(items, item)
		total += item.LineTotal()
	}
	if total <= 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: order total must be positive", ErrOrderInvalidInput)
	}

	order := domain.Order{
		ID:                    s.nextOrderID(),
		BuyerID:               buyerID,
		Status:                domain.OrderStatusPending,
		TotalPrice:            total,
		Items:                 items,
		ShippingAddress:       shippingAddress,
		ShippingRecipientName: strings.TrimSpace(cmd.RecipientName),
		ShippingPhone:         strings.TrimSpace(cmd.RecipientPhone),
		Notes:                 strings.TrimSpace(cmd.Notes),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if cmd.AddressID != nil {
		if trimmed := strings.TrimSpace(*cmd.AddressID); trimmed != "" {
			order.ShippingAddressID = &trimmed
		}
	}

	paymentURL, expireAt, err := s.gateway.BuildRedirectURL(payments.PaymentRequest{
		OrderID:  order.ID,
		Amount:   order.TotalPrice,
		ClientIP: cmd.ClientIP,
	})
	if err != nil {
		return CreateOrderResult{}, fmt.Errorf("order: build payment url: %w", err)
	}
	order.PaymentURL = &paymentURL
	expireUTC := expireAt.UTC()
	order.PaymentExpireAt = &expireUTC

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return CreateOrderResult{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		BuyerID:       buyerID,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"totalPrice": order.TotalPrice,
			"itemCount":  len(order.Items),
		},
	})

	return CreateOrderResult{Order: order, PaymentURL: paymentURL, ExpireAt: expireUTC}, nil
}

func (s *orderService) ListOrders(ctx context.Context, buyerID string) ([]domain.Order, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}

	orders, err := s.orders.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) GetOrder(ctx context.Context, buyerID, orderID string) (domain.Order, error) {
	order, err := s.findOwnedOrder(ctx, buyerID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *orderService) CancelOrder(ctx context.Context, buyerID, orderID string) (domain.Order, error) {
	order, err := s.findOwnedOrder(ctx, buyerID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("%w: cannot cancel order in status %s", ErrOrderInvalidState, order.Status)
	}

	now := s.now()
	if err := s.orders.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled, now); err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrOrderConflict) {
			return domain.Order{}, fmt.Errorf("%w: order already left pending state", ErrOrderInvalidState)
		}
		return domain.Order{}, mapped
	}

	previous := order.Status
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = now

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		OccurredAt:     now,
	})

	return order, nil
}

func (s *orderService) IssuePaymentURL(ctx context.Context, cmd IssuePaymentCommand) (PaymentURLResult, error) {
	order, err := s.findOwnedOrder(ctx, cmd.BuyerID, cmd.OrderID)
	if err != nil {
		return PaymentURLResult{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return PaymentURLResult{}, fmt.Errorf("%w: order is %s, payment applies to pending orders only", ErrOrderInvalidState, order.Status)
	}

	now := s.now()
	if order.PaymentURL != nil && order.PaymentExpireAt != nil {
		if now.Before(order.PaymentExpireAt.Add(-s.reuseMargin)) {
			return PaymentURLResult{
				PaymentURL: *order.PaymentURL,
				ExpireAt:   order.PaymentExpireAt.UTC(),
				IsNew:      false,
			}, nil
		}
	}

	paymentURL, expireAt, err := s.gateway.BuildRedirectURL(payments.PaymentRequest{
		OrderID:  order.ID,
		Amount:   order.TotalPrice,
		ClientIP: cmd.ClientIP,
	})
	if err != nil {
		return PaymentURLResult{}, fmt.Errorf("order: build payment url: %w", err)
	}

	if err := s.orders.UpdatePaymentURL(ctx, order.ID, paymentURL, expireAt, now); err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrOrderConflict) {
			return PaymentURLResult{}, fmt.Errorf("%w: order already left pending state", ErrOrderInvalidState)
		}
		return PaymentURLResult{}, mapped
	}

	return PaymentURLResult{PaymentURL: paymentURL, ExpireAt: expireAt.UTC(), IsNew: true}, nil
}

// ApplyPaymentOutcome is the single point where gateway notifications mutate
// order state. Repeated notifications for the same order resolve to
// SignalAlreadyProcessed without further writes.
func (s *orderService) ApplyPaymentOutcome(ctx context.Context, cb payments.Callback) (PaymentOutcome, error) {
	orderID := strings.TrimSpace(cb.TxnRef)
	if orderID == "" {
		return PaymentOutcome{Signal: SignalOrderNotFound}, nil
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return PaymentOutcome{Signal: SignalOrderNotFound}, nil
		}
		return PaymentOutcome{}, s.mapRepositoryError(err)
	}

	if cb.Amount != order.TotalPrice {
		return PaymentOutcome{Signal: SignalAmountMismatch, Order: order}, nil
	}
	if order.Status == domain.OrderStatusCompleted {
		// A repeated notification is the retry channel for a cart purge
		// that failed after the original transition.
		s.reconcileCart(ctx, order)
		return PaymentOutcome{Signal: SignalAlreadyProcessed, Order: order}, nil
	}
	if order.Status != domain.OrderStatusPending {
		// Cancelled or fulfillment states are never resurrected by a
		// late notification.
		return PaymentOutcome{Signal: SignalNoOp, Order: order}, nil
	}

	target := domain.OrderStatusCancelled
	signal := SignalFailed
	if cb.Success() {
		target = domain.OrderStatusCompleted
		signal = SignalCompleted
	}

	now := s.now()
	if err := s.orders.TransitionStatus(ctx, order.ID, domain.OrderStatusPending, target, now); err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrOrderConflict) {
			// Lost the race with a concurrent notification.
			current, findErr := s.orders.FindByID(ctx, order.ID)
			if findErr == nil {
				order = current
			}
			signal := SignalNoOp
			if order.Status == domain.OrderStatusCompleted {
				signal = SignalAlreadyProcessed
			}
			return PaymentOutcome{Signal: signal, Order: order}, nil
		}
		return PaymentOutcome{}, mapped
	}

	previous := order.Status
	order.Status = target
	order.UpdatedAt = now

	if signal == SignalCompleted {
		s.reconcileCart(ctx, order)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentApplied,
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		OccurredAt:     now,
		Metadata: map[string]any{
			"responseCode":  cb.ResponseCode,
			"transactionNo": cb.TransactionNo,
			"bankCode":      cb.BankCode,
		},
	})

	return PaymentOutcome{Signal: signal, Order: order}, nil
}

func (s *orderService) Statistics(ctx context.Context, sellerID string) (OrderStatistics, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return OrderStatistics{}, fmt.Errorf("%w: seller id is required", ErrOrderInvalidInput)
	}
	if s.products == nil {
		return OrderStatistics{}, errors.New("order service: product catalog not configured")
	}

	products, err := s.products.ListSellerProducts(ctx, sellerID)
	if err != nil {
		return OrderStatistics{}, s.mapRepositoryError(err)
	}

	stats := OrderStatistics{SellerID: sellerID}
	if len(products) == 0 {
		return stats, nil
	}
	owned := make(map[string]struct{}, len(products))
	for _, product := range products {
		owned[product.ID] = struct{}{}
	}

	orders, err := s.orders.List(ctx, repositories.OrderListFilter{})
	if err != nil {
		return OrderStatistics{}, s.mapRepositoryError(err)
	}

	for _, order := range orders {
		var sellerRevenue int64
		var sellerUnits int64
		for _, item := range order.Items {
			if _, ok := owned[item.ProductID]; !ok {
				continue
			}
			sellerRevenue += item.LineTotal()
			sellerUnits += int64(item.Quantity)
		}
		if sellerUnits == 0 {
			continue
		}

		stats.TotalOrders++
		switch order.Status {
		case domain.OrderStatusPending:
			stats.PendingOrders++
		case domain.OrderStatusCancelled:
			stats.CancelledOrder++
		case domain.OrderStatusCompleted, domain.OrderStatusShipping, domain.OrderStatusDelivered:
			stats.PaidOrders++
			stats.Revenue += sellerRevenue
			stats.UnitsSold += sellerUnits
		}
	}

	return stats, nil
}

// reconcileCart removes the purchased product lines from the buyer's cart
// once payment is durably recorded. The purge is idempotent; a failure is
// logged and repeated when the gateway redelivers the notification for the
// completed order.
func (s *orderService) reconcileCart(ctx context.Context, order domain.Order) {
	productIDs := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		productIDs = append(productIDs, item.ProductID)
	}

	if err := s.carts.RemoveProductLines(ctx, order.BuyerID, productIDs, s.now()); err != nil {
		s.logger(ctx, "order.cart.reconcile.failed", map[string]any{
			"order": order.ID,
			"buyer": order.BuyerID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) findOwnedOrder(ctx context.Context, buyerID, orderID string) (domain.Order, error) {
	buyerID = strings.TrimSpace(buyerID)
	orderID = strings.TrimSpace(orderID)
	if buyerID == "" {
		return domain.Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	// Ownership violations surface as not-found to avoid leaking order existence.
	if order.BuyerID != buyerID {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func selectCartLines(items []domain.CartItem, lineIDs []string) []domain.CartItem {
	wanted := make(map[string]struct{}, len(lineIDs))
	for _, id := range lineIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			wanted[id] = struct{}{}
		}
	}

	selected := make([]domain.CartItem, 0, len(wanted))
	for _, item := range items {
		if _, ok := wanted[item.ID]; ok {
			selected = append(selected, item)
		}
	}
	return selected
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
