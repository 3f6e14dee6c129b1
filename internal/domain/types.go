package domain

import (
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment confirmation.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusCompleted indicates payment succeeded and the order is confirmed.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled indicates the order was cancelled by the buyer or a failed payment.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusShipping indicates the order has been handed to fulfillment.
	OrderStatusShipping OrderStatus = "SHIPPING"
	// OrderStatusDelivered indicates the order has been delivered to the buyer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
)

// Order is the aggregate root for a buyer's purchase. Items are created with
// the order and never mutated afterwards; TotalPrice is the creation-time
// snapshot in whole currency units (VND).
type Order struct {
	ID                    string
	BuyerID               string
	Status                OrderStatus
	TotalPrice            int64
	Items                 []OrderItem
	ShippingAddress       string
	ShippingRecipientName string
	ShippingPhone         string
	ShippingAddressID     *string
	Notes                 string
	PaymentURL            *string
	PaymentExpireAt       *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// OrderItem is a frozen line snapshot: price and variant are copied from the
// cart line at order creation and are immune to later catalog changes.
type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
	Size        string
	Color       string
}

// Cart is the buyer's current cart. It is owned by the cart subsystem; this
// service reads it for order creation and prunes lines after confirmed payment.
type Cart struct {
	ID        string
	BuyerID   string
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem is a single cart line. ID identifies the line itself; ProductID
// references the catalog product. Two lines may share a product with
// different variants, so line identity is the canonical selection key.
type CartItem struct {
	ID          string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
	Size        string
	Color       string
}

// SellerProduct is the minimal catalog projection required to scope order
// statistics to a seller.
type SellerProduct struct {
	ID       string
	SellerID string
	Name     string
}

// LineTotal returns the item subtotal for a single order line.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Valid reports whether the status is a known enum member.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled, OrderStatusShipping, OrderStatusDelivered:
		return true
	}
	return false
}
