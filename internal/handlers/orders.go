package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mekongmart/api/internal/domain"
	"github.com/mekongmart/api/internal/platform/auth"
	"github.com/mekongmart/api/internal/platform/httpx"
	"github.com/mekongmart/api/internal/services"
)

const maxOrderBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

type createOrderRequest struct {
	CartLineIDs     []string `json:"cart_line_ids"`
	ShippingAddress string   `json:"shipping_address"`
	RecipientName   string   `json:"recipient_name"`
	RecipientPhone  string   `json:"recipient_phone"`
	AddressID       *string  `json:"address_id"`
	Notes           string   `json:"notes"`
}

// OrderHandlers exposes the buyer-facing order endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/statistics", h.statistics)
	r.Get("/{orderID}", h.getOrder)
	r.Delete("/{orderID}", h.cancelOrder)
	r.Post("/{orderID}/payment", h.issuePaymentURL)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.ShippingAddress) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipping_address is required", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		BuyerID:         identity.UID,
		CartLineIDs:     trimStrings(req.CartLineIDs),
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		RecipientName:   strings.TrimSpace(req.RecipientName),
		RecipientPhone:  strings.TrimSpace(req.RecipientPhone),
		AddressID:       req.AddressID,
		Notes:           strings.TrimSpace(req.Notes),
		ClientIP:        clientIPFromRequest(r),
	}

	result, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := createOrderResponse{
		Order:         buildOrderPayload(result.Order),
		PaymentURL:    result.PaymentURL,
		PaymentExpiry: formatTime(result.ExpireAt),
	}
	writeJSONResponse(w, http.StatusCreated, payload)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orders, err := h.orders.ListOrders(ctx, identity.UID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, identity.UID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CancelOrder(ctx, identity.UID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) issuePaymentURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	result, err := h.orders.IssuePaymentURL(ctx, services.IssuePaymentCommand{
		BuyerID:  identity.UID,
		OrderID:  orderID,
		ClientIP: clientIPFromRequest(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := paymentURLResponse{
		PaymentURL:    result.PaymentURL,
		PaymentExpiry: formatTime(result.ExpireAt),
		IsNew:         result.IsNew,
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) statistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	// Sellers see their own slice of the order book. Admins may inspect any
	// seller via the seller_id query parameter.
	sellerID := identity.UID
	if requested := strings.TrimSpace(r.URL.Query().Get("seller_id")); requested != "" && requested != identity.UID {
		if !identity.HasRole(auth.RoleAdmin) {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "cannot read statistics for another seller", http.StatusForbidden))
			return
		}
		sellerID = requested
	}

	stats, err := h.orders.Statistics(ctx, sellerID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := orderStatisticsPayload{
		SellerID:        stats.SellerID,
		TotalOrders:     stats.TotalOrders,
		PendingOrders:   stats.PendingOrders,
		PaidOrders:      stats.PaidOrders,
		CancelledOrders: stats.CancelledOrder,
		Revenue:         stats.Revenue,
		UnitsSold:       stats.UnitsSold,
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

type createOrderResponse struct {
	Order         orderPayload `json:"order"`
	PaymentURL    string       `json:"payment_url"`
	PaymentExpiry string       `json:"payment_expire_at"`
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type paymentURLResponse struct {
	PaymentURL    string `json:"payment_url"`
	PaymentExpiry string `json:"payment_expire_at"`
	IsNew         bool   `json:"is_new"`
}

type orderStatisticsPayload struct {
	SellerID        string `json:"seller_id"`
	TotalOrders     int    `json:"total_orders"`
	PendingOrders   int    `json:"pending_orders"`
	PaidOrders      int    `json:"paid_orders"`
	CancelledOrders int    `json:"cancelled_orders"`
	Revenue         int64  `json:"revenue"`
	UnitsSold       int64  `json:"units_sold"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	BuyerID         string             `json:"buyer_id"`
	Status          string             `json:"status"`
	TotalPrice      int64              `json:"total_price"`
	Items           []orderItemPayload `json:"items"`
	ShippingAddress string             `json:"shipping_address"`
	RecipientName   string             `json:"recipient_name,omitempty"`
	RecipientPhone  string             `json:"recipient_phone,omitempty"`
	AddressID       *string            `json:"address_id,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	PaymentURL      *string            `json:"payment_url,omitempty"`
	PaymentExpiry   string             `json:"payment_expire_at,omitempty"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	LineTotal   int64  `json:"line_total"`
	Size        string `json:"size,omitempty"`
	Color       string `json:"color,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:              strings.TrimSpace(order.ID),
		BuyerID:         strings.TrimSpace(order.BuyerID),
		Status:          string(order.Status),
		TotalPrice:      order.TotalPrice,
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: order.ShippingAddress,
		RecipientName:   order.ShippingRecipientName,
		RecipientPhone:  order.ShippingPhone,
		AddressID:       order.ShippingAddressID,
		Notes:           order.Notes,
		PaymentURL:      order.PaymentURL,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	if order.PaymentExpireAt != nil {
		payload.PaymentExpiry = formatTime(*order.PaymentExpireAt)
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal(),
			Size:        item.Size,
			Color:       item.Color,
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNoValidSelection):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_selection", "no cart lines match the requested selection", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxOrderBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func clientIPFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func trimStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
