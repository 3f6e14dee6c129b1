package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mekongmart/api/internal/domain"
	"github.com/mekongmart/api/internal/payments"
	"github.com/mekongmart/api/internal/platform/auth"
	"github.com/mekongmart/api/internal/services"
)

type stubOrderService struct {
	createFn   func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error)
	listFn     func(context.Context, string) ([]domain.Order, error)
	getFn      func(context.Context, string, string) (domain.Order, error)
	cancelFn   func(context.Context, string, string) (domain.Order, error)
	paymentFn  func(context.Context, services.IssuePaymentCommand) (services.PaymentURLResult, error)
	applyFn    func(context.Context, payments.Callback) (services.PaymentOutcome, error)
	statsFn    func(context.Context, string) (services.OrderStatistics, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateOrderResult{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, buyerID string) ([]domain.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, buyerID)
	}
	return nil, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, buyerID, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, buyerID, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) CancelOrder(ctx context.Context, buyerID, orderID string) (domain.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, buyerID, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) IssuePaymentURL(ctx context.Context, cmd services.IssuePaymentCommand) (services.PaymentURLResult, error) {
	if s.paymentFn != nil {
		return s.paymentFn(ctx, cmd)
	}
	return services.PaymentURLResult{}, errors.New("not implemented")
}

func (s *stubOrderService) ApplyPaymentOutcome(ctx context.Context, cb payments.Callback) (services.PaymentOutcome, error) {
	if s.applyFn != nil {
		return s.applyFn(ctx, cb)
	}
	return services.PaymentOutcome{}, errors.New("not implemented")
}

func (s *stubOrderService) Statistics(ctx context.Context, sellerID string) (services.OrderStatistics, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx, sellerID)
	}
	return services.OrderStatistics{}, errors.New("not implemented")
}

func newOrderRouter(service services.OrderService) *chi.Mux {
	handler := NewOrderHandlers(service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func authedRequest(req *http.Request, identity *auth.Identity) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func TestOrderHandlersCreateOrderSuccess(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	expireAt := now.Add(15 * time.Minute)

	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
			captured = cmd
			return services.CreateOrderResult{
				Order: domain.Order{
					ID:              "ord_123",
					BuyerID:         "buyer-1",
					Status:          domain.OrderStatusPending,
					TotalPrice:      390000,
					ShippingAddress: "12 Le Loi, District 1",
					Items: []domain.OrderItem{
						{ProductID: "prod-a", ProductName: "Ao thun", Quantity: 2, UnitPrice: 150000},
					},
					CreatedAt: now,
					UpdatedAt: now,
				},
				PaymentURL: "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?vnp_TxnRef=ord_123",
				ExpireAt:   expireAt,
			}, nil
		},
	}

	router := newOrderRouter(service)

	body := []byte(`{"cart_line_ids":["line-1","line-2"],"shipping_address":"12 Le Loi, District 1","recipient_name":"Nguyen Van A","recipient_phone":"0901234567","notes":"giao gio hanh chinh"}`)
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	req = authedRequest(req, &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "buyer-1" {
		t.Fatalf("expected buyer from identity, got %q", captured.BuyerID)
	}
	if len(captured.CartLineIDs) != 2 || captured.CartLineIDs[0] != "line-1" {
		t.Fatalf("unexpected cart line selection: %#v", captured.CartLineIDs)
	}
	if captured.ClientIP != "203.0.113.7" {
		t.Fatalf("expected forwarded client ip, got %q", captured.ClientIP)
	}

	var resp createOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.ID != "ord_123" || resp.Order.TotalPrice != 390000 {
		t.Fatalf("unexpected order payload: %#v", resp.Order)
	}
	if !strings.Contains(resp.PaymentURL, "vnp_TxnRef=ord_123") {
		t.Fatalf("unexpected payment url: %q", resp.PaymentURL)
	}
}

func TestOrderHandlersCreateOrderRequiresAddress(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"cart_line_ids":["line-1"]}`))
	req = authedRequest(req, &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderEmptyCart(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
			return services.CreateOrderResult{}, services.ErrOrderEmptyCart
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"shipping_address":"12 Le Loi"}`))
	req = authedRequest(req, &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "cart_empty") {
		t.Fatalf("expected cart_empty code, got %s", rr.Body.String())
	}
}

func TestOrderHandlersUnauthenticated(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		listFn: func(ctx context.Context, buyerID string) ([]domain.Order, error) {
			if buyerID != "buyer-1" {
				t.Fatalf("expected buyer-1, got %q", buyerID)
			}
			return []domain.Order{
				{ID: "ord_1", BuyerID: buyerID, Status: domain.OrderStatusCompleted, TotalPrice: 250000, CreatedAt: now},
				{ID: "ord_2", BuyerID: buyerID, Status: domain.OrderStatusPending, TotalPrice: 90000, CreatedAt: now},
			}, nil
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req = authedRequest(req, &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[0].ID != "ord_1" {
		t.Fatalf("unexpected list payload: %#v", resp.Items)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFn: func(context.Context, string, string) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderNotFound
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_missing", nil)
	req = authedRequest(req, &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrderInvalidState(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(context.Context, string, string) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderInvalidState
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodDelete, "/orders/ord_1", nil)
	req = authedRequest(req, &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "order_invalid_state") {
		t.Fatalf("expected order_invalid_state code, got %s", rr.Body.String())
	}
}

func TestOrderHandlersCancelOrderSuccess(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, buyerID, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, BuyerID: buyerID, Status: domain.OrderStatusCancelled}, nil
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodDelete, "/orders/ord_1", nil)
	req = authedRequest(req, &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusCancelled) {
		t.Fatalf("expected cancelled status, got %q", resp.Order.Status)
	}
}

func TestOrderHandlersIssuePaymentURL(t *testing.T) {
	expireAt := time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC)
	service := &stubOrderService{
		paymentFn: func(ctx context.Context, cmd services.IssuePaymentCommand) (services.PaymentURLResult, error) {
			if cmd.OrderID != "ord_1" || cmd.BuyerID != "buyer-1" {
				t.Fatalf("unexpected command: %#v", cmd)
			}
			return services.PaymentURLResult{
				PaymentURL: "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?vnp_TxnRef=ord_1",
				ExpireAt:   expireAt,
				IsNew:      true,
			}, nil
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/payment", nil)
	req = authedRequest(req, &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp paymentURLResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.IsNew {
		t.Fatalf("expected freshly minted url")
	}
	if resp.PaymentExpiry != "2025-06-02T09:15:00Z" {
		t.Fatalf("unexpected expiry: %q", resp.PaymentExpiry)
	}
}

func TestOrderHandlersStatisticsOwnSeller(t *testing.T) {
	service := &stubOrderService{
		statsFn: func(ctx context.Context, sellerID string) (services.OrderStatistics, error) {
			return services.OrderStatistics{
				SellerID:    sellerID,
				TotalOrders: 4,
				PaidOrders:  3,
				Revenue:     1200000,
				UnitsSold:   9,
			}, nil
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders/statistics", nil)
	req = authedRequest(req, &auth.Identity{UID: "seller-1", Roles: []string{auth.RoleSeller}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp orderStatisticsPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SellerID != "seller-1" || resp.Revenue != 1200000 {
		t.Fatalf("unexpected statistics payload: %#v", resp)
	}
}

func TestOrderHandlersStatisticsForbiddenForOtherSeller(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders/statistics?seller_id=seller-2", nil)
	req = authedRequest(req, &auth.Identity{UID: "seller-1", Roles: []string{auth.RoleSeller}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestOrderHandlersStatisticsAdminOverride(t *testing.T) {
	var requested string
	service := &stubOrderService{
		statsFn: func(ctx context.Context, sellerID string) (services.OrderStatistics, error) {
			requested = sellerID
			return services.OrderStatistics{SellerID: sellerID}, nil
		},
	}
	router := newOrderRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders/statistics?seller_id=seller-2", nil)
	req = authedRequest(req, &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if requested != "seller-2" {
		t.Fatalf("expected seller-2 lookup, got %q", requested)
	}
}

func TestClientIPFromRequestFallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:52011"

	if ip := clientIPFromRequest(req); ip != "198.51.100.4" {
		t.Fatalf("expected remote addr host, got %q", ip)
	}
}
