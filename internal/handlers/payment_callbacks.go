package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mekongmart/api/internal/payments"
	"github.com/mekongmart/api/internal/services"
)

// Gateway acknowledgement codes returned on the IPN channel. The gateway
// retries until it receives code 00, so every handled notification, including
// a failed payment, must acknowledge with 00.
const (
	ipnCodeSuccess          = "00"
	ipnCodeOrderNotFound    = "01"
	ipnCodeAlreadyConfirmed = "02"
	ipnCodeAmountMismatch   = "04"
	ipnCodeInvalidSignature = "97"
	ipnCodeInternalError    = "99"
)

type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// CallbackVerifier authenticates gateway callback query parameters.
type CallbackVerifier interface {
	VerifyCallback(values url.Values) (payments.Callback, error)
}

// CallbackHandlers terminates the payment gateway callback channels: the
// server-to-server IPN that settles orders and the browser return redirect
// that reports the outcome to the buyer.
type CallbackHandlers struct {
	gateway CallbackVerifier
	orders  services.OrderService
	logger  *zap.Logger
}

// NewCallbackHandlers constructs a new CallbackHandlers instance.
func NewCallbackHandlers(gateway CallbackVerifier, orders services.OrderService, logger *zap.Logger) *CallbackHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackHandlers{
		gateway: gateway,
		orders:  orders,
		logger:  logger,
	}
}

// Routes registers the gateway callback endpoints.
func (h *CallbackHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/vnpay_ipn", h.handleIPN)
	r.Get("/vnpay_return", h.handleReturn)
}

// handleIPN is the authoritative settlement path. The response body always
// carries HTTP 200 with a gateway specific RspCode.
func (h *CallbackHandlers) handleIPN(w http.ResponseWriter, r *http.Request) {
	cb, err := h.gateway.VerifyCallback(r.URL.Query())
	if err != nil {
		h.logger.Warn("payment ipn rejected", zap.Error(err))
		writeJSONResponse(w, http.StatusOK, ipnResponse{RspCode: ipnCodeInvalidSignature, Message: "Invalid signature"})
		return
	}

	outcome, err := h.orders.ApplyPaymentOutcome(r.Context(), cb)
	if err != nil {
		h.logger.Error("payment ipn processing failed",
			zap.String("txnRef", cb.TxnRef),
			zap.Error(err),
		)
		writeJSONResponse(w, http.StatusOK, ipnResponse{RspCode: ipnCodeInternalError, Message: "Unknown error"})
		return
	}

	h.logger.Info("payment ipn applied",
		zap.String("txnRef", cb.TxnRef),
		zap.String("signal", string(outcome.Signal)),
		zap.String("responseCode", cb.ResponseCode),
	)
	writeJSONResponse(w, http.StatusOK, ipnSignalResponse(outcome.Signal))
}

func ipnSignalResponse(signal services.PaymentSignal) ipnResponse {
	switch signal {
	case services.SignalOrderNotFound:
		return ipnResponse{RspCode: ipnCodeOrderNotFound, Message: "Order not found"}
	case services.SignalAmountMismatch:
		return ipnResponse{RspCode: ipnCodeAmountMismatch, Message: "Invalid amount"}
	case services.SignalAlreadyProcessed, services.SignalNoOp:
		return ipnResponse{RspCode: ipnCodeAlreadyConfirmed, Message: "Order already confirmed"}
	default:
		return ipnResponse{RspCode: ipnCodeSuccess, Message: "Confirm success"}
	}
}

type paymentReturnResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	OrderID       string `json:"order_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	TransactionNo string `json:"transaction_no,omitempty"`
	BankCode      string `json:"bank_code,omitempty"`
	ResponseCode  string `json:"response_code,omitempty"`
}

// handleReturn serves the buyer's browser redirect. It reports the gateway
// outcome but never settles the order; settlement belongs to the IPN channel,
// which also covers buyers who close the browser before redirecting.
func (h *CallbackHandlers) handleReturn(w http.ResponseWriter, r *http.Request) {
	cb, err := h.gateway.VerifyCallback(r.URL.Query())
	if err != nil {
		h.logger.Warn("payment return rejected", zap.Error(err))
		writeJSONResponse(w, http.StatusBadRequest, paymentReturnResponse{
			Status:  "invalid",
			Message: "payment result could not be verified",
		})
		return
	}

	payload := paymentReturnResponse{
		OrderID:       cb.TxnRef,
		Amount:        cb.Amount,
		TransactionNo: cb.TransactionNo,
		BankCode:      cb.BankCode,
		ResponseCode:  cb.ResponseCode,
	}
	if cb.Success() {
		payload.Status = "success"
		payload.Message = "payment completed"
	} else {
		payload.Status = "failed"
		payload.Message = "payment was not completed"
	}
	writeJSONResponse(w, http.StatusOK, payload)
}
