package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/webshop/internal/platform/httpx"
	"github.com/hanko-field/webshop/internal/services"
)

const (
	maxCallbackBodySize = 64 * 1024
	paymentMethodHeader = "X-Payment-Method"
)

// PaymentHandlers starts gateway payments and receives the shopper's return from the gateway.
type PaymentHandlers struct {
	payments    services.PaymentService
	idempotency func(http.Handler) http.Handler
}

// NewPaymentHandlers constructs payment handlers. idempotency, when set, guards request creation.
func NewPaymentHandlers(payments services.PaymentService, idempotency func(http.Handler) http.Handler) *PaymentHandlers {
	return &PaymentHandlers{payments: payments, idempotency: idempotency}
}

// Routes wires the /payments endpoints onto the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	create := r
	if h.idempotency != nil {
		create = r.With(h.idempotency)
	}
	create.Post("/requests", h.createRequest)
	r.Post("/requests/{requestID}/success", h.success)
	r.Post("/requests/{requestID}/failure", h.failure)
}

type createPaymentRequest struct {
	CartID        string `json:"cart_id"`
	PaymentMethod string `json:"payment_method"`
}

type paymentRequestResponse struct {
	RequestID      string         `json:"request_id"`
	Status         string         `json:"status"`
	Amount         int64          `json:"amount"`
	Currency       string         `json:"currency"`
	PaymentURL     string         `json:"payment_url"`
	GatewayType    string         `json:"gateway_type"`
	GatewayContext map[string]any `json:"gateway_context,omitempty"`
}

type paymentRedirectResponse struct {
	Success    bool   `json:"success"`
	RedirectTo string `json:"redirect_to"`
	Message    string `json:"message,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func (h *PaymentHandlers) createRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceError(ctx, w, services.ErrPaymentUnavailable)
		return
	}
	var req createPaymentRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	shopper, _ := shopperOf(r)
	result, err := h.payments.CreatePaymentRequest(ctx, services.CreatePaymentRequestCommand{
		Shopper:       shopper,
		CartID:        strings.TrimSpace(req.CartID),
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentRequestResponse{
		RequestID:      result.Request.ID,
		Status:         string(result.Request.Status),
		Amount:         result.Request.Amount,
		Currency:       strings.ToUpper(result.Request.Currency),
		PaymentURL:     result.PaymentURL,
		GatewayType:    result.GatewayType,
		GatewayContext: result.GatewayContext,
	})
}

func (h *PaymentHandlers) success(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceError(ctx, w, services.ErrPaymentUnavailable)
		return
	}
	payload := map[string]any{}
	if err := decodeJSON(r, &payload, true); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	redirect, err := h.payments.HandleSuccess(ctx, chi.URLParam(r, "requestID"), payload)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if redirect.Success {
		_, cookies := shopperOf(r)
		setCartCount(w, cookies, 0)
	}
	writeJSON(w, http.StatusOK, buildRedirectResponse(redirect))
}

type paymentFailureRequest struct {
	Reason string `json:"reason"`
}

func (h *PaymentHandlers) failure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceError(ctx, w, services.ErrPaymentUnavailable)
		return
	}
	var req paymentFailureRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	redirect, err := h.payments.HandleFailure(ctx, chi.URLParam(r, "requestID"), req.Reason)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildRedirectResponse(redirect))
}

func buildRedirectResponse(redirect services.PaymentRedirect) paymentRedirectResponse {
	return paymentRedirectResponse{
		Success:    redirect.Success,
		RedirectTo: redirect.RedirectTo,
		Message:    redirect.Message,
		OrderID:    redirect.OrderID,
		RequestID:  redirect.RequestID,
	}
}

// WebhookHandlers receives gateway callbacks. Bodies are passed to the service unparsed so the
// signature can be checked against the exact bytes sent.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes wires the /webhooks endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/callback", h.paymentCallback)
}

func (h *WebhookHandlers) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeServiceError(ctx, w, services.ErrPaymentUnavailable)
		return
	}
	body, err := readBody(r, maxCallbackBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	method := strings.TrimSpace(r.Header.Get(paymentMethodHeader))
	if method == "" {
		method = strings.TrimSpace(r.URL.Query().Get("payment_method"))
	}
	redirect, err := h.payments.HandleCallback(ctx, services.CallbackInput{
		PaymentMethod: method,
		Payload:       body,
		Request:       r,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, buildRedirectResponse(redirect))
}

// InternalHandlers exposes back-office operations to authenticated service callers.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes wires the /internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/invoices/{invoiceID}:record-payment", h.recordPayment)
}

type recordPaymentRequest struct {
	PaymentRequestID string `json:"payment_request_id"`
	Amount           int64  `json:"amount"`
	Reference        string `json:"reference"`
	Gateway          string `json:"gateway"`
}

type recordPaymentResponse struct {
	Invoice   invoicePayload   `json:"invoice"`
	GiftCards giftCardsPayload `json:"gift_cards"`
}

type giftCardsPayload struct {
	Skipped  bool     `json:"skipped"`
	Complete bool     `json:"complete"`
	Issued   []string `json:"issued"`
}

func (h *InternalHandlers) recordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceError(ctx, w, services.ErrOrderUnavailable)
		return
	}
	var req recordPaymentRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if req.Amount <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be positive", http.StatusBadRequest))
		return
	}
	result, err := h.orders.RecordInvoicePayment(ctx, services.RecordInvoicePaymentCommand{
		InvoiceID:        chi.URLParam(r, "invoiceID"),
		PaymentRequestID: strings.TrimSpace(req.PaymentRequestID),
		Amount:           req.Amount,
		Reference:        strings.TrimSpace(req.Reference),
		Gateway:          strings.TrimSpace(req.Gateway),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordPaymentResponse{
		Invoice: buildInvoicePayload(result.Invoice),
		GiftCards: giftCardsPayload{
			Skipped:  result.GiftCards.Skipped,
			Complete: result.GiftCards.Complete(),
			Issued:   result.GiftCards.Issued(),
		},
	})
}
