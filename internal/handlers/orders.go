package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/webshop/internal/platform/httpx"
	"github.com/hanko-field/webshop/internal/services"
)

// OrderHandlers places orders without online payment and serves the confirmation page data.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.placeOrder)
	r.Get("/thank-you", h.thankYou)
}

type orderPayload struct {
	ID                string            `json:"id"`
	Number            string            `json:"number"`
	Status            string            `json:"status"`
	Currency          string            `json:"currency"`
	CustomerName      string            `json:"customer_name,omitempty"`
	ContactEmail      string            `json:"contact_email,omitempty"`
	Lines             []cartLinePayload `json:"lines"`
	Totals            totalsPayload     `json:"totals"`
	CouponCode        string            `json:"coupon_code,omitempty"`
	ShippingRuleID    string            `json:"shipping_rule_id,omitempty"`
	ShippingAddressID string            `json:"shipping_address_id,omitempty"`
	CreatedAt         string            `json:"created_at,omitempty"`
}

type invoicePayload struct {
	ID                string `json:"id"`
	Number            string `json:"number"`
	Status            string `json:"status"`
	GrandTotal        int64  `json:"grand_total"`
	OutstandingAmount int64  `json:"outstanding_amount"`
	GiftCardsIssued   bool   `json:"gift_cards_issued"`
}

type placeOrderResponse struct {
	Order   orderPayload    `json:"order"`
	Invoice *invoicePayload `json:"invoice,omitempty"`
	Message string          `json:"message"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceError(ctx, w, services.ErrOrderUnavailable)
		return
	}
	shopper, cookies := shopperOf(r)
	result, err := h.orders.PlaceOrder(ctx, shopper)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setCartCount(w, cookies, 0)
	resp := placeOrderResponse{Order: buildOrderPayload(result.Order), Message: result.Message}
	if result.Invoice != nil {
		invoice := buildInvoicePayload(*result.Invoice)
		resp.Invoice = &invoice
	}
	writeJSON(w, http.StatusCreated, resp)
}

type thankYouResponse struct {
	Order          orderPayload     `json:"order"`
	Invoice        *invoicePayload  `json:"invoice,omitempty"`
	Paid           bool             `json:"paid"`
	Gateway        string           `json:"gateway,omitempty"`
	PaymentRequest string           `json:"payment_request,omitempty"`
	PaymentEntry   string           `json:"payment_entry,omitempty"`
	Formatted      formattedPayload `json:"formatted"`
}

func (h *OrderHandlers) thankYou(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceError(ctx, w, services.ErrOrderUnavailable)
		return
	}
	orderID := strings.TrimSpace(r.URL.Query().Get("sales_order"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sales_order is required", http.StatusBadRequest))
		return
	}
	shopper, _ := shopperOf(r)
	view, err := h.orders.ThankYou(ctx, shopper, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := thankYouResponse{
		Order:     buildOrderPayload(view.Order),
		Paid:      view.Paid,
		Gateway:   view.Gateway,
		Formatted: buildFormattedPayload(view.Formatted),
	}
	if view.Invoice != nil {
		invoice := buildInvoicePayload(*view.Invoice)
		payload.Invoice = &invoice
	}
	if view.PaymentRequest != nil {
		payload.PaymentRequest = view.PaymentRequest.ID
	}
	if view.PaymentEntry != nil {
		payload.PaymentEntry = view.PaymentEntry.ID
	}
	writeJSON(w, http.StatusOK, payload)
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		Number:            order.Number,
		Status:            string(order.Status),
		Currency:          strings.ToUpper(order.Currency),
		CustomerName:      order.CustomerName,
		ContactEmail:      order.ContactEmail,
		Lines:             make([]cartLinePayload, 0, len(order.Lines)),
		Totals:            buildTotalsPayload(order.Totals),
		CouponCode:        order.CouponCode,
		ShippingRuleID:    order.ShippingRuleID,
		ShippingAddressID: order.ShippingAddressID,
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, buildLinePayload(line))
	}
	if !order.CreatedAt.IsZero() {
		payload.CreatedAt = formatTime(order.CreatedAt)
	}
	return payload
}

func buildInvoicePayload(invoice services.Invoice) invoicePayload {
	return invoicePayload{
		ID:                invoice.ID,
		Number:            invoice.Number,
		Status:            string(invoice.Status),
		GrandTotal:        invoice.Totals.GrandTotal,
		OutstandingAmount: invoice.OutstandingAmount,
		GiftCardsIssued:   invoice.GiftCardsIssued,
	}
}
