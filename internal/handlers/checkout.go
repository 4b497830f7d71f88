package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/webshop/internal/services"
)

// CheckoutHandlers exposes the checkout page data and the selections made on it.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.view)
	r.Get("/shipping-methods", h.shippingMethods)
	r.Post("/shipping-method", h.selectShipping)
	r.Get("/payment-methods", h.paymentMethods)
	r.Put("/contact", h.updateContact)
	r.Put("/customer", h.updateCustomer)
}

type paymentMethodPayload struct {
	Name        string `json:"name"`
	Gateway     string `json:"gateway"`
	GatewayType string `json:"gateway_type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Logo        string `json:"logo,omitempty"`
	IsDefault   bool   `json:"is_default"`
}

type customerPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type contactPayload struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
}

type checkoutViewResponse struct {
	Cart            cartPayload             `json:"cart"`
	Customer        *customerPayload        `json:"customer,omitempty"`
	Contact         *contactPayload         `json:"contact,omitempty"`
	BillingAddress  *addressPayload         `json:"billing_address,omitempty"`
	ShippingAddress *addressPayload         `json:"shipping_address,omitempty"`
	Addresses       []addressPayload        `json:"addresses"`
	ShippingOptions []shippingOptionPayload `json:"shipping_options"`
	PaymentMethods  []paymentMethodPayload  `json:"payment_methods"`
	Loyalty         loyaltySummaryPayload   `json:"loyalty"`
	Formatted       formattedPayload        `json:"formatted"`
	Terms           string                  `json:"terms,omitempty"`
}

func (h *CheckoutHandlers) view(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceError(ctx, w, services.ErrCheckoutUnavailable)
		return
	}
	shopper, _ := shopperOf(r)
	view, err := h.checkout.BuildCheckoutView(ctx, shopper)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := checkoutViewResponse{
		Cart:            buildCartPayload(view.Cart),
		BillingAddress:  buildAddressPointer(view.BillingAddress),
		ShippingAddress: buildAddressPointer(view.ShippingAddress),
		Addresses:       buildAddressList(view.Addresses),
		ShippingOptions: buildShippingOptions(view.ShippingOptions),
		PaymentMethods:  buildPaymentMethods(view.PaymentMethods),
		Loyalty:         buildLoyaltyPayload(view.Loyalty),
		Formatted:       buildFormattedPayload(view.Formatted),
		Terms:           view.Terms,
	}
	if c := view.Customer; c != nil {
		payload.Customer = &customerPayload{ID: c.ID, Name: c.Name, Type: c.Type}
	}
	if c := view.Contact; c != nil {
		payload.Contact = &contactPayload{
			ID:          c.ID,
			FirstName:   c.FirstName,
			LastName:    c.LastName,
			FullName:    c.FullName,
			Email:       c.Email,
			Phone:       c.Phone,
			CompanyName: c.CompanyName,
		}
	}
	setCartResponseHeaders(w, view.Cart)
	writeJSON(w, http.StatusOK, payload)
}

type shippingMethodsResponse struct {
	ShippingOptions []shippingOptionPayload `json:"shipping_options"`
}

func (h *CheckoutHandlers) shippingMethods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceError(ctx, w, services.ErrCheckoutUnavailable)
		return
	}
	shopper, _ := shopperOf(r)
	query := r.URL.Query()
	options, err := h.checkout.ListShippingMethods(ctx, shopper, services.ShippingQuery{
		Country:   strings.TrimSpace(query.Get("country")),
		AddressID: strings.TrimSpace(query.Get("address_id")),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, shippingMethodsResponse{ShippingOptions: buildShippingOptions(options)})
}

func (h *CheckoutHandlers) selectShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceError(ctx, w, services.ErrCheckoutUnavailable)
		return
	}
	var req shippingRuleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	shopper, _ := shopperOf(r)
	cart, err := h.checkout.SelectShipping(ctx, shopper, strings.TrimSpace(req.ShippingRuleID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setCartResponseHeaders(w, cart)
	writeJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type paymentMethodsResponse struct {
	PaymentMethods []paymentMethodPayload `json:"payment_methods"`
}

func (h *CheckoutHandlers) paymentMethods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceError(ctx, w, services.ErrCheckoutUnavailable)
		return
	}
	methods, err := h.checkout.ListPaymentMethods(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentMethodsResponse{PaymentMethods: buildPaymentMethods(methods)})
}

type contactRequest struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	CompanyName string `json:"company_name"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *CheckoutHandlers) updateContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceError(ctx, w, services.ErrCheckoutUnavailable)
		return
	}
	var req contactRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	shopper, _ := shopperOf(r)
	message, err := h.checkout.UpdateContactInfo(ctx, services.UpdateContactInfoCommand{
		Shopper:     shopper,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Phone:       req.Phone,
		CompanyName: req.CompanyName,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: message})
}

type customerRequest struct {
	CustomerName string `json:"customer_name"`
	CustomerType string `json:"customer_type"`
}

func (h *CheckoutHandlers) updateCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceError(ctx, w, services.ErrCheckoutUnavailable)
		return
	}
	var req customerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	shopper, _ := shopperOf(r)
	message, err := h.checkout.UpdateCustomerInfo(ctx, services.UpdateCustomerInfoCommand{
		Shopper:      shopper,
		CustomerName: req.CustomerName,
		CustomerType: req.CustomerType,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: message})
}

func buildPaymentMethods(methods []services.PaymentMethodView) []paymentMethodPayload {
	out := make([]paymentMethodPayload, 0, len(methods))
	for _, m := range methods {
		out = append(out, paymentMethodPayload{
			Name:        m.Name,
			Gateway:     m.Gateway,
			GatewayType: m.GatewayType,
			Title:       m.Title,
			Description: m.Description,
			Logo:        m.Logo,
			IsDefault:   m.IsDefault,
		})
	}
	return out
}
