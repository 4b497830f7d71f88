package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/webshop/internal/platform/httpx"
	"github.com/hanko-field/webshop/internal/services"
)

// CartHandlers exposes the shopper's cart, including coupon and loyalty redemption.
type CartHandlers struct {
	carts      services.CartService
	promotions services.PromotionService
	loyalty    services.LoyaltyService
}

// NewCartHandlers constructs cart handlers. Promotion and loyalty routes answer 503 when their
// service is nil.
func NewCartHandlers(carts services.CartService, promotions services.PromotionService, loyalty services.LoyaltyService) *CartHandlers {
	return &CartHandlers{carts: carts, promotions: promotions, loyalty: loyalty}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Post("/lines", h.updateLine)
	r.Put("/shipping-rule", h.applyShippingRule)
	r.Delete("/shipping-rule", h.removeShippingRule)
	r.Put("/addresses", h.setAddress)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
	r.Post("/loyalty", h.applyLoyalty)
	r.Delete("/loyalty", h.removeLoyalty)
}

type cartViewResponse struct {
	Cart            *cartPayload            `json:"cart"`
	ItemsCount      int64                   `json:"items_count"`
	BillingAddress  *addressPayload         `json:"billing_address,omitempty"`
	ShippingAddress *addressPayload         `json:"shipping_address,omitempty"`
	Addresses       []addressPayload        `json:"addresses,omitempty"`
	ShippingOptions []shippingOptionPayload `json:"shipping_options,omitempty"`
	Loyalty         *loyaltySummaryPayload  `json:"loyalty,omitempty"`
	Formatted       *formattedPayload       `json:"formatted,omitempty"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceError(ctx, w, services.ErrCartUnavailable)
		return
	}
	shopper, _ := shopperOf(r)
	if shopper.Owner().IsZero() {
		writeJSON(w, http.StatusOK, cartViewResponse{})
		return
	}

	view, err := h.carts.CartView(ctx, shopper)
	if err != nil {
		if errors.Is(err, services.ErrCartNotFound) {
			writeJSON(w, http.StatusOK, cartViewResponse{})
			return
		}
		writeServiceError(ctx, w, err)
		return
	}

	cart := buildCartPayload(view.Cart)
	loyalty := buildLoyaltyPayload(view.Loyalty)
	formatted := buildFormattedPayload(view.Formatted)
	payload := cartViewResponse{
		Cart:            &cart,
		ItemsCount:      cart.ItemsCount,
		BillingAddress:  buildAddressPointer(view.BillingAddress),
		ShippingAddress: buildAddressPointer(view.ShippingAddress),
		Addresses:       buildAddressList(view.Addresses),
		ShippingOptions: buildShippingOptions(view.ShippingOptions),
		Loyalty:         &loyalty,
		Formatted:       &formatted,
	}
	setCartResponseHeaders(w, view.Cart)
	writeJSON(w, http.StatusOK, payload)
}

type updateLineRequest struct {
	ItemCode string           `json:"item_code"`
	Quantity flexibleString   `json:"quantity"`
	Add      bool             `json:"add"`
	Price    *float64         `json:"price"`
	GiftCard *giftCardRequest `json:"gift_card"`
	Notes    *string          `json:"notes"`
}

type giftCardRequest struct {
	Rate           int64  `json:"rate"`
	PriceListRate  int64  `json:"price_list_rate"`
	RecipientName  string `json:"recipient_name"`
	RecipientEmail string `json:"recipient_email"`
	Message        string `json:"message"`
}

func (g *giftCardRequest) data() *services.GiftCardData {
	if g == nil {
		return nil
	}
	return &services.GiftCardData{
		Rate:           g.Rate,
		PriceListRate:  g.PriceListRate,
		RecipientName:  g.RecipientName,
		RecipientEmail: g.RecipientEmail,
		Message:        g.Message,
	}
}

type updateLineResponse struct {
	Cart       *cartPayload `json:"cart,omitempty"`
	Deleted    bool         `json:"deleted"`
	ItemsCount int64        `json:"items_count"`
}

func (h *CartHandlers) updateLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceError(ctx, w, services.ErrCartUnavailable)
		return
	}
	var req updateLineRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.ItemCode) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item_code is required", http.StatusBadRequest))
		return
	}
	shopper, cookies := shopperOf(r)

	result, err := h.carts.UpdateLine(ctx, services.UpdateLineCommand{
		Shopper:  shopper,
		ItemCode: strings.TrimSpace(req.ItemCode),
		Quantity: string(req.Quantity),
		Add:      req.Add,
		Price:    req.Price,
		GiftCard: req.GiftCard.data(),
		Notes:    req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	setCartCount(w, cookies, result.ItemCount)
	if result.Deleted {
		writeJSON(w, http.StatusOK, updateLineResponse{Deleted: true})
		return
	}
	cart := buildCartPayload(result.Cart)
	setCartResponseHeaders(w, result.Cart)
	writeJSON(w, http.StatusOK, updateLineResponse{Cart: &cart, ItemsCount: result.ItemCount})
}

type shippingRuleRequest struct {
	ShippingRuleID string `json:"shipping_rule_id"`
}

func (h *CartHandlers) applyShippingRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceError(ctx, w, services.ErrCartUnavailable)
		return
	}
	var req shippingRuleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	shopper, _ := shopperOf(r)
	cart, err := h.carts.ApplyShippingRule(ctx, shopper, strings.TrimSpace(req.ShippingRuleID))
	h.respondCart(w, r, cart, err)
}

func (h *CartHandlers) removeShippingRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceError(ctx, w, services.ErrCartUnavailable)
		return
	}
	shopper, _ := shopperOf(r)
	cart, err := h.carts.RemoveShippingRule(ctx, shopper)
	h.respondCart(w, r, cart, err)
}

type setAddressRequest struct {
	AddressID string `json:"address_id"`
	Kind      string `json:"kind"`
}

func (h *CartHandlers) setAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceError(ctx, w, services.ErrCartUnavailable)
		return
	}
	var req setAddressRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	kind := services.AddressKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind != services.AddressBilling && kind != services.AddressShipping {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "kind must be billing or shipping", http.StatusBadRequest))
		return
	}
	shopper, _ := shopperOf(r)
	cart, err := h.carts.SetAddress(ctx, services.SetCartAddressCommand{
		Shopper:   shopper,
		AddressID: strings.TrimSpace(req.AddressID),
		Kind:      kind,
	})
	h.respondCart(w, r, cart, err)
}

type couponRequest struct {
	Code         string `json:"code"`
	ReferralCode string `json:"referral_code"`
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		writeServiceError(ctx, w, services.ErrPromotionUnavailable)
		return
	}
	var req couponRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	shopper, _ := shopperOf(r)
	cart, err := h.promotions.ApplyCoupon(ctx, shopper, req.Code, req.ReferralCode)
	h.respondCart(w, r, cart, err)
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		writeServiceError(ctx, w, services.ErrPromotionUnavailable)
		return
	}
	shopper, _ := shopperOf(r)
	cart, err := h.promotions.RemoveCoupon(ctx, shopper)
	h.respondCart(w, r, cart, err)
}

type loyaltyRequest struct {
	Points flexibleString `json:"points"`
}

func (h *CartHandlers) applyLoyalty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		writeServiceError(ctx, w, services.ErrLoyaltyUnavailable)
		return
	}
	var req loyaltyRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	shopper, _ := shopperOf(r)
	cart, err := h.loyalty.ApplyPoints(ctx, shopper, string(req.Points))
	h.respondCart(w, r, cart, err)
}

func (h *CartHandlers) removeLoyalty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.loyalty == nil {
		writeServiceError(ctx, w, services.ErrLoyaltyUnavailable)
		return
	}
	shopper, _ := shopperOf(r)
	cart, err := h.loyalty.RemovePoints(ctx, shopper)
	h.respondCart(w, r, cart, err)
}

func (h *CartHandlers) respondCart(w http.ResponseWriter, r *http.Request, cart services.Cart, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	setCartResponseHeaders(w, cart)
	writeJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

// GuestHandlers exposes the anonymous cart replacement endpoint.
type GuestHandlers struct {
	guests services.GuestSessionService
}

// NewGuestHandlers constructs guest cart handlers.
func NewGuestHandlers(guests services.GuestSessionService) *GuestHandlers {
	return &GuestHandlers{guests: guests}
}

// Routes wires the /guest endpoints onto the provided router.
func (h *GuestHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Put("/cart", h.replaceCart)
}

type guestCartRequest struct {
	Items []guestCartItemRequest `json:"items"`
}

type guestCartItemRequest struct {
	ItemCode string           `json:"item_code"`
	Quantity int64            `json:"quantity"`
	GiftCard *giftCardRequest `json:"gift_card"`
	Notes    string           `json:"notes"`
}

func (h *GuestHandlers) replaceCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.guests == nil {
		writeServiceError(ctx, w, services.ErrGuestCartDisabled)
		return
	}
	shopper, cookies := shopperOf(r)
	if shopper.IsAuthenticated() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "signed-in shoppers use the cart endpoints", http.StatusBadRequest))
		return
	}
	if shopper.GuestToken == "" {
		writeServiceError(ctx, w, services.ErrGuestCartDisabled)
		return
	}
	var req guestCartRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	items := make([]services.GuestCartItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.GuestCartItem{
			ItemCode: strings.TrimSpace(item.ItemCode),
			Quantity: item.Quantity,
			GiftCard: item.GiftCard.data(),
			Notes:    item.Notes,
		})
	}

	cart, err := h.guests.CreateOrUpdateGuestCart(ctx, shopper.GuestToken, items)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if cart == nil {
		setCartCount(w, cookies, 0)
		writeJSON(w, http.StatusOK, cartViewResponse{})
		return
	}
	payload := buildCartPayload(*cart)
	setCartCount(w, cookies, payload.ItemsCount)
	setCartResponseHeaders(w, *cart)
	writeJSON(w, http.StatusOK, cartViewResponse{Cart: &payload, ItemsCount: payload.ItemsCount})
}
