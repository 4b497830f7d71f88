package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hanko-field/webshop/internal/services"
)

type cartPayload struct {
	ID                string              `json:"id"`
	Status            string              `json:"status"`
	Currency          string              `json:"currency"`
	CustomerName      string              `json:"customer_name,omitempty"`
	ContactEmail      string              `json:"contact_email,omitempty"`
	ItemsCount        int64               `json:"items_count"`
	Lines             []cartLinePayload   `json:"lines"`
	Taxes             []taxLinePayload    `json:"taxes,omitempty"`
	Totals            totalsPayload       `json:"totals"`
	CouponCode        string              `json:"coupon_code,omitempty"`
	ReferralCode      string              `json:"referral_code,omitempty"`
	Loyalty           *cartLoyaltyPayload `json:"loyalty,omitempty"`
	ShippingRuleID    string              `json:"shipping_rule_id,omitempty"`
	BillingAddressID  string              `json:"billing_address_id,omitempty"`
	ShippingAddressID string              `json:"shipping_address_id,omitempty"`
	UpdatedAt         string              `json:"updated_at,omitempty"`
}

type cartLinePayload struct {
	ItemCode      string           `json:"item_code"`
	ItemName      string           `json:"item_name,omitempty"`
	Quantity      int64            `json:"quantity"`
	Rate          int64            `json:"rate"`
	PriceListRate int64            `json:"price_list_rate"`
	Amount        int64            `json:"amount"`
	IsGiftCard    bool             `json:"is_gift_card,omitempty"`
	GiftCard      *giftCardPayload `json:"gift_card,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

type giftCardPayload struct {
	Code           string `json:"code,omitempty"`
	Rate           int64  `json:"rate,omitempty"`
	PriceListRate  int64  `json:"price_list_rate,omitempty"`
	RecipientName  string `json:"recipient_name,omitempty"`
	RecipientEmail string `json:"recipient_email,omitempty"`
	Message        string `json:"message,omitempty"`
}

type taxLinePayload struct {
	Description string  `json:"description"`
	Rate        float64 `json:"rate,omitempty"`
	Amount      int64   `json:"amount"`
}

type totalsPayload struct {
	NetTotal       int64 `json:"net_total"`
	TaxTotal       int64 `json:"tax_total"`
	ShippingTotal  int64 `json:"shipping_total"`
	DiscountAmount int64 `json:"discount_amount"`
	GrandTotal     int64 `json:"grand_total"`
	RoundedTotal   int64 `json:"rounded_total"`
}

type cartLoyaltyPayload struct {
	Points    int64  `json:"points"`
	Amount    int64  `json:"amount"`
	ProgramID string `json:"program_id,omitempty"`
}

type formattedPayload struct {
	NetTotal      string `json:"net_total"`
	TaxTotal      string `json:"tax_total"`
	ShippingTotal string `json:"shipping_total"`
	Discount      string `json:"discount"`
	GrandTotal    string `json:"grand_total"`
}

type addressPayload struct {
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	IsShipping bool   `json:"is_shipping,omitempty"`
	IsBilling  bool   `json:"is_billing,omitempty"`
}

type shippingOptionPayload struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Rate          int64  `json:"rate"`
	FormattedRate string `json:"formatted_rate"`
}

type loyaltySummaryPayload struct {
	Enabled          bool    `json:"enabled"`
	ProgramID        string  `json:"program_id,omitempty"`
	AvailablePoints  int64   `json:"available_points"`
	ConversionFactor float64 `json:"conversion_factor"`
	PointsValue      int64   `json:"points_value"`
	AppliedPoints    int64   `json:"applied_points"`
	AppliedAmount    int64   `json:"applied_amount"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:                cart.ID,
		Status:            string(cart.Status),
		Currency:          strings.ToUpper(cart.Currency),
		CustomerName:      cart.CustomerName,
		ContactEmail:      cart.ContactEmail,
		ItemsCount:        cart.ItemCount(),
		Lines:             make([]cartLinePayload, 0, len(cart.Lines)),
		Totals:            buildTotalsPayload(cart.Totals),
		CouponCode:        cart.CouponCode,
		ReferralCode:      cart.ReferralCode,
		ShippingRuleID:    cart.ShippingRuleID,
		BillingAddressID:  cart.BillingAddressID,
		ShippingAddressID: cart.ShippingAddressID,
	}
	for _, line := range cart.Lines {
		payload.Lines = append(payload.Lines, buildLinePayload(line))
	}
	for _, tax := range cart.Taxes {
		payload.Taxes = append(payload.Taxes, taxLinePayload{Description: tax.Description, Rate: tax.Rate, Amount: tax.Amount})
	}
	if cart.Loyalty != nil {
		payload.Loyalty = &cartLoyaltyPayload{Points: cart.Loyalty.Points, Amount: cart.Loyalty.Amount, ProgramID: cart.Loyalty.ProgramID}
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}
	return payload
}

func buildLinePayload(line services.CartLine) cartLinePayload {
	entry := cartLinePayload{
		ItemCode:      line.ItemCode,
		ItemName:      line.ItemName,
		Quantity:      line.Quantity,
		Rate:          line.Rate,
		PriceListRate: line.PriceListRate,
		Amount:        line.Amount,
		IsGiftCard:    line.IsGiftCard,
		Notes:         line.Notes,
	}
	if gc := line.GiftCard; gc != nil {
		entry.GiftCard = &giftCardPayload{
			Code:           gc.Code,
			Rate:           gc.Rate,
			PriceListRate:  gc.PriceListRate,
			RecipientName:  gc.RecipientName,
			RecipientEmail: gc.RecipientEmail,
			Message:        gc.Message,
		}
	}
	return entry
}

func buildTotalsPayload(totals services.CartTotals) totalsPayload {
	return totalsPayload{
		NetTotal:       totals.NetTotal,
		TaxTotal:       totals.TaxTotal,
		ShippingTotal:  totals.ShippingTotal,
		DiscountAmount: totals.DiscountAmount,
		GrandTotal:     totals.GrandTotal,
		RoundedTotal:   totals.RoundedTotal,
	}
}

func buildFormattedPayload(f services.FormattedTotals) formattedPayload {
	return formattedPayload{
		NetTotal:      f.NetTotal,
		TaxTotal:      f.TaxTotal,
		ShippingTotal: f.ShippingTotal,
		Discount:      f.Discount,
		GrandTotal:    f.GrandTotal,
	}
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		ID:         addr.ID,
		Title:      addr.Title,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		IsShipping: addr.IsShipping,
		IsBilling:  addr.IsBilling,
	}
}

func buildAddressPointer(addr *services.Address) *addressPayload {
	if addr == nil {
		return nil
	}
	payload := buildAddressPayload(*addr)
	return &payload
}

func buildAddressList(addrs []services.Address) []addressPayload {
	out := make([]addressPayload, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, buildAddressPayload(addr))
	}
	return out
}

func buildShippingOptions(options []services.ShippingOption) []shippingOptionPayload {
	out := make([]shippingOptionPayload, 0, len(options))
	for _, opt := range options {
		out = append(out, shippingOptionPayload{ID: opt.ID, Title: opt.Title, Rate: opt.Rate, FormattedRate: opt.FormattedRate})
	}
	return out
}

func buildLoyaltyPayload(summary services.LoyaltySummary) loyaltySummaryPayload {
	return loyaltySummaryPayload{
		Enabled:          summary.Enabled,
		ProgramID:        summary.ProgramID,
		AvailablePoints:  summary.AvailablePoints,
		ConversionFactor: summary.ConversionFactor,
		PointsValue:      summary.PointsValue,
		AppliedPoints:    summary.AppliedPoints,
		AppliedAmount:    summary.AppliedAmount,
	}
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf(`W/"%s"`, hex.EncodeToString(sum[:8]))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
