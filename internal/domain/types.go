package domain

import (
	"strings"
	"time"
)

// CartStatus enumerates the lifecycle states of a cart document.
type CartStatus string

const (
	// CartStatusDraft marks an open cart that can still be mutated.
	CartStatusDraft CartStatus = "draft"
	// CartStatusSubmitted marks a cart that has been converted into an order.
	CartStatusSubmitted CartStatus = "submitted"
)

// CartOwner identifies who a cart belongs to. Exactly one of PartyID or GuestSessionID is set.
type CartOwner struct {
	PartyID        string
	GuestSessionID string
}

// Key returns the uniqueness key used by the one-open-cart index.
func (o CartOwner) Key() string {
	if party := strings.TrimSpace(o.PartyID); party != "" {
		return "party:" + party
	}
	if token := strings.TrimSpace(o.GuestSessionID); token != "" {
		return "guest:" + token
	}
	return ""
}

// IsZero reports whether the owner carries no identity.
func (o CartOwner) IsZero() bool {
	return o.Key() == ""
}

// IsGuest reports whether the owner is an anonymous guest session.
func (o CartOwner) IsGuest() bool {
	return strings.TrimSpace(o.PartyID) == "" && strings.TrimSpace(o.GuestSessionID) != ""
}

// Cart is the quotation-like document shoppers mutate before checkout.
type Cart struct {
	ID                string
	Owner             CartOwner
	Status            CartStatus
	CustomerName      string
	ContactEmail      string
	ContactID         string
	Currency          string
	PriceList         string
	Lines             []CartLine
	Taxes             []TaxLine
	Totals            CartTotals
	CouponCode        string
	ReferralCode      string
	Loyalty           *CartLoyalty
	ShippingRuleID    string
	BillingAddressID  string
	ShippingAddressID string
	Terms             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CartLine is a single item row within a cart.
type CartLine struct {
	ItemCode      string
	ItemName      string
	Quantity      int64
	Rate          int64
	PriceListRate int64
	Amount        int64
	IsGiftCard    bool
	IsStockItem   bool
	GiftCard      *GiftCardData
	Notes         string
}

// GiftCardData is the shopper supplied payload attached to gift-card lines.
type GiftCardData struct {
	Code           string
	Rate           int64
	PriceListRate  int64
	RecipientName  string
	RecipientEmail string
	Message        string
}

// TaxChargeType describes how a tax row amount is derived.
type TaxChargeType string

const (
	// TaxChargeOnNetTotal applies Rate percent to the cart net total.
	TaxChargeOnNetTotal TaxChargeType = "on_net_total"
	// TaxChargeActual uses the fixed Amount.
	TaxChargeActual TaxChargeType = "actual"
)

// TaxLine is a computed tax or synthetic adjustment row.
type TaxLine struct {
	ChargeType         TaxChargeType
	Description        string
	AccountHead        string
	Rate               float64
	Amount             int64
	IsLoyaltyReduction bool
}

// CartTotals carries the recomputed monetary totals in minor units.
type CartTotals struct {
	NetTotal       int64
	TaxTotal       int64
	ShippingTotal  int64
	DiscountAmount int64
	GrandTotal     int64
	RoundedTotal   int64
	TotalQuantity  int64
}

// CartLoyalty records an applied loyalty redemption.
type CartLoyalty struct {
	Points    int64
	Amount    int64
	ProgramID string
	EntryID   string
}

// ItemCount returns the summed quantity of all lines.
func (c Cart) ItemCount() int64 {
	var total int64
	for _, line := range c.Lines {
		total += line.Quantity
	}
	return total
}

// LineByItem returns the index of the line holding itemCode, or -1.
func (c Cart) LineByItem(itemCode string) int {
	for i, line := range c.Lines {
		if line.ItemCode == itemCode {
			return i
		}
	}
	return -1
}

// AllGiftCards reports whether every line is a gift card. Empty carts return false.
func (c Cart) AllGiftCards() bool {
	if len(c.Lines) == 0 {
		return false
	}
	for _, line := range c.Lines {
		if !line.IsGiftCard {
			return false
		}
	}
	return true
}

// ReferenceKind discriminates payment request targets.
type ReferenceKind string

const (
	// ReferenceCart points at a draft cart.
	ReferenceCart ReferenceKind = "cart"
	// ReferenceOrder points at a confirmed order.
	ReferenceOrder ReferenceKind = "order"
)

// DocumentRef is a typed pointer to another document.
type DocumentRef struct {
	Kind ReferenceKind
	ID   string
}

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	// OrderStatusConfirmed marks a submitted order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusInvoiced marks an order whose invoice was submitted.
	OrderStatusInvoiced OrderStatus = "invoiced"
)

// Order is the confirmed sales order created from a submitted cart.
type Order struct {
	ID                string
	Number            string
	CartRef           string
	PartyID           string
	CustomerName      string
	ContactEmail      string
	Currency          string
	Lines             []CartLine
	Taxes             []TaxLine
	Totals            CartTotals
	CouponCode        string
	Loyalty           *CartLoyalty
	ShippingRuleID    string
	BillingAddressID  string
	ShippingAddressID string
	SkipDeliveryNote  bool
	Status            OrderStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// InvoiceStatus enumerates invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSubmitted InvoiceStatus = "submitted"
	InvoiceStatusPaid      InvoiceStatus = "paid"
)

// Invoice is the sales invoice raised against an order.
type Invoice struct {
	ID                string
	Number            string
	OrderID           string
	PartyID           string
	Currency          string
	Lines             []CartLine
	Totals            CartTotals
	OutstandingAmount int64
	Loyalty           *CartLoyalty
	Status            InvoiceStatus
	GiftCardsIssued   bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaymentRequestStatus enumerates payment request states.
type PaymentRequestStatus string

const (
	PaymentRequestDraft     PaymentRequestStatus = "draft"
	PaymentRequestInitiated PaymentRequestStatus = "initiated"
	PaymentRequestPaid      PaymentRequestStatus = "paid"
	PaymentRequestFailed    PaymentRequestStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s PaymentRequestStatus) IsTerminal() bool {
	return s == PaymentRequestPaid || s == PaymentRequestFailed
}

// PaymentRequest tracks a single attempt to collect money through a gateway.
type PaymentRequest struct {
	ID            string
	Reference     DocumentRef
	CartID        string
	PartyID       string
	Email         string
	Gateway       string
	GatewayType   string
	PaymentMethod string
	Amount        int64
	Currency      string
	Status        PaymentRequestStatus
	PaymentURL    string
	SessionID     string
	GatewayData   map[string]any
	FromCheckout  bool
	Message       string
	RedirectTo    string
	PaidAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentEntry records money received against an order.
type PaymentEntry struct {
	ID               string
	OrderID          string
	InvoiceID        string
	PaymentRequestID string
	PartyID          string
	Gateway          string
	Amount           int64
	Currency         string
	Reference        string
	PostedAt         time.Time
}

// LoyaltyProgram defines the conversion of points to money.
type LoyaltyProgram struct {
	ID               string
	Name             string
	ConversionFactor float64
	ExpenseAccount   string
	CostCenter       string
}

// LoyaltyPointEntry is a signed ledger row; redemptions are negative.
type LoyaltyPointEntry struct {
	ID             string
	CustomerID     string
	ProgramID      string
	Points         int64
	PurchaseAmount int64
	CartID         string
	InvoiceID      string
	PostingDate    time.Time
	ExpiresAt      *time.Time
}

// CouponType discriminates coupon codes.
type CouponType string

const (
	CouponTypePromotional CouponType = "promotional"
	CouponTypeGiftCard    CouponType = "gift_card"
)

// Coupon is a redeemable code linked to a pricing rule.
type Coupon struct {
	Code          string
	Name          string
	Type          CouponType
	PricingRuleID string
	MaximumUse    int64
	Used          int64
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	CustomerID    string
	InvoiceID     string
	Owner         string
	CreatedAt     time.Time
}

// PricingRule is a fixed discount on the transaction total.
type PricingRule struct {
	ID              string
	Title           string
	DiscountAmount  int64
	CouponCodeBased bool
	Disabled        bool
	CreatedAt       time.Time
}

// Customer is the party owning carts, orders and loyalty balance.
type Customer struct {
	ID               string
	Name             string
	Type             string
	Group            string
	PrimaryContactID string
	PrimaryAddressID string
	LoyaltyProgramID string
	DefaultPriceList string
	PortalUsers      []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Contact stores the person details linked to a customer.
type Contact struct {
	ID          string
	UserID      string
	CustomerID  string
	FirstName   string
	LastName    string
	FullName    string
	Email       string
	Phone       string
	CompanyName string
	AddressID   string
	IsPrimary   bool
	IsBilling   bool
	UpdatedAt   time.Time
}

// Address is a postal address owned by a customer.
type Address struct {
	ID         string
	CustomerID string
	Title      string
	Line1      string
	Line2      string
	City       string
	PostalCode string
	Country    string
	IsShipping bool
	IsBilling  bool
}

// CatalogItem is the storefront view of a sellable item.
type CatalogItem struct {
	ItemCode    string
	Name        string
	IsGiftCard  bool
	IsStockItem bool
	Warehouse   string
	Published   bool
}

// ItemPrice is the price of an item on a price list.
type ItemPrice struct {
	ItemCode  string
	PriceList string
	Currency  string
	Rate      int64
}

// StockLevel is the available quantity for an item.
type StockLevel struct {
	ItemCode  string
	Warehouse string
	Quantity  int64
}

// ShippingRule maps a cart net total onto a shipping amount for a set of countries.
type ShippingRule struct {
	ID         string
	Label      string
	Enabled    bool
	Countries  []string
	Conditions []ShippingCondition
}

// ShippingCondition is a value range; To == 0 means unbounded.
type ShippingCondition struct {
	From   int64
	To     int64
	Amount int64
}

// AppliesToCountry reports whether the rule ships to the given country.
func (r ShippingRule) AppliesToCountry(country string) bool {
	country = strings.TrimSpace(country)
	if country == "" {
		return false
	}
	for _, candidate := range r.Countries {
		if strings.EqualFold(strings.TrimSpace(candidate), country) {
			return true
		}
	}
	return false
}

// PaymentMethodConfig describes a gateway configured for checkout.
type PaymentMethodConfig struct {
	Name          string
	Gateway       string
	CheckoutTitle string
	Description   string
	Logo          string
	Currency      string
	IsDefault     bool
	Config        map[string]any
}

// TaxTemplateLine is one row of the configured sales tax template.
type TaxTemplateLine struct {
	ChargeType  TaxChargeType
	Description string
	AccountHead string
	Rate        float64
	Amount      int64
}

// WebshopSettings is the singleton shop configuration document.
type WebshopSettings struct {
	Enabled                bool
	EnableCheckout         bool
	EnableGuestCart        bool
	GuestCustomerID        string
	PriceList              string
	DefaultCurrency        string
	DefaultCustomerGroup   string
	TaxTemplate            []TaxTemplateLine
	AllowItemsNotInStock   bool
	PaymentMethods         []PaymentMethodConfig
	PaymentSuccessURL      string
	GiftCardValidityMonths int
	Terms                  string
	UpdatedAt              time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
