package services

import (
	"context"
	"net/http"
	"strings"

	domain "github.com/hanko-field/webshop/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart                = domain.Cart
	CartLine            = domain.CartLine
	CartOwner           = domain.CartOwner
	CartTotals          = domain.CartTotals
	CartLoyalty         = domain.CartLoyalty
	TaxLine             = domain.TaxLine
	GiftCardData        = domain.GiftCardData
	Order               = domain.Order
	Invoice             = domain.Invoice
	PaymentRequest      = domain.PaymentRequest
	PaymentEntry        = domain.PaymentEntry
	LoyaltyPointEntry   = domain.LoyaltyPointEntry
	Coupon              = domain.Coupon
	PricingRule         = domain.PricingRule
	Customer            = domain.Customer
	Contact             = domain.Contact
	Address             = domain.Address
	ShippingRule        = domain.ShippingRule
	PaymentMethodConfig = domain.PaymentMethodConfig
	WebshopSettings     = domain.WebshopSettings
	SystemHealthReport  = domain.SystemHealthReport
)

// Shopper is the caller identity passed explicitly into every storefront operation.
// UserID is set for authenticated users; PartyID once the user is linked to a customer.
type Shopper struct {
	UserID      string
	Email       string
	DisplayName string
	PartyID     string
	GuestToken  string
}

// IsAuthenticated reports whether the shopper is a signed-in user.
func (s Shopper) IsAuthenticated() bool {
	return strings.TrimSpace(s.UserID) != ""
}

// Owner resolves the cart owner: party first, then guest session token.
func (s Shopper) Owner() CartOwner {
	if party := strings.TrimSpace(s.PartyID); party != "" {
		return CartOwner{PartyID: party}
	}
	if token := strings.TrimSpace(s.GuestToken); token != "" {
		return CartOwner{GuestSessionID: token}
	}
	return CartOwner{}
}

// CartService manages the shopper's open cart and keeps its pricing current.
type CartService interface {
	GetOrCreateCart(ctx context.Context, shopper Shopper) (Cart, error)
	GetCart(ctx context.Context, shopper Shopper) (Cart, error)
	UpdateLine(ctx context.Context, cmd UpdateLineCommand) (UpdateLineResult, error)
	CartView(ctx context.Context, shopper Shopper) (CartView, error)
	ApplyShippingRule(ctx context.Context, shopper Shopper, ruleID string) (Cart, error)
	RemoveShippingRule(ctx context.Context, shopper Shopper) (Cart, error)
	SetAddress(ctx context.Context, cmd SetCartAddressCommand) (Cart, error)
}

// GuestSessionService issues guest tokens and moves guest carts to signed-in users.
type GuestSessionService interface {
	Enabled(ctx context.Context) bool
	EnsureSession(token string) (string, bool)
	CreateOrUpdateGuestCart(ctx context.Context, token string, items []GuestCartItem) (*Cart, error)
	Merge(ctx context.Context, shopper Shopper, token string) MergeResult
}

// CheckoutService assembles checkout choices and applies shipping and contact selections.
type CheckoutService interface {
	BuildCheckoutView(ctx context.Context, shopper Shopper) (CheckoutView, error)
	ListShippingMethods(ctx context.Context, shopper Shopper, query ShippingQuery) ([]ShippingOption, error)
	SelectShipping(ctx context.Context, shopper Shopper, ruleID string) (Cart, error)
	ListPaymentMethods(ctx context.Context) ([]PaymentMethodView, error)
	UpdateContactInfo(ctx context.Context, cmd UpdateContactInfoCommand) (string, error)
	UpdateCustomerInfo(ctx context.Context, cmd UpdateCustomerInfoCommand) (string, error)
}

// CustomerService links authenticated users to customer parties, creating them on first use.
type CustomerService interface {
	ResolveShopper(ctx context.Context, shopper Shopper) (Shopper, error)
	EnsureCustomer(ctx context.Context, shopper Shopper) (Customer, error)
}

// OrderService converts carts into orders and invoices.
type OrderService interface {
	PlaceOrder(ctx context.Context, shopper Shopper) (PlaceOrderResult, error)
	CreateFromCart(ctx context.Context, cartID string) (Order, bool, error)
	MakeInvoice(ctx context.Context, orderID string) (Invoice, error)
	RecordInvoicePayment(ctx context.Context, cmd RecordInvoicePaymentCommand) (InvoicePaymentResult, error)
	ThankYou(ctx context.Context, shopper Shopper, orderID string) (ThankYouView, error)
}

// PaymentService drives payment requests from creation to settlement.
type PaymentService interface {
	CreatePaymentRequest(ctx context.Context, cmd CreatePaymentRequestCommand) (PaymentRequestResult, error)
	HandleSuccess(ctx context.Context, requestID string, payload map[string]any) (PaymentRedirect, error)
	HandleFailure(ctx context.Context, requestID string, reason string) (PaymentRedirect, error)
	HandleCallback(ctx context.Context, input CallbackInput) (PaymentRedirect, error)
}

// LoyaltyService applies loyalty point redemptions to carts and keeps the ledger in step.
type LoyaltyService interface {
	ApplyPoints(ctx context.Context, shopper Shopper, points string) (Cart, error)
	RemovePoints(ctx context.Context, shopper Shopper) (Cart, error)
	Summary(ctx context.Context, shopper Shopper, cart Cart) (LoyaltySummary, error)
}

// PromotionService applies coupon codes and issues gift cards from paid invoices.
type PromotionService interface {
	ApplyCoupon(ctx context.Context, shopper Shopper, code, referral string) (Cart, error)
	RemoveCoupon(ctx context.Context, shopper Shopper) (Cart, error)
	IssueGiftCards(ctx context.Context, invoice Invoice) (GiftCardIssueResult, error)
}

// CounterService issues document numbers from naming series such as "SO-.YYYY.-.######".
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
	NextInvoiceNumber(ctx context.Context) (string, error)
	NextInSeries(ctx context.Context, series string) (string, error)
}

// SystemService backs the liveness and readiness endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// UpdateLineCommand adds to or sets the quantity of one cart line.
type UpdateLineCommand struct {
	Shopper  Shopper
	ItemCode string
	// Quantity is the raw value supplied by the caller; it must parse as a non-negative integer.
	Quantity string
	Add      bool
	Price    *float64
	GiftCard *GiftCardData
	Notes    *string
}

// UpdateLineResult carries the updated cart, or Deleted when the last line was removed.
type UpdateLineResult struct {
	Cart      Cart
	Deleted   bool
	ItemCount int64
}

// AddressKind selects which cart address a command targets.
type AddressKind string

const (
	AddressBilling  AddressKind = "billing"
	AddressShipping AddressKind = "shipping"
)

// SetCartAddressCommand links a stored address to the cart.
type SetCartAddressCommand struct {
	Shopper   Shopper
	AddressID string
	Kind      AddressKind
}

// CartView is the cart page view-model.
type CartView struct {
	Cart            Cart
	BillingAddress  *Address
	ShippingAddress *Address
	Addresses       []Address
	ShippingOptions []ShippingOption
	Loyalty         LoyaltySummary
	Formatted       FormattedTotals
}

// FormattedTotals renders cart totals for display.
type FormattedTotals struct {
	NetTotal      string
	TaxTotal      string
	ShippingTotal string
	Discount      string
	GrandTotal    string
}

// LoyaltySummary describes the shopper's redeemable balance.
type LoyaltySummary struct {
	Enabled          bool
	ProgramID        string
	AvailablePoints  int64
	ConversionFactor float64
	PointsValue      int64
	AppliedPoints    int64
	AppliedAmount    int64
}

// GuestCartItem is one line of a guest cart replacement.
type GuestCartItem struct {
	ItemCode string
	Quantity int64
	GiftCard *GiftCardData
	Notes    string
}

// MergeResult reports the outcome of a guest-to-user cart merge.
type MergeResult struct {
	Merged    bool
	CartID    string
	ItemCount int64
	Message   string

	// Err is set when the merge failed; the guest cart is kept for a later attempt.
	Err error
}

// ShippingQuery selects the shipping destination by country or stored address.
type ShippingQuery struct {
	Country   string
	AddressID string
}

// ShippingOption is a selectable shipping rule with its resolved amount.
type ShippingOption struct {
	ID            string
	Title         string
	Rate          int64
	FormattedRate string
}

// PaymentMethodView is the display metadata of a configured gateway.
type PaymentMethodView struct {
	Name        string
	Gateway     string
	GatewayType string
	Title       string
	Description string
	Logo        string
	IsDefault   bool
}

// CheckoutView is the checkout page view-model.
type CheckoutView struct {
	Cart            Cart
	Customer        *Customer
	Contact         *Contact
	BillingAddress  *Address
	ShippingAddress *Address
	Addresses       []Address
	ShippingOptions []ShippingOption
	PaymentMethods  []PaymentMethodView
	Loyalty         LoyaltySummary
	Formatted       FormattedTotals
	Terms           string
}

// UpdateContactInfoCommand updates the shopper's contact from the checkout page.
type UpdateContactInfoCommand struct {
	Shopper     Shopper
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	CompanyName string
}

// UpdateCustomerInfoCommand updates the customer record behind the shopper's cart.
type UpdateCustomerInfoCommand struct {
	Shopper      Shopper
	CustomerName string
	CustomerType string
}

// PlaceOrderResult is returned when an order is placed without online payment.
type PlaceOrderResult struct {
	Order     Order
	Invoice   *Invoice
	GiftCards GiftCardIssueResult
	Message   string
}

// RecordInvoicePaymentCommand books money received against an invoice.
type RecordInvoicePaymentCommand struct {
	InvoiceID        string
	PaymentRequestID string
	Amount           int64
	Reference        string
	Gateway          string
}

// InvoicePaymentResult reports the invoice after payment and any gift cards it produced.
type InvoicePaymentResult struct {
	Invoice   Invoice
	GiftCards GiftCardIssueResult
}

// ThankYouView is the order confirmation view-model.
type ThankYouView struct {
	Order          Order
	Invoice        *Invoice
	PaymentEntry   *PaymentEntry
	PaymentRequest *PaymentRequest
	Paid           bool
	Gateway        string
	Formatted      FormattedTotals
}

// CreatePaymentRequestCommand starts a gateway payment for a cart.
type CreatePaymentRequestCommand struct {
	Shopper       Shopper
	CartID        string
	PaymentMethod string
}

// PaymentRequestResult carries the hosted payment URL and gateway context.
type PaymentRequestResult struct {
	Request        PaymentRequest
	PaymentURL     string
	GatewayType    string
	GatewayContext map[string]any
}

// PaymentRedirect is the outcome of a payment event.
type PaymentRedirect struct {
	Success    bool
	RedirectTo string
	Message    string
	OrderID    string
	RequestID  string
}

// CallbackInput is an unverified gateway callback.
type CallbackInput struct {
	PaymentMethod string
	Payload       []byte
	Request       *http.Request
}

// GiftCardIssueResult lists per-unit gift card outcomes for an invoice.
type GiftCardIssueResult struct {
	InvoiceID string
	Skipped   bool
	Units     []GiftCardUnitResult
}

// Complete reports whether every unit was issued.
func (r GiftCardIssueResult) Complete() bool {
	for _, unit := range r.Units {
		if unit.Err != nil {
			return false
		}
	}
	return true
}

// Issued returns the codes that were minted.
func (r GiftCardIssueResult) Issued() []string {
	codes := make([]string, 0, len(r.Units))
	for _, unit := range r.Units {
		if unit.Err == nil && unit.Code != "" {
			codes = append(codes, unit.Code)
		}
	}
	return codes
}

// GiftCardUnitResult is the outcome for one unit of one gift-card line.
type GiftCardUnitResult struct {
	ItemCode      string
	Unit          int
	Code          string
	PricingRuleID string
	Err           error
}
