package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/hanko-field/webshop/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Orders() OrderRepository
	Invoices() InvoiceRepository
	PaymentRequests() PaymentRequestRepository
	PaymentEntries() PaymentEntryRepository
	Customers() CustomerRepository
	Contacts() ContactRepository
	Addresses() AddressRepository
	Catalog() CatalogRepository
	ShippingRules() ShippingRuleRepository
	Loyalty() LoyaltyRepository
	Coupons() CouponRepository
	PricingRules() PricingRuleRepository
	Settings() SettingsRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Inside fn, reads of transactional documents must happen before writes.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository persists carts and enforces a single draft cart per owner.
type CartRepository interface {
	// CreateOpen inserts cart as the owner's open cart. When the owner already holds an open cart,
	// that cart is returned with created=false and nothing is written.
	CreateOpen(ctx context.Context, cart domain.Cart) (saved domain.Cart, created bool, err error)
	FindOpen(ctx context.Context, owner domain.CartOwner) (domain.Cart, error)
	Get(ctx context.Context, cartID string) (domain.Cart, error)
	// Save overwrites the cart. Saving a non-draft cart releases the owner's open-cart slot.
	Save(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	// Delete removes the cart and releases the owner's open-cart slot.
	Delete(ctx context.Context, cartID string) error
}

// OrderRepository persists confirmed orders. At most one order exists per cart.
type OrderRepository interface {
	// CreateForCart inserts the order keyed by its cart. When an order already exists for the cart
	// the stored order is returned with created=false.
	CreateForCart(ctx context.Context, order domain.Order) (saved domain.Order, created bool, err error)
	FindByCart(ctx context.Context, cartID string) (domain.Order, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
	Save(ctx context.Context, order domain.Order) (domain.Order, error)
}

// InvoiceRepository persists sales invoices.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice domain.Invoice) (domain.Invoice, error)
	Get(ctx context.Context, invoiceID string) (domain.Invoice, error)
	FindByOrder(ctx context.Context, orderID string) (domain.Invoice, error)
	Save(ctx context.Context, invoice domain.Invoice) (domain.Invoice, error)
}

// PaymentRequestRepository persists payment requests.
type PaymentRequestRepository interface {
	Create(ctx context.Context, request domain.PaymentRequest) (domain.PaymentRequest, error)
	Get(ctx context.Context, requestID string) (domain.PaymentRequest, error)
	Save(ctx context.Context, request domain.PaymentRequest) (domain.PaymentRequest, error)
	Delete(ctx context.Context, requestID string) error
	// FindLatestByCart returns the most recent request created for the cart.
	FindLatestByCart(ctx context.Context, cartID string) (domain.PaymentRequest, error)
	ListByReference(ctx context.Context, ref domain.DocumentRef) ([]domain.PaymentRequest, error)
}

// PaymentEntryRepository persists received payments.
type PaymentEntryRepository interface {
	Create(ctx context.Context, entry domain.PaymentEntry) (domain.PaymentEntry, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentEntry, error)
}

// CustomerRepository persists customers (parties).
type CustomerRepository interface {
	Get(ctx context.Context, customerID string) (domain.Customer, error)
	Create(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	// Save overwrites the customer, failing with a conflict when the stored document changed after
	// customer.UpdatedAt.
	Save(ctx context.Context, customer domain.Customer) (domain.Customer, error)
}

// ContactRepository persists contacts linked to customers and portal users.
type ContactRepository interface {
	Get(ctx context.Context, contactID string) (domain.Contact, error)
	FindByUser(ctx context.Context, userID string) (domain.Contact, error)
	FindByCustomer(ctx context.Context, customerID string) (domain.Contact, error)
	Save(ctx context.Context, contact domain.Contact) (domain.Contact, error)
}

// AddressRepository lists customer addresses.
type AddressRepository interface {
	Get(ctx context.Context, addressID string) (domain.Address, error)
	ListByCustomer(ctx context.Context, customerID string) ([]domain.Address, error)
}

// CatalogRepository reads catalog items, prices and stock levels.
type CatalogRepository interface {
	GetItem(ctx context.Context, itemCode string) (domain.CatalogItem, error)
	GetPrice(ctx context.Context, itemCode, priceList string) (domain.ItemPrice, error)
	GetStock(ctx context.Context, itemCode, warehouse string) (domain.StockLevel, error)
}

// ShippingRuleRepository reads shipping rules.
type ShippingRuleRepository interface {
	Get(ctx context.Context, ruleID string) (domain.ShippingRule, error)
	ListEnabled(ctx context.Context) ([]domain.ShippingRule, error)
}

// LoyaltyRepository reads loyalty programs and maintains the point ledger.
type LoyaltyRepository interface {
	GetProgram(ctx context.Context, programID string) (domain.LoyaltyProgram, error)
	// Balance sums the customer's unexpired entries for the program as of now, skipping the
	// redemption entry tied to excludeCartID when set.
	Balance(ctx context.Context, customerID, programID, excludeCartID string, now time.Time) (int64, error)
	CreateEntry(ctx context.Context, entry domain.LoyaltyPointEntry) (domain.LoyaltyPointEntry, error)
	GetEntry(ctx context.Context, entryID string) (domain.LoyaltyPointEntry, error)
	SaveEntry(ctx context.Context, entry domain.LoyaltyPointEntry) (domain.LoyaltyPointEntry, error)
	DeleteEntry(ctx context.Context, entryID string) error
	// DeleteByCart removes every entry tied to the cart and returns how many were deleted.
	DeleteByCart(ctx context.Context, cartID string) (int, error)
}

// CouponRepository persists coupon and gift-card codes.
type CouponRepository interface {
	Get(ctx context.Context, code string) (domain.Coupon, error)
	// Create inserts the coupon, failing with a conflict when the code exists.
	Create(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error)
	Save(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]domain.Coupon, error)
}

// PricingRuleRepository persists discount rules.
type PricingRuleRepository interface {
	Get(ctx context.Context, ruleID string) (domain.PricingRule, error)
	// FindCouponRule returns the enabled coupon-based rule with the exact discount amount.
	FindCouponRule(ctx context.Context, discountAmount int64) (domain.PricingRule, error)
	Create(ctx context.Context, rule domain.PricingRule) (domain.PricingRule, error)
}

// SettingsRepository loads the shop configuration singleton.
type SettingsRepository interface {
	Get(ctx context.Context) (domain.WebshopSettings, error)
}

// ErrInvalidCounterKey is returned for an empty naming series key.
var ErrInvalidCounterKey = errors.New("repositories: counter key is required")

// CounterRepository stores the last issued number per naming series key.
type CounterRepository interface {
	// Next increments the series and returns the new value. An unknown key starts at 1.
	Next(ctx context.Context, key string) (int64, error)
	// Current returns the last issued value, zero for an unused key.
	Current(ctx context.Context, key string) (int64, error)
	// Reset moves the series so the following Next returns value+1.
	Reset(ctx context.Context, key string, value int64) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
