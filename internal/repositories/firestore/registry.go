package firestore

import (
	"context"
	"fmt"

	pfirestore "github.com/hanko-field/webshop/internal/platform/firestore"
	"github.com/hanko-field/webshop/internal/repositories"
)

// Registry wires every Firestore repository around a shared provider.
type Registry struct {
	provider *pfirestore.Provider
	health   repositories.HealthRepository

	carts           *CartRepository
	orders          *OrderRepository
	invoices        *InvoiceRepository
	paymentRequests *PaymentRequestRepository
	paymentEntries  *PaymentEntryRepository
	customers       *CustomerRepository
	contacts        *ContactRepository
	addresses       *AddressRepository
	catalog         *CatalogRepository
	shippingRules   *ShippingRuleRepository
	loyalty         *LoyaltyRepository
	coupons         *CouponRepository
	pricingRules    *PricingRuleRepository
	settings        *SettingsRepository
	counters        *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repository set. health may be nil when health probes are not wired.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, fmt.Errorf("firestore registry: provider is required")
	}
	r := &Registry{provider: provider, health: health}

	var err error
	build := func(name string, fn func() error) {
		if err != nil {
			return
		}
		if buildErr := fn(); buildErr != nil {
			err = fmt.Errorf("firestore registry: %s: %w", name, buildErr)
		}
	}
	build("carts", func() (e error) { r.carts, e = NewCartRepository(provider); return })
	build("orders", func() (e error) { r.orders, e = NewOrderRepository(provider); return })
	build("invoices", func() (e error) { r.invoices, e = NewInvoiceRepository(provider); return })
	build("payment requests", func() (e error) { r.paymentRequests, e = NewPaymentRequestRepository(provider); return })
	build("payment entries", func() (e error) { r.paymentEntries, e = NewPaymentEntryRepository(provider); return })
	build("customers", func() (e error) { r.customers, e = NewCustomerRepository(provider); return })
	build("contacts", func() (e error) { r.contacts, e = NewContactRepository(provider); return })
	build("addresses", func() (e error) { r.addresses, e = NewAddressRepository(provider); return })
	build("catalog", func() (e error) { r.catalog, e = NewCatalogRepository(provider); return })
	build("shipping rules", func() (e error) { r.shippingRules, e = NewShippingRuleRepository(provider); return })
	build("loyalty", func() (e error) { r.loyalty, e = NewLoyaltyRepository(provider); return })
	build("coupons", func() (e error) { r.coupons, e = NewCouponRepository(provider); return })
	build("pricing rules", func() (e error) { r.pricingRules, e = NewPricingRuleRepository(provider); return })
	build("settings", func() (e error) { r.settings, e = NewSettingsRepository(provider); return })
	build("counters", func() (e error) { r.counters, e = NewCounterRepository(provider); return })
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

// RunInTx binds a Firestore transaction to ctx for every repository call made by fn.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInTx(ctx, fn)
}

func (r *Registry) Carts() repositories.CartRepository                     { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository                   { return r.orders }
func (r *Registry) Invoices() repositories.InvoiceRepository               { return r.invoices }
func (r *Registry) PaymentRequests() repositories.PaymentRequestRepository { return r.paymentRequests }
func (r *Registry) PaymentEntries() repositories.PaymentEntryRepository    { return r.paymentEntries }
func (r *Registry) Customers() repositories.CustomerRepository             { return r.customers }
func (r *Registry) Contacts() repositories.ContactRepository               { return r.contacts }
func (r *Registry) Addresses() repositories.AddressRepository              { return r.addresses }
func (r *Registry) Catalog() repositories.CatalogRepository                { return r.catalog }
func (r *Registry) ShippingRules() repositories.ShippingRuleRepository     { return r.shippingRules }
func (r *Registry) Loyalty() repositories.LoyaltyRepository                { return r.loyalty }
func (r *Registry) Coupons() repositories.CouponRepository                 { return r.coupons }
func (r *Registry) PricingRules() repositories.PricingRuleRepository       { return r.pricingRules }
func (r *Registry) Settings() repositories.SettingsRepository              { return r.settings }
func (r *Registry) Counters() repositories.CounterRepository               { return r.counters }
func (r *Registry) Health() repositories.HealthRepository                  { return r.health }
