package memory

import (
	"context"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/repositories"
)

// Registry exposes the Store through the repositories.Registry interface.
type Registry struct {
	store  *Store
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wraps store. A nil store creates a fresh one.
func NewRegistry(store *Store, health repositories.HealthRepository) *Registry {
	if store == nil {
		store = NewStore()
	}
	if health == nil {
		health = okHealth{store: store}
	}
	return &Registry{store: store, health: health}
}

// Store returns the backing store for seeding.
func (r *Registry) Store() *Store { return r.store }

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.store.RunInTx(ctx, fn)
}

func (r *Registry) Carts() repositories.CartRepository                     { return cartRepo{r.store} }
func (r *Registry) Orders() repositories.OrderRepository                   { return orderRepo{r.store} }
func (r *Registry) Invoices() repositories.InvoiceRepository               { return invoiceRepo{r.store} }
func (r *Registry) PaymentRequests() repositories.PaymentRequestRepository { return paymentRequestRepo{r.store} }
func (r *Registry) PaymentEntries() repositories.PaymentEntryRepository    { return paymentEntryRepo{r.store} }
func (r *Registry) Customers() repositories.CustomerRepository             { return customerRepo{r.store} }
func (r *Registry) Contacts() repositories.ContactRepository               { return contactRepo{r.store} }
func (r *Registry) Addresses() repositories.AddressRepository              { return addressRepo{r.store} }
func (r *Registry) Catalog() repositories.CatalogRepository                { return catalogRepo{r.store} }
func (r *Registry) ShippingRules() repositories.ShippingRuleRepository     { return shippingRuleRepo{r.store} }
func (r *Registry) Loyalty() repositories.LoyaltyRepository                { return loyaltyRepo{r.store} }
func (r *Registry) Coupons() repositories.CouponRepository                 { return couponRepo{r.store} }
func (r *Registry) PricingRules() repositories.PricingRuleRepository       { return pricingRuleRepo{r.store} }
func (r *Registry) Settings() repositories.SettingsRepository              { return settingsRepo{r.store} }
func (r *Registry) Counters() repositories.CounterRepository               { return counterRepo{r.store} }
func (r *Registry) Health() repositories.HealthRepository                  { return r.health }

type okHealth struct{ store *Store }

func (h okHealth) Collect(context.Context) (domain.SystemHealthReport, error) {
	now := h.store.clock()
	return domain.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{
			"memory": {Status: domain.HealthStatusOK, CheckedAt: now},
		},
		GeneratedAt: now,
	}, nil
}
