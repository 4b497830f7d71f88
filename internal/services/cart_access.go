package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/repositories"
)

var displayLocale = language.English

// partyResolver links an authenticated user to a customer party.
type partyResolver interface {
	EnsureCustomer(ctx context.Context, shopper Shopper) (Customer, error)
}

// cartAccess is the cart lookup, creation and pricing logic shared by every service that mutates a cart.
type cartAccess struct {
	carts     repositories.CartRepository
	settings  repositories.SettingsRepository
	customers repositories.CustomerRepository
	parties   partyResolver
	pricer    CartPricer
	newID     func() string
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

func (a cartAccess) validate() error {
	switch {
	case a.carts == nil:
		return errors.New("cart repository is required")
	case a.settings == nil:
		return errors.New("settings repository is required")
	case a.pricer == nil:
		return errors.New("cart pricer is required")
	}
	return nil
}

func (a cartAccess) loadSettings(ctx context.Context) (WebshopSettings, error) {
	settings, err := a.settings.Get(ctx)
	if err != nil {
		return WebshopSettings{}, fmt.Errorf("%w: load settings: %v", ErrCartUnavailable, err)
	}
	return settings, nil
}

// owner resolves the cart owner of the shopper, linking a customer for authenticated users
// that do not have one yet.
func (a cartAccess) owner(ctx context.Context, shopper Shopper) (CartOwner, Shopper, error) {
	if strings.TrimSpace(shopper.PartyID) == "" && shopper.IsAuthenticated() && a.parties != nil {
		customer, err := a.parties.EnsureCustomer(ctx, shopper)
		if err != nil {
			return CartOwner{}, shopper, err
		}
		shopper.PartyID = customer.ID
	}
	return shopper.Owner(), shopper, nil
}

func (a cartAccess) find(ctx context.Context, owner CartOwner) (Cart, error) {
	if owner.IsZero() {
		return Cart{}, ErrCartNotFound
	}
	cart, err := a.carts.FindOpen(ctx, owner)
	if err != nil {
		return Cart{}, translateCartRepoError(err)
	}
	return cart, nil
}

// findForShopper resolves the shopper's open cart. When cartID is set it must be that cart.
func (a cartAccess) findForShopper(ctx context.Context, shopper Shopper, cartID string) (Cart, Shopper, error) {
	owner, shopper, err := a.owner(ctx, shopper)
	if err != nil {
		return Cart{}, shopper, err
	}
	if id := strings.TrimSpace(cartID); id != "" {
		cart, err := a.carts.Get(ctx, id)
		if err != nil {
			return Cart{}, shopper, translateCartRepoError(err)
		}
		if owner.IsZero() || cart.Owner.Key() != owner.Key() {
			return Cart{}, shopper, ErrCartNotFound
		}
		return cart, shopper, nil
	}
	cart, err := a.find(ctx, owner)
	return cart, shopper, err
}

// newCart builds an unsaved draft cart. Guest carts are priced for the settings guest customer.
func (a cartAccess) newCart(ctx context.Context, owner CartOwner, shopper Shopper, settings WebshopSettings) Cart {
	cart := Cart{
		ID:           a.newID(),
		Owner:        owner,
		Status:       domain.CartStatusDraft,
		ContactEmail: strings.TrimSpace(shopper.Email),
		Currency:     settings.DefaultCurrency,
		PriceList:    settings.PriceList,
		Terms:        settings.Terms,
	}
	customerID := owner.PartyID
	if owner.IsGuest() {
		customerID = settings.GuestCustomerID
	}
	if customerID == "" || a.customers == nil {
		return cart
	}
	customer, err := a.customers.Get(ctx, customerID)
	if err != nil {
		a.logger(ctx, "cart.customer_lookup_failed", map[string]any{
			"customerId": customerID,
			"error":      err.Error(),
		})
		return cart
	}
	cart.CustomerName = customer.Name
	cart.ContactID = customer.PrimaryContactID
	if customer.DefaultPriceList != "" {
		cart.PriceList = customer.DefaultPriceList
	}
	return cart
}

// upsert applies mutate to the owner's open cart, creating it when absent, reprices and persists
// it with a single write. A concurrently created cart is picked up and mutated instead.
func (a cartAccess) upsert(ctx context.Context, owner CartOwner, shopper Shopper, settings WebshopSettings, mutate func(*Cart) error) (Cart, error) {
	if owner.IsZero() {
		return Cart{}, ErrCartNotFound
	}
	cart, err := a.carts.FindOpen(ctx, owner)
	if err == nil {
		return a.mutateAndSave(ctx, cart, settings, mutate)
	}
	if !isRepoNotFound(err) {
		return Cart{}, translateCartRepoError(err)
	}

	fresh := a.newCart(ctx, owner, shopper, settings)
	if err := mutate(&fresh); err != nil {
		return Cart{}, err
	}
	priced, err := a.reprice(ctx, fresh, settings)
	if err != nil {
		return Cart{}, err
	}
	saved, created, err := a.carts.CreateOpen(ctx, priced)
	if err != nil {
		return Cart{}, translateCartRepoError(err)
	}
	if created {
		return saved, nil
	}
	return a.mutateAndSave(ctx, saved, settings, mutate)
}

// ensureOpen returns the owner's open cart, creating an empty priced one when absent. created
// reports whether this call inserted the cart.
func (a cartAccess) ensureOpen(ctx context.Context, owner CartOwner, shopper Shopper, settings WebshopSettings) (Cart, bool, error) {
	cart, err := a.find(ctx, owner)
	if err == nil || !errors.Is(err, ErrCartNotFound) || owner.IsZero() {
		return cart, false, err
	}
	priced, err := a.reprice(ctx, a.newCart(ctx, owner, shopper, settings), settings)
	if err != nil {
		return Cart{}, false, err
	}
	saved, created, err := a.carts.CreateOpen(ctx, priced)
	if err != nil {
		return Cart{}, false, translateCartRepoError(err)
	}
	return saved, created, nil
}

func (a cartAccess) mutateAndSave(ctx context.Context, cart Cart, settings WebshopSettings, mutate func(*Cart) error) (Cart, error) {
	if mutate != nil {
		if err := mutate(&cart); err != nil {
			return Cart{}, err
		}
	}
	priced, err := a.reprice(ctx, cart, settings)
	if err != nil {
		return Cart{}, err
	}
	return a.save(ctx, priced)
}

func (a cartAccess) reprice(ctx context.Context, cart Cart, settings WebshopSettings) (Cart, error) {
	result, err := a.pricer.Calculate(ctx, PriceCartCommand{Cart: cart, Settings: settings})
	if err != nil {
		a.logger(ctx, "cart.pricing_failed", map[string]any{
			"cartId": cart.ID,
			"error":  err.Error(),
		})
		return Cart{}, translatePricingError(err)
	}
	return result.Cart, nil
}

func (a cartAccess) save(ctx context.Context, cart Cart) (Cart, error) {
	saved, err := a.carts.Save(ctx, cart)
	if err != nil {
		return Cart{}, translateCartRepoError(err)
	}
	return saved, nil
}

func translateCartRepoError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isRepoNotFound(err):
		return ErrCartNotFound
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrCartConflict, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
}

func translatePricingError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCartPricingInvalidInput) {
		return fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

func formatMoney(amount int64, currency string) string {
	return domain.FormatMoney(amount, currency, displayLocale)
}

func formatTotals(totals CartTotals, currency string) FormattedTotals {
	return FormattedTotals{
		NetTotal:      formatMoney(totals.NetTotal, currency),
		TaxTotal:      formatMoney(totals.TaxTotal, currency),
		ShippingTotal: formatMoney(totals.ShippingTotal, currency),
		Discount:      formatMoney(totals.DiscountAmount, currency),
		GrandTotal:    formatMoney(totals.RoundedTotal, currency),
	}
}
