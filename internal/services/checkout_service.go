package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/webshop/internal/payments"
	"github.com/hanko-field/webshop/internal/platform/textutil"
	"github.com/hanko-field/webshop/internal/repositories"
)

const (
	// ContactUpdatedMessage confirms a checkout contact update.
	ContactUpdatedMessage = "Contact information updated successfully"
	// CustomerUpdatedMessage confirms a checkout customer update.
	CustomerUpdatedMessage = "Customer information updated successfully"

	maxNameLength = 140
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutEmptyCart indicates there is nothing to check out.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutDisabled indicates checkout is switched off or has no payment method.
	ErrCheckoutDisabled = errors.New("checkout: disabled")
)

var customerTypes = map[string]string{
	"individual": "Individual",
	"company":    "Company",
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts         repositories.CartRepository
	Settings      repositories.SettingsRepository
	Customers     repositories.CustomerRepository
	Contacts      repositories.ContactRepository
	Addresses     repositories.AddressRepository
	ShippingRules repositories.ShippingRuleRepository
	Parties       partyResolver
	Loyalty       loyaltySummarizer
	Pricer        CartPricer
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	access        cartAccess
	contacts      repositories.ContactRepository
	addresses     repositories.AddressRepository
	shippingRules repositories.ShippingRuleRepository
	loyalty       loyaltySummarizer
	logger        func(ctx context.Context, event string, fields map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Customers == nil {
		return nil, errors.New("checkout service: customer repository is required")
	}
	if deps.Contacts == nil {
		return nil, errors.New("checkout service: contact repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("checkout service: address repository is required")
	}
	if deps.ShippingRules == nil {
		return nil, errors.New("checkout service: shipping rule repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	access := cartAccess{
		carts:     deps.Carts,
		settings:  deps.Settings,
		customers: deps.Customers,
		parties:   deps.Parties,
		pricer:    deps.Pricer,
		newID:     idGen,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
	}
	if err := access.validate(); err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	return &checkoutService{
		access:        access,
		contacts:      deps.Contacts,
		addresses:     deps.Addresses,
		shippingRules: deps.ShippingRules,
		loyalty:       deps.Loyalty,
		logger:        logger,
	}, nil
}

// BuildCheckoutView assembles everything the checkout page needs for the shopper's open cart.
func (s *checkoutService) BuildCheckoutView(ctx context.Context, shopper Shopper) (CheckoutView, error) {
	settings, err := s.checkoutSettings(ctx)
	if err != nil {
		return CheckoutView{}, err
	}
	cart, shopper, err := s.checkoutCart(ctx, shopper)
	if err != nil {
		return CheckoutView{}, err
	}

	view := CheckoutView{
		Cart:           cart,
		PaymentMethods: paymentMethodViews(settings.PaymentMethods),
		Formatted:      formatTotals(cart.Totals, cart.Currency),
		Terms:          firstNonEmpty(cart.Terms, settings.Terms),
	}

	if party := cart.Owner.PartyID; party != "" {
		customer, err := s.access.customers.Get(ctx, party)
		switch {
		case err == nil:
			view.Customer = &customer
			view.Contact = s.resolveContact(ctx, customer, cart)
		case !isRepoNotFound(err):
			return CheckoutView{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}

		addresses, err := s.addresses.ListByCustomer(ctx, party)
		if err != nil {
			return CheckoutView{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		view.Addresses = addresses
		view.BillingAddress = findAddress(addresses, cart.BillingAddressID)
		view.ShippingAddress = findAddress(addresses, cart.ShippingAddressID)
	}

	if view.ShippingAddress != nil && !cart.AllGiftCards() {
		rules, err := s.shippingRules.ListEnabled(ctx)
		if err != nil {
			return CheckoutView{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		view.ShippingOptions = shippingOptions(rules, view.ShippingAddress.Country, cart.Totals.NetTotal, cart.Currency, formatMoney)
	}

	if s.loyalty != nil {
		summary, err := s.loyalty.Summary(ctx, shopper, cart)
		if err != nil {
			s.logger(ctx, "checkout.loyalty_summary_failed", map[string]any{
				"cartId": cart.ID,
				"error":  err.Error(),
			})
		} else {
			view.Loyalty = summary
		}
	}
	return view, nil
}

// checkoutSettings loads the settings and fails when checkout is switched off or no payment
// method is configured.
func (s *checkoutService) checkoutSettings(ctx context.Context) (WebshopSettings, error) {
	settings, err := s.access.loadSettings(ctx)
	if err != nil {
		return WebshopSettings{}, err
	}
	if !settings.Enabled || !settings.EnableCheckout || len(settings.PaymentMethods) == 0 {
		return WebshopSettings{}, userError(ErrCheckoutDisabled, "Checkout is disabled")
	}
	return settings, nil
}

func (s *checkoutService) checkoutCart(ctx context.Context, shopper Shopper) (Cart, Shopper, error) {
	cart, shopper, err := s.access.findForShopper(ctx, shopper, "")
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return Cart{}, shopper, userError(ErrCheckoutEmptyCart, "Cart is empty")
		}
		return Cart{}, shopper, err
	}
	if len(cart.Lines) == 0 {
		return Cart{}, shopper, userError(ErrCheckoutEmptyCart, "Cart is empty")
	}
	return cart, shopper, nil
}

// resolveContact prefers the customer's primary contact. Otherwise the cart's contact, or any
// contact of the customer, is used and recorded as the primary contact.
func (s *checkoutService) resolveContact(ctx context.Context, customer Customer, cart Cart) *Contact {
	if id := strings.TrimSpace(customer.PrimaryContactID); id != "" {
		if contact, err := s.contacts.Get(ctx, id); err == nil {
			return &contact
		}
	}

	var (
		contact Contact
		err     error
	)
	if id := strings.TrimSpace(cart.ContactID); id != "" {
		contact, err = s.contacts.Get(ctx, id)
	} else {
		contact, err = s.contacts.FindByCustomer(ctx, customer.ID)
	}
	if err != nil {
		if !isRepoNotFound(err) {
			s.logger(ctx, "checkout.contact_lookup_failed", map[string]any{
				"customerId": customer.ID,
				"error":      err.Error(),
			})
		}
		return nil
	}

	customer.PrimaryContactID = contact.ID
	if _, err := s.access.customers.Save(ctx, customer); err != nil {
		s.logger(ctx, "checkout.primary_contact_failed", map[string]any{
			"customerId": customer.ID,
			"contactId":  contact.ID,
			"error":      err.Error(),
		})
	}
	return &contact
}

// ListShippingMethods lists shipping options for the destination country. Without an explicit
// country the address, or the cart's shipping address, decides the country.
func (s *checkoutService) ListShippingMethods(ctx context.Context, shopper Shopper, query ShippingQuery) ([]ShippingOption, error) {
	if _, err := s.checkoutSettings(ctx); err != nil {
		return nil, err
	}
	cart, _, err := s.checkoutCart(ctx, shopper)
	if err != nil {
		return nil, err
	}
	if cart.AllGiftCards() {
		return []ShippingOption{}, nil
	}

	country := strings.TrimSpace(query.Country)
	addressID := firstNonEmpty(query.AddressID, cart.ShippingAddressID)
	if country == "" && addressID != "" {
		address, err := s.addresses.Get(ctx, addressID)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, userError(ErrCheckoutInvalidInput, "Address not found")
			}
			return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		if address.CustomerID != cart.Owner.PartyID {
			return nil, userError(ErrCheckoutInvalidInput, "Address not found")
		}
		country = address.Country
	}
	if country == "" {
		return []ShippingOption{}, nil
	}

	rules, err := s.shippingRules.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	return shippingOptions(rules, country, cart.Totals.NetTotal, cart.Currency, formatMoney), nil
}

// SelectShipping applies a shipping rule that ships to the cart's shipping address.
func (s *checkoutService) SelectShipping(ctx context.Context, shopper Shopper, ruleID string) (Cart, error) {
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return Cart{}, userError(ErrCheckoutInvalidInput, "Please select a shipping method")
	}
	settings, err := s.checkoutSettings(ctx)
	if err != nil {
		return Cart{}, err
	}
	cart, _, err := s.checkoutCart(ctx, shopper)
	if err != nil {
		return Cart{}, err
	}
	rule, err := s.shippingRules.Get(ctx, ruleID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, userError(ErrCheckoutInvalidInput, "Shipping rule %s does not exist", ruleID)
		}
		return Cart{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	if !rule.Enabled {
		return Cart{}, userError(ErrCheckoutInvalidInput, "Shipping rule %s is disabled", ruleID)
	}
	if cart.ShippingAddressID != "" {
		address, err := s.addresses.Get(ctx, cart.ShippingAddressID)
		if err == nil && !rule.AppliesToCountry(address.Country) {
			return Cart{}, userError(ErrCheckoutInvalidInput, "Shipping rule %s does not ship to %s", ruleID, address.Country)
		}
	}

	return s.access.mutateAndSave(ctx, cart, settings, func(cart *Cart) error {
		cart.ShippingRuleID = rule.ID
		return nil
	})
}

// ListPaymentMethods returns the configured gateways in display form.
func (s *checkoutService) ListPaymentMethods(ctx context.Context) ([]PaymentMethodView, error) {
	settings, err := s.access.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	return paymentMethodViews(settings.PaymentMethods), nil
}

func paymentMethodViews(methods []PaymentMethodConfig) []PaymentMethodView {
	views := make([]PaymentMethodView, 0, len(methods))
	for _, method := range methods {
		views = append(views, PaymentMethodView{
			Name:        method.Name,
			Gateway:     method.Gateway,
			GatewayType: payments.GatewayType(firstNonEmpty(method.Gateway, method.Name)),
			Title:       firstNonEmpty(method.CheckoutTitle, method.Name),
			Description: method.Description,
			Logo:        method.Logo,
			IsDefault:   method.IsDefault,
		})
	}
	return views
}

// UpdateContactInfo edits the shopper's contact and points the open cart at it.
func (s *checkoutService) UpdateContactInfo(ctx context.Context, cmd UpdateContactInfoCommand) (string, error) {
	owner, shopper, err := s.access.owner(ctx, cmd.Shopper)
	if err != nil {
		return "", err
	}
	if owner.PartyID == "" {
		return "", userError(ErrCartLoginRequired, "Please log in to update your contact information")
	}

	email := strings.TrimSpace(cmd.Email)
	if email != "" {
		parsed, err := mail.ParseAddress(email)
		if err != nil {
			return "", userError(ErrCheckoutInvalidInput, "Please enter a valid email address")
		}
		email = parsed.Address
	}

	contact, err := s.shopperContact(ctx, shopper, owner.PartyID)
	if err != nil {
		return "", err
	}
	if first := textutil.PlainTextLimit(cmd.FirstName, maxNameLength); first != "" {
		contact.FirstName = first
	}
	contact.LastName = textutil.PlainTextLimit(cmd.LastName, maxNameLength)
	contact.FullName = strings.TrimSpace(contact.FirstName + " " + contact.LastName)
	if email != "" {
		contact.Email = email
	}
	contact.Phone = textutil.PlainTextLimit(cmd.Phone, 40)
	contact.CompanyName = textutil.PlainTextLimit(cmd.CompanyName, maxNameLength)

	contact, err = s.contacts.Save(ctx, contact)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	if cart, err := s.access.find(ctx, owner); err == nil {
		cart.ContactID = contact.ID
		cart.ContactEmail = firstNonEmpty(contact.Email, cart.ContactEmail)
		if _, err := s.access.save(ctx, cart); err != nil {
			return "", err
		}
	} else if !errors.Is(err, ErrCartNotFound) {
		return "", err
	}

	s.logger(ctx, "checkout.contact_updated", map[string]any{
		"contactId": contact.ID,
		"partyId":   owner.PartyID,
	})
	return ContactUpdatedMessage, nil
}

func (s *checkoutService) shopperContact(ctx context.Context, shopper Shopper, partyID string) (Contact, error) {
	contact, err := s.contacts.FindByUser(ctx, shopper.UserID)
	if err == nil {
		return contact, nil
	}
	if !isRepoNotFound(err) {
		return Contact{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	contact, err = s.contacts.FindByCustomer(ctx, partyID)
	if err == nil {
		return contact, nil
	}
	if !isRepoNotFound(err) {
		return Contact{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	return Contact{
		ID:         s.access.newID(),
		UserID:     shopper.UserID,
		CustomerID: partyID,
		Email:      shopper.Email,
		IsPrimary:  true,
	}, nil
}

// UpdateCustomerInfo renames the customer behind the shopper's cart.
func (s *checkoutService) UpdateCustomerInfo(ctx context.Context, cmd UpdateCustomerInfoCommand) (string, error) {
	notFound := userError(ErrCheckoutInvalidInput, "No quotation or customer found")
	owner, _, err := s.access.owner(ctx, cmd.Shopper)
	if err != nil {
		return "", err
	}
	if owner.PartyID == "" {
		return "", notFound
	}
	cart, err := s.access.find(ctx, owner)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return "", notFound
		}
		return "", err
	}

	name := textutil.PlainTextLimit(cmd.CustomerName, maxNameLength)
	if name == "" {
		return "", userError(ErrCheckoutInvalidInput, "Customer name is required")
	}
	customer, err := s.access.customers.Get(ctx, owner.PartyID)
	if err != nil {
		if isRepoNotFound(err) {
			return "", notFound
		}
		return "", fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	customer.Name = name
	if kind, ok := customerTypes[strings.ToLower(strings.TrimSpace(cmd.CustomerType))]; ok {
		customer.Type = kind
	}
	if _, err := s.access.customers.Save(ctx, customer); err != nil {
		if isRepoConflict(err) {
			return "", fmt.Errorf("%w: %v", ErrCustomerConflict, err)
		}
		return "", fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	cart.CustomerName = name
	if _, err := s.access.save(ctx, cart); err != nil {
		return "", err
	}
	s.logger(ctx, "checkout.customer_updated", map[string]any{
		"partyId": owner.PartyID,
	})
	return CustomerUpdatedMessage, nil
}
