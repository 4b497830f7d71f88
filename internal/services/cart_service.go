package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/platform/textutil"
	"github.com/hanko-field/webshop/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

const maxCartNotesLength = 2000

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the shopper has no open cart.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartPriceOverride indicates a caller supplied a price for an item that is not a gift card.
var ErrCartPriceOverride = errors.New("cart service: price override not allowed")

// ErrCartLoginRequired indicates the caller has neither an account nor a guest session.
var ErrCartLoginRequired = errors.New("cart service: login required")

type loyaltySummarizer interface {
	Summary(ctx context.Context, shopper Shopper, cart Cart) (LoyaltySummary, error)
}

// CartServiceDeps wires the repository and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Repository    repositories.CartRepository
	Settings      repositories.SettingsRepository
	Catalog       repositories.CatalogRepository
	Customers     repositories.CustomerRepository
	Addresses     repositories.AddressRepository
	ShippingRules repositories.ShippingRuleRepository
	Parties       partyResolver
	Loyalty       loyaltySummarizer
	Pricer        CartPricer
	Events        *EventBus
	Clock         func() time.Time
	Logger        func(context.Context, string, map[string]any)
	IDGenerator   func() string
}

type cartService struct {
	access        cartAccess
	catalog       repositories.CatalogRepository
	addresses     repositories.AddressRepository
	shippingRules repositories.ShippingRuleRepository
	loyalty       loyaltySummarizer
	events        *EventBus
	now           func() time.Time
	logger        func(context.Context, string, map[string]any)
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog repository is required")
	}
	if deps.ShippingRules == nil {
		return nil, errors.New("cart service: shipping rule repository is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	now := func() time.Time { return deps.Clock().UTC() }

	access := cartAccess{
		carts:     deps.Repository,
		settings:  deps.Settings,
		customers: deps.Customers,
		parties:   deps.Parties,
		pricer:    deps.Pricer,
		newID:     idGen,
		now:       now,
		logger:    logger,
	}
	if err := access.validate(); err != nil {
		return nil, fmt.Errorf("cart service: %w", err)
	}

	return &cartService{
		access:        access,
		catalog:       deps.Catalog,
		addresses:     deps.Addresses,
		shippingRules: deps.ShippingRules,
		loyalty:       deps.Loyalty,
		events:        deps.Events,
		now:           now,
		logger:        logger,
	}, nil
}

// GetOrCreateCart loads the shopper's open cart, creating an empty one when absent.
func (s *cartService) GetOrCreateCart(ctx context.Context, shopper Shopper) (Cart, error) {
	owner, shopper, err := s.access.owner(ctx, shopper)
	if err != nil {
		return Cart{}, err
	}
	if owner.IsZero() {
		return Cart{}, userError(ErrCartLoginRequired, "Please log in to add items to cart")
	}
	cart, err := s.access.find(ctx, owner)
	if err == nil || !errors.Is(err, ErrCartNotFound) {
		return cart, err
	}
	settings, err := s.access.loadSettings(ctx)
	if err != nil {
		return Cart{}, err
	}
	cart, _, err = s.access.ensureOpen(ctx, owner, shopper, settings)
	return cart, err
}

func (s *cartService) GetCart(ctx context.Context, shopper Shopper) (Cart, error) {
	owner, _, err := s.access.owner(ctx, shopper)
	if err != nil {
		return Cart{}, err
	}
	return s.access.find(ctx, owner)
}

// UpdateLine adds to or sets the quantity of one item. A zero quantity removes the line and
// removing the last line deletes the cart.
func (s *cartService) UpdateLine(ctx context.Context, cmd UpdateLineCommand) (UpdateLineResult, error) {
	itemCode := strings.TrimSpace(cmd.ItemCode)
	if itemCode == "" {
		return UpdateLineResult{}, userError(ErrCartInvalidInput, "Item code is required")
	}
	qty, err := strconv.ParseInt(strings.TrimSpace(cmd.Quantity), 10, 64)
	if err != nil || qty < 0 {
		return UpdateLineResult{}, userError(ErrCartInvalidInput, "Quantity must be a valid number")
	}

	owner, shopper, err := s.access.owner(ctx, cmd.Shopper)
	if err != nil {
		return UpdateLineResult{}, err
	}
	if owner.IsZero() {
		return UpdateLineResult{}, userError(ErrCartLoginRequired, "Please log in to add items to cart")
	}

	item, err := s.catalog.GetItem(ctx, itemCode)
	if err != nil {
		if isRepoNotFound(err) {
			return UpdateLineResult{}, userError(ErrCartInvalidInput, "Item %s does not exist", itemCode)
		}
		return UpdateLineResult{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	if cmd.Price != nil && !item.IsGiftCard {
		return UpdateLineResult{}, userError(ErrCartPriceOverride, "Price can only be modified for gift cards")
	}
	if cmd.Price != nil && *cmd.Price < 0 {
		return UpdateLineResult{}, userError(ErrCartInvalidInput, "Price must not be negative")
	}

	settings, err := s.access.loadSettings(ctx)
	if err != nil {
		return UpdateLineResult{}, err
	}

	existing, err := s.access.find(ctx, owner)
	switch {
	case err == nil:
	case errors.Is(err, ErrCartNotFound):
		if qty == 0 {
			return UpdateLineResult{Deleted: true}, nil
		}
	default:
		return UpdateLineResult{}, err
	}

	if existing.ID != "" {
		next := existing
		next.Lines = append([]CartLine(nil), existing.Lines...)
		applyLineUpdate(&next, item, qty, cmd, settings)
		if len(next.Lines) == 0 {
			if err := s.deleteCart(ctx, existing); err != nil {
				return UpdateLineResult{}, err
			}
			return UpdateLineResult{Deleted: true}, nil
		}
		saved, err := s.access.mutateAndSave(ctx, next, settings, nil)
		if err != nil {
			return UpdateLineResult{}, err
		}
		return UpdateLineResult{Cart: saved, ItemCount: saved.ItemCount()}, nil
	}

	saved, err := s.access.upsert(ctx, owner, shopper, settings, func(cart *Cart) error {
		applyLineUpdate(cart, item, qty, cmd, settings)
		return nil
	})
	if err != nil {
		return UpdateLineResult{}, err
	}
	return UpdateLineResult{Cart: saved, ItemCount: saved.ItemCount()}, nil
}

func applyLineUpdate(cart *Cart, item domain.CatalogItem, qty int64, cmd UpdateLineCommand, settings WebshopSettings) {
	idx := cart.LineByItem(item.ItemCode)
	target := qty
	if cmd.Add && idx >= 0 {
		target += cart.Lines[idx].Quantity
	}
	if target == 0 {
		if idx >= 0 {
			cart.Lines = append(cart.Lines[:idx], cart.Lines[idx+1:]...)
		}
		return
	}

	var line CartLine
	if idx >= 0 {
		line = cart.Lines[idx]
	} else {
		line = CartLine{ItemCode: item.ItemCode, ItemName: item.Name}
	}
	line.Quantity = target
	line.IsGiftCard = item.IsGiftCard
	line.IsStockItem = item.IsStockItem

	if item.IsGiftCard && (cmd.GiftCard != nil || cmd.Price != nil) {
		payload := GiftCardData{}
		if line.GiftCard != nil {
			payload = *line.GiftCard
		}
		if cmd.GiftCard != nil {
			payload = sanitiseGiftCard(*cmd.GiftCard)
		}
		if cmd.Price != nil {
			currency := cart.Currency
			if currency == "" {
				currency = settings.DefaultCurrency
			}
			rate := domain.ToMinorUnits(*cmd.Price, currency)
			payload.Rate = rate
			payload.PriceListRate = rate
		}
		line.GiftCard = &payload
	}
	if cmd.Notes != nil {
		line.Notes = textutil.PlainTextLimit(*cmd.Notes, maxCartNotesLength)
	}

	if idx >= 0 {
		cart.Lines[idx] = line
	} else {
		cart.Lines = append(cart.Lines, line)
	}
}

func sanitiseGiftCard(payload GiftCardData) GiftCardData {
	payload.Code = strings.ToUpper(strings.TrimSpace(payload.Code))
	payload.RecipientName = textutil.PlainTextLimit(payload.RecipientName, 140)
	payload.RecipientEmail = strings.TrimSpace(payload.RecipientEmail)
	payload.Message = textutil.PlainTextLimit(payload.Message, maxCartNotesLength)
	return payload
}

func (s *cartService) deleteCart(ctx context.Context, cart Cart) error {
	if err := s.access.carts.Delete(ctx, cart.ID); err != nil {
		return translateCartRepoError(err)
	}
	if err := s.events.Dispatch(ctx, Event{
		Type:    EventCartDeleted,
		CartID:  cart.ID,
		PartyID: cart.Owner.PartyID,
	}); err != nil {
		s.logger(ctx, "cart.delete_subscriber_failed", map[string]any{
			"cartId": cart.ID,
			"error":  err.Error(),
		})
	}
	return nil
}

// CartView assembles the cart page: lines, totals, addresses, shipping options and loyalty summary.
func (s *cartService) CartView(ctx context.Context, shopper Shopper) (CartView, error) {
	owner, shopper, err := s.access.owner(ctx, shopper)
	if err != nil {
		return CartView{}, err
	}
	cart, err := s.access.find(ctx, owner)
	if err != nil {
		return CartView{}, err
	}

	view := CartView{
		Cart:      cart,
		Formatted: formatTotals(cart.Totals, cart.Currency),
	}
	if s.addresses != nil && owner.PartyID != "" {
		addresses, err := s.addresses.ListByCustomer(ctx, owner.PartyID)
		if err != nil {
			s.logger(ctx, "cart.addresses_unavailable", map[string]any{
				"partyId": owner.PartyID,
				"error":   err.Error(),
			})
		}
		view.Addresses = addresses
		view.BillingAddress = findAddress(addresses, cart.BillingAddressID)
		view.ShippingAddress = findAddress(addresses, cart.ShippingAddressID)
	}
	if view.ShippingAddress != nil && !cart.AllGiftCards() {
		rules, err := s.shippingRules.ListEnabled(ctx)
		if err != nil {
			return CartView{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
		view.ShippingOptions = shippingOptions(rules, view.ShippingAddress.Country, cart.Totals.NetTotal, cart.Currency, formatMoney)
	}
	if s.loyalty != nil {
		summary, err := s.loyalty.Summary(ctx, shopper, cart)
		if err != nil {
			s.logger(ctx, "cart.loyalty_summary_failed", map[string]any{
				"cartId": cart.ID,
				"error":  err.Error(),
			})
		} else {
			view.Loyalty = summary
		}
	}
	return view, nil
}

func findAddress(addresses []Address, id string) *Address {
	if id == "" {
		return nil
	}
	for i := range addresses {
		if addresses[i].ID == id {
			address := addresses[i]
			return &address
		}
	}
	return nil
}

func (s *cartService) ApplyShippingRule(ctx context.Context, shopper Shopper, ruleID string) (Cart, error) {
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return Cart{}, userError(ErrCartInvalidInput, "Shipping rule is required")
	}
	rule, err := s.shippingRules.Get(ctx, ruleID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, userError(ErrCartInvalidInput, "Shipping rule %s does not exist", ruleID)
		}
		return Cart{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	if !rule.Enabled {
		return Cart{}, userError(ErrCartInvalidInput, "Shipping rule %s is disabled", ruleID)
	}
	return s.mutateOpenCart(ctx, shopper, func(cart *Cart) error {
		cart.ShippingRuleID = rule.ID
		return nil
	})
}

func (s *cartService) RemoveShippingRule(ctx context.Context, shopper Shopper) (Cart, error) {
	return s.mutateOpenCart(ctx, shopper, func(cart *Cart) error {
		cart.ShippingRuleID = ""
		return nil
	})
}

// SetAddress links a stored address to the cart. Setting one kind fills the other when it is
// still empty; a shipping address defaults the shipping rule to the first that applies.
func (s *cartService) SetAddress(ctx context.Context, cmd SetCartAddressCommand) (Cart, error) {
	addressID := strings.TrimSpace(cmd.AddressID)
	if addressID == "" {
		return Cart{}, userError(ErrCartInvalidInput, "Address is required")
	}
	if cmd.Kind != AddressBilling && cmd.Kind != AddressShipping {
		return Cart{}, userError(ErrCartInvalidInput, "Address type must be billing or shipping")
	}
	if s.addresses == nil {
		return Cart{}, ErrCartUnavailable
	}
	owner, _, err := s.access.owner(ctx, cmd.Shopper)
	if err != nil {
		return Cart{}, err
	}
	if owner.PartyID == "" {
		return Cart{}, userError(ErrCartLoginRequired, "Please log in to manage addresses")
	}
	address, err := s.addresses.Get(ctx, addressID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, userError(ErrCartInvalidInput, "Address %s does not exist", addressID)
		}
		return Cart{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	if address.CustomerID != owner.PartyID {
		return Cart{}, userError(ErrCartInvalidInput, "Address %s does not exist", addressID)
	}

	var rules []ShippingRule
	if cmd.Kind == AddressShipping {
		rules, err = s.shippingRules.ListEnabled(ctx)
		if err != nil {
			return Cart{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
	}

	return s.mutateOpenCart(ctx, cmd.Shopper, func(cart *Cart) error {
		switch cmd.Kind {
		case AddressBilling:
			cart.BillingAddressID = address.ID
			if cart.ShippingAddressID == "" {
				cart.ShippingAddressID = address.ID
			}
		case AddressShipping:
			cart.ShippingAddressID = address.ID
			if cart.BillingAddressID == "" {
				cart.BillingAddressID = address.ID
			}
			if cart.ShippingRuleID == "" && !cart.AllGiftCards() {
				cart.ShippingRuleID = defaultShippingRule(rules, address.Country, cart.Totals.NetTotal)
			}
		}
		return nil
	})
}

func defaultShippingRule(rules []ShippingRule, country string, net int64) string {
	for _, rule := range rules {
		if !rule.Enabled || !rule.AppliesToCountry(country) {
			continue
		}
		if _, ok := ShippingAmount(rule, net); ok {
			return rule.ID
		}
	}
	return ""
}

func (s *cartService) mutateOpenCart(ctx context.Context, shopper Shopper, mutate func(*Cart) error) (Cart, error) {
	owner, _, err := s.access.owner(ctx, shopper)
	if err != nil {
		return Cart{}, err
	}
	cart, err := s.access.find(ctx, owner)
	if err != nil {
		return Cart{}, err
	}
	settings, err := s.access.loadSettings(ctx)
	if err != nil {
		return Cart{}, err
	}
	return s.access.mutateAndSave(ctx, cart, settings, mutate)
}
