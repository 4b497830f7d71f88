package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/repositories"
)

var (
	// ErrCartPricingInvalidInput signals a cart that cannot be priced, such as an unknown item.
	ErrCartPricingInvalidInput = errors.New("cart pricing: invalid input")
	// ErrCartPricingUnavailable indicates reference data could not be loaded.
	ErrCartPricingUnavailable = errors.New("cart pricing: unavailable")
)

const loyaltyTaxDescription = "Loyalty program"

// CartPricer recomputes every derived field of a cart from its lines.
type CartPricer interface {
	Calculate(ctx context.Context, cmd PriceCartCommand) (PriceCartResult, error)
}

// PriceCartCommand carries the cart to reprice and the shop settings in effect.
type PriceCartCommand struct {
	Cart     Cart
	Settings WebshopSettings
}

// PriceCartResult is the repriced cart.
type PriceCartResult struct {
	Cart Cart
}

// CartPricingEngineDeps wires the reference data used by the pricing pipeline.
type CartPricingEngineDeps struct {
	Catalog       repositories.CatalogRepository
	ShippingRules repositories.ShippingRuleRepository
	Coupons       repositories.CouponRepository
	PricingRules  repositories.PricingRuleRepository
	Loyalty       repositories.LoyaltyRepository
	Now           func() time.Time
	Logger        func(context.Context, string, map[string]any)
}

// CartPricingEngine runs the pricing pipeline: price list rates, totals, template taxes,
// loyalty reduction, shipping rule, coupon discount, grand total.
type CartPricingEngine struct {
	catalog       repositories.CatalogRepository
	shippingRules repositories.ShippingRuleRepository
	coupons       repositories.CouponRepository
	pricingRules  repositories.PricingRuleRepository
	loyalty       repositories.LoyaltyRepository
	now           func() time.Time
	logger        func(context.Context, string, map[string]any)
}

var _ CartPricer = (*CartPricingEngine)(nil)

// NewCartPricingEngine constructs the pricing pipeline.
func NewCartPricingEngine(deps CartPricingEngineDeps) (*CartPricingEngine, error) {
	if deps.Catalog == nil {
		return nil, errors.New("cart pricing engine: catalog repository is required")
	}
	if deps.ShippingRules == nil {
		return nil, errors.New("cart pricing engine: shipping rule repository is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &CartPricingEngine{
		catalog:       deps.Catalog,
		shippingRules: deps.ShippingRules,
		coupons:       deps.Coupons,
		pricingRules:  deps.PricingRules,
		loyalty:       deps.Loyalty,
		now: func() time.Time {
			return now().UTC()
		},
		logger: logger,
	}, nil
}

// Calculate recomputes the cart from scratch. It never persists anything.
func (e *CartPricingEngine) Calculate(ctx context.Context, cmd PriceCartCommand) (PriceCartResult, error) {
	cart := cmd.Cart
	settings := cmd.Settings

	if strings.TrimSpace(cart.Currency) == "" {
		cart.Currency = settings.DefaultCurrency
	}
	cart.Currency = strings.ToUpper(strings.TrimSpace(cart.Currency))
	if strings.TrimSpace(cart.PriceList) == "" {
		cart.PriceList = settings.PriceList
	}

	if err := e.priceLines(ctx, &cart); err != nil {
		return PriceCartResult{}, err
	}

	var totals CartTotals
	for _, line := range cart.Lines {
		totals.NetTotal += line.Amount
		totals.TotalQuantity += line.Quantity
	}

	taxes := templateTaxes(settings.TaxTemplate, totals.NetTotal)
	if cart.Loyalty != nil && cart.Loyalty.Amount > 0 {
		taxes = append(taxes, e.loyaltyTaxLine(ctx, *cart.Loyalty))
	}
	for _, tax := range taxes {
		totals.TaxTotal += tax.Amount
	}
	cart.Taxes = taxes

	shipping, err := e.shippingAmount(ctx, &cart, totals.NetTotal)
	if err != nil {
		return PriceCartResult{}, err
	}
	totals.ShippingTotal = shipping

	discount, err := e.couponDiscount(ctx, &cart)
	if err != nil {
		return PriceCartResult{}, err
	}
	totals.DiscountAmount = discount

	totals.GrandTotal = totals.NetTotal + totals.TaxTotal + totals.ShippingTotal - totals.DiscountAmount
	// amounts are held in minor units so the rounded total needs no further rounding
	totals.RoundedTotal = totals.GrandTotal
	cart.Totals = totals

	return PriceCartResult{Cart: cart}, nil
}

func (e *CartPricingEngine) priceLines(ctx context.Context, cart *Cart) error {
	for i := range cart.Lines {
		line := &cart.Lines[i]
		item, err := e.catalog.GetItem(ctx, line.ItemCode)
		if err != nil {
			if isRepoNotFound(err) {
				return fmt.Errorf("%w: item %s not found", ErrCartPricingInvalidInput, line.ItemCode)
			}
			return fmt.Errorf("%w: %v", ErrCartPricingUnavailable, err)
		}
		line.ItemName = item.Name
		line.IsGiftCard = item.IsGiftCard
		line.IsStockItem = item.IsStockItem

		if line.IsGiftCard && line.GiftCard != nil && line.GiftCard.Rate > 0 {
			line.Rate = line.GiftCard.Rate
			line.PriceListRate = line.GiftCard.PriceListRate
			if line.PriceListRate <= 0 {
				line.PriceListRate = line.Rate
			}
		} else {
			price, err := e.catalog.GetPrice(ctx, line.ItemCode, cart.PriceList)
			if err != nil {
				if isRepoNotFound(err) {
					return fmt.Errorf("%w: item %s has no price on %s", ErrCartPricingInvalidInput, line.ItemCode, cart.PriceList)
				}
				return fmt.Errorf("%w: %v", ErrCartPricingUnavailable, err)
			}
			line.Rate = price.Rate
			line.PriceListRate = price.Rate
		}
		line.Amount = line.Rate * line.Quantity
	}
	return nil
}

func templateTaxes(template []domain.TaxTemplateLine, net int64) []TaxLine {
	taxes := make([]TaxLine, 0, len(template)+1)
	for _, row := range template {
		tax := TaxLine{
			ChargeType:  row.ChargeType,
			Description: row.Description,
			AccountHead: row.AccountHead,
			Rate:        row.Rate,
		}
		switch row.ChargeType {
		case domain.TaxChargeActual:
			tax.Amount = row.Amount
		default:
			tax.ChargeType = domain.TaxChargeOnNetTotal
			tax.Amount = int64(math.Round(float64(net) * row.Rate / 100))
		}
		taxes = append(taxes, tax)
	}
	return taxes
}

func (e *CartPricingEngine) loyaltyTaxLine(ctx context.Context, loyalty CartLoyalty) TaxLine {
	line := TaxLine{
		ChargeType:         domain.TaxChargeActual,
		Description:        loyaltyTaxDescription,
		Amount:             -loyalty.Amount,
		IsLoyaltyReduction: true,
	}
	if e.loyalty != nil && loyalty.ProgramID != "" {
		program, err := e.loyalty.GetProgram(ctx, loyalty.ProgramID)
		if err == nil {
			line.AccountHead = program.ExpenseAccount
		} else if !isRepoNotFound(err) {
			e.logger(ctx, "cart.pricing.loyalty_program_unavailable", map[string]any{
				"programId": loyalty.ProgramID,
				"error":     err.Error(),
			})
		}
	}
	return line
}

func (e *CartPricingEngine) shippingAmount(ctx context.Context, cart *Cart, net int64) (int64, error) {
	if cart.AllGiftCards() {
		cart.ShippingRuleID = ""
		return 0, nil
	}
	ruleID := strings.TrimSpace(cart.ShippingRuleID)
	if ruleID == "" {
		return 0, nil
	}
	rule, err := e.shippingRules.Get(ctx, ruleID)
	if err != nil {
		if isRepoNotFound(err) {
			e.logger(ctx, "cart.pricing.shipping_rule_missing", map[string]any{
				"cartId": cart.ID,
				"ruleId": ruleID,
			})
			cart.ShippingRuleID = ""
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCartPricingUnavailable, err)
	}
	amount, ok := ShippingAmount(rule, net)
	if !ok {
		return 0, nil
	}
	return amount, nil
}

func (e *CartPricingEngine) couponDiscount(ctx context.Context, cart *Cart) (int64, error) {
	code := strings.TrimSpace(cart.CouponCode)
	if code == "" || e.coupons == nil || e.pricingRules == nil {
		return 0, nil
	}
	coupon, err := e.coupons.Get(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			e.logger(ctx, "cart.pricing.coupon_missing", map[string]any{
				"cartId": cart.ID,
				"coupon": code,
			})
			cart.CouponCode = ""
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCartPricingUnavailable, err)
	}
	rule, err := e.pricingRules.Get(ctx, coupon.PricingRuleID)
	if err != nil {
		if isRepoNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCartPricingUnavailable, err)
	}
	if rule.Disabled {
		return 0, nil
	}
	return rule.DiscountAmount, nil
}

// ShippingAmount resolves the amount a rule charges for a net total. Conditions are evaluated
// ordered by From; the first with From <= net < To (To == 0 meaning unbounded) wins. ok is false
// when no condition matches.
func ShippingAmount(rule ShippingRule, net int64) (int64, bool) {
	conditions := append([]domain.ShippingCondition(nil), rule.Conditions...)
	sort.SliceStable(conditions, func(i, j int) bool {
		return conditions[i].From < conditions[j].From
	})
	for _, cond := range conditions {
		if net < cond.From {
			continue
		}
		if cond.To == 0 || net < cond.To {
			return cond.Amount, true
		}
	}
	return 0, false
}

// shippingOptions lists enabled rules shipping to country that have a condition matching net.
func shippingOptions(rules []ShippingRule, country string, net int64, currency string, format func(int64, string) string) []ShippingOption {
	options := make([]ShippingOption, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled || !rule.AppliesToCountry(country) {
			continue
		}
		amount, ok := ShippingAmount(rule, net)
		if !ok {
			continue
		}
		title := strings.TrimSpace(rule.Label)
		if title == "" {
			title = rule.ID
		}
		options = append(options, ShippingOption{
			ID:            rule.ID,
			Title:         title,
			Rate:          amount,
			FormattedRate: format(amount, currency),
		})
	}
	return options
}
