package memory

import (
	"context"
	"slices"
	"strings"

	domain "github.com/hanko-field/webshop/internal/domain"
)

type catalogRepo struct{ s *Store }

func (r catalogRepo) GetItem(_ context.Context, itemCode string) (domain.CatalogItem, error) {
	var (
		item domain.CatalogItem
		ok   bool
	)
	r.s.read(func(t *tables) { item, ok = t.items[strings.TrimSpace(itemCode)] })
	if !ok {
		return domain.CatalogItem{}, notFound("items.get")
	}
	return item, nil
}

func (r catalogRepo) GetPrice(_ context.Context, itemCode, priceList string) (domain.ItemPrice, error) {
	var (
		price domain.ItemPrice
		ok    bool
	)
	r.s.read(func(t *tables) { price, ok = t.prices[priceKey(itemCode, priceList)] })
	if !ok {
		return domain.ItemPrice{}, notFound("item_prices.get")
	}
	return price, nil
}

func (r catalogRepo) GetStock(_ context.Context, itemCode, warehouse string) (domain.StockLevel, error) {
	var (
		level domain.StockLevel
		ok    bool
	)
	r.s.read(func(t *tables) { level, ok = t.stock[stockKey(itemCode, warehouse)] })
	if !ok {
		return domain.StockLevel{}, notFound("stock.get")
	}
	return level, nil
}

type shippingRuleRepo struct{ s *Store }

func (r shippingRuleRepo) Get(_ context.Context, ruleID string) (domain.ShippingRule, error) {
	var (
		rule domain.ShippingRule
		ok   bool
	)
	r.s.read(func(t *tables) { rule, ok = t.shippingRules[strings.TrimSpace(ruleID)] })
	if !ok {
		return domain.ShippingRule{}, notFound("shipping_rules.get")
	}
	return rule, nil
}

func (r shippingRuleRepo) ListEnabled(_ context.Context) ([]domain.ShippingRule, error) {
	var rules []domain.ShippingRule
	r.s.read(func(t *tables) {
		for _, rule := range t.shippingRules {
			if rule.Enabled {
				rules = append(rules, rule)
			}
		}
	})
	slices.SortFunc(rules, func(a, b domain.ShippingRule) int { return strings.Compare(a.Label, b.Label) })
	return rules, nil
}

type settingsRepo struct{ s *Store }

func (r settingsRepo) Get(_ context.Context) (domain.WebshopSettings, error) {
	var (
		settings domain.WebshopSettings
		ok       bool
	)
	r.s.read(func(t *tables) {
		if t.settings != nil {
			settings, ok = cloneSettings(*t.settings), true
		}
	})
	if !ok {
		return domain.WebshopSettings{}, notFound("settings.get")
	}
	return settings, nil
}

type pricingRuleRepo struct{ s *Store }

func (r pricingRuleRepo) Get(_ context.Context, ruleID string) (domain.PricingRule, error) {
	var (
		rule domain.PricingRule
		ok   bool
	)
	r.s.read(func(t *tables) { rule, ok = t.pricingRules[strings.TrimSpace(ruleID)] })
	if !ok {
		return domain.PricingRule{}, notFound("pricing_rules.get")
	}
	return rule, nil
}

func (r pricingRuleRepo) FindCouponRule(_ context.Context, discountAmount int64) (domain.PricingRule, error) {
	var matches []domain.PricingRule
	r.s.read(func(t *tables) {
		for _, rule := range t.pricingRules {
			if rule.CouponCodeBased && !rule.Disabled && rule.DiscountAmount == discountAmount {
				matches = append(matches, rule)
			}
		}
	})
	if len(matches) == 0 {
		return domain.PricingRule{}, notFound("pricing_rules.find_coupon_rule")
	}
	slices.SortFunc(matches, func(a, b domain.PricingRule) int { return strings.Compare(a.ID, b.ID) })
	return matches[0], nil
}

func (r pricingRuleRepo) Create(_ context.Context, rule domain.PricingRule) (domain.PricingRule, error) {
	var err error
	r.s.write(func(t *tables) {
		if _, ok := t.pricingRules[rule.ID]; ok {
			err = conflict("pricing_rules.create", nil)
			return
		}
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = r.s.clock()
		}
		t.pricingRules[rule.ID] = rule
	})
	if err != nil {
		return domain.PricingRule{}, err
	}
	return rule, nil
}
