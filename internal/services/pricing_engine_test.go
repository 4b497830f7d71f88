package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/hanko-field/webshop/internal/domain"
)

func TestShippingAmountPicksConditionByRange(t *testing.T) {
	rule := ShippingRule{
		ID:      "tiered",
		Enabled: true,
		Conditions: []domain.ShippingCondition{
			{From: 100, To: 0, Amount: 0},
			{From: 0, To: 100, Amount: 10},
		},
	}

	cases := []struct {
		net  int64
		want int64
	}{
		{net: 150, want: 0},
		{net: 50, want: 10},
		{net: 0, want: 10},
		{net: 100, want: 0},
	}
	for _, tc := range cases {
		got, ok := ShippingAmount(rule, tc.net)
		if !ok {
			t.Fatalf("net %d: expected a matching condition", tc.net)
		}
		if got != tc.want {
			t.Fatalf("net %d: expected %d, got %d", tc.net, tc.want, got)
		}
	}

	bounded := ShippingRule{Conditions: []domain.ShippingCondition{{From: 0, To: 100, Amount: 10}}}
	if _, ok := ShippingAmount(bounded, 150); ok {
		t.Fatalf("expected no condition to match above the last range")
	}
}

func TestShippingOptionsSkipsRulesWithoutMatch(t *testing.T) {
	rules := []ShippingRule{
		{ID: "de", Label: "Germany", Enabled: true, Countries: []string{"DE"}, Conditions: []domain.ShippingCondition{{From: 0, To: 0, Amount: 500}}},
		{ID: "small", Label: "Small parcels", Enabled: true, Countries: []string{"de"}, Conditions: []domain.ShippingCondition{{From: 0, To: 1000, Amount: 300}}},
		{ID: "off", Enabled: false, Countries: []string{"DE"}, Conditions: []domain.ShippingCondition{{Amount: 1}}},
		{ID: "fr", Enabled: true, Countries: []string{"FR"}, Conditions: []domain.ShippingCondition{{Amount: 1}}},
	}
	options := shippingOptions(rules, "DE", 5000, "EUR", formatMoney)
	if len(options) != 1 {
		t.Fatalf("expected one option, got %+v", options)
	}
	if options[0].ID != "de" || options[0].Rate != 500 || options[0].Title != "Germany" {
		t.Fatalf("unexpected option %+v", options[0])
	}
	if options[0].FormattedRate == "" {
		t.Fatalf("expected formatted rate")
	}
}

func TestCartPricingEngineRunsFullPipeline(t *testing.T) {
	f := newShopFixture(t)
	settings := defaultSettings()
	settings.TaxTemplate = []domain.TaxTemplateLine{
		{ChargeType: domain.TaxChargeOnNetTotal, Description: "VAT 19%", AccountHead: "VAT", Rate: 19},
	}

	result, err := f.pricer.Calculate(context.Background(), PriceCartCommand{
		Cart: Cart{
			ID: "cart-1",
			Lines: []CartLine{
				{ItemCode: "MUG", Quantity: 2},
				{ItemCode: "TEE", Quantity: 1},
			},
			ShippingRuleID: "STD",
			CouponCode:     "SAVE5",
			Loyalty:        &CartLoyalty{Points: 500, Amount: 500, ProgramID: "LOY", EntryID: "LPE-9"},
		},
		Settings: settings,
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	cart := result.Cart

	if cart.Currency != "EUR" || cart.PriceList != "Standard Selling" {
		t.Fatalf("expected defaults from settings, got %s / %s", cart.Currency, cart.PriceList)
	}
	if cart.Lines[0].Rate != 1500 || cart.Lines[0].Amount != 3000 || cart.Lines[0].ItemName != "Mug" {
		t.Fatalf("unexpected first line %+v", cart.Lines[0])
	}
	want := CartTotals{
		NetTotal:       5500,
		TaxTotal:       545,
		ShippingTotal:  1000,
		DiscountAmount: 500,
		GrandTotal:     6545,
		RoundedTotal:   6545,
		TotalQuantity:  3,
	}
	if cart.Totals != want {
		t.Fatalf("expected totals %+v, got %+v", want, cart.Totals)
	}
	if len(cart.Taxes) != 2 {
		t.Fatalf("expected template tax and loyalty line, got %+v", cart.Taxes)
	}
	if cart.Taxes[0].Amount != 1045 {
		t.Fatalf("expected VAT 1045, got %d", cart.Taxes[0].Amount)
	}
	loyalty := cart.Taxes[1]
	if !loyalty.IsLoyaltyReduction || loyalty.Amount != -500 || loyalty.AccountHead != "Loyalty Expense" {
		t.Fatalf("unexpected loyalty line %+v", loyalty)
	}
}

func TestCartPricingEngineClearsShippingForGiftCards(t *testing.T) {
	f := newShopFixture(t)

	result, err := f.pricer.Calculate(context.Background(), PriceCartCommand{
		Cart: Cart{
			ID: "cart-gift",
			Lines: []CartLine{
				{ItemCode: "GIFT", Quantity: 2, GiftCard: &GiftCardData{Rate: 2000}},
			},
			ShippingRuleID: "STD",
		},
		Settings: defaultSettings(),
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	cart := result.Cart
	if cart.ShippingRuleID != "" {
		t.Fatalf("expected shipping rule to be cleared, got %q", cart.ShippingRuleID)
	}
	line := cart.Lines[0]
	if !line.IsGiftCard || line.Rate != 2000 || line.PriceListRate != 2000 || line.Amount != 4000 {
		t.Fatalf("unexpected gift card line %+v", line)
	}
	if cart.Totals.ShippingTotal != 0 || cart.Totals.RoundedTotal != 4000 {
		t.Fatalf("unexpected totals %+v", cart.Totals)
	}
}

func TestCartPricingEngineDropsUnknownCoupon(t *testing.T) {
	f := newShopFixture(t)

	result, err := f.pricer.Calculate(context.Background(), PriceCartCommand{
		Cart:     Cart{ID: "cart-2", Lines: []CartLine{{ItemCode: "MUG", Quantity: 1}}, CouponCode: "GONE"},
		Settings: defaultSettings(),
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if result.Cart.CouponCode != "" || result.Cart.Totals.DiscountAmount != 0 {
		t.Fatalf("expected unknown coupon to be dropped, got %+v", result.Cart)
	}
}

func TestCartPricingEngineRejectsUnknownItem(t *testing.T) {
	f := newShopFixture(t)

	_, err := f.pricer.Calculate(context.Background(), PriceCartCommand{
		Cart:     Cart{ID: "cart-3", Lines: []CartLine{{ItemCode: "NOPE", Quantity: 1}}},
		Settings: defaultSettings(),
	})
	if !errors.Is(err, ErrCartPricingInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
