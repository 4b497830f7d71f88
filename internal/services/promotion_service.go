package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/platform/textutil"
	"github.com/hanko-field/webshop/internal/repositories"
)

const (
	giftCardMaximumUse  = 9999
	maxReferralCodeSize = 140
)

var (
	// ErrCouponInvalid indicates an empty, unknown, expired or exhausted coupon code.
	ErrCouponInvalid = errors.New("promotion service: invalid coupon")
	// ErrCouponExceedsTotal indicates the coupon discount is larger than the cart total.
	ErrCouponExceedsTotal = errors.New("promotion service: discount exceeds total")
	// ErrPromotionUnavailable indicates coupon or pricing rule storage could not be reached.
	ErrPromotionUnavailable = errors.New("promotion service: unavailable")
	// ErrGiftCardCodeTaken indicates a requested gift card code already belongs to another invoice.
	ErrGiftCardCodeTaken = errors.New("promotion service: gift card code taken")
	// ErrGiftCardsIncomplete indicates a gift card batch was only partially issued.
	ErrGiftCardsIncomplete = errors.New("promotion service: gift cards partially issued")
)

// PromotionServiceDeps wires coupon and gift card persistence.
type PromotionServiceDeps struct {
	Carts        repositories.CartRepository
	Settings     repositories.SettingsRepository
	Customers    repositories.CustomerRepository
	Coupons      repositories.CouponRepository
	PricingRules repositories.PricingRuleRepository
	Invoices     repositories.InvoiceRepository
	Parties      partyResolver
	Pricer       CartPricer
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(context.Context, string, map[string]any)
}

type promotionService struct {
	access       cartAccess
	customers    repositories.CustomerRepository
	coupons      repositories.CouponRepository
	pricingRules repositories.PricingRuleRepository
	invoices     repositories.InvoiceRepository
	now          func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

var (
	_ PromotionService  = (*promotionService)(nil)
	_ giftCardLifecycle = (*promotionService)(nil)
)

// NewPromotionService constructs a PromotionService.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Coupons == nil || deps.PricingRules == nil {
		return nil, errors.New("promotion service: coupon and pricing rule repositories are required")
	}
	if deps.Invoices == nil || deps.Customers == nil {
		return nil, errors.New("promotion service: invoice and customer repositories are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	now := func() time.Time { return clock().UTC() }
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
		now:       now,
		logger:    logger,
	}
	if err := access.validate(); err != nil {
		return nil, fmt.Errorf("promotion service: %w", err)
	}
	return &promotionService{
		access:       access,
		customers:    deps.Customers,
		coupons:      deps.Coupons,
		pricingRules: deps.PricingRules,
		invoices:     deps.Invoices,
		now:          now,
		newID:        idGen,
		logger:       logger,
	}, nil
}

// ApplyCoupon validates code and attaches it to the shopper's cart. A coupon worth more than the
// cart is rejected and the cart is saved without a coupon.
func (s *promotionService) ApplyCoupon(ctx context.Context, shopper Shopper, code, referral string) (Cart, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Cart{}, userError(ErrCouponInvalid, "Please enter a coupon code")
	}
	owner, _, err := s.access.owner(ctx, shopper)
	if err != nil {
		return Cart{}, err
	}
	cart, err := s.access.find(ctx, owner)
	if err != nil {
		return Cart{}, err
	}

	coupon, err := s.coupons.Get(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, userError(ErrCouponInvalid, "Please enter a valid coupon code")
		}
		return Cart{}, fmt.Errorf("%w: %v", ErrPromotionUnavailable, err)
	}
	if err := validateCoupon(coupon, s.now()); err != nil {
		return Cart{}, err
	}

	settings, err := s.access.loadSettings(ctx)
	if err != nil {
		return Cart{}, err
	}
	cart.CouponCode = coupon.Code
	if referral = textutil.PlainTextLimit(referral, maxReferralCodeSize); referral != "" {
		cart.ReferralCode = referral
	}
	priced, err := s.access.reprice(ctx, cart, settings)
	if err != nil {
		return Cart{}, err
	}

	before := priced.Totals.RoundedTotal + priced.Totals.DiscountAmount
	if priced.Totals.DiscountAmount > before {
		cart.CouponCode = ""
		if _, err := s.access.mutateAndSave(ctx, cart, settings, nil); err != nil {
			s.logger(ctx, "promotions.coupon_reset_failed", map[string]any{
				"cartId": cart.ID,
				"error":  err.Error(),
			})
		}
		return Cart{}, userError(ErrCouponExceedsTotal, "Discount value cannot exceed total amount")
	}
	return s.access.save(ctx, priced)
}

func validateCoupon(coupon Coupon, now time.Time) error {
	today := startOfDay(now)
	if coupon.ValidFrom != nil && today.Before(startOfDay(*coupon.ValidFrom)) {
		return userError(ErrCouponInvalid, "Sorry, this coupon code's validity has not started")
	}
	if coupon.ValidUntil != nil && today.After(startOfDay(*coupon.ValidUntil)) {
		return userError(ErrCouponInvalid, "Sorry, this coupon code's validity has expired")
	}
	if coupon.MaximumUse > 0 && coupon.Used >= coupon.MaximumUse {
		return userError(ErrCouponInvalid, "Sorry, this coupon code is no longer valid")
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *promotionService) RemoveCoupon(ctx context.Context, shopper Shopper) (Cart, error) {
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
	return s.access.mutateAndSave(ctx, cart, settings, func(cart *Cart) error {
		cart.CouponCode = ""
		cart.ReferralCode = ""
		return nil
	})
}

// IssueGiftCards mints one gift card coupon per unit of every gift card line of a settled
// invoice. Codes already minted for the invoice are reported as issued, so a partially issued
// batch can be resumed. The invoice is marked once every unit is issued.
func (s *promotionService) IssueGiftCards(ctx context.Context, invoice Invoice) (GiftCardIssueResult, error) {
	result := GiftCardIssueResult{InvoiceID: invoice.ID}
	if strings.TrimSpace(invoice.ID) == "" {
		return result, fmt.Errorf("%w: invoice id is required", ErrPromotionUnavailable)
	}
	if invoice.OutstandingAmount > 0 || invoice.GiftCardsIssued {
		result.Skipped = true
		return result, nil
	}
	hasGiftCards := false
	for _, line := range invoice.Lines {
		if line.IsGiftCard {
			hasGiftCards = true
			break
		}
	}
	if !hasGiftCards {
		return result, nil
	}

	settings, err := s.access.settings.Get(ctx)
	if err != nil && !isRepoNotFound(err) {
		return result, fmt.Errorf("%w: %v", ErrPromotionUnavailable, err)
	}
	existing, err := s.coupons.ListByInvoice(ctx, invoice.ID)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrPromotionUnavailable, err)
	}
	minted := make(map[string]Coupon, len(existing))
	for _, coupon := range existing {
		minted[coupon.Code] = coupon
	}

	owner := ""
	if invoice.PartyID != "" {
		customer, err := s.customers.Get(ctx, invoice.PartyID)
		if err == nil && len(customer.PortalUsers) > 0 {
			owner = customer.PortalUsers[0]
		}
	}

	validFrom := startOfDay(s.now())
	var validUntil *time.Time
	if settings.GiftCardValidityMonths > 0 {
		until := validFrom.AddDate(0, settings.GiftCardValidityMonths, 0)
		validUntil = &until
	}

	rules := make(map[int64]PricingRule)
	for lineIdx, line := range invoice.Lines {
		if !line.IsGiftCard {
			continue
		}
		rule, ok := rules[line.Rate]
		if !ok {
			rule, err = s.giftCardRule(ctx, line.Rate, invoice.Currency)
			if err != nil {
				for unit := 1; unit <= int(line.Quantity); unit++ {
					result.Units = append(result.Units, GiftCardUnitResult{ItemCode: line.ItemCode, Unit: unit, Err: err})
				}
				continue
			}
			rules[line.Rate] = rule
		}

		base := fmt.Sprintf("GC-%s-%d", invoice.ID, lineIdx+1)
		if line.GiftCard != nil && strings.TrimSpace(line.GiftCard.Code) != "" {
			base = strings.TrimSpace(line.GiftCard.Code)
		}
		for unit := 1; unit <= int(line.Quantity); unit++ {
			code := fmt.Sprintf("%s-%d", base, unit)
			unitResult := GiftCardUnitResult{ItemCode: line.ItemCode, Unit: unit, Code: code, PricingRuleID: rule.ID}
			if prior, ok := minted[code]; ok {
				unitResult.PricingRuleID = prior.PricingRuleID
				result.Units = append(result.Units, unitResult)
				continue
			}
			_, err := s.coupons.Create(ctx, Coupon{
				Code:          code,
				Name:          code,
				Type:          domain.CouponTypeGiftCard,
				PricingRuleID: rule.ID,
				MaximumUse:    giftCardMaximumUse,
				ValidFrom:     &validFrom,
				ValidUntil:    validUntil,
				CustomerID:    invoice.PartyID,
				InvoiceID:     invoice.ID,
				Owner:         owner,
			})
			if err != nil {
				if isRepoConflict(err) {
					err = fmt.Errorf("%w: %s", ErrGiftCardCodeTaken, code)
				} else {
					err = fmt.Errorf("%w: %v", ErrPromotionUnavailable, err)
				}
				s.logger(ctx, "promotions.gift_card_failed", map[string]any{
					"invoiceId": invoice.ID,
					"code":      code,
					"error":     err.Error(),
				})
				unitResult.Err = err
			}
			result.Units = append(result.Units, unitResult)
		}
	}

	if result.Complete() {
		invoice.GiftCardsIssued = true
		if _, err := s.invoices.Save(ctx, invoice); err != nil {
			return result, fmt.Errorf("%w: mark invoice: %v", ErrPromotionUnavailable, err)
		}
	}
	s.logger(ctx, "promotions.gift_cards_issued", map[string]any{
		"invoiceId": invoice.ID,
		"issued":    len(result.Issued()),
		"units":     len(result.Units),
	})
	return result, nil
}

// giftCardRule returns the coupon pricing rule discounting exactly rate, creating it when absent.
func (s *promotionService) giftCardRule(ctx context.Context, rate int64, currency string) (PricingRule, error) {
	rule, err := s.pricingRules.FindCouponRule(ctx, rate)
	if err == nil {
		return rule, nil
	}
	if !isRepoNotFound(err) {
		return PricingRule{}, fmt.Errorf("%w: %v", ErrPromotionUnavailable, err)
	}
	created, err := s.pricingRules.Create(ctx, PricingRule{
		ID:              s.newID(),
		Title:           fmt.Sprintf("Gift card %.2f", domain.FromMinorUnits(rate, currency)),
		DiscountAmount:  rate,
		CouponCodeBased: true,
	})
	if err != nil {
		return PricingRule{}, fmt.Errorf("%w: %v", ErrPromotionUnavailable, err)
	}
	return created, nil
}

// IssueForPaidInvoice issues gift cards when an invoice is settled and reports the per-unit
// results through the event report.
func (s *promotionService) IssueForPaidInvoice(ctx context.Context, event Event) error {
	if event.Invoice == nil {
		return nil
	}
	result, err := s.IssueGiftCards(ctx, *event.Invoice)
	if event.Report != nil {
		event.Report.GiftCards = &result
	}
	if err != nil {
		return err
	}
	if !result.Complete() {
		return fmt.Errorf("%w: invoice %s", ErrGiftCardsIncomplete, result.InvoiceID)
	}
	return nil
}
