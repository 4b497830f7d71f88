package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/webshop/internal/domain"
	pfirestore "github.com/hanko-field/webshop/internal/platform/firestore"
	"github.com/hanko-field/webshop/internal/repositories"
)

const (
	couponCollection      = "coupons"
	pricingRuleCollection = "pricingRules"
)

type couponDocument struct {
	Name          string     `firestore:"name"`
	Type          string     `firestore:"type"`
	PricingRuleID string     `firestore:"pricingRuleId"`
	MaximumUse    int64      `firestore:"maximumUse"`
	Used          int64      `firestore:"used"`
	ValidFrom     *time.Time `firestore:"validFrom,omitempty"`
	ValidUntil    *time.Time `firestore:"validUntil,omitempty"`
	CustomerID    string     `firestore:"customerId,omitempty"`
	InvoiceID     string     `firestore:"invoiceId,omitempty"`
	Owner         string     `firestore:"owner,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
}

type pricingRuleDocument struct {
	Title           string    `firestore:"title"`
	DiscountAmount  int64     `firestore:"discountAmount"`
	CouponCodeBased bool      `firestore:"couponCodeBased"`
	Disabled        bool      `firestore:"disabled"`
	CreatedAt       time.Time `firestore:"createdAt"`
}

// CouponRepository persists coupon codes keyed by the code itself.
type CouponRepository struct {
	base *pfirestore.BaseRepository[couponDocument]
	now  func() time.Time
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		base: pfirestore.NewBaseRepository[couponDocument](provider, couponCollection),
		now:  time.Now,
	}, nil
}

func (r *CouponRepository) Get(ctx context.Context, code string) (domain.Coupon, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(code))
	if err != nil {
		return domain.Coupon{}, err
	}
	return decodeCoupon(doc), nil
}

func (r *CouponRepository) Create(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	code := strings.TrimSpace(coupon.Code)
	if code == "" {
		return domain.Coupon{}, errors.New("coupon repository: code is required")
	}
	coupon.Code = code
	coupon.CreatedAt = timeOrNow(coupon.CreatedAt, r.now())
	if err := r.base.Create(ctx, code, encodeCoupon(coupon)); err != nil {
		return domain.Coupon{}, err
	}
	return coupon, nil
}

func (r *CouponRepository) Save(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	if err := r.base.Set(ctx, strings.TrimSpace(coupon.Code), encodeCoupon(coupon)); err != nil {
		return domain.Coupon{}, err
	}
	return coupon, nil
}

func (r *CouponRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]domain.Coupon, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("invoiceId", "==", strings.TrimSpace(invoiceID))
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Coupon, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeCoupon(doc))
	}
	return out, nil
}

func encodeCoupon(c domain.Coupon) couponDocument {
	return couponDocument{
		Name:          c.Name,
		Type:          string(c.Type),
		PricingRuleID: c.PricingRuleID,
		MaximumUse:    c.MaximumUse,
		Used:          c.Used,
		ValidFrom:     c.ValidFrom,
		ValidUntil:    c.ValidUntil,
		CustomerID:    c.CustomerID,
		InvoiceID:     c.InvoiceID,
		Owner:         c.Owner,
		CreatedAt:     c.CreatedAt,
	}
}

func decodeCoupon(doc pfirestore.Document[couponDocument]) domain.Coupon {
	data := doc.Data
	return domain.Coupon{
		Code:          doc.ID,
		Name:          data.Name,
		Type:          domain.CouponType(data.Type),
		PricingRuleID: data.PricingRuleID,
		MaximumUse:    data.MaximumUse,
		Used:          data.Used,
		ValidFrom:     data.ValidFrom,
		ValidUntil:    data.ValidUntil,
		CustomerID:    data.CustomerID,
		InvoiceID:     data.InvoiceID,
		Owner:         data.Owner,
		CreatedAt:     firstNonZeroTime(data.CreatedAt, doc.CreateTime),
	}
}

// PricingRuleRepository persists fixed-amount discount rules.
type PricingRuleRepository struct {
	base *pfirestore.BaseRepository[pricingRuleDocument]
	now  func() time.Time
}

var _ repositories.PricingRuleRepository = (*PricingRuleRepository)(nil)

// NewPricingRuleRepository constructs a Firestore-backed pricing rule repository.
func NewPricingRuleRepository(provider *pfirestore.Provider) (*PricingRuleRepository, error) {
	if provider == nil {
		return nil, errors.New("pricing rule repository requires firestore provider")
	}
	return &PricingRuleRepository{
		base: pfirestore.NewBaseRepository[pricingRuleDocument](provider, pricingRuleCollection),
		now:  time.Now,
	}, nil
}

func (r *PricingRuleRepository) Get(ctx context.Context, ruleID string) (domain.PricingRule, error) {
	doc, err := r.base.Get(pfirestore.WithoutTransaction(ctx), strings.TrimSpace(ruleID))
	if err != nil {
		return domain.PricingRule{}, err
	}
	return decodePricingRule(doc), nil
}

func (r *PricingRuleRepository) FindCouponRule(ctx context.Context, discountAmount int64) (domain.PricingRule, error) {
	doc, err := r.base.First(pfirestore.WithoutTransaction(ctx), func(q firestore.Query) firestore.Query {
		return q.Where("couponCodeBased", "==", true).
			Where("disabled", "==", false).
			Where("discountAmount", "==", discountAmount)
	})
	if err != nil {
		return domain.PricingRule{}, err
	}
	return decodePricingRule(doc), nil
}

func (r *PricingRuleRepository) Create(ctx context.Context, rule domain.PricingRule) (domain.PricingRule, error) {
	if strings.TrimSpace(rule.ID) == "" {
		return domain.PricingRule{}, errors.New("pricing rule repository: id is required")
	}
	rule.CreatedAt = timeOrNow(rule.CreatedAt, r.now())
	doc := pricingRuleDocument{
		Title:           rule.Title,
		DiscountAmount:  rule.DiscountAmount,
		CouponCodeBased: rule.CouponCodeBased,
		Disabled:        rule.Disabled,
		CreatedAt:       rule.CreatedAt,
	}
	if err := r.base.Create(ctx, rule.ID, doc); err != nil {
		return domain.PricingRule{}, err
	}
	return rule, nil
}

func decodePricingRule(doc pfirestore.Document[pricingRuleDocument]) domain.PricingRule {
	return domain.PricingRule{
		ID:              doc.ID,
		Title:           doc.Data.Title,
		DiscountAmount:  doc.Data.DiscountAmount,
		CouponCodeBased: doc.Data.CouponCodeBased,
		Disabled:        doc.Data.Disabled,
		CreatedAt:       doc.Data.CreatedAt,
	}
}
