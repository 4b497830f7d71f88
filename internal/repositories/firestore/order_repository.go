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

const orderCollection = "orders"

type orderDocument struct {
	Number            string           `firestore:"number"`
	CartRef           string           `firestore:"cartRef"`
	PartyID           string           `firestore:"partyId"`
	CustomerName      string           `firestore:"customerName,omitempty"`
	ContactEmail      string           `firestore:"contactEmail,omitempty"`
	Currency          string           `firestore:"currency"`
	Lines             []lineDocument   `firestore:"lines"`
	Taxes             []taxDocument    `firestore:"taxes"`
	Totals            totalsDocument   `firestore:"totals"`
	CouponCode        string           `firestore:"couponCode,omitempty"`
	Loyalty           *loyaltyDocument `firestore:"loyalty,omitempty"`
	ShippingRuleID    string           `firestore:"shippingRuleId,omitempty"`
	BillingAddressID  string           `firestore:"billingAddressId,omitempty"`
	ShippingAddressID string           `firestore:"shippingAddressId,omitempty"`
	SkipDeliveryNote  bool             `firestore:"skipDeliveryNote"`
	Status            string           `firestore:"status"`
	CreatedAt         time.Time        `firestore:"createdAt"`
	UpdatedAt         time.Time        `firestore:"updatedAt"`
}

// OrderRepository persists orders keyed by their deterministic order id.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
	now      func() time.Time
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, orderCollection),
		now:      time.Now,
	}, nil
}

// CreateForCart inserts the order unless one already exists under the same id.
func (r *OrderRepository) CreateForCart(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" || strings.TrimSpace(order.CartRef) == "" {
		return domain.Order{}, false, errors.New("order repository: order id and cart reference are required")
	}

	var (
		saved   domain.Order
		created bool
	)
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		created = false
		existing, err := r.base.Get(ctx, orderID)
		if err == nil {
			saved = decodeOrder(existing)
			return nil
		}
		if !isNotFound(err) {
			return err
		}
		now := r.now().UTC()
		order.CreatedAt = timeOrNow(order.CreatedAt, now)
		order.UpdatedAt = now
		if err := r.base.Create(ctx, orderID, encodeOrder(order)); err != nil {
			return err
		}
		saved = order
		created = true
		return nil
	})
	if err != nil {
		if isConflict(err) {
			if existing, getErr := r.Get(ctx, orderID); getErr == nil {
				return existing, false, nil
			}
		}
		return domain.Order{}, false, err
	}
	return saved, created, nil
}

// FindByCart returns the order created from the cart.
func (r *OrderRepository) FindByCart(ctx context.Context, cartID string) (domain.Order, error) {
	doc, err := r.base.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("cartRef", "==", strings.TrimSpace(cartID))
	})
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc), nil
}

// Get loads an order by ID.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc), nil
}

// Save overwrites the order document.
func (r *OrderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	order.UpdatedAt = r.now().UTC()
	if err := r.base.Set(ctx, strings.TrimSpace(order.ID), encodeOrder(order)); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func encodeOrder(order domain.Order) orderDocument {
	return orderDocument{
		Number:            order.Number,
		CartRef:           order.CartRef,
		PartyID:           order.PartyID,
		CustomerName:      order.CustomerName,
		ContactEmail:      order.ContactEmail,
		Currency:          order.Currency,
		Lines:             encodeLines(order.Lines),
		Taxes:             encodeTaxes(order.Taxes),
		Totals:            encodeTotals(order.Totals),
		CouponCode:        order.CouponCode,
		Loyalty:           encodeLoyalty(order.Loyalty),
		ShippingRuleID:    order.ShippingRuleID,
		BillingAddressID:  order.BillingAddressID,
		ShippingAddressID: order.ShippingAddressID,
		SkipDeliveryNote:  order.SkipDeliveryNote,
		Status:            string(order.Status),
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

func decodeOrder(doc pfirestore.Document[orderDocument]) domain.Order {
	data := doc.Data
	return domain.Order{
		ID:                doc.ID,
		Number:            data.Number,
		CartRef:           data.CartRef,
		PartyID:           data.PartyID,
		CustomerName:      data.CustomerName,
		ContactEmail:      data.ContactEmail,
		Currency:          data.Currency,
		Lines:             decodeLines(data.Lines),
		Taxes:             decodeTaxes(data.Taxes),
		Totals:            decodeTotals(data.Totals),
		CouponCode:        data.CouponCode,
		Loyalty:           decodeLoyalty(data.Loyalty),
		ShippingRuleID:    data.ShippingRuleID,
		BillingAddressID:  data.BillingAddressID,
		ShippingAddressID: data.ShippingAddressID,
		SkipDeliveryNote:  data.SkipDeliveryNote,
		Status:            domain.OrderStatus(data.Status),
		CreatedAt:         firstNonZeroTime(data.CreatedAt, doc.CreateTime),
		UpdatedAt:         firstNonZeroTime(doc.UpdateTime, data.UpdatedAt),
	}
}
