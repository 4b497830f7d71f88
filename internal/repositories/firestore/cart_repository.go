package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/webshop/internal/domain"
	pfirestore "github.com/hanko-field/webshop/internal/platform/firestore"
	"github.com/hanko-field/webshop/internal/repositories"
)

const (
	cartCollection     = "carts"
	openCartCollection = "openCarts"
)

type cartDocument struct {
	PartyID           string           `firestore:"partyId,omitempty"`
	GuestSessionID    string           `firestore:"guestSessionId,omitempty"`
	OwnerKey          string           `firestore:"ownerKey"`
	Status            string           `firestore:"status"`
	CustomerName      string           `firestore:"customerName,omitempty"`
	ContactEmail      string           `firestore:"contactEmail,omitempty"`
	ContactID         string           `firestore:"contactId,omitempty"`
	Currency          string           `firestore:"currency"`
	PriceList         string           `firestore:"priceList,omitempty"`
	Lines             []lineDocument   `firestore:"lines"`
	Taxes             []taxDocument    `firestore:"taxes"`
	Totals            totalsDocument   `firestore:"totals"`
	CouponCode        string           `firestore:"couponCode,omitempty"`
	ReferralCode      string           `firestore:"referralCode,omitempty"`
	Loyalty           *loyaltyDocument `firestore:"loyalty,omitempty"`
	ShippingRuleID    string           `firestore:"shippingRuleId,omitempty"`
	BillingAddressID  string           `firestore:"billingAddressId,omitempty"`
	ShippingAddressID string           `firestore:"shippingAddressId,omitempty"`
	Terms             string           `firestore:"terms,omitempty"`
	CreatedAt         time.Time        `firestore:"createdAt"`
	UpdatedAt         time.Time        `firestore:"updatedAt"`
}

// openCartDocument is the uniqueness index keyed by owner; its presence means the owner has an open cart.
type openCartDocument struct {
	CartID    string    `firestore:"cartId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// CartRepository persists carts within Firestore.
type CartRepository struct {
	provider *pfirestore.Provider
	carts    *pfirestore.BaseRepository[cartDocument]
	index    *pfirestore.BaseRepository[openCartDocument]
	now      func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		provider: provider,
		carts:    pfirestore.NewBaseRepository[cartDocument](provider, cartCollection),
		index:    pfirestore.NewBaseRepository[openCartDocument](provider, openCartCollection),
		now:      time.Now,
	}, nil
}

// CreateOpen inserts the cart together with its owner index entry in one transaction.
func (r *CartRepository) CreateOpen(ctx context.Context, cart domain.Cart) (domain.Cart, bool, error) {
	if r == nil || r.provider == nil {
		return domain.Cart{}, false, errors.New("cart repository not initialised")
	}
	cartID := strings.TrimSpace(cart.ID)
	ownerKey := cart.Owner.Key()
	if cartID == "" || ownerKey == "" {
		return domain.Cart{}, false, errors.New("cart repository: cart id and owner are required")
	}

	var (
		saved   domain.Cart
		created bool
	)
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		created = false
		existing, err := r.index.Get(ctx, ownerKey)
		if err == nil {
			doc, err := r.carts.Get(ctx, existing.Data.CartID)
			if err != nil {
				return err
			}
			saved = decodeCart(doc)
			return nil
		}
		if !isNotFound(err) {
			return err
		}

		now := r.now().UTC()
		cart.Status = domain.CartStatusDraft
		cart.CreatedAt = timeOrNow(cart.CreatedAt, now)
		cart.UpdatedAt = now
		if err := r.index.Create(ctx, ownerKey, openCartDocument{CartID: cartID, CreatedAt: now}); err != nil {
			return err
		}
		if err := r.carts.Create(ctx, cartID, encodeCart(cart)); err != nil {
			return err
		}
		saved = cart
		created = true
		return nil
	})
	if err != nil {
		if isConflict(err) {
			// lost the race for the index document; the winner's cart is the open one
			if existing, findErr := r.FindOpen(ctx, cart.Owner); findErr == nil {
				return existing, false, nil
			}
		}
		return domain.Cart{}, false, err
	}
	return saved, created, nil
}

// FindOpen resolves the owner's open cart through the index document.
func (r *CartRepository) FindOpen(ctx context.Context, owner domain.CartOwner) (domain.Cart, error) {
	ownerKey := owner.Key()
	if ownerKey == "" {
		return domain.Cart{}, pfirestore.NotFound("carts.find_open")
	}
	entry, err := r.index.Get(ctx, ownerKey)
	if err != nil {
		return domain.Cart{}, err
	}
	doc, err := r.carts.Get(ctx, entry.Data.CartID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart := decodeCart(doc)
	if cart.Status != domain.CartStatusDraft {
		return domain.Cart{}, pfirestore.NotFound("carts.find_open")
	}
	return cart, nil
}

// Get loads a cart by ID.
func (r *CartRepository) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	doc, err := r.carts.Get(ctx, strings.TrimSpace(cartID))
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCart(doc), nil
}

// Save overwrites the cart and releases the index entry once the cart leaves draft.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}
	cart.UpdatedAt = r.now().UTC()
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		release := false
		ownerKey := cart.Owner.Key()
		if cart.Status != domain.CartStatusDraft && ownerKey != "" {
			entry, err := r.index.Get(ctx, ownerKey)
			switch {
			case err == nil:
				release = entry.Data.CartID == cartID
			case !isNotFound(err):
				return err
			}
		}
		if err := r.carts.Set(ctx, cartID, encodeCart(cart)); err != nil {
			return err
		}
		if release {
			return r.index.Delete(ctx, ownerKey)
		}
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

// Delete removes the cart and its index entry.
func (r *CartRepository) Delete(ctx context.Context, cartID string) error {
	cartID = strings.TrimSpace(cartID)
	return r.provider.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := r.carts.Get(ctx, cartID)
		if err != nil {
			return err
		}
		ownerKey := doc.Data.OwnerKey
		release := false
		if ownerKey != "" {
			entry, err := r.index.Get(ctx, ownerKey)
			switch {
			case err == nil:
				release = entry.Data.CartID == cartID
			case !isNotFound(err):
				return err
			}
		}
		if err := r.carts.Delete(ctx, cartID); err != nil {
			return err
		}
		if release {
			return r.index.Delete(ctx, ownerKey)
		}
		return nil
	})
}

func encodeCart(cart domain.Cart) cartDocument {
	return cartDocument{
		PartyID:           strings.TrimSpace(cart.Owner.PartyID),
		GuestSessionID:    strings.TrimSpace(cart.Owner.GuestSessionID),
		OwnerKey:          cart.Owner.Key(),
		Status:            string(cart.Status),
		CustomerName:      cart.CustomerName,
		ContactEmail:      cart.ContactEmail,
		ContactID:         cart.ContactID,
		Currency:          strings.ToUpper(strings.TrimSpace(cart.Currency)),
		PriceList:         cart.PriceList,
		Lines:             encodeLines(cart.Lines),
		Taxes:             encodeTaxes(cart.Taxes),
		Totals:            encodeTotals(cart.Totals),
		CouponCode:        cart.CouponCode,
		ReferralCode:      cart.ReferralCode,
		Loyalty:           encodeLoyalty(cart.Loyalty),
		ShippingRuleID:    cart.ShippingRuleID,
		BillingAddressID:  cart.BillingAddressID,
		ShippingAddressID: cart.ShippingAddressID,
		Terms:             cart.Terms,
		CreatedAt:         cart.CreatedAt,
		UpdatedAt:         cart.UpdatedAt,
	}
}

func decodeCart(doc pfirestore.Document[cartDocument]) domain.Cart {
	data := doc.Data
	return domain.Cart{
		ID:                doc.ID,
		Owner:             domain.CartOwner{PartyID: data.PartyID, GuestSessionID: data.GuestSessionID},
		Status:            domain.CartStatus(data.Status),
		CustomerName:      data.CustomerName,
		ContactEmail:      data.ContactEmail,
		ContactID:         data.ContactID,
		Currency:          data.Currency,
		PriceList:         data.PriceList,
		Lines:             decodeLines(data.Lines),
		Taxes:             decodeTaxes(data.Taxes),
		Totals:            decodeTotals(data.Totals),
		CouponCode:        data.CouponCode,
		ReferralCode:      data.ReferralCode,
		Loyalty:           decodeLoyalty(data.Loyalty),
		ShippingRuleID:    data.ShippingRuleID,
		BillingAddressID:  data.BillingAddressID,
		ShippingAddressID: data.ShippingAddressID,
		Terms:             data.Terms,
		CreatedAt:         firstNonZeroTime(data.CreatedAt, doc.CreateTime),
		UpdatedAt:         firstNonZeroTime(doc.UpdateTime, data.UpdatedAt),
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
