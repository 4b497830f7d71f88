package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/webshop/internal/platform/textutil"
	"github.com/hanko-field/webshop/internal/repositories"
)

// GuestCartAssignedMessage is shown after a guest cart is moved to the signed-in account.
const GuestCartAssignedMessage = "Your guest cart has been assigned to your account"

var (
	// ErrGuestSessionInvalid indicates a missing or malformed guest token.
	ErrGuestSessionInvalid = errors.New("guest session: invalid token")
	// ErrGuestCartDisabled indicates guest carts are switched off in the shop settings.
	ErrGuestCartDisabled = errors.New("guest session: guest cart disabled")
)

// GuestSessionServiceDeps wires guest cart persistence.
type GuestSessionServiceDeps struct {
	Carts          repositories.CartRepository
	Settings       repositories.SettingsRepository
	Catalog        repositories.CatalogRepository
	Customers      repositories.CustomerRepository
	Parties        partyResolver
	UnitOfWork     repositories.UnitOfWork
	Pricer         CartPricer
	Events         *EventBus
	Clock          func() time.Time
	IDGenerator    func() string
	TokenGenerator func() string
	Logger         func(context.Context, string, map[string]any)
}

type guestSessionService struct {
	access   cartAccess
	catalog  repositories.CatalogRepository
	uow      repositories.UnitOfWork
	events   *EventBus
	newToken func() string
	logger   func(context.Context, string, map[string]any)
}

var _ GuestSessionService = (*guestSessionService)(nil)

// NewGuestSessionService constructs a GuestSessionService.
func NewGuestSessionService(deps GuestSessionServiceDeps) (GuestSessionService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("guest session service: catalog repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("guest session service: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	tokenGen := deps.TokenGenerator
	if tokenGen == nil {
		tokenGen = uuid.NewString
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
		return nil, fmt.Errorf("guest session service: %w", err)
	}
	return &guestSessionService{
		access:   access,
		catalog:  deps.Catalog,
		uow:      deps.UnitOfWork,
		events:   deps.Events,
		newToken: tokenGen,
		logger:   logger,
	}, nil
}

func (s *guestSessionService) Enabled(ctx context.Context) bool {
	settings, err := s.access.settings.Get(ctx)
	if err != nil {
		return false
	}
	return settings.EnableGuestCart
}

// EnsureSession returns token when it is a well-formed session id, otherwise a fresh one.
// The boolean reports whether a new token was issued.
func (s *guestSessionService) EnsureSession(token string) (string, bool) {
	if validGuestToken(token) {
		return strings.TrimSpace(token), false
	}
	return s.newToken(), true
}

func validGuestToken(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	_, err := uuid.Parse(token)
	return err == nil
}

// CreateOrUpdateGuestCart replaces the lines of the guest cart. With no items it returns the
// existing guest cart, or nil when there is none.
func (s *guestSessionService) CreateOrUpdateGuestCart(ctx context.Context, token string, items []GuestCartItem) (*Cart, error) {
	if !validGuestToken(token) {
		return nil, ErrGuestSessionInvalid
	}
	settings, err := s.access.loadSettings(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.EnableGuestCart {
		return nil, ErrGuestCartDisabled
	}
	owner := CartOwner{GuestSessionID: strings.TrimSpace(token)}

	if len(items) == 0 {
		cart, err := s.access.find(ctx, owner)
		if err != nil {
			if errors.Is(err, ErrCartNotFound) {
				return nil, nil
			}
			return nil, err
		}
		return &cart, nil
	}

	lines := make([]CartLine, 0, len(items))
	for _, item := range items {
		code := strings.TrimSpace(item.ItemCode)
		if code == "" || item.Quantity <= 0 {
			return nil, userError(ErrCartInvalidInput, "Quantity must be a valid number")
		}
		catalogItem, err := s.catalog.GetItem(ctx, code)
		if err != nil {
			if isRepoNotFound(err) {
				return nil, userError(ErrCartInvalidInput, "Item %s does not exist", code)
			}
			return nil, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
		if item.GiftCard != nil && !catalogItem.IsGiftCard {
			return nil, userError(ErrCartPriceOverride, "Price can only be modified for gift cards")
		}
		if idx := indexOfLine(lines, code); idx >= 0 {
			lines[idx].Quantity += item.Quantity
			continue
		}
		line := CartLine{
			ItemCode:   code,
			ItemName:   catalogItem.Name,
			Quantity:   item.Quantity,
			IsGiftCard: catalogItem.IsGiftCard,
			Notes:      textutil.PlainTextLimit(item.Notes, maxCartNotesLength),
		}
		if item.GiftCard != nil {
			payload := sanitiseGiftCard(*item.GiftCard)
			line.GiftCard = &payload
		}
		lines = append(lines, line)
	}

	cart, err := s.access.upsert(ctx, owner, Shopper{GuestToken: owner.GuestSessionID}, settings, func(cart *Cart) error {
		cart.Lines = append([]CartLine(nil), lines...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// Merge moves the guest cart lines into the shopper's cart and deletes the guest cart. Failures
// are logged and returned in MergeResult.Err with both carts as they were; a missing guest cart
// is a no-op.
func (s *guestSessionService) Merge(ctx context.Context, shopper Shopper, token string) MergeResult {
	token = strings.TrimSpace(token)
	if token == "" || !shopper.IsAuthenticated() {
		return MergeResult{}
	}
	result, err := s.merge(ctx, shopper, token)
	if err != nil {
		s.logger(ctx, "guest.merge_failed", map[string]any{
			"userId": shopper.UserID,
			"error":  err.Error(),
		})
		return MergeResult{Err: err}
	}
	return result
}

func (s *guestSessionService) merge(ctx context.Context, shopper Shopper, token string) (MergeResult, error) {
	guestOwner := CartOwner{GuestSessionID: token}
	if _, err := s.access.find(ctx, guestOwner); err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return MergeResult{}, nil
		}
		return MergeResult{}, err
	}

	owner, shopper, err := s.access.owner(ctx, shopper)
	if err != nil {
		return MergeResult{}, err
	}
	if owner.PartyID == "" {
		return MergeResult{}, ErrCustomerInvalidInput
	}
	settings, err := s.access.loadSettings(ctx)
	if err != nil {
		return MergeResult{}, err
	}

	// The user cart is created up front so the transaction below only reads before it writes. A
	// cart created here is removed again when nothing gets merged into it.
	userCart, created, err := s.access.ensureOpen(ctx, owner, shopper, settings)
	if err != nil {
		return MergeResult{}, err
	}

	var (
		merged  Cart
		guestID string
	)
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		guest, err := s.access.carts.FindOpen(ctx, guestOwner)
		if err != nil {
			if isRepoNotFound(err) {
				return nil
			}
			return err
		}
		current, err := s.access.carts.Get(ctx, userCart.ID)
		if err != nil {
			return err
		}
		current.Lines = mergeLines(current.Lines, guest.Lines)
		if current.CouponCode == "" {
			current.CouponCode = guest.CouponCode
		}
		priced, err := s.access.reprice(ctx, current, settings)
		if err != nil {
			return err
		}
		if err := s.access.carts.Delete(ctx, guest.ID); err != nil {
			return err
		}
		merged, err = s.access.carts.Save(ctx, priced)
		if err != nil {
			return err
		}
		guestID = guest.ID
		return nil
	})
	if err != nil || guestID == "" {
		if created {
			s.discardCart(ctx, userCart.ID)
		}
		return MergeResult{}, err
	}

	if err := s.events.Dispatch(ctx, Event{Type: EventCartDeleted, CartID: guestID}); err != nil {
		s.logger(ctx, "guest.merge_subscriber_failed", map[string]any{
			"cartId": guestID,
			"error":  err.Error(),
		})
	}
	s.logger(ctx, "guest.merged", map[string]any{
		"guestCartId": guestID,
		"cartId":      merged.ID,
		"partyId":     owner.PartyID,
	})
	return MergeResult{
		Merged:    true,
		CartID:    merged.ID,
		ItemCount: merged.ItemCount(),
		Message:   GuestCartAssignedMessage,
	}, nil
}

// mergeLines unions guest lines into the user's lines by item code. Quantities are summed and
// an existing user line keeps its rate and payload.
func mergeLines(user, guest []CartLine) []CartLine {
	out := append([]CartLine(nil), user...)
	for _, line := range guest {
		if idx := indexOfLine(out, line.ItemCode); idx >= 0 {
			out[idx].Quantity += line.Quantity
			continue
		}
		out = append(out, line)
	}
	return out
}

func indexOfLine(lines []CartLine, itemCode string) int {
	for i, line := range lines {
		if line.ItemCode == itemCode {
			return i
		}
	}
	return -1
}

// discardCart removes a user cart created for a merge that did not happen.
func (s *guestSessionService) discardCart(ctx context.Context, cartID string) {
	if err := s.access.carts.Delete(ctx, cartID); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "guest.merge_cleanup_failed", map[string]any{
			"cartId": cartID,
			"error":  err.Error(),
		})
	}
}
