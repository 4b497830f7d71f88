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
	"github.com/hanko-field/webshop/internal/repositories"
)

var (
	// ErrLoyaltyInvalidInput indicates a malformed point count.
	ErrLoyaltyInvalidInput = errors.New("loyalty service: invalid input")
	// ErrLoyaltyLoginRequired indicates loyalty points were requested without a customer.
	ErrLoyaltyLoginRequired = errors.New("loyalty service: login required")
	// ErrLoyaltyNotEnrolled indicates the customer has no loyalty program.
	ErrLoyaltyNotEnrolled = errors.New("loyalty service: not enrolled")
	// ErrLoyaltyInsufficientPoints indicates the balance does not cover the redemption.
	ErrLoyaltyInsufficientPoints = errors.New("loyalty service: insufficient points")
	// ErrLoyaltyExceedsTotal indicates the redemption is worth more than the cart.
	ErrLoyaltyExceedsTotal = errors.New("loyalty service: exceeds total")
	// ErrLoyaltyUnavailable indicates the ledger could not be reached.
	ErrLoyaltyUnavailable = errors.New("loyalty service: unavailable")
)

// LoyaltyServiceDeps wires the ledger and cart persistence used for redemptions.
type LoyaltyServiceDeps struct {
	Carts       repositories.CartRepository
	Settings    repositories.SettingsRepository
	Customers   repositories.CustomerRepository
	Ledger      repositories.LoyaltyRepository
	Parties     partyResolver
	UnitOfWork  repositories.UnitOfWork
	Pricer      CartPricer
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type loyaltyService struct {
	access    cartAccess
	customers repositories.CustomerRepository
	ledger    repositories.LoyaltyRepository
	uow       repositories.UnitOfWork
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var (
	_ LoyaltyService   = (*loyaltyService)(nil)
	_ loyaltyLifecycle = (*loyaltyService)(nil)
)

// NewLoyaltyService constructs a LoyaltyService.
func NewLoyaltyService(deps LoyaltyServiceDeps) (LoyaltyService, error) {
	if deps.Customers == nil || deps.Ledger == nil {
		return nil, errors.New("loyalty service: customer and ledger repositories are required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("loyalty service: unit of work is required")
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
		return nil, fmt.Errorf("loyalty service: %w", err)
	}
	return &loyaltyService{
		access:    access,
		customers: deps.Customers,
		ledger:    deps.Ledger,
		uow:       deps.UnitOfWork,
		now:       now,
		newID:     idGen,
		logger:    logger,
	}, nil
}

// ApplyPoints redeems points against the shopper's cart. The redemption replaces any previous
// one: a single loyalty tax line and a single negative ledger entry per cart.
func (s *loyaltyService) ApplyPoints(ctx context.Context, shopper Shopper, raw string) (Cart, error) {
	points, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || points <= 0 {
		return Cart{}, userError(ErrLoyaltyInvalidInput, "Please enter a valid number of points")
	}
	cart, customer, program, err := s.redemptionContext(ctx, shopper)
	if err != nil {
		return Cart{}, err
	}

	balance, err := s.ledger.Balance(ctx, customer.ID, program.ID, cart.ID, s.now())
	if err != nil {
		return Cart{}, fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
	}
	if points > balance {
		return Cart{}, userError(ErrLoyaltyInsufficientPoints, "You do not have enough loyalty points (%d points available)", balance)
	}

	amount := domain.ToMinorUnits(float64(points)*program.ConversionFactor, cart.Currency)
	ceiling := cart.Totals.RoundedTotal
	if cart.Loyalty != nil {
		ceiling += cart.Loyalty.Amount
	}
	if amount > ceiling {
		return Cart{}, userError(ErrLoyaltyExceedsTotal, "Loyalty points value cannot exceed total amount")
	}

	settings, err := s.access.loadSettings(ctx)
	if err != nil {
		return Cart{}, err
	}
	entryID := s.newID()
	cart.Loyalty = &CartLoyalty{
		Points:    points,
		Amount:    amount,
		ProgramID: program.ID,
		EntryID:   entryID,
	}
	priced, err := s.access.reprice(ctx, cart, settings)
	if err != nil {
		return Cart{}, err
	}

	now := s.now()
	var saved Cart
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.ledger.DeleteByCart(ctx, cart.ID); err != nil {
			return err
		}
		if _, err := s.ledger.CreateEntry(ctx, LoyaltyPointEntry{
			ID:             entryID,
			CustomerID:     customer.ID,
			ProgramID:      program.ID,
			Points:         -points,
			PurchaseAmount: priced.Totals.GrandTotal,
			CartID:         cart.ID,
			PostingDate:    now,
		}); err != nil {
			return err
		}
		var err error
		saved, err = s.access.carts.Save(ctx, priced)
		return err
	})
	if err != nil {
		return Cart{}, fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
	}
	s.logger(ctx, "loyalty.points_applied", map[string]any{
		"cartId":  cart.ID,
		"partyId": customer.ID,
		"points":  points,
		"amount":  amount,
	})
	return saved, nil
}

// RemovePoints deletes the cart's redemption entry and strips the loyalty tax line.
func (s *loyaltyService) RemovePoints(ctx context.Context, shopper Shopper) (Cart, error) {
	owner, _, err := s.access.owner(ctx, shopper)
	if err != nil {
		return Cart{}, err
	}
	if owner.PartyID == "" {
		return Cart{}, userError(ErrLoyaltyLoginRequired, "Please log in to use your loyalty points")
	}
	cart, err := s.access.find(ctx, owner)
	if err != nil {
		return Cart{}, err
	}
	settings, err := s.access.loadSettings(ctx)
	if err != nil {
		return Cart{}, err
	}
	cart.Loyalty = nil
	priced, err := s.access.reprice(ctx, cart, settings)
	if err != nil {
		return Cart{}, err
	}

	var saved Cart
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.ledger.DeleteByCart(ctx, cart.ID); err != nil {
			return err
		}
		var err error
		saved, err = s.access.carts.Save(ctx, priced)
		return err
	})
	if err != nil {
		return Cart{}, fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
	}
	return saved, nil
}

// Summary reports the redeemable balance for the cart page. Shoppers without a program get a
// disabled summary.
func (s *loyaltyService) Summary(ctx context.Context, shopper Shopper, cart Cart) (LoyaltySummary, error) {
	summary := LoyaltySummary{}
	if cart.Loyalty != nil {
		summary.AppliedPoints = cart.Loyalty.Points
		summary.AppliedAmount = cart.Loyalty.Amount
	}
	partyID := strings.TrimSpace(shopper.PartyID)
	if partyID == "" {
		partyID = cart.Owner.PartyID
	}
	if partyID == "" {
		return summary, nil
	}
	customer, err := s.customers.Get(ctx, partyID)
	if err != nil {
		if isRepoNotFound(err) {
			return summary, nil
		}
		return summary, fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
	}
	if customer.LoyaltyProgramID == "" {
		return summary, nil
	}
	program, err := s.ledger.GetProgram(ctx, customer.LoyaltyProgramID)
	if err != nil {
		if isRepoNotFound(err) {
			return summary, nil
		}
		return summary, fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
	}
	balance, err := s.ledger.Balance(ctx, customer.ID, program.ID, cart.ID, s.now())
	if err != nil {
		return summary, fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
	}
	summary.Enabled = true
	summary.ProgramID = program.ID
	summary.AvailablePoints = balance
	summary.ConversionFactor = program.ConversionFactor
	summary.PointsValue = domain.ToMinorUnits(float64(balance)*program.ConversionFactor, cart.Currency)
	return summary, nil
}

func (s *loyaltyService) redemptionContext(ctx context.Context, shopper Shopper) (Cart, Customer, domain.LoyaltyProgram, error) {
	owner, _, err := s.access.owner(ctx, shopper)
	if err != nil {
		return Cart{}, Customer{}, domain.LoyaltyProgram{}, err
	}
	if owner.PartyID == "" {
		return Cart{}, Customer{}, domain.LoyaltyProgram{}, userError(ErrLoyaltyLoginRequired, "Please log in to use your loyalty points")
	}
	cart, err := s.access.find(ctx, owner)
	if err != nil {
		return Cart{}, Customer{}, domain.LoyaltyProgram{}, err
	}
	customer, err := s.customers.Get(ctx, owner.PartyID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, Customer{}, domain.LoyaltyProgram{}, userError(ErrLoyaltyNotEnrolled, "You do not have an active loyalty program")
		}
		return Cart{}, Customer{}, domain.LoyaltyProgram{}, fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
	}
	if customer.LoyaltyProgramID == "" {
		return Cart{}, Customer{}, domain.LoyaltyProgram{}, userError(ErrLoyaltyNotEnrolled, "You do not have an active loyalty program")
	}
	program, err := s.ledger.GetProgram(ctx, customer.LoyaltyProgramID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, Customer{}, domain.LoyaltyProgram{}, userError(ErrLoyaltyNotEnrolled, "You do not have an active loyalty program")
		}
		return Cart{}, Customer{}, domain.LoyaltyProgram{}, fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
	}
	return cart, customer, program, nil
}

// ReleaseCartEntries removes redemption entries of a deleted cart.
func (s *loyaltyService) ReleaseCartEntries(ctx context.Context, event Event) error {
	if strings.TrimSpace(event.CartID) == "" {
		return nil
	}
	n, err := s.ledger.DeleteByCart(ctx, event.CartID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
	}
	if n > 0 {
		s.logger(ctx, "loyalty.entries_released", map[string]any{
			"cartId":  event.CartID,
			"deleted": n,
		})
	}
	return nil
}

// LinkInvoiceEntry ties the cart's redemption entry to the submitted invoice.
func (s *loyaltyService) LinkInvoiceEntry(ctx context.Context, event Event) error {
	invoice := event.Invoice
	if invoice == nil || invoice.Loyalty == nil || invoice.Loyalty.EntryID == "" {
		return nil
	}
	entry, err := s.ledger.GetEntry(ctx, invoice.Loyalty.EntryID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, "loyalty.entry_missing", map[string]any{
				"invoiceId": invoice.ID,
				"entryId":   invoice.Loyalty.EntryID,
			})
			return nil
		}
		return fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
	}
	if entry.InvoiceID == invoice.ID {
		return nil
	}
	entry.InvoiceID = invoice.ID
	if _, err := s.ledger.SaveEntry(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrLoyaltyUnavailable, err)
	}
	return nil
}
