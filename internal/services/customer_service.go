package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/webshop/internal/platform/textutil"
	"github.com/hanko-field/webshop/internal/repositories"
)

const (
	defaultCustomerType   = "Individual"
	maxCustomerNameLength = 140
)

var (
	// ErrCustomerInvalidInput indicates the shopper cannot be linked to a customer.
	ErrCustomerInvalidInput = errors.New("customer service: invalid input")
	// ErrCustomerUnavailable indicates the customer store could not be reached.
	ErrCustomerUnavailable = errors.New("customer service: unavailable")
	// ErrCustomerConflict indicates the customer changed concurrently twice in a row.
	ErrCustomerConflict = errors.New("customer service: conflict")
)

// CustomerServiceDeps wires persistence for customer resolution.
type CustomerServiceDeps struct {
	Customers   repositories.CustomerRepository
	Contacts    repositories.ContactRepository
	Settings    repositories.SettingsRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type customerService struct {
	customers repositories.CustomerRepository
	contacts  repositories.ContactRepository
	settings  repositories.SettingsRepository
	uow       repositories.UnitOfWork
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ CustomerService = (*customerService)(nil)

// NewCustomerService constructs a CustomerService.
func NewCustomerService(deps CustomerServiceDeps) (CustomerService, error) {
	if deps.Customers == nil || deps.Contacts == nil {
		return nil, errors.New("customer service: customer and contact repositories are required")
	}
	if deps.Settings == nil {
		return nil, errors.New("customer service: settings repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("customer service: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &customerService{
		customers: deps.Customers,
		contacts:  deps.Contacts,
		settings:  deps.Settings,
		uow:       deps.UnitOfWork,
		now:       func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

// ResolveShopper fills PartyID from the user's contact when one exists. It never creates records.
func (s *customerService) ResolveShopper(ctx context.Context, shopper Shopper) (Shopper, error) {
	if strings.TrimSpace(shopper.PartyID) != "" || !shopper.IsAuthenticated() {
		return shopper, nil
	}
	contact, err := s.contacts.FindByUser(ctx, shopper.UserID)
	if err != nil {
		if isRepoNotFound(err) {
			return shopper, nil
		}
		return shopper, fmt.Errorf("%w: %v", ErrCustomerUnavailable, err)
	}
	shopper.PartyID = contact.CustomerID
	return shopper, nil
}

// EnsureCustomer returns the shopper's customer, creating a customer and primary contact for a
// first-time user and linking the user as a portal user.
func (s *customerService) EnsureCustomer(ctx context.Context, shopper Shopper) (Customer, error) {
	if !shopper.IsAuthenticated() {
		return Customer{}, ErrCustomerInvalidInput
	}
	resolved, err := s.ResolveShopper(ctx, shopper)
	if err != nil {
		return Customer{}, err
	}
	if resolved.PartyID != "" {
		customer, err := s.customers.Get(ctx, resolved.PartyID)
		if err == nil {
			return s.ensurePortalUser(ctx, customer, shopper.UserID)
		}
		if !isRepoNotFound(err) {
			return Customer{}, fmt.Errorf("%w: %v", ErrCustomerUnavailable, err)
		}
		s.logger(ctx, "customer.dangling_contact", map[string]any{
			"userId":     shopper.UserID,
			"customerId": resolved.PartyID,
		})
	}
	return s.createCustomer(ctx, shopper)
}

func (s *customerService) createCustomer(ctx context.Context, shopper Shopper) (Customer, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil && !isRepoNotFound(err) {
		return Customer{}, fmt.Errorf("%w: %v", ErrCustomerUnavailable, err)
	}

	name := customerDisplayName(shopper)
	first, last := splitName(name)
	customer := Customer{
		ID:               s.newID(),
		Name:             name,
		Type:             defaultCustomerType,
		Group:            settings.DefaultCustomerGroup,
		DefaultPriceList: settings.PriceList,
		PortalUsers:      []string{shopper.UserID},
	}
	contact := Contact{
		ID:         s.newID(),
		UserID:     shopper.UserID,
		CustomerID: customer.ID,
		FirstName:  first,
		LastName:   last,
		FullName:   name,
		Email:      strings.TrimSpace(shopper.Email),
		IsPrimary:  true,
	}
	customer.PrimaryContactID = contact.ID

	var created Customer
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.customers.Create(ctx, customer)
		if err != nil {
			return err
		}
		_, err = s.contacts.Save(ctx, contact)
		return err
	})
	if err != nil {
		if isRepoConflict(err) {
			return Customer{}, fmt.Errorf("%w: %v", ErrCustomerConflict, err)
		}
		return Customer{}, fmt.Errorf("%w: %v", ErrCustomerUnavailable, err)
	}
	s.logger(ctx, "customer.created", map[string]any{
		"customerId": created.ID,
		"userId":     shopper.UserID,
	})
	return created, nil
}

// ensurePortalUser links userID to the customer, reloading and retrying once when the
// customer changed concurrently.
func (s *customerService) ensurePortalUser(ctx context.Context, customer Customer, userID string) (Customer, error) {
	for attempt := 0; ; attempt++ {
		if slices.Contains(customer.PortalUsers, userID) {
			return customer, nil
		}
		customer.PortalUsers = append(customer.PortalUsers, userID)
		saved, err := s.customers.Save(ctx, customer)
		if err == nil {
			return saved, nil
		}
		if !isRepoConflict(err) {
			return Customer{}, fmt.Errorf("%w: %v", ErrCustomerUnavailable, err)
		}
		if attempt > 0 {
			return Customer{}, fmt.Errorf("%w: %v", ErrCustomerConflict, err)
		}
		customer, err = s.customers.Get(ctx, customer.ID)
		if err != nil {
			return Customer{}, fmt.Errorf("%w: %v", ErrCustomerUnavailable, err)
		}
	}
}

func customerDisplayName(shopper Shopper) string {
	for _, candidate := range []string{shopper.DisplayName, shopper.Email, shopper.UserID} {
		if name := textutil.PlainTextLimit(candidate, maxCustomerNameLength); name != "" {
			return name
		}
	}
	return ""
}

func splitName(name string) (string, string) {
	first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
	return first, strings.TrimSpace(last)
}
