package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/webshop/internal/domain"
	pfirestore "github.com/hanko-field/webshop/internal/platform/firestore"
	"github.com/hanko-field/webshop/internal/repositories"
)

const (
	customerCollection = "customers"
	contactCollection  = "contacts"
	addressCollection  = "addresses"
)

type customerDocument struct {
	Name             string    `firestore:"name"`
	Type             string    `firestore:"type,omitempty"`
	Group            string    `firestore:"group,omitempty"`
	PrimaryContactID string    `firestore:"primaryContactId,omitempty"`
	PrimaryAddressID string    `firestore:"primaryAddressId,omitempty"`
	LoyaltyProgramID string    `firestore:"loyaltyProgramId,omitempty"`
	DefaultPriceList string    `firestore:"defaultPriceList,omitempty"`
	PortalUsers      []string  `firestore:"portalUsers"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

type contactDocument struct {
	UserID      string    `firestore:"userId,omitempty"`
	CustomerID  string    `firestore:"customerId,omitempty"`
	FirstName   string    `firestore:"firstName,omitempty"`
	LastName    string    `firestore:"lastName,omitempty"`
	FullName    string    `firestore:"fullName,omitempty"`
	Email       string    `firestore:"email,omitempty"`
	Phone       string    `firestore:"phone,omitempty"`
	CompanyName string    `firestore:"companyName,omitempty"`
	AddressID   string    `firestore:"addressId,omitempty"`
	IsPrimary   bool      `firestore:"isPrimary"`
	IsBilling   bool      `firestore:"isBilling"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

type addressDocument struct {
	CustomerID string `firestore:"customerId"`
	Title      string `firestore:"title,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country"`
	IsShipping bool   `firestore:"isShipping"`
	IsBilling  bool   `firestore:"isBilling"`
}

// CustomerRepository persists customers.
type CustomerRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[customerDocument]
	now      func() time.Time
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[customerDocument](provider, customerCollection),
		now:      time.Now,
	}, nil
}

func (r *CustomerRepository) Get(ctx context.Context, customerID string) (domain.Customer, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return domain.Customer{}, err
	}
	return decodeCustomer(doc), nil
}

func (r *CustomerRepository) Create(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	if strings.TrimSpace(customer.ID) == "" {
		return domain.Customer{}, errors.New("customer repository: id is required")
	}
	now := r.now().UTC()
	customer.CreatedAt = timeOrNow(customer.CreatedAt, now)
	customer.UpdatedAt = now
	if err := r.base.Create(ctx, customer.ID, encodeCustomer(customer)); err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

// Save writes the customer when the stored copy has not moved past customer.UpdatedAt.
func (r *CustomerRepository) Save(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	id := strings.TrimSpace(customer.ID)
	err := r.provider.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.base.Get(ctx, id)
		if err != nil {
			return err
		}
		if !customer.UpdatedAt.IsZero() && current.Data.UpdatedAt.After(customer.UpdatedAt) {
			return pfirestore.Conflict("customers.save", fmt.Errorf("customer %s modified at %s", id, current.Data.UpdatedAt.Format(time.RFC3339Nano)))
		}
		customer.UpdatedAt = r.now().UTC()
		return r.base.Set(ctx, id, encodeCustomer(customer))
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

func encodeCustomer(c domain.Customer) customerDocument {
	users := c.PortalUsers
	if users == nil {
		users = []string{}
	}
	return customerDocument{
		Name:             c.Name,
		Type:             c.Type,
		Group:            c.Group,
		PrimaryContactID: c.PrimaryContactID,
		PrimaryAddressID: c.PrimaryAddressID,
		LoyaltyProgramID: c.LoyaltyProgramID,
		DefaultPriceList: c.DefaultPriceList,
		PortalUsers:      users,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

func decodeCustomer(doc pfirestore.Document[customerDocument]) domain.Customer {
	data := doc.Data
	return domain.Customer{
		ID:               doc.ID,
		Name:             data.Name,
		Type:             data.Type,
		Group:            data.Group,
		PrimaryContactID: data.PrimaryContactID,
		PrimaryAddressID: data.PrimaryAddressID,
		LoyaltyProgramID: data.LoyaltyProgramID,
		DefaultPriceList: data.DefaultPriceList,
		PortalUsers:      append([]string(nil), data.PortalUsers...),
		CreatedAt:        firstNonZeroTime(data.CreatedAt, doc.CreateTime),
		UpdatedAt:        data.UpdatedAt,
	}
}

// ContactRepository persists contacts.
type ContactRepository struct {
	base *pfirestore.BaseRepository[contactDocument]
	now  func() time.Time
}

var _ repositories.ContactRepository = (*ContactRepository)(nil)

// NewContactRepository constructs a Firestore-backed contact repository.
func NewContactRepository(provider *pfirestore.Provider) (*ContactRepository, error) {
	if provider == nil {
		return nil, errors.New("contact repository requires firestore provider")
	}
	return &ContactRepository{
		base: pfirestore.NewBaseRepository[contactDocument](provider, contactCollection),
		now:  time.Now,
	}, nil
}

func (r *ContactRepository) Get(ctx context.Context, contactID string) (domain.Contact, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(contactID))
	if err != nil {
		return domain.Contact{}, err
	}
	return decodeContact(doc), nil
}

// FindByUser returns the contact linked to the authenticated portal user.
func (r *ContactRepository) FindByUser(ctx context.Context, userID string) (domain.Contact, error) {
	doc, err := r.base.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", strings.TrimSpace(userID))
	})
	if err != nil {
		return domain.Contact{}, err
	}
	return decodeContact(doc), nil
}

// FindByCustomer prefers the primary contact of the customer.
func (r *ContactRepository) FindByCustomer(ctx context.Context, customerID string) (domain.Contact, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", strings.TrimSpace(customerID))
	})
	if err != nil {
		return domain.Contact{}, err
	}
	if len(docs) == 0 {
		return domain.Contact{}, pfirestore.NotFound("contacts.find_by_customer")
	}
	for _, doc := range docs {
		if doc.Data.IsPrimary {
			return decodeContact(doc), nil
		}
	}
	return decodeContact(docs[0]), nil
}

func (r *ContactRepository) Save(ctx context.Context, contact domain.Contact) (domain.Contact, error) {
	if strings.TrimSpace(contact.ID) == "" {
		return domain.Contact{}, errors.New("contact repository: id is required")
	}
	contact.UpdatedAt = r.now().UTC()
	doc := contactDocument{
		UserID:      contact.UserID,
		CustomerID:  contact.CustomerID,
		FirstName:   contact.FirstName,
		LastName:    contact.LastName,
		FullName:    contact.FullName,
		Email:       strings.TrimSpace(contact.Email),
		Phone:       contact.Phone,
		CompanyName: contact.CompanyName,
		AddressID:   contact.AddressID,
		IsPrimary:   contact.IsPrimary,
		IsBilling:   contact.IsBilling,
		UpdatedAt:   contact.UpdatedAt,
	}
	if err := r.base.Set(ctx, contact.ID, doc); err != nil {
		return domain.Contact{}, err
	}
	return contact, nil
}

func decodeContact(doc pfirestore.Document[contactDocument]) domain.Contact {
	data := doc.Data
	return domain.Contact{
		ID:          doc.ID,
		UserID:      data.UserID,
		CustomerID:  data.CustomerID,
		FirstName:   data.FirstName,
		LastName:    data.LastName,
		FullName:    data.FullName,
		Email:       data.Email,
		Phone:       data.Phone,
		CompanyName: data.CompanyName,
		AddressID:   data.AddressID,
		IsPrimary:   data.IsPrimary,
		IsBilling:   data.IsBilling,
		UpdatedAt:   firstNonZeroTime(data.UpdatedAt, doc.UpdateTime),
	}
}

// AddressRepository reads customer addresses.
type AddressRepository struct {
	base *pfirestore.BaseRepository[addressDocument]
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{
		base: pfirestore.NewBaseRepository[addressDocument](provider, addressCollection),
	}, nil
}

func (r *AddressRepository) Get(ctx context.Context, addressID string) (domain.Address, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(addressID))
	if err != nil {
		return domain.Address{}, err
	}
	return decodeAddress(doc), nil
}

func (r *AddressRepository) ListByCustomer(ctx context.Context, customerID string) ([]domain.Address, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("customerId", "==", strings.TrimSpace(customerID))
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Address, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeAddress(doc))
	}
	return out, nil
}

func decodeAddress(doc pfirestore.Document[addressDocument]) domain.Address {
	data := doc.Data
	return domain.Address{
		ID:         doc.ID,
		CustomerID: data.CustomerID,
		Title:      data.Title,
		Line1:      data.Line1,
		Line2:      data.Line2,
		City:       data.City,
		PostalCode: data.PostalCode,
		Country:    data.Country,
		IsShipping: data.IsShipping,
		IsBilling:  data.IsBilling,
	}
}
