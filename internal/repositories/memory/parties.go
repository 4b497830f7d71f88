package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	domain "github.com/hanko-field/webshop/internal/domain"
)

type customerRepo struct{ s *Store }

func (r customerRepo) Get(_ context.Context, customerID string) (domain.Customer, error) {
	var (
		customer domain.Customer
		ok       bool
	)
	r.s.read(func(t *tables) {
		var stored domain.Customer
		stored, ok = t.customers[strings.TrimSpace(customerID)]
		customer = cloneCustomer(stored)
	})
	if !ok {
		return domain.Customer{}, notFound("customers.get")
	}
	return customer, nil
}

func (r customerRepo) Create(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	if strings.TrimSpace(customer.ID) == "" {
		return domain.Customer{}, errors.New("memory customers: id is required")
	}
	var err error
	r.s.write(func(t *tables) {
		if _, ok := t.customers[customer.ID]; ok {
			err = conflict("customers.create", nil)
			return
		}
		now := r.s.clock()
		if customer.CreatedAt.IsZero() {
			customer.CreatedAt = now
		}
		customer.UpdatedAt = now
		t.customers[customer.ID] = cloneCustomer(customer)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

func (r customerRepo) Save(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	var err error
	r.s.write(func(t *tables) {
		current, ok := t.customers[customer.ID]
		if !ok {
			err = notFound("customers.save")
			return
		}
		if !customer.UpdatedAt.IsZero() && current.UpdatedAt.After(customer.UpdatedAt) {
			err = conflict("customers.save", fmt.Errorf("customer %s modified concurrently", customer.ID))
			return
		}
		customer.UpdatedAt = r.s.clock()
		t.customers[customer.ID] = cloneCustomer(customer)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return customer, nil
}

type contactRepo struct{ s *Store }

func (r contactRepo) Get(_ context.Context, contactID string) (domain.Contact, error) {
	var (
		contact domain.Contact
		ok      bool
	)
	r.s.read(func(t *tables) { contact, ok = t.contacts[strings.TrimSpace(contactID)] })
	if !ok {
		return domain.Contact{}, notFound("contacts.get")
	}
	return contact, nil
}

func (r contactRepo) FindByUser(_ context.Context, userID string) (domain.Contact, error) {
	userID = strings.TrimSpace(userID)
	matches := r.collect(func(c domain.Contact) bool { return userID != "" && c.UserID == userID })
	if len(matches) == 0 {
		return domain.Contact{}, notFound("contacts.find_by_user")
	}
	return matches[0], nil
}

func (r contactRepo) FindByCustomer(_ context.Context, customerID string) (domain.Contact, error) {
	customerID = strings.TrimSpace(customerID)
	matches := r.collect(func(c domain.Contact) bool { return customerID != "" && c.CustomerID == customerID })
	if len(matches) == 0 {
		return domain.Contact{}, notFound("contacts.find_by_customer")
	}
	for _, c := range matches {
		if c.IsPrimary {
			return c, nil
		}
	}
	return matches[0], nil
}

func (r contactRepo) Save(_ context.Context, contact domain.Contact) (domain.Contact, error) {
	if strings.TrimSpace(contact.ID) == "" {
		return domain.Contact{}, errors.New("memory contacts: id is required")
	}
	contact.UpdatedAt = r.s.clock()
	r.s.write(func(t *tables) { t.contacts[contact.ID] = contact })
	return contact, nil
}

func (r contactRepo) collect(match func(domain.Contact) bool) []domain.Contact {
	var out []domain.Contact
	r.s.read(func(t *tables) {
		for _, c := range t.contacts {
			if match(c) {
				out = append(out, c)
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.Contact) int { return strings.Compare(a.ID, b.ID) })
	return out
}

type addressRepo struct{ s *Store }

func (r addressRepo) Get(_ context.Context, addressID string) (domain.Address, error) {
	var (
		address domain.Address
		ok      bool
	)
	r.s.read(func(t *tables) { address, ok = t.addresses[strings.TrimSpace(addressID)] })
	if !ok {
		return domain.Address{}, notFound("addresses.get")
	}
	return address, nil
}

func (r addressRepo) ListByCustomer(_ context.Context, customerID string) ([]domain.Address, error) {
	var out []domain.Address
	r.s.read(func(t *tables) {
		for _, a := range t.addresses {
			if a.CustomerID == customerID {
				out = append(out, a)
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.Address) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}
