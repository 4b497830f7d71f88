package memory

import (
	"maps"
	"slices"

	domain "github.com/hanko-field/webshop/internal/domain"
)

func cloneLines(lines []domain.CartLine) []domain.CartLine {
	if lines == nil {
		return nil
	}
	out := slices.Clone(lines)
	for i := range out {
		if out[i].GiftCard != nil {
			gc := *out[i].GiftCard
			out[i].GiftCard = &gc
		}
	}
	return out
}

func cloneLoyalty(l *domain.CartLoyalty) *domain.CartLoyalty {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

func cloneCart(c domain.Cart) domain.Cart {
	c.Lines = cloneLines(c.Lines)
	c.Taxes = slices.Clone(c.Taxes)
	c.Loyalty = cloneLoyalty(c.Loyalty)
	return c
}

func cloneOrder(o domain.Order) domain.Order {
	o.Lines = cloneLines(o.Lines)
	o.Taxes = slices.Clone(o.Taxes)
	o.Loyalty = cloneLoyalty(o.Loyalty)
	return o
}

func cloneInvoice(i domain.Invoice) domain.Invoice {
	i.Lines = cloneLines(i.Lines)
	i.Loyalty = cloneLoyalty(i.Loyalty)
	return i
}

func clonePaymentRequest(r domain.PaymentRequest) domain.PaymentRequest {
	r.GatewayData = maps.Clone(r.GatewayData)
	if r.PaidAt != nil {
		t := *r.PaidAt
		r.PaidAt = &t
	}
	return r
}

func cloneCustomer(c domain.Customer) domain.Customer {
	c.PortalUsers = slices.Clone(c.PortalUsers)
	return c
}

func cloneSettings(s domain.WebshopSettings) domain.WebshopSettings {
	s.TaxTemplate = slices.Clone(s.TaxTemplate)
	s.PaymentMethods = slices.Clone(s.PaymentMethods)
	return s
}
