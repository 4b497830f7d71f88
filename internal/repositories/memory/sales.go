package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"

	domain "github.com/hanko-field/webshop/internal/domain"
)

type cartRepo struct{ s *Store }

func (r cartRepo) CreateOpen(ctx context.Context, cart domain.Cart) (domain.Cart, bool, error) {
	key := cart.Owner.Key()
	if strings.TrimSpace(cart.ID) == "" || key == "" {
		return domain.Cart{}, false, errors.New("memory carts: cart id and owner are required")
	}
	var (
		saved   domain.Cart
		created bool
	)
	err := r.s.atomic(ctx, func() error {
		var err error
		r.s.write(func(t *tables) {
			if existingID, ok := t.openCarts[key]; ok {
				if existing, ok := t.carts[existingID]; ok {
					saved = cloneCart(existing)
					return
				}
			}
			if _, ok := t.carts[cart.ID]; ok {
				err = conflict("carts.create_open", nil)
				return
			}
			now := r.s.clock()
			cart.Status = domain.CartStatusDraft
			if cart.CreatedAt.IsZero() {
				cart.CreatedAt = now
			}
			cart.UpdatedAt = now
			t.carts[cart.ID] = cloneCart(cart)
			t.openCarts[key] = cart.ID
			saved = cloneCart(cart)
			created = true
		})
		return err
	})
	return saved, created, err
}

func (r cartRepo) FindOpen(_ context.Context, owner domain.CartOwner) (domain.Cart, error) {
	key := owner.Key()
	var (
		cart  domain.Cart
		found bool
	)
	r.s.read(func(t *tables) {
		id, ok := t.openCarts[key]
		if !ok {
			return
		}
		stored, ok := t.carts[id]
		if ok && stored.Status == domain.CartStatusDraft {
			cart, found = cloneCart(stored), true
		}
	})
	if !found {
		return domain.Cart{}, notFound("carts.find_open")
	}
	return cart, nil
}

func (r cartRepo) Get(_ context.Context, cartID string) (domain.Cart, error) {
	var (
		cart domain.Cart
		ok   bool
	)
	r.s.read(func(t *tables) {
		var stored domain.Cart
		stored, ok = t.carts[strings.TrimSpace(cartID)]
		cart = cloneCart(stored)
	})
	if !ok {
		return domain.Cart{}, notFound("carts.get")
	}
	return cart, nil
}

func (r cartRepo) Save(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	if strings.TrimSpace(cart.ID) == "" {
		return domain.Cart{}, errors.New("memory carts: cart id is required")
	}
	cart.UpdatedAt = r.s.clock()
	r.s.write(func(t *tables) {
		t.carts[cart.ID] = cloneCart(cart)
		key := cart.Owner.Key()
		if cart.Status != domain.CartStatusDraft && key != "" && t.openCarts[key] == cart.ID {
			delete(t.openCarts, key)
		}
	})
	return cart, nil
}

func (r cartRepo) Delete(_ context.Context, cartID string) error {
	var err error
	r.s.write(func(t *tables) {
		cart, ok := t.carts[cartID]
		if !ok {
			err = notFound("carts.delete")
			return
		}
		delete(t.carts, cartID)
		if key := cart.Owner.Key(); key != "" && t.openCarts[key] == cartID {
			delete(t.openCarts, key)
		}
	})
	return err
}

type orderRepo struct{ s *Store }

func (r orderRepo) CreateForCart(ctx context.Context, order domain.Order) (domain.Order, bool, error) {
	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(order.CartRef) == "" {
		return domain.Order{}, false, errors.New("memory orders: order id and cart reference are required")
	}
	var (
		saved   domain.Order
		created bool
	)
	err := r.s.atomic(ctx, func() error {
		r.s.write(func(t *tables) {
			if existing, ok := t.orders[order.ID]; ok {
				saved = cloneOrder(existing)
				return
			}
			now := r.s.clock()
			if order.CreatedAt.IsZero() {
				order.CreatedAt = now
			}
			order.UpdatedAt = now
			t.orders[order.ID] = cloneOrder(order)
			saved = cloneOrder(order)
			created = true
		})
		return nil
	})
	return saved, created, err
}

func (r orderRepo) FindByCart(_ context.Context, cartID string) (domain.Order, error) {
	var (
		order domain.Order
		ok    bool
	)
	r.s.read(func(t *tables) {
		for _, candidate := range t.orders {
			if candidate.CartRef == cartID {
				order, ok = cloneOrder(candidate), true
				return
			}
		}
	})
	if !ok {
		return domain.Order{}, notFound("orders.find_by_cart")
	}
	return order, nil
}

func (r orderRepo) Get(_ context.Context, orderID string) (domain.Order, error) {
	var (
		order domain.Order
		ok    bool
	)
	r.s.read(func(t *tables) {
		var stored domain.Order
		stored, ok = t.orders[orderID]
		order = cloneOrder(stored)
	})
	if !ok {
		return domain.Order{}, notFound("orders.get")
	}
	return order, nil
}

func (r orderRepo) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	order.UpdatedAt = r.s.clock()
	r.s.write(func(t *tables) { t.orders[order.ID] = cloneOrder(order) })
	return order, nil
}

type invoiceRepo struct{ s *Store }

func (r invoiceRepo) Create(_ context.Context, invoice domain.Invoice) (domain.Invoice, error) {
	var err error
	r.s.write(func(t *tables) {
		if _, ok := t.invoices[invoice.ID]; ok {
			err = conflict("invoices.create", nil)
			return
		}
		now := r.s.clock()
		if invoice.CreatedAt.IsZero() {
			invoice.CreatedAt = now
		}
		invoice.UpdatedAt = now
		t.invoices[invoice.ID] = cloneInvoice(invoice)
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	return invoice, nil
}

func (r invoiceRepo) Get(_ context.Context, invoiceID string) (domain.Invoice, error) {
	var (
		invoice domain.Invoice
		ok      bool
	)
	r.s.read(func(t *tables) {
		var stored domain.Invoice
		stored, ok = t.invoices[invoiceID]
		invoice = cloneInvoice(stored)
	})
	if !ok {
		return domain.Invoice{}, notFound("invoices.get")
	}
	return invoice, nil
}

func (r invoiceRepo) FindByOrder(_ context.Context, orderID string) (domain.Invoice, error) {
	var (
		invoice domain.Invoice
		ok      bool
	)
	r.s.read(func(t *tables) {
		for _, candidate := range t.invoices {
			if candidate.OrderID == orderID {
				invoice, ok = cloneInvoice(candidate), true
				return
			}
		}
	})
	if !ok {
		return domain.Invoice{}, notFound("invoices.find_by_order")
	}
	return invoice, nil
}

func (r invoiceRepo) Save(_ context.Context, invoice domain.Invoice) (domain.Invoice, error) {
	invoice.UpdatedAt = r.s.clock()
	r.s.write(func(t *tables) { t.invoices[invoice.ID] = cloneInvoice(invoice) })
	return invoice, nil
}

type paymentRequestRepo struct{ s *Store }

type sequencedRequest struct {
	request domain.PaymentRequest
	seq     int64
}

func (r paymentRequestRepo) Create(_ context.Context, request domain.PaymentRequest) (domain.PaymentRequest, error) {
	var err error
	seq := r.s.nextSeq()
	r.s.write(func(t *tables) {
		if _, ok := t.paymentRequests[request.ID]; ok {
			err = conflict("payment_requests.create", nil)
			return
		}
		now := r.s.clock()
		if request.CreatedAt.IsZero() {
			request.CreatedAt = now
		}
		request.UpdatedAt = now
		t.paymentRequests[request.ID] = clonePaymentRequest(request)
		t.requestSeq[request.ID] = seq
	})
	if err != nil {
		return domain.PaymentRequest{}, err
	}
	return clonePaymentRequest(request), nil
}

func (r paymentRequestRepo) Get(_ context.Context, requestID string) (domain.PaymentRequest, error) {
	var (
		request domain.PaymentRequest
		ok      bool
	)
	r.s.read(func(t *tables) {
		var stored domain.PaymentRequest
		stored, ok = t.paymentRequests[requestID]
		request = clonePaymentRequest(stored)
	})
	if !ok {
		return domain.PaymentRequest{}, notFound("payment_requests.get")
	}
	return request, nil
}

func (r paymentRequestRepo) Save(_ context.Context, request domain.PaymentRequest) (domain.PaymentRequest, error) {
	request.UpdatedAt = r.s.clock()
	r.s.write(func(t *tables) { t.paymentRequests[request.ID] = clonePaymentRequest(request) })
	return request, nil
}

func (r paymentRequestRepo) Delete(_ context.Context, requestID string) error {
	r.s.write(func(t *tables) {
		delete(t.paymentRequests, requestID)
		delete(t.requestSeq, requestID)
	})
	return nil
}

func (r paymentRequestRepo) FindLatestByCart(_ context.Context, cartID string) (domain.PaymentRequest, error) {
	matches := r.collect(func(req domain.PaymentRequest) bool { return req.CartID == cartID })
	if len(matches) == 0 {
		return domain.PaymentRequest{}, notFound("payment_requests.find_latest_by_cart")
	}
	return matches[len(matches)-1], nil
}

func (r paymentRequestRepo) ListByReference(_ context.Context, ref domain.DocumentRef) ([]domain.PaymentRequest, error) {
	return r.collect(func(req domain.PaymentRequest) bool { return req.Reference == ref }), nil
}

// collect returns matching requests in creation order.
func (r paymentRequestRepo) collect(match func(domain.PaymentRequest) bool) []domain.PaymentRequest {
	var found []sequencedRequest
	r.s.read(func(t *tables) {
		for _, req := range t.paymentRequests {
			if match(req) {
				found = append(found, sequencedRequest{request: clonePaymentRequest(req), seq: t.requestSeq[req.ID]})
			}
		}
	})
	slices.SortFunc(found, func(a, b sequencedRequest) int {
		if c := a.request.CreatedAt.Compare(b.request.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]domain.PaymentRequest, 0, len(found))
	for _, f := range found {
		out = append(out, f.request)
	}
	return out
}

type paymentEntryRepo struct{ s *Store }

func (r paymentEntryRepo) Create(_ context.Context, entry domain.PaymentEntry) (domain.PaymentEntry, error) {
	var err error
	r.s.write(func(t *tables) {
		if _, ok := t.paymentEntries[entry.ID]; ok {
			err = conflict("payment_entries.create", nil)
			return
		}
		t.paymentEntries[entry.ID] = entry
	})
	if err != nil {
		return domain.PaymentEntry{}, err
	}
	return entry, nil
}

func (r paymentEntryRepo) ListByOrder(_ context.Context, orderID string) ([]domain.PaymentEntry, error) {
	var out []domain.PaymentEntry
	r.s.read(func(t *tables) {
		for _, entry := range t.paymentEntries {
			if entry.OrderID == orderID {
				out = append(out, entry)
			}
		}
	})
	slices.SortFunc(out, func(a, b domain.PaymentEntry) int { return a.PostedAt.Compare(b.PostedAt) })
	return out, nil
}
