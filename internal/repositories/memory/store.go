// Package memory provides an in-process repositories.Registry used by tests and local development.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/repositories"
)

var (
	errNotFound = errors.New("document not found")
	errExists   = errors.New("document already exists")
)

type storeError struct {
	op       string
	err      error
	notFound bool
	conflict bool
}

func (e *storeError) Error() string       { return fmt.Sprintf("%s: %v", e.op, e.err) }
func (e *storeError) Unwrap() error       { return e.err }
func (e *storeError) IsNotFound() bool    { return e.notFound }
func (e *storeError) IsConflict() bool    { return e.conflict }
func (e *storeError) IsUnavailable() bool { return false }

var _ repositories.RepositoryError = (*storeError)(nil)

func notFound(op string) error { return &storeError{op: op, err: errNotFound, notFound: true} }
func conflict(op string, err error) error {
	if err == nil {
		err = errExists
	}
	return &storeError{op: op, err: err, conflict: true}
}

type txKey struct{}

type tables struct {
	carts           map[string]domain.Cart
	openCarts       map[string]string
	orders          map[string]domain.Order
	invoices        map[string]domain.Invoice
	paymentRequests map[string]domain.PaymentRequest
	requestSeq      map[string]int64
	paymentEntries  map[string]domain.PaymentEntry
	customers       map[string]domain.Customer
	contacts        map[string]domain.Contact
	addresses       map[string]domain.Address
	items           map[string]domain.CatalogItem
	prices          map[string]domain.ItemPrice
	stock           map[string]domain.StockLevel
	shippingRules   map[string]domain.ShippingRule
	programs        map[string]domain.LoyaltyProgram
	loyaltyEntries  map[string]domain.LoyaltyPointEntry
	coupons         map[string]domain.Coupon
	pricingRules    map[string]domain.PricingRule
	counters        map[string]int64
	settings        *domain.WebshopSettings
}


func newTables() tables {
	return tables{
		carts:           map[string]domain.Cart{},
		openCarts:       map[string]string{},
		orders:          map[string]domain.Order{},
		invoices:        map[string]domain.Invoice{},
		paymentRequests: map[string]domain.PaymentRequest{},
		requestSeq:      map[string]int64{},
		paymentEntries:  map[string]domain.PaymentEntry{},
		customers:       map[string]domain.Customer{},
		contacts:        map[string]domain.Contact{},
		addresses:       map[string]domain.Address{},
		items:           map[string]domain.CatalogItem{},
		prices:          map[string]domain.ItemPrice{},
		stock:           map[string]domain.StockLevel{},
		shippingRules:   map[string]domain.ShippingRule{},
		programs:        map[string]domain.LoyaltyProgram{},
		loyaltyEntries:  map[string]domain.LoyaltyPointEntry{},
		coupons:         map[string]domain.Coupon{},
		pricingRules:    map[string]domain.PricingRule{},
		counters:        map[string]int64{},
	}
}

// snapshot copies every table. Stored values are never mutated in place so shallow copies suffice.
func (t tables) snapshot() tables {
	out := tables{
		carts:           maps.Clone(t.carts),
		openCarts:       maps.Clone(t.openCarts),
		orders:          maps.Clone(t.orders),
		invoices:        maps.Clone(t.invoices),
		paymentRequests: maps.Clone(t.paymentRequests),
		requestSeq:      maps.Clone(t.requestSeq),
		paymentEntries:  maps.Clone(t.paymentEntries),
		customers:       maps.Clone(t.customers),
		contacts:        maps.Clone(t.contacts),
		addresses:       maps.Clone(t.addresses),
		items:           maps.Clone(t.items),
		prices:          maps.Clone(t.prices),
		stock:           maps.Clone(t.stock),
		shippingRules:   maps.Clone(t.shippingRules),
		programs:        maps.Clone(t.programs),
		loyaltyEntries:  maps.Clone(t.loyaltyEntries),
		coupons:         maps.Clone(t.coupons),
		pricingRules:    maps.Clone(t.pricingRules),
		counters:        maps.Clone(t.counters),
	}
	if t.settings != nil {
		settings := *t.settings
		out.settings = &settings
	}
	return out
}

// Store is the shared state behind a memory Registry.
type Store struct {
	// txMu serialises transactions and compound writes.
	txMu sync.Mutex
	mu   sync.RWMutex
	data tables
	seq  int64
	now  func() time.Time
}

// Option customises the Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{data: newTables(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// RunInTx runs fn with exclusive access to the store. Changes are rolled back when fn fails.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: unit of work function is nil")
	}
	if inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	before := s.data.snapshot()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.data = before
		s.mu.Unlock()
		return err
	}
	return nil
}

// atomic runs fn under the transaction lock unless ctx already holds it.
func (s *Store) atomic(ctx context.Context, fn func() error) error {
	if inTx(ctx) {
		return fn()
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn()
}

func (s *Store) read(fn func(t *tables)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.data)
}

func (s *Store) write(fn func(t *tables)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.data)
}

func (s *Store) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Store) clock() time.Time { return s.now().UTC() }

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}
