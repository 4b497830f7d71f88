package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/payments"
	"github.com/hanko-field/webshop/internal/repositories/memory"
)

var fixtureNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

const (
	testGuestToken = "6f1c7e0a-3b59-4c1e-9d2a-0f4b8e2c1a77"
	testPartyID    = "CUST-1"
	testUserID     = "user-1"
)

var testShopper = Shopper{UserID: testUserID, Email: "ada@example.com", PartyID: testPartyID}

type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceIDs) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("ID%04d", s.n)
}

type fakeGateway struct {
	mu       sync.Mutex
	sessions []payments.CheckoutSessionRequest
	contexts []payments.PaymentContext
	url      string
	err      error
	event    payments.CallbackEvent
	eventErr error

	// session lookups answer with confirmStatus; confirmAmount overrides the session amount
	confirmStatus payments.Status
	confirmAmount int64
	confirmErr    error
	confirmed     []string
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = append(g.sessions, req)
	g.contexts = append(g.contexts, paymentCtx)
	if g.err != nil {
		return payments.CheckoutSession{}, g.err
	}
	return payments.CheckoutSession{
		ID:          fmt.Sprintf("cs_%d", len(g.sessions)),
		Provider:    paymentCtx.GatewayType,
		RedirectURL: g.url,
		ExpiresAt:   fixtureNow.Add(30 * time.Minute),
	}, nil
}

func (g *fakeGateway) VerifyCallback(context.Context, string, []byte, http.Header) (payments.CallbackEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.event, g.eventErr
}

func (g *fakeGateway) ConfirmSession(_ context.Context, gatewayType, sessionID string, _ map[string]any) (payments.CallbackEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmed = append(g.confirmed, sessionID)
	if g.confirmErr != nil {
		return payments.CallbackEvent{}, g.confirmErr
	}
	var n int
	if _, err := fmt.Sscanf(sessionID, "cs_%d", &n); err != nil || n < 1 || n > len(g.sessions) {
		return payments.CallbackEvent{}, fmt.Errorf("unknown session %q", sessionID)
	}
	req := g.sessions[n-1]
	event := payments.CallbackEvent{
		Provider:  gatewayType,
		RequestID: req.ClientReferenceID,
		SessionID: sessionID,
		Status:    g.confirmStatus,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Raw:       map[string]any{"payment_intent": "pi_" + sessionID},
	}
	if g.confirmAmount != 0 {
		event.Amount = g.confirmAmount
	}
	return event, nil
}

func (g *fakeGateway) lastSession() payments.CheckoutSessionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sessions) == 0 {
		return payments.CheckoutSessionRequest{}
	}
	return g.sessions[len(g.sessions)-1]
}

type shopFixture struct {
	reg        *memory.Registry
	store      *memory.Store
	ids        *sequenceIDs
	bus        *EventBus
	pricer     *CartPricingEngine
	customers  CustomerService
	loyalty    LoyaltyService
	promotions PromotionService
	carts      CartService
	guests     GuestSessionService
	checkout   CheckoutService
	orders     OrderService
	payments   PaymentService
	gateway    *fakeGateway
}

func defaultSettings() domain.WebshopSettings {
	return domain.WebshopSettings{
		Enabled:              true,
		EnableCheckout:       true,
		EnableGuestCart:      true,
		GuestCustomerID:      "GUEST",
		PriceList:            "Standard Selling",
		DefaultCurrency:      "EUR",
		DefaultCustomerGroup: "Retail",
		PaymentMethods: []domain.PaymentMethodConfig{
			{Name: "Stripe-EUR", Gateway: "Stripe", CheckoutTitle: "Card", IsDefault: true},
		},
		GiftCardValidityMonths: 12,
		Terms:                  "Standard terms",
	}
}

func seedShop(store *memory.Store) {
	store.PutSettings(defaultSettings())

	store.PutItem(domain.CatalogItem{ItemCode: "MUG", Name: "Mug", IsStockItem: true, Warehouse: "Main", Published: true})
	store.PutItem(domain.CatalogItem{ItemCode: "TEE", Name: "T-Shirt", IsStockItem: true, Warehouse: "Main", Published: true})
	store.PutItem(domain.CatalogItem{ItemCode: "GIFT", Name: "Gift Card", IsGiftCard: true, Published: true})
	for _, price := range []domain.ItemPrice{
		{ItemCode: "MUG", PriceList: "Standard Selling", Currency: "EUR", Rate: 1500},
		{ItemCode: "TEE", PriceList: "Standard Selling", Currency: "EUR", Rate: 2500},
		{ItemCode: "GIFT", PriceList: "Standard Selling", Currency: "EUR", Rate: 5000},
	} {
		store.PutPrice(price)
	}
	store.PutStock(domain.StockLevel{ItemCode: "MUG", Warehouse: "Main", Quantity: 10})
	store.PutStock(domain.StockLevel{ItemCode: "TEE", Warehouse: "Main", Quantity: 10})

	store.PutShippingRule(domain.ShippingRule{
		ID:        "STD",
		Label:     "Standard",
		Enabled:   true,
		Countries: []string{"DE", "AT"},
		Conditions: []domain.ShippingCondition{
			{From: 10000, To: 0, Amount: 0},
			{From: 0, To: 10000, Amount: 1000},
		},
	})
	store.PutShippingRule(domain.ShippingRule{
		ID:         "FR-EXPRESS",
		Label:      "Express France",
		Enabled:    true,
		Countries:  []string{"FR"},
		Conditions: []domain.ShippingCondition{{From: 0, To: 0, Amount: 2000}},
	})

	store.PutLoyaltyProgram(domain.LoyaltyProgram{ID: "LOY", Name: "Points", ConversionFactor: 0.01, ExpenseAccount: "Loyalty Expense"})
	store.PutCustomer(domain.Customer{
		ID:               testPartyID,
		Name:             "Ada Lovelace",
		Type:             "Individual",
		PrimaryContactID: "CON-1",
		LoyaltyProgramID: "LOY",
		DefaultPriceList: "Standard Selling",
		PortalUsers:      []string{testUserID},
	})
	store.PutCustomer(domain.Customer{ID: "GUEST", Name: "Guest", Type: "Individual"})
	store.PutContact(domain.Contact{
		ID:         "CON-1",
		UserID:     testUserID,
		CustomerID: testPartyID,
		FirstName:  "Ada",
		LastName:   "Lovelace",
		FullName:   "Ada Lovelace",
		Email:      "ada@example.com",
		IsPrimary:  true,
	})
	store.PutAddress(domain.Address{ID: "ADDR-DE", CustomerID: testPartyID, Title: "Home", Line1: "Hauptstr. 1", City: "Berlin", PostalCode: "10115", Country: "DE", IsShipping: true, IsBilling: true})
	store.PutAddress(domain.Address{ID: "ADDR-FR", CustomerID: testPartyID, Title: "Holiday", Line1: "Rue 2", City: "Nice", PostalCode: "06000", Country: "FR", IsShipping: true})
	store.PutLoyaltyEntry(domain.LoyaltyPointEntry{ID: "LPE-1", CustomerID: testPartyID, ProgramID: "LOY", Points: 1000, PostingDate: fixtureNow.AddDate(0, -1, 0)})

	store.PutPricingRule(domain.PricingRule{ID: "PR-5", Title: "Five off", DiscountAmount: 500, CouponCodeBased: true})
	store.PutCoupon(domain.Coupon{Code: "SAVE5", Name: "SAVE5", Type: domain.CouponTypePromotional, PricingRuleID: "PR-5", MaximumUse: 10})
}

func newShopFixture(t *testing.T) *shopFixture {
	t.Helper()
	clock := func() time.Time { return fixtureNow }
	store := memory.NewStore(memory.WithClock(clock))
	seedShop(store)
	reg := memory.NewRegistry(store, nil)
	ids := &sequenceIDs{}

	f := &shopFixture{reg: reg, store: store, ids: ids, gateway: &fakeGateway{url: "https://pay.example/session", confirmStatus: payments.StatusSucceeded}}
	var err error
	f.pricer, err = NewCartPricingEngine(CartPricingEngineDeps{
		Catalog:       reg.Catalog(),
		ShippingRules: reg.ShippingRules(),
		Coupons:       reg.Coupons(),
		PricingRules:  reg.PricingRules(),
		Loyalty:       reg.Loyalty(),
		Now:           clock,
	})
	if err != nil {
		t.Fatalf("new pricing engine: %v", err)
	}
	f.customers, err = NewCustomerService(CustomerServiceDeps{
		Customers:   reg.Customers(),
		Contacts:    reg.Contacts(),
		Settings:    reg.Settings(),
		UnitOfWork:  reg,
		Clock:       clock,
		IDGenerator: ids.next,
	})
	if err != nil {
		t.Fatalf("new customer service: %v", err)
	}
	f.loyalty, err = NewLoyaltyService(LoyaltyServiceDeps{
		Carts:       reg.Carts(),
		Settings:    reg.Settings(),
		Customers:   reg.Customers(),
		Ledger:      reg.Loyalty(),
		Parties:     f.customers,
		UnitOfWork:  reg,
		Pricer:      f.pricer,
		Clock:       clock,
		IDGenerator: ids.next,
	})
	if err != nil {
		t.Fatalf("new loyalty service: %v", err)
	}
	f.promotions, err = NewPromotionService(PromotionServiceDeps{
		Carts:        reg.Carts(),
		Settings:     reg.Settings(),
		Customers:    reg.Customers(),
		Coupons:      reg.Coupons(),
		PricingRules: reg.PricingRules(),
		Invoices:     reg.Invoices(),
		Parties:      f.customers,
		Pricer:       f.pricer,
		Clock:        clock,
		IDGenerator:  ids.next,
	})
	if err != nil {
		t.Fatalf("new promotion service: %v", err)
	}
	f.bus = NewEventBus(EventBusDeps{Clock: clock, IDGenerator: ids.next})
	if err := RegisterLifecycleSubscribers(f.bus, f.loyalty, f.promotions); err != nil {
		t.Fatalf("register subscribers: %v", err)
	}
	f.carts, err = NewCartService(CartServiceDeps{
		Repository:    reg.Carts(),
		Settings:      reg.Settings(),
		Catalog:       reg.Catalog(),
		Customers:     reg.Customers(),
		Addresses:     reg.Addresses(),
		ShippingRules: reg.ShippingRules(),
		Parties:       f.customers,
		Loyalty:       f.loyalty,
		Pricer:        f.pricer,
		Events:        f.bus,
		Clock:         clock,
		IDGenerator:   ids.next,
	})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	f.guests, err = NewGuestSessionService(GuestSessionServiceDeps{
		Carts:          reg.Carts(),
		Settings:       reg.Settings(),
		Catalog:        reg.Catalog(),
		Customers:      reg.Customers(),
		Parties:        f.customers,
		UnitOfWork:     reg,
		Pricer:         f.pricer,
		Events:         f.bus,
		Clock:          clock,
		IDGenerator:    ids.next,
		TokenGenerator: func() string { return testGuestToken },
	})
	if err != nil {
		t.Fatalf("new guest session service: %v", err)
	}
	f.checkout, err = NewCheckoutService(CheckoutServiceDeps{
		Carts:         reg.Carts(),
		Settings:      reg.Settings(),
		Customers:     reg.Customers(),
		Contacts:      reg.Contacts(),
		Addresses:     reg.Addresses(),
		ShippingRules: reg.ShippingRules(),
		Parties:       f.customers,
		Loyalty:       f.loyalty,
		Pricer:        f.pricer,
		Clock:         clock,
		IDGenerator:   ids.next,
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	counters, err := NewCounterService(CounterServiceDeps{Repository: reg.Counters(), Clock: clock})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}
	f.orders, err = NewOrderService(OrderServiceDeps{
		Carts:           reg.Carts(),
		Orders:          reg.Orders(),
		Invoices:        reg.Invoices(),
		PaymentEntries:  reg.PaymentEntries(),
		PaymentRequests: reg.PaymentRequests(),
		Settings:        reg.Settings(),
		Catalog:         reg.Catalog(),
		Customers:       reg.Customers(),
		Coupons:         reg.Coupons(),
		Counters:        counters,
		Parties:         f.customers,
		Pricer:          f.pricer,
		Events:          f.bus,
		Clock:           clock,
		IDGenerator:     ids.next,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	f.payments = f.newPaymentService(t, f.orders)
	return f
}

func (f *shopFixture) newPaymentService(t *testing.T, orders OrderService) PaymentService {
	t.Helper()
	svc, err := NewPaymentService(PaymentServiceDeps{
		Carts:         f.reg.Carts(),
		Settings:      f.reg.Settings(),
		Customers:     f.reg.Customers(),
		Requests:      f.reg.PaymentRequests(),
		Orders:        orders,
		Parties:       f.customers,
		Pricer:        f.pricer,
		Gateway:       f.gateway,
		Events:        f.bus,
		ReturnBaseURL: "https://shop.example/",
		Clock:         func() time.Time { return fixtureNow },
		IDGenerator:   f.ids.next,
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return svc
}

func (f *shopFixture) updateSettings(mutate func(*domain.WebshopSettings)) {
	settings := defaultSettings()
	mutate(&settings)
	f.store.PutSettings(settings)
}

func (f *shopFixture) addLine(t *testing.T, shopper Shopper, itemCode, qty string) Cart {
	t.Helper()
	result, err := f.carts.UpdateLine(context.Background(), UpdateLineCommand{
		Shopper:  shopper,
		ItemCode: itemCode,
		Quantity: qty,
		Add:      true,
	})
	if err != nil {
		t.Fatalf("add %s x%s: %v", itemCode, qty, err)
	}
	return result.Cart
}

func (f *shopFixture) openCart(t *testing.T, shopper Shopper) Cart {
	t.Helper()
	cart, err := f.carts.GetCart(context.Background(), shopper)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	return cart
}

func lineQuantities(cart Cart) map[string]int64 {
	out := make(map[string]int64, len(cart.Lines))
	for _, line := range cart.Lines {
		out[line.ItemCode] += line.Quantity
	}
	return out
}

func loyaltyTaxLines(cart Cart) []TaxLine {
	var out []TaxLine
	for _, tax := range cart.Taxes {
		if tax.IsLoyaltyReduction {
			out = append(out, tax)
		}
	}
	return out
}

func (f *shopFixture) ledgerEntriesForCart(cartID string) []LoyaltyPointEntry {
	var out []LoyaltyPointEntry
	for _, entry := range f.store.LoyaltyEntries() {
		if entry.CartID == cartID {
			out = append(out, entry)
		}
	}
	return out
}
