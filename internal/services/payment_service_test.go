package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/webshop/internal/domain"
	"github.com/hanko-field/webshop/internal/payments"
)

type flakyOrders struct {
	OrderService
	mu       sync.Mutex
	failures int
}

func (o *flakyOrders) MakeInvoice(ctx context.Context, orderID string) (Invoice, error) {
	o.mu.Lock()
	if o.failures > 0 {
		o.failures--
		o.mu.Unlock()
		return Invoice{}, ErrOrderUnavailable
	}
	o.mu.Unlock()
	return o.OrderService.MakeInvoice(ctx, orderID)
}

func (f *shopFixture) checkoutCart(t *testing.T) Cart {
	t.Helper()
	f.addLine(t, testShopper, "MUG", "2")
	cart, err := f.carts.SetAddress(context.Background(), SetCartAddressCommand{Shopper: testShopper, AddressID: "ADDR-DE", Kind: AddressShipping})
	if err != nil {
		t.Fatalf("set address: %v", err)
	}
	return cart
}

func (f *shopFixture) startPayment(t *testing.T) PaymentRequestResult {
	t.Helper()
	result, err := f.payments.CreatePaymentRequest(context.Background(), CreatePaymentRequestCommand{Shopper: testShopper})
	if err != nil {
		t.Fatalf("create payment request: %v", err)
	}
	return result
}

func TestPaymentServiceCreatePaymentRequest(t *testing.T) {
	f := newShopFixture(t)
	cart := f.checkoutCart(t)

	result := f.startPayment(t)
	request := result.Request
	if result.PaymentURL != "https://pay.example/session" || result.GatewayType != "stripe" {
		t.Fatalf("unexpected result %+v", result)
	}
	if request.Status != domain.PaymentRequestInitiated || request.Amount != 4000 || request.Currency != "EUR" {
		t.Fatalf("unexpected request %+v", request)
	}
	if request.CartID != cart.ID || request.Reference != (domain.DocumentRef{Kind: domain.ReferenceCart, ID: cart.ID}) {
		t.Fatalf("expected request to reference the cart, got %+v", request.Reference)
	}
	if request.Gateway != "Stripe-EUR" || request.Email != "ada@example.com" || request.SessionID != "cs_1" {
		t.Fatalf("unexpected request details %+v", request)
	}

	session := f.gateway.lastSession()
	if session.SuccessURL != "https://shop.example/payment-success?payment_request="+request.ID {
		t.Fatalf("unexpected success url %q", session.SuccessURL)
	}
	if session.CancelURL != "https://shop.example/payment-failed?payment_request="+request.ID {
		t.Fatalf("unexpected cancel url %q", session.CancelURL)
	}
	if session.ClientReferenceID != request.ID || session.Amount != 4000 || session.Metadata["cart_id"] != cart.ID {
		t.Fatalf("unexpected session request %+v", session)
	}
	if f.gateway.contexts[0].GatewayType != "stripe" {
		t.Fatalf("unexpected gateway context %+v", f.gateway.contexts[0])
	}
}

func TestPaymentServiceReusesOpenRequestAndReplacesFailed(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	f.checkoutCart(t)

	first := f.startPayment(t)
	second := f.startPayment(t)
	if first.Request.ID != second.Request.ID {
		t.Fatalf("expected the open request to be reused, got %s and %s", first.Request.ID, second.Request.ID)
	}
	if second.Request.SessionID != "cs_2" {
		t.Fatalf("expected a fresh gateway session, got %s", second.Request.SessionID)
	}

	if _, err := f.payments.HandleFailure(ctx, first.Request.ID, "declined"); err != nil {
		t.Fatalf("handle failure: %v", err)
	}
	third := f.startPayment(t)
	if third.Request.ID == first.Request.ID {
		t.Fatalf("expected failed request to be replaced")
	}
	if _, err := f.reg.PaymentRequests().Get(ctx, first.Request.ID); err == nil {
		t.Fatalf("expected failed request to be deleted")
	}
}

func TestPaymentServiceCreatePaymentRequestErrors(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()

	if _, err := f.payments.CreatePaymentRequest(ctx, CreatePaymentRequestCommand{Shopper: testShopper}); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected missing cart, got %v", err)
	}
	cart := f.checkoutCart(t)

	if _, err := f.payments.CreatePaymentRequest(ctx, CreatePaymentRequestCommand{Shopper: testShopper, PaymentMethod: "PayPal"}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected unknown method to be rejected, got %v", err)
	}
	if _, err := f.payments.CreatePaymentRequest(ctx, CreatePaymentRequestCommand{Shopper: Shopper{UserID: "user-2", PartyID: "CUST-2"}, CartID: cart.ID}); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected foreign cart to be hidden, got %v", err)
	}

	f.gateway.url = ""
	if _, err := f.payments.CreatePaymentRequest(ctx, CreatePaymentRequestCommand{Shopper: testShopper}); !errors.Is(err, ErrPaymentGatewayFailed) {
		t.Fatalf("expected gateway failure without url, got %v", err)
	}
	f.gateway.url = "https://pay.example/session"
	f.gateway.err = errors.New("stripe down")
	if _, err := f.payments.CreatePaymentRequest(ctx, CreatePaymentRequestCommand{Shopper: testShopper}); !errors.Is(err, ErrPaymentGatewayFailed) {
		t.Fatalf("expected gateway failure, got %v", err)
	}
	f.gateway.err = nil

	result := f.startPayment(t)
	if _, err := f.payments.HandleSuccess(ctx, result.Request.ID, nil); err != nil {
		t.Fatalf("handle success: %v", err)
	}
	_, err := f.payments.CreatePaymentRequest(ctx, CreatePaymentRequestCommand{Shopper: testShopper, CartID: cart.ID})
	if !errors.Is(err, ErrPaymentAlreadyPaid) {
		t.Fatalf("expected already paid, got %v", err)
	}
}

func TestPaymentServiceHandleSuccessSettlesOnce(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	cart := f.checkoutCart(t)
	request := f.startPayment(t).Request
	f.gateway.event = payments.CallbackEvent{
		RequestID: request.ID,
		Status:    payments.StatusSucceeded,
		Amount:    4000,
		Raw:       map[string]any{"payment_intent": "pi_1"},
	}
	input := CallbackInput{PaymentMethod: "Stripe", Payload: []byte(`{}`)}

	first, err := f.payments.HandleCallback(ctx, input)
	if err != nil {
		t.Fatalf("first callback: %v", err)
	}
	second, err := f.payments.HandleCallback(ctx, input)
	if err != nil {
		t.Fatalf("second callback: %v", err)
	}
	orderID := "ord_" + cart.ID
	want := "/thank_you?sales_order=" + orderID
	if !first.Success || first.RedirectTo != want || first.OrderID != orderID {
		t.Fatalf("unexpected first redirect %+v", first)
	}
	if second != first {
		t.Fatalf("expected the stored redirect on replay, got %+v", second)
	}
	if n := f.store.OrderCount(); n != 1 {
		t.Fatalf("expected exactly one order, got %d", n)
	}

	stored, err := f.reg.PaymentRequests().Get(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != domain.PaymentRequestPaid || stored.PaidAt == nil || stored.Reference.Kind != domain.ReferenceOrder {
		t.Fatalf("unexpected stored request %+v", stored)
	}
	invoice, err := f.reg.Invoices().FindByOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("find invoice: %v", err)
	}
	if invoice.Status != domain.InvoiceStatusPaid || invoice.OutstandingAmount != 0 {
		t.Fatalf("expected paid invoice, got %+v", invoice)
	}
	entries, err := f.reg.PaymentEntries().ListByOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Reference != "pi_1" || entries[0].ID != "pe_"+request.ID {
		t.Fatalf("unexpected payment entries %+v", entries)
	}
}

func TestPaymentServiceCallbackRejectsUnverifiedEvents(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	f.checkoutCart(t)
	request := f.startPayment(t).Request
	valid := payments.CallbackEvent{RequestID: request.ID, Status: payments.StatusSucceeded, Amount: 4000}

	cases := []struct {
		name   string
		method string
		event  payments.CallbackEvent
		err    error
	}{
		{name: "bad signature", method: "Stripe", event: valid, err: payments.ErrInvalidSignature},
		{name: "unknown request", method: "Stripe", event: payments.CallbackEvent{RequestID: "nope", Status: payments.StatusSucceeded}},
		{name: "amount mismatch", method: "Stripe", event: payments.CallbackEvent{RequestID: request.ID, Status: payments.StatusSucceeded, Amount: 1}},
		{name: "gateway mismatch", method: "PayPal", event: valid},
		{name: "missing method", method: " ", event: valid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.gateway.event = tc.event
			f.gateway.eventErr = tc.err
			_, err := f.payments.HandleCallback(ctx, CallbackInput{PaymentMethod: tc.method, Payload: []byte(`{}`)})
			if !errors.Is(err, ErrPaymentSignature) {
				t.Fatalf("expected signature error, got %v", err)
			}
			if msg := UserMessage(err, ""); msg != "Invalid payment signature" {
				t.Fatalf("unexpected message %q", msg)
			}
		})
	}

	stored, err := f.reg.PaymentRequests().Get(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != domain.PaymentRequestInitiated || f.store.OrderCount() != 0 {
		t.Fatalf("expected state to be untouched, got %s", stored.Status)
	}
}

func TestPaymentServiceFailureCallback(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	f.checkoutCart(t)
	request := f.startPayment(t).Request
	f.gateway.event = payments.CallbackEvent{RequestID: request.ID, Status: payments.StatusFailed, Reason: "<b>Card declined</b>"}

	redirect, err := f.payments.HandleCallback(ctx, CallbackInput{PaymentMethod: "Stripe-EUR"})
	if err != nil {
		t.Fatalf("failure callback: %v", err)
	}
	if redirect.Success || redirect.RedirectTo != PaymentFailedPath || redirect.Message != "Card declined" {
		t.Fatalf("unexpected redirect %+v", redirect)
	}

	after, err := f.payments.HandleSuccess(ctx, request.ID, nil)
	if err != nil {
		t.Fatalf("handle success: %v", err)
	}
	if after.Success || f.store.OrderCount() != 0 {
		t.Fatalf("expected failed request to keep its outcome, got %+v", after)
	}

	f.gateway.event = payments.CallbackEvent{RequestID: request.ID, Status: payments.StatusPending}
	pending, err := f.payments.HandleCallback(ctx, CallbackInput{PaymentMethod: "Stripe"})
	if err != nil || pending.RequestID != request.ID || pending.Success {
		t.Fatalf("unexpected pending outcome %+v err=%v", pending, err)
	}

	if _, err := f.payments.HandleFailure(ctx, "missing", ""); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPaymentServiceResumesPartialSettlement(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	cart := f.checkoutCart(t)
	flaky := &flakyOrders{OrderService: f.orders, failures: 1}
	svc := f.newPaymentService(t, flaky)

	result, err := svc.CreatePaymentRequest(ctx, CreatePaymentRequestCommand{Shopper: testShopper})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	requestID := result.Request.ID

	failed, err := svc.HandleSuccess(ctx, requestID, nil)
	if err != nil {
		t.Fatalf("first success: %v", err)
	}
	if failed.Success || failed.RedirectTo != PaymentFailedPath {
		t.Fatalf("expected incomplete settlement, got %+v", failed)
	}
	stored, err := f.reg.PaymentRequests().Get(ctx, requestID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != domain.PaymentRequestInitiated || stored.Reference.ID != "ord_"+cart.ID {
		t.Fatalf("expected unpaid request pointing at the order, got %+v", stored)
	}

	f.gateway.event = payments.CallbackEvent{RequestID: requestID, Status: payments.StatusSucceeded, Amount: 4000}
	done, err := svc.HandleCallback(ctx, CallbackInput{PaymentMethod: "Stripe"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !done.Success || f.store.OrderCount() != 1 {
		t.Fatalf("expected settlement to complete once, got %+v", done)
	}
}

func TestPaymentServiceCallbackReportsIncompleteSettlement(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	f.checkoutCart(t)
	svc := f.newPaymentService(t, &flakyOrders{OrderService: f.orders, failures: 1})
	result, err := svc.CreatePaymentRequest(ctx, CreatePaymentRequestCommand{Shopper: testShopper})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	f.gateway.event = payments.CallbackEvent{RequestID: result.Request.ID, Status: payments.StatusSucceeded}

	redirect, err := svc.HandleCallback(ctx, CallbackInput{PaymentMethod: "Stripe"})
	if !errors.Is(err, ErrPaymentUnavailable) {
		t.Fatalf("expected unavailable so the gateway retries, got %v", err)
	}
	if redirect.Success {
		t.Fatalf("expected unsuccessful redirect, got %+v", redirect)
	}
}

func TestPaymentServiceConfiguredRedirects(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	cart := f.checkoutCart(t)
	svc, err := NewPaymentService(PaymentServiceDeps{
		Carts:         f.reg.Carts(),
		Settings:      f.reg.Settings(),
		Customers:     f.reg.Customers(),
		Requests:      f.reg.PaymentRequests(),
		Orders:        f.orders,
		Parties:       f.customers,
		Pricer:        f.pricer,
		Gateway:       f.gateway,
		ReturnBaseURL: "https://shop.example",
		ThankYouPath:  "danke",
		FailurePath:   "/checkout/failed",
		Locale:        "de",
		Clock:         func() time.Time { return fixtureNow },
		IDGenerator:   f.ids.next,
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}

	result, err := svc.CreatePaymentRequest(ctx, CreatePaymentRequestCommand{Shopper: testShopper})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	session := f.gateway.sessions[len(f.gateway.sessions)-1]
	if want := "https://shop.example/checkout/failed?payment_request=" + result.Request.ID; session.CancelURL != want {
		t.Fatalf("unexpected cancel url %q", session.CancelURL)
	}
	if session.Locale != "de" {
		t.Fatalf("unexpected locale %q", session.Locale)
	}

	redirect, err := svc.HandleSuccess(ctx, result.Request.ID, nil)
	if err != nil {
		t.Fatalf("handle success: %v", err)
	}
	if want := "/danke?sales_order=ord_" + cart.ID; !redirect.Success || redirect.RedirectTo != want {
		t.Fatalf("unexpected redirect %+v", redirect)
	}
}

func TestPaymentServiceReturnWithoutCollectedPaymentDoesNotSettle(t *testing.T) {
	cases := []struct {
		name   string
		status payments.Status
		amount int64
		err    error
	}{
		{name: "session still open", status: payments.StatusPending},
		{name: "amount differs", status: payments.StatusSucceeded, amount: 1},
		{name: "lookup fails", status: payments.StatusSucceeded, err: errors.New("stripe down")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newShopFixture(t)
			ctx := context.Background()
			f.checkoutCart(t)
			request := f.startPayment(t).Request
			f.gateway.confirmStatus = tc.status
			f.gateway.confirmAmount = tc.amount
			f.gateway.confirmErr = tc.err

			redirect, err := f.payments.HandleSuccess(ctx, request.ID, map[string]any{"reference": "forged"})
			if err != nil {
				t.Fatalf("handle success: %v", err)
			}
			if redirect.Success || redirect.OrderID != "" || redirect.Message != "Your payment is being confirmed" {
				t.Fatalf("unexpected redirect %+v", redirect)
			}
			if len(f.gateway.confirmed) != 1 || f.gateway.confirmed[0] != request.SessionID {
				t.Fatalf("expected the gateway session to be looked up, got %v", f.gateway.confirmed)
			}
			stored, err := f.reg.PaymentRequests().Get(ctx, request.ID)
			if err != nil {
				t.Fatalf("get request: %v", err)
			}
			if stored.Status != domain.PaymentRequestInitiated || f.store.OrderCount() != 0 {
				t.Fatalf("expected request to stay initiated without an order, got %s", stored.Status)
			}
		})
	}
}

func TestPaymentServiceReturnAfterExpiredSessionFails(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	f.checkoutCart(t)
	request := f.startPayment(t).Request
	f.gateway.confirmStatus = payments.StatusFailed

	redirect, err := f.payments.HandleSuccess(ctx, request.ID, nil)
	if err != nil {
		t.Fatalf("handle success: %v", err)
	}
	if redirect.Success || redirect.RedirectTo != PaymentFailedPath {
		t.Fatalf("unexpected redirect %+v", redirect)
	}
	stored, err := f.reg.PaymentRequests().Get(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != domain.PaymentRequestFailed {
		t.Fatalf("expected failed request, got %s", stored.Status)
	}
}

func TestPaymentServiceReturnSettlesConfirmedSession(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	cart := f.checkoutCart(t)
	request := f.startPayment(t).Request

	redirect, err := f.payments.HandleSuccess(ctx, request.ID, map[string]any{"reference": "forged"})
	if err != nil {
		t.Fatalf("handle success: %v", err)
	}
	if !redirect.Success || redirect.OrderID != "ord_"+cart.ID {
		t.Fatalf("unexpected redirect %+v", redirect)
	}
	entries, err := f.reg.PaymentEntries().ListByOrder(ctx, "ord_"+cart.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Reference != "pi_"+request.SessionID {
		t.Fatalf("expected the gateway reference on the entry, got %+v", entries)
	}
}

func TestPaymentServiceVerifiedCallbackSettlesFailedRequest(t *testing.T) {
	f := newShopFixture(t)
	ctx := context.Background()
	f.checkoutCart(t)
	request := f.startPayment(t).Request
	if _, err := f.payments.HandleFailure(ctx, request.ID, "closed tab"); err != nil {
		t.Fatalf("handle failure: %v", err)
	}

	f.gateway.event = payments.CallbackEvent{RequestID: request.ID, Status: payments.StatusSucceeded, Amount: 4000}
	redirect, err := f.payments.HandleCallback(ctx, CallbackInput{PaymentMethod: "Stripe"})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !redirect.Success || f.store.OrderCount() != 1 {
		t.Fatalf("expected collected payment to settle, got %+v", redirect)
	}
}
