package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/webshop/internal/services"
)

var (
	testUser  = services.Shopper{UserID: "user-1", Email: "ada@example.com", PartyID: "CUST-1"}
	testGuest = services.Shopper{GuestToken: "3f1c2a9e-5b7d-4c8e-9a61-0d2b7e4f8c11"}
)

type stubCartService struct {
	services.CartService
	view       func(context.Context, services.Shopper) (services.CartView, error)
	updateLine func(context.Context, services.UpdateLineCommand) (services.UpdateLineResult, error)
	setAddress func(context.Context, services.SetCartAddressCommand) (services.Cart, error)
	applyRule  func(context.Context, services.Shopper, string) (services.Cart, error)
}

func (s *stubCartService) CartView(ctx context.Context, shopper services.Shopper) (services.CartView, error) {
	return s.view(ctx, shopper)
}

func (s *stubCartService) UpdateLine(ctx context.Context, cmd services.UpdateLineCommand) (services.UpdateLineResult, error) {
	return s.updateLine(ctx, cmd)
}

func (s *stubCartService) SetAddress(ctx context.Context, cmd services.SetCartAddressCommand) (services.Cart, error) {
	return s.setAddress(ctx, cmd)
}

func (s *stubCartService) ApplyShippingRule(ctx context.Context, shopper services.Shopper, ruleID string) (services.Cart, error) {
	return s.applyRule(ctx, shopper, ruleID)
}

type stubPromotionService struct {
	services.PromotionService
	apply func(context.Context, services.Shopper, string, string) (services.Cart, error)
}

func (s *stubPromotionService) ApplyCoupon(ctx context.Context, shopper services.Shopper, code, referral string) (services.Cart, error) {
	return s.apply(ctx, shopper, code, referral)
}

type stubLoyaltyService struct {
	services.LoyaltyService
	apply func(context.Context, services.Shopper, string) (services.Cart, error)
}

func (s *stubLoyaltyService) ApplyPoints(ctx context.Context, shopper services.Shopper, points string) (services.Cart, error) {
	return s.apply(ctx, shopper, points)
}

type stubGuestService struct {
	enabled bool
	token   string
	merge   services.MergeResult
	merged  []string
	replace func(context.Context, string, []services.GuestCartItem) (*services.Cart, error)
}

func (s *stubGuestService) Enabled(context.Context) bool { return s.enabled }

func (s *stubGuestService) EnsureSession(token string) (string, bool) {
	if token != "" {
		return token, false
	}
	return s.token, true
}

func (s *stubGuestService) CreateOrUpdateGuestCart(ctx context.Context, token string, items []services.GuestCartItem) (*services.Cart, error) {
	return s.replace(ctx, token, items)
}

func (s *stubGuestService) Merge(_ context.Context, shopper services.Shopper, token string) services.MergeResult {
	s.merged = append(s.merged, shopper.UserID+"<-"+token)
	return s.merge
}

type stubCustomerService struct {
	services.CustomerService
	partyID  string
	resolved int
}

func (s *stubCustomerService) ResolveShopper(_ context.Context, shopper services.Shopper) (services.Shopper, error) {
	s.resolved++
	shopper.PartyID = s.partyID
	return shopper, nil
}

type stubCheckoutService struct {
	services.CheckoutService
	view     func(context.Context, services.Shopper) (services.CheckoutView, error)
	shipping func(context.Context, services.Shopper, services.ShippingQuery) ([]services.ShippingOption, error)
	contact  func(context.Context, services.UpdateContactInfoCommand) (string, error)
}

func (s *stubCheckoutService) BuildCheckoutView(ctx context.Context, shopper services.Shopper) (services.CheckoutView, error) {
	return s.view(ctx, shopper)
}

func (s *stubCheckoutService) ListShippingMethods(ctx context.Context, shopper services.Shopper, query services.ShippingQuery) ([]services.ShippingOption, error) {
	return s.shipping(ctx, shopper, query)
}

func (s *stubCheckoutService) UpdateContactInfo(ctx context.Context, cmd services.UpdateContactInfoCommand) (string, error) {
	return s.contact(ctx, cmd)
}

type stubOrderService struct {
	services.OrderService
	place    func(context.Context, services.Shopper) (services.PlaceOrderResult, error)
	thankYou func(context.Context, services.Shopper, string) (services.ThankYouView, error)
	record   func(context.Context, services.RecordInvoicePaymentCommand) (services.InvoicePaymentResult, error)
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, shopper services.Shopper) (services.PlaceOrderResult, error) {
	return s.place(ctx, shopper)
}

func (s *stubOrderService) ThankYou(ctx context.Context, shopper services.Shopper, orderID string) (services.ThankYouView, error) {
	return s.thankYou(ctx, shopper, orderID)
}

func (s *stubOrderService) RecordInvoicePayment(ctx context.Context, cmd services.RecordInvoicePaymentCommand) (services.InvoicePaymentResult, error) {
	return s.record(ctx, cmd)
}

type stubPaymentService struct {
	services.PaymentService
	create   func(context.Context, services.CreatePaymentRequestCommand) (services.PaymentRequestResult, error)
	success  func(context.Context, string, map[string]any) (services.PaymentRedirect, error)
	failure  func(context.Context, string, string) (services.PaymentRedirect, error)
	callback func(context.Context, services.CallbackInput) (services.PaymentRedirect, error)
}

func (s *stubPaymentService) CreatePaymentRequest(ctx context.Context, cmd services.CreatePaymentRequestCommand) (services.PaymentRequestResult, error) {
	return s.create(ctx, cmd)
}

func (s *stubPaymentService) HandleSuccess(ctx context.Context, id string, payload map[string]any) (services.PaymentRedirect, error) {
	return s.success(ctx, id, payload)
}

func (s *stubPaymentService) HandleFailure(ctx context.Context, id, reason string) (services.PaymentRedirect, error) {
	return s.failure(ctx, id, reason)
}

func (s *stubPaymentService) HandleCallback(ctx context.Context, input services.CallbackInput) (services.PaymentRedirect, error) {
	return s.callback(ctx, input)
}

// serve mounts routes under a router that injects shopper and returns the recorded response.
func serve(t *testing.T, routes func(chi.Router), shopper services.Shopper, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(withShopper(r.Context(), shopper, CookieSettings{}.withDefaults())))
		})
	})
	router.Route("/", routes)
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
