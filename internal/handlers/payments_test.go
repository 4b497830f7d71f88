package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/webshop/internal/services"
)

func TestPaymentHandlersCreateRequest(t *testing.T) {
	var got services.CreatePaymentRequestCommand
	payments := &stubPaymentService{
		create: func(_ context.Context, cmd services.CreatePaymentRequestCommand) (services.PaymentRequestResult, error) {
			got = cmd
			return services.PaymentRequestResult{
				Request:     services.PaymentRequest{ID: "pr_1", Status: "initiated", Amount: 2975, Currency: "eur"},
				PaymentURL:  "https://checkout.stripe.com/c/pay/cs_test",
				GatewayType: "stripe",
			}, nil
		},
	}
	h := NewPaymentHandlers(payments, nil)

	rr := serve(t, h.Routes, testUser, http.MethodPost, "/requests", `{"cart_id":"cart-1","payment_method":"Card"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "cart-1", got.CartID)
	assert.Equal(t, "Card", got.PaymentMethod)
	assert.Equal(t, "user-1", got.Shopper.UserID)

	body := decodeBody(t, rr)
	assert.Equal(t, "pr_1", body["request_id"])
	assert.Equal(t, "EUR", body["currency"])
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test", body["payment_url"])
}

func TestPaymentHandlersCreateRequestUsesIdempotencyMiddleware(t *testing.T) {
	called := false
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusConflict)
		})
	}
	h := NewPaymentHandlers(&stubPaymentService{}, guard)

	rr := serve(t, h.Routes, testUser, http.MethodPost, "/requests", `{}`)
	assert.True(t, called)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestPaymentHandlersSuccessAndFailure(t *testing.T) {
	payments := &stubPaymentService{
		success: func(_ context.Context, id string, payload map[string]any) (services.PaymentRedirect, error) {
			assert.Equal(t, "pr_1", id)
			assert.Equal(t, "cs_test", payload["session_id"])
			return services.PaymentRedirect{Success: true, RedirectTo: "/thank_you?sales_order=ord_1", OrderID: "ord_1", RequestID: id}, nil
		},
		failure: func(_ context.Context, id, reason string) (services.PaymentRedirect, error) {
			if id == "pr_missing" {
				return services.PaymentRedirect{}, services.ErrPaymentNotFound
			}
			return services.PaymentRedirect{RedirectTo: "/payment-failed", Message: reason, RequestID: id}, nil
		},
	}
	h := NewPaymentHandlers(payments, nil)

	rr := serve(t, h.Routes, testUser, http.MethodPost, "/requests/pr_1/success", `{"session_id":"cs_test"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "/thank_you?sales_order=ord_1", body["redirect_to"])
	cookie := findCookie(rr, defaultCartCountCookie)
	require.NotNil(t, cookie)
	assert.Less(t, cookie.MaxAge, 0)

	rr = serve(t, h.Routes, testUser, http.MethodPost, "/requests/pr_2/failure", `{"reason":"card declined"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeBody(t, rr)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "card declined", body["message"])

	rr = serve(t, h.Routes, testUser, http.MethodPost, "/requests/pr_missing/failure", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebhookHandlersPaymentCallback(t *testing.T) {
	var got services.CallbackInput
	payments := &stubPaymentService{
		callback: func(_ context.Context, input services.CallbackInput) (services.PaymentRedirect, error) {
			got = input
			if strings.Contains(string(input.Payload), "forged") {
				return services.PaymentRedirect{}, &services.UserError{Kind: services.ErrPaymentSignature, Message: "Invalid signature"}
			}
			return services.PaymentRedirect{Success: true, RedirectTo: "/thank_you?sales_order=ord_1"}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(payments).Routes)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/callback", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set(paymentMethodHeader, "Card")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Card", got.PaymentMethod)
	assert.Equal(t, `{"id":"evt_1"}`, string(got.Payload))
	assert.NotNil(t, got.Request)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/payments/callback?payment_method=Card", strings.NewReader(`forged`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "payment_invalid_signature", body["error"])
	assert.Equal(t, "callback could not be verified", body["message"])
}

func TestWebhookHandlersRejectsLargeBodies(t *testing.T) {
	payments := &stubPaymentService{
		callback: func(context.Context, services.CallbackInput) (services.PaymentRedirect, error) {
			return services.PaymentRedirect{}, errors.New("unreachable")
		},
	}
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(payments).Routes)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/callback", strings.NewReader(strings.Repeat("x", maxCallbackBodySize+1)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestInternalHandlersRecordPayment(t *testing.T) {
	var got services.RecordInvoicePaymentCommand
	orders := &stubOrderService{
		record: func(_ context.Context, cmd services.RecordInvoicePaymentCommand) (services.InvoicePaymentResult, error) {
			got = cmd
			return services.InvoicePaymentResult{
				Invoice: services.Invoice{ID: cmd.InvoiceID, Status: "paid", GiftCardsIssued: true},
				GiftCards: services.GiftCardIssueResult{
					InvoiceID: cmd.InvoiceID,
					Units: []services.GiftCardUnitResult{
						{ItemCode: "GIFT", Unit: 1, Code: "GC-AAAA"},
						{ItemCode: "GIFT", Unit: 2, Err: services.ErrGiftCardCodeTaken},
					},
				},
			}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalHandlers(orders).Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/invoices/inv_1:record-payment", strings.NewReader(`{"amount":2975,"reference":"bank-42","gateway":"Bank"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "inv_1", got.InvoiceID)
	assert.Equal(t, int64(2975), got.Amount)
	assert.Equal(t, "bank-42", got.Reference)

	body := decodeBody(t, rr)
	giftCards := body["gift_cards"].(map[string]any)
	assert.Equal(t, false, giftCards["complete"])
	assert.Equal(t, []any{"GC-AAAA"}, giftCards["issued"])

	req = httptest.NewRequest(http.MethodPost, "/internal/invoices/inv_1:record-payment", strings.NewReader(`{"amount":0}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
