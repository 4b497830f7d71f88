package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hanko-field/webshop/internal/services"
)

func TestWriteServiceErrorClasses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: fmt.Errorf("%w: boom", services.ErrCartConflict), status: http.StatusConflict, code: "cart_conflict"},
		{err: services.ErrPaymentAlreadyPaid, status: http.StatusConflict, code: "payment_conflict"},
		{err: services.ErrPaymentGatewayFailed, status: http.StatusBadGateway, code: "payment_gateway_failed"},
		{err: services.ErrCartPricingInvalidInput, status: http.StatusBadRequest, code: "cart_pricing_invalid_request"},
		{err: services.ErrLoyaltyUnavailable, status: http.StatusServiceUnavailable, code: "loyalty_unavailable"},
		{err: services.ErrGuestCartDisabled, status: http.StatusForbidden, code: "guest_session_disabled"},
		{err: context.DeadlineExceeded, status: http.StatusGatewayTimeout, code: "request_timeout"},
		{err: errors.New("unexpected"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		writeServiceError(context.Background(), rr, tc.err)
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
		if body := decodeBody(t, rr); body["error"] != tc.code {
			t.Fatalf("%v: expected code %q, got %v", tc.err, tc.code, body["error"])
		}
	}
}

func TestWriteServiceErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	writeServiceError(context.Background(), rr, fmt.Errorf("%w: firestore: deadline", services.ErrOrderUnavailable))
	body := decodeBody(t, rr)
	if body["message"] != "service temporarily unavailable" {
		t.Fatalf("expected generic message, got %v", body["message"])
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Points flexibleString `json:"points"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"points": 120}`))
	if err := decodeJSON(req, &dst, false); err != nil || dst.Points != "120" {
		t.Fatalf("expected numeric points, got %q err=%v", dst.Points, err)
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"points": true}`))
	if err := decodeJSON(req, &dst, false); err == nil {
		t.Fatalf("expected booleans to be rejected")
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("  "))
	if err := decodeJSON(req, &dst, true); err != nil {
		t.Fatalf("expected optional empty body to pass, got %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat(" ", maxJSONBodySize+1)))
	if err := decodeJSON(req, &dst, true); !errors.Is(err, errBodyTooLarge) {
		t.Fatalf("expected size limit, got %v", err)
	}
}
