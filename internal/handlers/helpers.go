package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/hanko-field/webshop/internal/platform/httpx"
	"github.com/hanko-field/webshop/internal/platform/requestctx"
	"github.com/hanko-field/webshop/internal/services"
	"go.uber.org/zap"
)

const maxJSONBodySize = 32 * 1024

var (
	errBodyTooLarge = errors.New("request body exceeds allowed size")
	errEmptyBody    = errors.New("request body is required")
)

// readBody reads at most limit bytes of the request body.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, errEmptyBody
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// decodeJSON decodes the request body into dst, rejecting unknown fields. An empty body is
// accepted when optional is true.
func decodeJSON(r *http.Request, dst any, optional bool) error {
	body, err := readBody(r, maxJSONBodySize)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if optional {
			return nil
		}
		return errEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	if w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "no-store")
	}
	httpx.WriteJSON(w, status, body)
}

// flexibleString accepts a JSON string or number and keeps its text. Quantities and loyalty
// points arrive in both forms and are validated by the services.
type flexibleString string

func (f *flexibleString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected a number or string")
	}
	*f = flexibleString(n.String())
	return nil
}

type errorClass struct {
	sentinels []error
	status    int
	code      string
	message   string
}

var errorClasses = []errorClass{
	{
		sentinels: []error{services.ErrPaymentSignature},
		status:    http.StatusUnauthorized,
		code:      "invalid_signature",
		message:   "callback could not be verified",
	},
	{
		sentinels: []error{services.ErrCartLoginRequired, services.ErrLoyaltyLoginRequired},
		status:    http.StatusUnauthorized,
		code:      "login_required",
		message:   "login required",
	},
	{
		sentinels: []error{services.ErrCartNotFound, services.ErrOrderNotFound, services.ErrPaymentNotFound},
		status:    http.StatusNotFound,
		code:      "not_found",
		message:   "resource not found",
	},
	{
		sentinels: []error{services.ErrCartConflict, services.ErrOrderConflict, services.ErrPaymentAlreadyPaid, services.ErrCustomerConflict, services.ErrGiftCardCodeTaken},
		status:    http.StatusConflict,
		code:      "conflict",
		message:   "resource was modified concurrently; retry",
	},
	{
		sentinels: []error{services.ErrCheckoutDisabled, services.ErrGuestCartDisabled},
		status:    http.StatusForbidden,
		code:      "disabled",
		message:   "this feature is disabled",
	},
	{
		sentinels: []error{services.ErrPaymentGatewayFailed},
		status:    http.StatusBadGateway,
		code:      "gateway_failed",
		message:   "payment gateway failed",
	},
	{
		sentinels: []error{
			services.ErrCartUnavailable, services.ErrCartPricingUnavailable, services.ErrCheckoutUnavailable,
			services.ErrLoyaltyUnavailable, services.ErrOrderUnavailable, services.ErrPaymentUnavailable,
			services.ErrPromotionUnavailable, services.ErrCustomerUnavailable, services.ErrGiftCardsIncomplete,
		},
		status:  http.StatusServiceUnavailable,
		code:    "unavailable",
		message: "service temporarily unavailable",
	},
	{
		sentinels: []error{
			services.ErrCartInvalidInput, services.ErrCartPriceOverride, services.ErrCartPricingInvalidInput,
			services.ErrCheckoutInvalidInput, services.ErrCheckoutEmptyCart, services.ErrGuestSessionInvalid,
			services.ErrLoyaltyInvalidInput, services.ErrLoyaltyNotEnrolled, services.ErrLoyaltyInsufficientPoints,
			services.ErrLoyaltyExceedsTotal, services.ErrOrderInvalidInput, services.ErrOrderOutOfStock,
			services.ErrPaymentInvalidInput, services.ErrCouponInvalid, services.ErrCouponExceedsTotal,
			services.ErrCustomerInvalidInput,
		},
		status:  http.StatusBadRequest,
		code:    "invalid_request",
		message: "invalid request",
	},
}

// writeServiceError maps service sentinels onto HTTP errors. Shopper facing messages carried by
// the error are passed through; signature failures always use the generic message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	for _, class := range errorClasses {
		for _, sentinel := range class.sentinels {
			if !errors.Is(err, sentinel) {
				continue
			}
			message := class.message
			if !errors.Is(err, services.ErrPaymentSignature) {
				message = services.UserMessage(err, class.message)
			}
			if class.status >= http.StatusInternalServerError {
				requestctx.Logger(ctx).Warn("service unavailable", zap.Error(err))
			}
			httpx.WriteError(ctx, w, httpx.NewError(errorCode(class.code, sentinel), message, class.status))
			return
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request timed out", http.StatusGatewayTimeout))
		return
	}
	requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
}

// errorCode refines a class code with the failing sentinel: "cart service: not found" becomes
// "cart_not_found" for the not_found class.
func errorCode(class string, sentinel error) string {
	domain, _, _ := strings.Cut(sentinel.Error(), ":")
	domain = strings.TrimSuffix(strings.TrimSpace(domain), " service")
	domain = strings.ReplaceAll(domain, " ", "_")
	switch {
	case domain == "":
		return class
	case errors.Is(sentinel, services.ErrCheckoutEmptyCart):
		return "cart_empty"
	case errors.Is(sentinel, services.ErrLoyaltyInsufficientPoints):
		return "insufficient_points"
	case errors.Is(sentinel, services.ErrOrderOutOfStock):
		return "out_of_stock"
	}
	return domain + "_" + class
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
