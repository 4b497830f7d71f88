package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	// SignatureHeader carries the hex HMAC-SHA256 of the raw body for HMAC signed gateways.
	SignatureHeader = "X-Payment-Signature"

	metadataRequestID = "payment_request_id"
)

// StripeWebhookVerifier authenticates Stripe webhook deliveries for Checkout sessions.
type StripeWebhookVerifier struct {
	secret string
}

var _ CallbackVerifier = (*StripeWebhookVerifier)(nil)

// NewStripeWebhookVerifier constructs a verifier for the endpoint signing secret.
func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &StripeWebhookVerifier{secret: secret}, nil
}

// VerifyCallback checks the Stripe-Signature header and maps Checkout session events onto a
// CallbackEvent. Events about other objects are rejected.
func (v *StripeWebhookVerifier) VerifyCallback(_ context.Context, payload []byte, header http.Header) (CallbackEvent, error) {
	if v == nil {
		return CallbackEvent{}, errors.New("stripe: verifier is nil")
	}
	event, err := webhook.ConstructEventWithOptions(payload, header.Get(stripeSignatureHeader), v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return CallbackEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return CallbackEvent{}, fmt.Errorf("%w: event has no data", ErrInvalidSignature)
	}

	var status Status
	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		status = StatusSucceeded
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		status = StatusFailed
	default:
		return CallbackEvent{}, fmt.Errorf("%w: unsupported event type %q", ErrInvalidSignature, event.Type)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return CallbackEvent{}, fmt.Errorf("%w: decode session: %v", ErrInvalidSignature, err)
	}
	if status == StatusSucceeded && session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		status = StatusPending
	}

	requestID := strings.TrimSpace(session.ClientReferenceID)
	if requestID == "" {
		requestID = strings.TrimSpace(session.Metadata[metadataRequestID])
	}
	out := CallbackEvent{
		RequestID: requestID,
		SessionID: session.ID,
		Status:    status,
		Amount:    session.AmountTotal,
		Currency:  strings.ToUpper(string(session.Currency)),
		Raw: map[string]any{
			"event_id":   event.ID,
			"event_type": string(event.Type),
			"session_id": session.ID,
		},
	}
	if session.PaymentIntent != nil {
		out.Raw["payment_intent"] = session.PaymentIntent.ID
	}
	if status == StatusFailed {
		out.Reason = "Payment session " + strings.TrimPrefix(string(event.Type), "checkout.session.")
	}
	return out, nil
}

// HMACVerifier authenticates gateways that sign a JSON body with a shared secret.
type HMACVerifier struct {
	secret []byte
}

var _ CallbackVerifier = (*HMACVerifier)(nil)

// NewHMACVerifier constructs a verifier for the shared secret.
func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("payments: hmac secret is required")
	}
	return &HMACVerifier{secret: []byte(secret)}, nil
}

type hmacCallbackPayload struct {
	PaymentRequestID string         `json:"payment_request_id"`
	Status           string         `json:"status"`
	SessionID        string         `json:"session_id"`
	Amount           int64          `json:"amount"`
	Currency         string         `json:"currency"`
	Reason           string         `json:"reason"`
	Data             map[string]any `json:"data"`
}

// VerifyCallback compares the signature header against the HMAC-SHA256 of payload.
func (v *HMACVerifier) VerifyCallback(_ context.Context, payload []byte, header http.Header) (CallbackEvent, error) {
	if v == nil {
		return CallbackEvent{}, errors.New("payments: verifier is nil")
	}
	provided, err := hex.DecodeString(strings.TrimSpace(header.Get(SignatureHeader)))
	if err != nil || len(provided) == 0 {
		return CallbackEvent{}, fmt.Errorf("%w: malformed signature header", ErrInvalidSignature)
	}
	if !hmac.Equal(provided, Sign(v.secret, payload)) {
		return CallbackEvent{}, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	var body hmacCallbackPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return CallbackEvent{}, fmt.Errorf("%w: decode payload: %v", ErrInvalidSignature, err)
	}
	var status Status
	switch strings.ToLower(strings.TrimSpace(body.Status)) {
	case "paid", "success", "succeeded", "completed":
		status = StatusSucceeded
	case "failed", "cancelled", "canceled", "expired":
		status = StatusFailed
	default:
		status = StatusPending
	}
	raw := make(map[string]any, len(body.Data)+1)
	for k, val := range body.Data {
		raw[k] = val
	}
	if body.SessionID != "" {
		raw["session_id"] = body.SessionID
	}
	return CallbackEvent{
		RequestID: strings.TrimSpace(body.PaymentRequestID),
		SessionID: body.SessionID,
		Status:    status,
		Amount:    body.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(body.Currency)),
		Reason:    strings.TrimSpace(body.Reason),
		Raw:       raw,
	}, nil
}

// Sign returns the HMAC-SHA256 of payload under secret.
func Sign(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
