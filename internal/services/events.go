package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType names a document lifecycle event.
type EventType string

const (
	// EventCartDeleted fires after an emptied cart is removed.
	EventCartDeleted EventType = "cart.deleted"
	// EventOrderPlaced fires once per cart when its order is created.
	EventOrderPlaced EventType = "order.placed"
	// EventInvoiceSubmitted fires when an invoice is raised for an order.
	EventInvoiceSubmitted EventType = "invoice.submitted"
	// EventInvoicePaid fires when an invoice has no outstanding amount left.
	EventInvoicePaid EventType = "invoice.paid"
	// EventPaymentSettled fires when a payment request reaches paid.
	EventPaymentSettled EventType = "payment.settled"
)

// Event is dispatched synchronously to every subscriber of its type.
type Event struct {
	ID               string
	Type             EventType
	CartID           string
	OrderID          string
	InvoiceID        string
	PaymentRequestID string
	PartyID          string
	Invoice          *Invoice
	OccurredAt       time.Time
	// Report collects outputs subscribers hand back to the dispatcher.
	Report *EventReport
}

// EventReport carries subscriber outputs back to the code that dispatched the event.
type EventReport struct {
	GiftCards *GiftCardIssueResult
}

// EventHandler reacts to one event. A returned error stops dispatch.
type EventHandler func(ctx context.Context, event Event) error

// EventMessage is the wire envelope forwarded to external subscribers.
type EventMessage struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	CartID           string    `json:"cartId,omitempty"`
	OrderID          string    `json:"orderId,omitempty"`
	InvoiceID        string    `json:"invoiceId,omitempty"`
	PaymentRequestID string    `json:"paymentRequestId,omitempty"`
	PartyID          string    `json:"partyId,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// EventPublisher forwards events outside the process once local subscribers succeeded.
type EventPublisher interface {
	PublishEvent(ctx context.Context, message EventMessage) (string, error)
}

// EventBusDeps wires optional collaborators of the bus.
type EventBusDeps struct {
	Publisher   EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type subscriber struct {
	name   string
	handle EventHandler
}

// EventBus dispatches lifecycle events to subscribers in registration order.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]subscriber
	publisher   EventPublisher
	now         func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewEventBus constructs an empty bus.
func NewEventBus(deps EventBusDeps) *EventBus {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &EventBus{
		subscribers: make(map[EventType][]subscriber),
		publisher:   deps.Publisher,
		now:         func() time.Time { return clock().UTC() },
		newID:       idGen,
		logger:      logger,
	}
}

// Subscribe appends handler to the subscribers of eventType.
func (b *EventBus) Subscribe(eventType EventType, name string, handler EventHandler) {
	if b == nil || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber{
		name:   strings.TrimSpace(name),
		handle: handler,
	})
}

// Subscribers lists subscriber names for eventType in dispatch order.
func (b *EventBus) Subscribers(eventType EventType) []string {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subscribers[eventType]))
	for _, sub := range b.subscribers[eventType] {
		names = append(names, sub.name)
	}
	return names
}

// Dispatch runs every subscriber of the event in order and stops at the first error.
// The event is forwarded to the publisher only after all subscribers succeeded; publish
// failures are logged.
func (b *EventBus) Dispatch(ctx context.Context, event Event) error {
	if b == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = b.newID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = b.now()
	}
	if event.Report == nil {
		event.Report = &EventReport{}
	}

	b.mu.RLock()
	subs := append([]subscriber(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.handle(ctx, event); err != nil {
			b.logger(ctx, "events.subscriber_failed", map[string]any{
				"event":      string(event.Type),
				"eventId":    event.ID,
				"subscriber": sub.name,
				"error":      err.Error(),
			})
			return fmt.Errorf("event %s: subscriber %s: %w", event.Type, sub.name, err)
		}
	}

	if b.publisher != nil {
		if _, err := b.publisher.PublishEvent(ctx, event.message()); err != nil {
			b.logger(ctx, "events.publish_failed", map[string]any{
				"event":   string(event.Type),
				"eventId": event.ID,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

func (e Event) message() EventMessage {
	return EventMessage{
		ID:               e.ID,
		Type:             string(e.Type),
		CartID:           e.CartID,
		OrderID:          e.OrderID,
		InvoiceID:        e.InvoiceID,
		PaymentRequestID: e.PaymentRequestID,
		PartyID:          e.PartyID,
		OccurredAt:       e.OccurredAt,
	}
}

type loyaltyLifecycle interface {
	ReleaseCartEntries(ctx context.Context, event Event) error
	LinkInvoiceEntry(ctx context.Context, event Event) error
}

type giftCardLifecycle interface {
	IssueForPaidInvoice(ctx context.Context, event Event) error
}

// RegisterLifecycleSubscribers wires every internal subscriber onto the bus. Registration order is
// execution order.
func RegisterLifecycleSubscribers(bus *EventBus, loyalty LoyaltyService, promotions PromotionService) error {
	if bus == nil {
		return errors.New("register subscribers: bus is required")
	}
	if loyalty != nil {
		ledger, ok := loyalty.(loyaltyLifecycle)
		if !ok {
			return errors.New("register subscribers: loyalty service does not handle lifecycle events")
		}
		bus.Subscribe(EventCartDeleted, "loyalty.release_cart_entries", ledger.ReleaseCartEntries)
		bus.Subscribe(EventInvoiceSubmitted, "loyalty.link_invoice_entry", ledger.LinkInvoiceEntry)
	}
	if promotions != nil {
		issuer, ok := promotions.(giftCardLifecycle)
		if !ok {
			return errors.New("register subscribers: promotion service does not handle lifecycle events")
		}
		bus.Subscribe(EventInvoicePaid, "promotions.issue_gift_cards", issuer.IssueForPaidInvoice)
	}
	return nil
}
