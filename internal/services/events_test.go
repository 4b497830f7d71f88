package services

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

type recordingPublisher struct {
	messages []EventMessage
	err      error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, message EventMessage) (string, error) {
	p.messages = append(p.messages, message)
	return "msg-1", p.err
}

func TestEventBusDispatchesInOrderAndPublishes(t *testing.T) {
	publisher := &recordingPublisher{}
	bus := NewEventBus(EventBusDeps{
		Publisher:   publisher,
		Clock:       func() time.Time { return fixtureNow },
		IDGenerator: func() string { return "evt-1" },
	})

	var calls []string
	bus.Subscribe(EventOrderPlaced, "first", func(_ context.Context, event Event) error {
		calls = append(calls, "first:"+event.OrderID)
		return nil
	})
	bus.Subscribe(EventOrderPlaced, "second", func(_ context.Context, event Event) error {
		if event.Report == nil {
			t.Fatalf("expected a report to be attached")
		}
		calls = append(calls, "second:"+event.OrderID)
		return nil
	})
	bus.Subscribe(EventCartDeleted, "other", func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	if err := bus.Dispatch(context.Background(), Event{Type: EventOrderPlaced, OrderID: "ord_1", CartID: "cart-1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !slices.Equal(calls, []string{"first:ord_1", "second:ord_1"}) {
		t.Fatalf("unexpected calls %v", calls)
	}
	if len(publisher.messages) != 1 {
		t.Fatalf("expected one published message, got %d", len(publisher.messages))
	}
	msg := publisher.messages[0]
	if msg.ID != "evt-1" || msg.Type != "order.placed" || msg.CartID != "cart-1" || !msg.OccurredAt.Equal(fixtureNow) {
		t.Fatalf("unexpected message %+v", msg)
	}
	if got := bus.Subscribers(EventOrderPlaced); !slices.Equal(got, []string{"first", "second"}) {
		t.Fatalf("unexpected subscribers %v", got)
	}
}

func TestEventBusStopsAtFirstError(t *testing.T) {
	publisher := &recordingPublisher{}
	bus := NewEventBus(EventBusDeps{Publisher: publisher})
	boom := errors.New("boom")
	ran := false
	bus.Subscribe(EventInvoicePaid, "failing", func(context.Context, Event) error { return boom })
	bus.Subscribe(EventInvoicePaid, "after", func(context.Context, Event) error {
		ran = true
		return nil
	})

	err := bus.Dispatch(context.Background(), Event{Type: EventInvoicePaid})
	if !errors.Is(err, boom) {
		t.Fatalf("expected subscriber error, got %v", err)
	}
	if ran {
		t.Fatalf("expected dispatch to stop after the failing subscriber")
	}
	if len(publisher.messages) != 0 {
		t.Fatalf("expected nothing to be published after a failure")
	}
}

func TestEventBusIgnoresPublishFailure(t *testing.T) {
	bus := NewEventBus(EventBusDeps{Publisher: &recordingPublisher{err: errors.New("pubsub down")}})
	if err := bus.Dispatch(context.Background(), Event{Type: EventPaymentSettled}); err != nil {
		t.Fatalf("expected publish failures to be logged only, got %v", err)
	}
}

func TestNilEventBusIsNoop(t *testing.T) {
	var bus *EventBus
	bus.Subscribe(EventCartDeleted, "x", func(context.Context, Event) error { return errors.New("unreachable") })
	if err := bus.Dispatch(context.Background(), Event{Type: EventCartDeleted}); err != nil {
		t.Fatalf("expected nil bus to accept events, got %v", err)
	}
	if bus.Subscribers(EventCartDeleted) != nil {
		t.Fatalf("expected no subscribers")
	}
}

func TestRegisterLifecycleSubscribers(t *testing.T) {
	f := newShopFixture(t)

	cases := map[EventType][]string{
		EventCartDeleted:      {"loyalty.release_cart_entries"},
		EventInvoiceSubmitted: {"loyalty.link_invoice_entry"},
		EventInvoicePaid:      {"promotions.issue_gift_cards"},
	}
	for eventType, want := range cases {
		if got := f.bus.Subscribers(eventType); !slices.Equal(got, want) {
			t.Fatalf("%s: expected %v, got %v", eventType, want, got)
		}
	}
	if err := RegisterLifecycleSubscribers(nil, f.loyalty, f.promotions); err == nil {
		t.Fatalf("expected an error without a bus")
	}
}
