package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/webshop/internal/services"
)

// PubSubEventPublisher forwards lifecycle events to a Pub/Sub topic. Consumers filter on the
// message attributes, the body is the JSON encoded services.EventMessage.
type PubSubEventPublisher struct {
	topic    *pubsub.Topic
	source   string
	ordering bool
}

var _ services.EventPublisher = (*PubSubEventPublisher)(nil)

// PublisherOption customises the publisher.
type PublisherOption func(*PubSubEventPublisher)

// WithSource stamps every message with a source attribute, usually the environment name.
func WithSource(source string) PublisherOption {
	return func(p *PubSubEventPublisher) {
		p.source = strings.TrimSpace(source)
	}
}

// WithCartOrdering publishes with the cart id as ordering key so subscribers see the events of
// one cart in the order they happened. It enables message ordering on the topic.
func WithCartOrdering() PublisherOption {
	return func(p *PubSubEventPublisher) {
		p.ordering = true
	}
}

func NewPubSubEventPublisher(topic *pubsub.Topic, opts ...PublisherOption) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	p := &PubSubEventPublisher{topic: topic}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.ordering {
		topic.EnableMessageOrdering = true
	}
	return p, nil
}

// PublishEvent publishes one event and waits for the server-assigned message id.
func (p *PubSubEventPublisher) PublishEvent(ctx context.Context, message services.EventMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}
	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal event %s: %w", message.Type, err)
	}

	msg := &pubsub.Message{Data: data, Attributes: eventAttributes(ctx, message, p.source)}
	if p.ordering {
		msg.OrderingKey = strings.TrimSpace(message.CartID)
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			// a failed key stays paused until resumed
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish event %s: %w", message.Type, err)
	}
	return id, nil
}

func eventAttributes(ctx context.Context, message services.EventMessage, source string) map[string]string {
	attrs := make(map[string]string, 8)
	for key, value := range map[string]string{
		"eventId":          message.ID,
		"type":             message.Type,
		"cartId":           message.CartID,
		"orderId":          message.OrderID,
		"invoiceId":        message.InvoiceID,
		"paymentRequestId": message.PaymentRequestID,
		"partyId":          message.PartyID,
		"source":           source,
	} {
		if v := strings.TrimSpace(value); v != "" {
			attrs[key] = v
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs["traceId"] = sc.TraceID().String()
	}
	return attrs
}
