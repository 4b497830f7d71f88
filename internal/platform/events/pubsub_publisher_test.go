package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/webshop/internal/services"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "webshop-test",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "webshop-events")
	require.NoError(t, err)
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubEventPublisherEncodesEnvelope(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubEventPublisher(topic, WithSource("staging"))
	require.NoError(t, err)

	occurredAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	msg := services.EventMessage{
		ID:         "evt_1",
		Type:       string(services.EventInvoicePaid),
		OrderID:    "ord_cart-1",
		InvoiceID:  "inv_ord_cart-1",
		OccurredAt: occurredAt,
	}
	id, err := publisher.PublishEvent(context.Background(), msg)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	messages := srv.Messages()
	require.Len(t, messages, 1)

	var payload services.EventMessage
	require.NoError(t, json.Unmarshal(messages[0].Data, &payload))
	assert.Equal(t, msg.InvoiceID, payload.InvoiceID)
	assert.True(t, payload.OccurredAt.Equal(occurredAt))
	assert.Equal(t, map[string]string{
		"eventId":   "evt_1",
		"type":      "invoice.paid",
		"orderId":   "ord_cart-1",
		"invoiceId": "inv_ord_cart-1",
		"source":    "staging",
	}, messages[0].Attributes)
}

func TestPubSubEventPublisherOrdersByCartAndCarriesTrace(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubEventPublisher(topic, WithCartOrdering())
	require.NoError(t, err)
	assert.True(t, topic.EnableMessageOrdering)

	traceID := trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  trace.SpanID{0, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
	}))

	_, err = publisher.PublishEvent(ctx, services.EventMessage{ID: "evt_2", Type: string(services.EventCartDeleted), CartID: "cart-9"})
	require.NoError(t, err)

	messages := srv.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "cart-9", messages[0].OrderingKey)
	assert.Equal(t, traceID.String(), messages[0].Attributes["traceId"])
}

func TestNewPubSubEventPublisherRequiresTopic(t *testing.T) {
	_, err := NewPubSubEventPublisher(nil)
	assert.Error(t, err)
}
