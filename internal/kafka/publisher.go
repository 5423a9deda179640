package kafka

import (
	"context"
	"strconv"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// EventPublisher wraps domain changes in envelopes and queues them on the
// producer.
type EventPublisher struct {
	Producer *Producer
	Service  string
}

func (p *EventPublisher) OrderStatusChanged(ctx context.Context, pl orders.OrderStatusChangedPayload) error {
	return p.publish(ctx, orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, pl.OrderID, pl)
}

func (p *EventPublisher) StockReceived(ctx context.Context, pl orders.StockReceivedPayload) error {
	return p.publish(ctx, orders.TopicStockReceived, orders.EventStockReceived, pl.ProductID, pl)
}

func (p *EventPublisher) publish(ctx context.Context, topic, eventType, key string, payload any) error {
	ev, err := orders.NewEnvelope(eventType, p.Service, key, payload)
	if err != nil {
		return err
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}
	return p.Producer.Publish(ctx, topic, orders.PartitionKey(key), MustMarshal(ev),
		kafka.Header{Key: HeaderEventType, Value: []byte(eventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
	)
}
