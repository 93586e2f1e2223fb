package feed

import (
	"context"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"fleet-tracker/internal/general/logger"
	"fleet-tracker/internal/general/rabbitmq"
)

// Sink is one adapter connection. *adapter.Conn implements it.
type Sink interface {
	Deliver(ctx context.Context, msgType string, payload []byte) error
	Reconnected(ctx context.Context) error
}

// DeliveryHandler routes broker deliveries into sink by exchange and routing
// key. Deliveries that are not for the tracker are acked and ignored; a
// malformed body is nacked.
func DeliveryHandler(sink Sink, log *logger.Logger) rabbitmq.Handler {
	return func(ctx context.Context, d amqp.Delivery) error {
		msgType := rabbitmq.MessageType(d.Exchange, d.RoutingKey)
		if msgType == "" {
			return nil
		}
		ctx = log.WithRequestID(ctx, d.CorrelationId)
		return sink.Deliver(ctx, msgType, d.Body)
	}
}

// ConsumeRabbit consumes the tracker queue until ctx is cancelled. Every
// (re)subscription gates sink until a fresh snapshot arrives.
func ConsumeRabbit(ctx context.Context, client *rabbitmq.Client, sink Sink, prefetch int, log *logger.Logger) error {
	tag := "tracker-" + uuid.NewString()
	return client.ConsumeForever(ctx, tag, prefetch, func(ctx context.Context) {
		// a failed request is retried by the adapter once the gate times out
		_ = sink.Reconnected(ctx)
	}, DeliveryHandler(sink, log))
}
