package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fleet-tracker/internal/general/retry"
)

var ErrNotReady = errors.New("rabbitmq: connection is not ready")

// Handler processes one delivery. A non-nil error nacks it without requeue.
type Handler func(ctx context.Context, d amqp.Delivery) error

// newConsumerChannel returns a fresh channel with prefetch (QoS) applied.
func (client *Client) newConsumerChannel(prefetch int) (*amqp.Channel, error) {
	client.mu.RLock()
	conn := client.conn
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, ErrNotReady
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	if prefetch < 0 {
		prefetch = 1
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("rabbitmq: set QoS (prefetch=%d): %w", prefetch, err)
		}
	}
	return ch, nil
}

// ConsumeTracker declares the tracker's exclusive queue, starts consuming with
// manual acks and calls onReady once deliveries are flowing. It returns when
// ctx is done (nil) or the channel dies (error).
func (client *Client) ConsumeTracker(
	ctx context.Context,
	consumerTag string,
	prefetch int,
	onReady func(ctx context.Context),
	handler Handler,
) error {
	ch, err := client.newConsumerChannel(prefetch)
	if err != nil {
		return err
	}
	defer ch.Close()

	queue, err := declareTrackerQueue(ch)
	if err != nil {
		return err
	}

	deliveries, err := ch.Consume(
		queue,
		consumerTag,
		false, // autoAck
		true,  // exclusive
		false, // noLocal (ignored by RabbitMQ)
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume(%s): %w", queue, err)
	}
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	client.logger.Info(ctx, "rabbitmq_consumer_started", "Consuming fleet events", map[string]any{
		"queue":    queue,
		"tag":      consumerTag,
		"prefetch": prefetch,
	})
	if onReady != nil {
		onReady(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			if consumerTag != "" {
				_ = ch.Cancel(consumerTag, false)
			}
			return nil

		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("rabbitmq: channel closed while consuming %s: %w", queue, cerr)
			}
			return errors.New("rabbitmq: channel closed")

		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq: delivery stream ended")
			}

			hCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := handler(hCtx, d)
			cancel()

			if err != nil {
				_ = d.Nack(false, false) // drop poison message
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// ConsumeForever keeps ConsumeTracker running across reconnects until ctx is
// cancelled. onReady runs after every (re)subscription.
func (client *Client) ConsumeForever(
	ctx context.Context,
	consumerTag string,
	prefetch int,
	onReady func(ctx context.Context),
	handler Handler,
) error {
	schedule := retry.Backoff()
	for {
		started := false
		err := client.ConsumeTracker(ctx, consumerTag, prefetch, func(ctx context.Context) {
			started = true
			if onReady != nil {
				onReady(ctx)
			}
		}, handler)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			schedule.Reset()
		}
		wait := schedule.NextBackOff()

		client.logger.Warn(ctx, "rabbitmq_consumer_stopped", "Consumer stopped; retrying", err, map[string]any{
			"tag":     consumerTag,
			"backoff": wait.String(),
		})
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
