package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fleet-tracker/internal/general/contracts"
)

// PublishMessage publishes a persistent JSON message and waits for the broker confirm.
func (client *Client) PublishMessage(ctx context.Context, exchange, routingKey string, body []byte) error {
	client.mu.RLock()
	ch := client.pubChan
	conn := client.conn
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	client.pubMu.Lock()
	defer client.pubMu.Unlock()
	confirms := client.pubConfirms

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := ch.PublishWithContext(ctx, exchange, routingKey, true /* mandatory */, false, /* immediate */
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	); err != nil {
		return err
	}

	select {
	case c, ok := <-confirms:
		if !ok {
			return errors.New("rabbitmq: confirm stream closed")
		}
		if !c.Ack {
			return fmt.Errorf("rabbitmq: publish not acknowledged")
		}
	case <-ctx.Done():
		// keep the confirm stream aligned for the next publisher
		select {
		case c, ok := <-confirms:
			if ok && !c.Ack {
				return fmt.Errorf("rabbitmq: publish not acknowledged after timeout")
			}
		case <-time.After(2 * time.Second):
		}
		return ctx.Err()
	}
	return nil
}

// PublishJSON marshals v and publishes it.
func (client *Client) PublishJSON(ctx context.Context, exchange, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal %T: %w", v, err)
	}
	return client.PublishMessage(ctx, exchange, routingKey, body)
}

// SnapshotRequester asks the senders' side for a fleet snapshot over the broker.
type SnapshotRequester struct {
	client   *Client
	producer string
}

func NewSnapshotRequester(client *Client, producer string) *SnapshotRequester {
	return &SnapshotRequester{client: client, producer: producer}
}

// RequestSnapshot publishes a SnapshotRequestMessage on fleet_topic.
func (r *SnapshotRequester) RequestSnapshot(ctx context.Context) error {
	msg := contracts.SnapshotRequestMessage{
		RequestedBy: r.producer,
		Reason:      "resync",
		Envelope: contracts.Envelope{
			Producer: r.producer,
			SentAt:   time.Now().UTC(),
		},
	}
	return r.client.PublishJSON(ctx, contracts.ExchangeFleetTopic, contracts.RouteFleetSnapshotReq, msg)
}
