package rabbitmq

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"fleet-tracker/internal/general/contracts"
)

type binding struct {
	exchange   string
	routingKey string
}

// trackerBindings route everything the tracker reconciles into its queue.
var trackerBindings = []binding{
	{contracts.ExchangeLocationFanout, ""},
	{contracts.ExchangeDriverTopic, contracts.RouteDriverStatusPrefix + "*"},
	{contracts.ExchangeDriverTopic, contracts.RouteDriverRemovedPrefix + "*"},
	{contracts.ExchangeFleetTopic, contracts.RouteFleetSnapshot},
}

func declareTopology(ch *amqp.Channel) error {
	exchanges := []struct {
		name string
		kind string
	}{
		{contracts.ExchangeDriverTopic, "topic"},
		{contracts.ExchangeLocationFanout, "fanout"},
		{contracts.ExchangeFleetTopic, "topic"},
	}

	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

// declareTrackerQueue declares a server-named exclusive queue on ch and binds it.
// The queue lives as long as the channel's connection, so every tracker
// instance sees every message and nothing piles up while it is away.
func declareTrackerQueue(ch *amqp.Channel) (string, error) {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare tracker queue: %w", err)
	}
	for _, b := range trackerBindings {
		if err := ch.QueueBind(q.Name, b.routingKey, b.exchange, false, nil); err != nil {
			return "", fmt.Errorf("bind queue %s to %s: %w", q.Name, b.exchange, err)
		}
	}
	return q.Name, nil
}

// MessageType maps a delivery's exchange and routing key to the message type
// the adapter decodes. An empty result means the delivery is not for the tracker.
func MessageType(exchange, routingKey string) string {
	switch exchange {
	case contracts.ExchangeLocationFanout:
		return contracts.TypeLocationUpdate
	case contracts.ExchangeDriverTopic:
		switch {
		case strings.HasPrefix(routingKey, contracts.RouteDriverStatusPrefix):
			return contracts.TypeDriverStatus
		case strings.HasPrefix(routingKey, contracts.RouteDriverRemovedPrefix):
			return contracts.TypeDriverDisconnected
		}
	case contracts.ExchangeFleetTopic:
		if routingKey == contracts.RouteFleetSnapshot {
			return contracts.TypeLocationsSnapshot
		}
	}
	return ""
}
