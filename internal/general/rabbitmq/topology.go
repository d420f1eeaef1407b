package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Bridge topology: one durable topic exchange; routing keys are
// "<topic>.<key>" so consumers can bind per order or per topic family.
const (
	ExchangeRelayLog = "relay_log"

	QueueLocationLog   = "relay_location_log"
	QueueAssignmentLog = "relay_assignment_log"
)

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ExchangeRelayLog, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeRelayLog, err)
	}

	bindings := []struct {
		queue      string
		routingKey string
	}{
		{QueueLocationLog, "relay.locations.*"},
		{QueueAssignmentLog, "relay.assignments.*"},
	}

	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.routingKey, ExchangeRelayLog, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, ExchangeRelayLog, err)
		}
	}

	return nil
}
