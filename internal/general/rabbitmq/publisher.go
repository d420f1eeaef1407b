package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Bridge implements the relay's durable-log collaborator on top of the
// Client: Publish(topic, key, value) maps to the relay_log topic exchange
// with routing key "<topic>.<key>".
type Bridge struct {
	Client *Client
}

// NewBridge constructs a Bridge using the provided RabbitMQ client.
func NewBridge(client *Client) *Bridge {
	return &Bridge{Client: client}
}

// Publish mirrors one event to the durable log. It fails when the broker is
// unreachable or the publish is not acknowledged; the relay treats that as
// non-fatal.
func (b *Bridge) Publish(ctx context.Context, topic, key string, value []byte) error {
	return b.Client.PublishMessage(ctx, ExchangeRelayLog, topic+"."+key, value)
}

// PublishMessage publishes a persistent JSON message and waits for the
// publisher confirm.
func (client *Client) PublishMessage(ctx context.Context, exchange, routingKey string, body []byte) error {
	client.mu.RLock()
	ch := client.pubChan
	conn := client.conn
	client.mu.RUnlock()

	// quick fail if no channel
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
			Body:         body,
		},
	); err != nil {
		return err
	}

	select {
	case c := <-confirms:
		if !c.Ack {
			return fmt.Errorf("rabbitmq: publish not acknowledged")
		}
	case <-ctx.Done():
		// keep the confirm stream aligned: try to consume exactly one
		// confirm even if we return a timeout to the caller
		select {
		case c := <-confirms:
			if !c.Ack {
				return fmt.Errorf("rabbitmq: publish not acknowledged after timeout")
			}
		case <-time.After(2 * time.Second):
			// give up trying to read from the confirms channel
		}

		return ctx.Err()
	}

	return nil
}
