// Package queue provides the RabbitMQ consumer plumbing shared by the session
// event and API key mapping processors: connection lifecycle, durable classic
// queue declaration, prefetch=1 consumption, and the ack/reject/requeue
// delivery discipline.
package queue

import (
	"context"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one message body. Returning nil acknowledges the message,
// an error wrapping ErrMalformed drops it, and any other error requeues it.
type Handler func(ctx context.Context, body []byte) error

// Broker wraps one AMQP connection. Each consumer runs on its own channel.
type Broker struct {
	conn *amqp.Connection
}

// Dial connects to the broker at the given AMQP URL.
func Dial(url string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &Broker{conn: conn}, nil
}

// Close closes the underlying connection. In-flight deliveries that were
// neither acked nor rejected will be redelivered after reconnection; handlers
// are idempotent so duplicate delivery is safe.
func (b *Broker) Close() error {
	return b.conn.Close()
}

// Consumer binds a handler to one queue.
type Consumer struct {
	Queue   string
	Handler Handler
	// Timeout bounds the handling of a single message, covering every store
	// call made by the handler. Defaults to 10s.
	Timeout time.Duration
}

// Run declares the queue and consumes it until ctx is cancelled or the
// delivery channel closes. Exactly one message is in flight at a time
// (prefetch=1), so processing within a queue is strictly sequential.
func (b *Broker) Run(ctx context.Context, c Consumer) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(c.Queue, true, false, false, false, amqp.Table{
		"x-queue-type": "classic",
	})
	if err != nil {
		return err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	log.Printf("queue %s: consuming", c.Queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return amqp.ErrClosed
			}
			msgCtx, cancel := context.WithTimeout(ctx, timeout)
			err := c.Handler(msgCtx, d.Body)
			cancel()
			settle(c.Queue, &d, err)
		}
	}
}
