package queue

import (
	"errors"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrMalformed marks a message that can never become valid by retrying:
// unparseable JSON or a payload failing schema validation. Handlers wrap it
// so the consumer drops the message instead of requeueing it.
var ErrMalformed = errors.New("malformed message")

// Outcome is the delivery decision for one processed message.
type Outcome int

const (
	// Ack acknowledges a successfully applied message.
	Ack Outcome = iota
	// Reject drops a malformed message without requeue.
	Reject
	// Requeue negatively acknowledges with redelivery, for transient
	// failures such as an unavailable store or a timed-out call.
	Requeue
)

// Classify maps a handler result to a delivery outcome. A store timeout is a
// transient failure and must requeue; it is never treated as record-absent.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, ErrMalformed):
		return Reject
	default:
		return Requeue
	}
}

// settle applies the outcome for err to the delivery.
func settle(queue string, d *amqp.Delivery, err error) {
	switch Classify(err) {
	case Ack:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Printf("queue %s: ack failed: %v", queue, ackErr)
		}
	case Reject:
		log.Printf("queue %s: dropping malformed message: %v", queue, err)
		if rejErr := d.Reject(false); rejErr != nil {
			log.Printf("queue %s: reject failed: %v", queue, rejErr)
		}
	case Requeue:
		log.Printf("queue %s: transient failure, requeueing: %v", queue, err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Printf("queue %s: nack failed: %v", queue, nackErr)
		}
	}
}
