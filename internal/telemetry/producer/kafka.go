// Package producer writes token lifecycle audit events to Kafka.
package producer

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// AuditEvent is one token lifecycle audit record.
type AuditEvent struct {
	// Action is what happened: token.issued, token.refreshed, session.terminated.
	Action string `json:"action"`
	// Subject is the owner key the action applied to (userId or sessionId).
	Subject string `json:"subject"`
	// Grant is the issuance path for token actions (api_key, refresh, clerk_session).
	Grant string    `json:"grant,omitempty"`
	At    time.Time `json:"at"`
}

// AuditProducer implements audit emission using segmentio/kafka-go. A nil
// *AuditProducer is valid and drops everything, so auditing stays optional.
type AuditProducer struct {
	writer *kafka.Writer
}

// NewAuditProducer creates a Kafka producer writing audit events to the given
// topic. Returns nil when brokers or topic are unset (auditing disabled).
// Call Close when shutting down.
func NewAuditProducer(brokers []string, topic string) *AuditProducer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &AuditProducer{writer: writer}
}

// Emit serializes the event as JSON and writes it to the topic. A short
// timeout keeps slow Kafka from blocking the token path; failures are logged
// and never propagate to the caller's request.
func (p *AuditProducer) Emit(ctx context.Context, event *AuditEvent) {
	if p == nil || p.writer == nil || event == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("audit: marshal failed: %v", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, kafka.Message{Value: payload}); err != nil {
		log.Printf("audit: kafka emit failed: %v", err)
	}
}

// Close closes the Kafka writer. Safe to call on nil.
func (p *AuditProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
