// Package service applies session lifecycle events from the broker to the
// shared cache, idempotently.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"clerk-token-service/internal/queue"
	"clerk-token-service/internal/session/domain"
	"clerk-token-service/internal/telemetry"
	"clerk-token-service/internal/telemetry/producer"
)

// Store is the minimal cache interface needed by the event processor.
type Store interface {
	PutSession(ctx context.Context, sess *domain.Session, ttl time.Duration) error
	DeleteSession(ctx context.Context, sessionID, userID string) error
	DeleteTokensFor(ctx context.Context, ownerKey string) error
}

// Processor applies session lifecycle events. Handlers are idempotent: the
// broker delivers at least once, and a redelivered event must land on the
// same cache state as its first application.
//
// Events carry no sequence number, so a create redelivered after a terminal
// event for the same session would resurrect it until its TTL runs out. The
// provider emits creates strictly before terminals, which bounds the window
// to broker redelivery races.
type Processor struct {
	store   Store
	metrics *telemetry.Metrics
	audit   *producer.AuditProducer
	now     func() time.Time
}

// NewProcessor returns a Processor over the given store. metrics and audit
// may be nil.
func NewProcessor(store Store, metrics *telemetry.Metrics, audit *producer.AuditProducer) *Processor {
	return &Processor{
		store:   store,
		metrics: metrics,
		audit:   audit,
		now:     time.Now,
	}
}

// ParseEvent decodes and validates one message body. Any failure wraps
// queue.ErrMalformed so the consumer drops the message instead of retrying.
func ParseEvent(body []byte) (*domain.Event, error) {
	var evt domain.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("decode session event: %w", queue.ErrMalformed)
	}
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session event (%v): %w", err, queue.ErrMalformed)
	}
	return &evt, nil
}

// HandleMessage is the queue.Handler for the session-events queue.
func (p *Processor) HandleMessage(ctx context.Context, body []byte) error {
	evt, err := ParseEvent(body)
	if err != nil {
		p.metrics.SessionEvent(ctx, "unknown", "malformed")
		return err
	}
	if err := p.Apply(ctx, evt); err != nil {
		p.metrics.SessionEvent(ctx, evt.Type, "failed")
		return err
	}
	return nil
}

// Apply applies one validated event to the cache.
func (p *Processor) Apply(ctx context.Context, evt *domain.Event) error {
	switch {
	case evt.Type == domain.EventSessionCreated:
		return p.applyCreated(ctx, evt)
	case evt.Terminal():
		return p.applyTerminal(ctx, evt)
	}
	return fmt.Errorf("unhandled event type %q: %w", evt.Type, queue.ErrMalformed)
}

// applyCreated caches the session with a TTL matching the provider's own
// expiry. A session already expired on arrival is a no-op, not an error.
func (p *Processor) applyCreated(ctx context.Context, evt *domain.Event) error {
	ttl := time.UnixMilli(evt.Data.ExpireAt).Sub(p.now())
	if ttl <= 0 {
		log.Printf("session %s: expired on arrival, skipping", evt.Data.ID)
		p.metrics.SessionEvent(ctx, evt.Type, "expired_on_arrival")
		return nil
	}
	if err := p.store.PutSession(ctx, evt.Session(), ttl); err != nil {
		return err
	}
	p.metrics.SessionEvent(ctx, evt.Type, "applied")
	return nil
}

// applyTerminal removes the session and invalidates cached tokens under both
// candidate owner keys: pairs may have been issued under the sessionId (the
// provider-session exchange) or the userId (the API key exchange).
func (p *Processor) applyTerminal(ctx context.Context, evt *domain.Event) error {
	if err := p.store.DeleteSession(ctx, evt.Data.ID, evt.Data.UserID); err != nil {
		return err
	}
	if err := p.store.DeleteTokensFor(ctx, evt.Data.ID); err != nil {
		return err
	}
	if err := p.store.DeleteTokensFor(ctx, evt.Data.UserID); err != nil {
		return err
	}
	p.metrics.SessionEvent(ctx, evt.Type, "applied")
	p.audit.Emit(ctx, &producer.AuditEvent{
		Action:  "session.terminated",
		Subject: evt.Data.ID,
		At:      time.Now().UTC(),
	})
	return nil
}
