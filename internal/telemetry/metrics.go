// Package telemetry holds the service metrics and the audit event producer.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the service counters. A nil *Metrics is valid and records
// nothing, so callers never branch on whether telemetry is wired.
type Metrics struct {
	apiKeyPayloads metric.Int64Counter
	sessionEvents  metric.Int64Counter
	tokensIssued   metric.Int64Counter
}

// NewMetrics registers the service counters on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("clerk-token-service")

	apiKeyPayloads, err := meter.Int64Counter("apikey_mapping_payloads_total",
		metric.WithDescription("API key mapping events received, by payload shape"))
	if err != nil {
		return nil, err
	}
	sessionEvents, err := meter.Int64Counter("session_events_total",
		metric.WithDescription("Session lifecycle events processed, by type and outcome"))
	if err != nil {
		return nil, err
	}
	tokensIssued, err := meter.Int64Counter("tokens_issued_total",
		metric.WithDescription("Token pairs issued, by grant"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		apiKeyPayloads: apiKeyPayloads,
		sessionEvents:  sessionEvents,
		tokensIssued:   tokensIssued,
	}, nil
}

// APIKeyPayload counts one mapping event by the payload shape it arrived in.
// Two historical shapes coexist upstream; this counter is how operators tell
// which one a producer is sending.
func (m *Metrics) APIKeyPayload(ctx context.Context, shape string) {
	if m == nil {
		return
	}
	m.apiKeyPayloads.Add(ctx, 1, metric.WithAttributes(attribute.String("shape", shape)))
}

// SessionEvent counts one session lifecycle event by type and outcome
// (applied, expired_on_arrival, malformed, failed).
func (m *Metrics) SessionEvent(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	m.sessionEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("outcome", outcome),
	))
}

// TokenIssued counts one issued pair by grant (api_key, refresh, clerk_session).
func (m *Metrics) TokenIssued(ctx context.Context, grant string) {
	if m == nil {
		return
	}
	m.tokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("grant", grant)))
}
