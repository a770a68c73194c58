// Package apikey consumes API key provisioning events and writes
// key-to-identity mappings into the shared cache.
package apikey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"clerk-token-service/internal/queue"
	"clerk-token-service/internal/telemetry"
)

// Payload shapes observed on the api-key-mappings queue. Two generations of
// producer coexist; neither is authoritative, so both are accepted and a
// metric records which one arrived.
const (
	ShapeKeyValue = "key_value"
	ShapeClerk    = "clerk"
)

// Mapping is one hashed-key-to-user mapping ready to be stored.
type Mapping struct {
	HashedKey string
	UserID    string
}

// payload is the tagged union of both wire shapes.
type payload struct {
	Key   string `json:"key"`
	Value string `json:"value"`

	HashedAPIKey string `json:"hashed_api_key"`
	ClerkUserID  string `json:"clerk_user_id"`
}

// ParseMapping decodes one message body into a Mapping and reports which
// shape it matched. A body matching neither shape wraps queue.ErrMalformed.
// Legacy key/value producers send the full cache key; the namespace prefix is
// stripped so both shapes store under the same layout.
func ParseMapping(body []byte) (*Mapping, string, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, "", fmt.Errorf("decode api key mapping: %w", queue.ErrMalformed)
	}
	switch {
	case p.Key != "" && p.Value != "":
		return &Mapping{
			HashedKey: strings.TrimPrefix(p.Key, "api_key:"),
			UserID:    p.Value,
		}, ShapeKeyValue, nil
	case p.HashedAPIKey != "" && p.ClerkUserID != "":
		return &Mapping{
			HashedKey: p.HashedAPIKey,
			UserID:    p.ClerkUserID,
		}, ShapeClerk, nil
	}
	return nil, "", fmt.Errorf("api key mapping matches no known shape: %w", queue.ErrMalformed)
}

// Store is the minimal cache interface needed by the mapping processor.
type Store interface {
	PutAPIKeyMapping(ctx context.Context, hashedKey, userID string) error
}

// Processor applies API key mapping events. Application is an unconditional
// overwrite, so redelivery is harmless.
type Processor struct {
	store   Store
	metrics *telemetry.Metrics
}

// NewProcessor returns a Processor over the given store. metrics may be nil.
func NewProcessor(store Store, metrics *telemetry.Metrics) *Processor {
	return &Processor{store: store, metrics: metrics}
}

// HandleMessage is the queue.Handler for the api-key-mappings queue.
func (p *Processor) HandleMessage(ctx context.Context, body []byte) error {
	mapping, shape, err := ParseMapping(body)
	if err != nil {
		return err
	}
	p.metrics.APIKeyPayload(ctx, shape)
	return p.store.PutAPIKeyMapping(ctx, mapping.HashedKey, mapping.UserID)
}
