package domain

import "errors"

// Session lifecycle event types delivered on the session-events queue.
const (
	EventSessionCreated = "session.created"
	EventSessionEnded   = "session.ended"
	EventSessionRemoved = "session.removed"
	EventSessionRevoked = "session.revoked"
)

// Event is one session lifecycle message. Payloads carry full session state,
// not deltas, so reapplying an event is safe.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData mirrors the provider's session object. Timestamps are epoch
// milliseconds on the wire.
type EventData struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Status       Status `json:"status"`
	ExpireAt     int64  `json:"expire_at"`
	AbandonAt    int64  `json:"abandon_at"`
	LastActiveAt int64  `json:"last_active_at"`
	ClientID     string `json:"client_id"`
}

// Terminal reports whether the event ends the session's life.
func (e *Event) Terminal() bool {
	switch e.Type {
	case EventSessionEnded, EventSessionRemoved, EventSessionRevoked:
		return true
	}
	return false
}

// Validate checks the event for a known type and required identifiers.
func (e *Event) Validate() error {
	switch e.Type {
	case EventSessionCreated, EventSessionEnded, EventSessionRemoved, EventSessionRevoked:
	default:
		return errors.New("unknown event type")
	}
	if e.Data.ID == "" {
		return errors.New("missing session id")
	}
	if e.Data.UserID == "" {
		return errors.New("missing user id")
	}
	return nil
}

// Session builds the cache record carried by this event.
func (e *Event) Session() *Session {
	return &Session{
		ID:           e.Data.ID,
		UserID:       e.Data.UserID,
		Status:       e.Data.Status,
		ClientID:     e.Data.ClientID,
		LastActiveAt: e.Data.LastActiveAt,
		ExpireAt:     e.Data.ExpireAt,
	}
}
