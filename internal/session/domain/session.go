// Package domain defines the cached session record and the lifecycle events
// the identity provider delivers over the broker.
package domain

import "time"

// Status is the provider-reported session state.
type Status string

const (
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
	StatusRemoved Status = "removed"
	StatusRevoked Status = "revoked"
)

// Terminal reports whether the status ends the session's life. A terminal
// session must no longer back token issuance or refresh.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusRemoved || s == StatusRevoked
}

// Session is the cached copy of one identity-provider login. Records are
// replaced wholesale on each event, never patched field by field.
type Session struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	Status       Status `json:"status"`
	ClientID     string `json:"clientId"`
	LastActiveAt int64  `json:"lastActiveAt"` // epoch milliseconds
	ExpireAt     int64  `json:"expireAt"`     // epoch milliseconds
}

// ExpireTime returns ExpireAt as a time.Time.
func (s *Session) ExpireTime() time.Time {
	return time.UnixMilli(s.ExpireAt)
}
