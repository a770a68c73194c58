// Package service implements the token lifecycle: API key exchange, refresh
// rotation, access token validation, and provider session exchange.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"clerk-token-service/internal/security"
	sessiondomain "clerk-token-service/internal/session/domain"
	"clerk-token-service/internal/telemetry"
	"clerk-token-service/internal/telemetry/producer"
)

// Sentinel errors for the token service; the handler maps them to HTTP status codes.
var (
	ErrInvalidAPIKey            = errors.New("invalid api key")
	ErrInvalidRefreshToken      = errors.New("invalid or expired refresh token")
	ErrInvalidSession           = errors.New("invalid session")
	ErrSessionOwnershipMismatch = errors.New("session does not belong to user")
)

// TokenPair is one issued access/refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
}

// Store is the minimal cache interface needed by the token service.
type Store interface {
	UserIDForAPIKey(ctx context.Context, hashedKey string) (string, error)
	GetSession(ctx context.Context, sessionID string) (*sessiondomain.Session, error)
	PutTokenPair(ctx context.Context, ownerKey, access, refresh string, accessTTL, refreshTTL time.Duration) error
	GetRefreshToken(ctx context.Context, ownerKey string) (string, error)
}

// TokenService issues, refreshes, and validates tokens against the shared
// cache. Issuance always mints a fresh pair, so at most one refresh token is
// live per owner key.
type TokenService struct {
	store   Store
	tokens  *security.TokenProvider
	metrics *telemetry.Metrics
	audit   *producer.AuditProducer
}

// NewTokenService returns a TokenService with the given dependencies.
// metrics and audit may be nil.
func NewTokenService(store Store, tokens *security.TokenProvider, metrics *telemetry.Metrics, audit *producer.AuditProducer) *TokenService {
	return &TokenService{
		store:   store,
		tokens:  tokens,
		metrics: metrics,
		audit:   audit,
	}
}

// ExchangeAPIKey resolves a raw API key through the cache and mints a token
// pair keyed by the mapped user id. An unknown key is ErrInvalidAPIKey.
func (s *TokenService) ExchangeAPIKey(ctx context.Context, rawKey string) (*TokenPair, error) {
	if rawKey == "" {
		return nil, ErrInvalidAPIKey
	}
	userID, err := s.store.UserIDForAPIKey(ctx, security.HashAPIKey(rawKey))
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrInvalidAPIKey
	}
	return s.issuePair(ctx, userID, "api_key")
}

// Refresh redeems a refresh token for a new pair. The presented token must
// verify, carry kind=refresh, and be byte-identical to the one currently
// cached for its subject — a superseded or revoked token fails even though
// its signature still verifies. On success the cached pair is replaced and
// the old refresh token is permanently unusable.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	subject, kind, err := s.tokens.Verify(refreshToken)
	if err != nil || kind != security.KindRefresh {
		return nil, ErrInvalidRefreshToken
	}
	cached, err := s.store.GetRefreshToken(ctx, subject)
	if err != nil {
		return nil, err
	}
	if cached == "" || subtle.ConstantTimeCompare([]byte(cached), []byte(refreshToken)) != 1 {
		return nil, ErrInvalidRefreshToken
	}
	return s.issuePair(ctx, subject, "refresh")
}

// Validate reports whether the token is a well-signed, unexpired access
// token. It never consults the cache: revocation takes effect at refresh
// time or access-token expiry, whichever comes first.
func (s *TokenService) Validate(token string) bool {
	_, kind, err := s.tokens.Verify(token)
	return err == nil && kind == security.KindAccess
}

// ExchangeProviderSession mints a token pair keyed by a cached provider
// session. The session must exist and belong to the claimed user.
func (s *TokenService) ExchangeProviderSession(ctx context.Context, sessionID, userID string) (*TokenPair, error) {
	if sessionID == "" || userID == "" {
		return nil, ErrInvalidSession
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrInvalidSession
	}
	if sess.UserID != userID {
		return nil, ErrSessionOwnershipMismatch
	}
	return s.issuePair(ctx, sessionID, "clerk_session")
}

func (s *TokenService) issuePair(ctx context.Context, ownerKey, grant string) (*TokenPair, error) {
	access, _, err := s.tokens.IssueAccess(ownerKey)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.tokens.IssueRefresh(ownerKey)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutTokenPair(ctx, ownerKey, access, refresh, s.tokens.AccessTTL(), s.tokens.RefreshTTL()); err != nil {
		return nil, err
	}
	s.metrics.TokenIssued(ctx, grant)
	s.audit.Emit(ctx, &producer.AuditEvent{
		Action:  "token.issued",
		Subject: ownerKey,
		Grant:   grant,
		At:      time.Now().UTC(),
	})
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}
