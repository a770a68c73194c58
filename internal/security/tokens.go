// Package security provides token signing/verification and API key hashing.
package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when a token is malformed, has a bad
	// signature, is expired, or carries an unexpected signing method.
	ErrInvalidToken = errors.New("invalid token")
)

// TokenKind distinguishes access from refresh tokens. The kind is embedded in
// the signed payload so a token of one kind is never accepted as the other.
type TokenKind string

const (
	// KindAccess marks short-lived bearer tokens presented on API calls.
	KindAccess TokenKind = "access"
	// KindRefresh marks long-lived tokens redeemable for a new pair.
	KindRefresh TokenKind = "refresh"
)

// Claims holds the JWT claims for both token kinds.
type Claims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"kind"`
}

// TokenProvider issues and verifies HS256-signed access and refresh tokens.
type TokenProvider struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
}

// NewTokenProvider returns a TokenProvider signing with the given HMAC secret.
// leeway is the clock-skew tolerance applied during verification; 0 disables it.
func NewTokenProvider(secret []byte, issuer string, accessTTL, refreshTTL, leeway time.Duration) *TokenProvider {
	return &TokenProvider{
		secret:     secret,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		leeway:     leeway,
	}
}

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived access token for the given subject.
func (p *TokenProvider) IssueAccess(subject string) (token string, expiresAt time.Time, err error) {
	return p.issue(subject, KindAccess, p.accessTTL)
}

// IssueRefresh issues a long-lived refresh token for the given subject.
func (p *TokenProvider) IssueRefresh(subject string) (token string, expiresAt time.Time, err error) {
	return p.issue(subject, KindRefresh, p.refreshTTL)
}

func (p *TokenProvider) issue(subject string, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Kind: kind,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token (signature, exp, iss) and returns its
// subject and kind. The caller decides which kind it will accept.
func (p *TokenProvider) Verify(tokenString string) (subject string, kind TokenKind, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	}, jwt.WithLeeway(p.leeway))
	if err != nil {
		return "", "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	if claims.Issuer != p.issuer {
		return "", "", ErrInvalidToken
	}
	if claims.Kind != KindAccess && claims.Kind != KindRefresh {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.Kind, nil
}
