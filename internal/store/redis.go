// Package store owns every cached record: session state, the per-user session
// index, issued token pairs, and API key mappings. It is the single
// consistency point shared by the HTTP path and the event consumers; no other
// component keeps a private copy of cached state across calls.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"clerk-token-service/internal/session/domain"
)

// Key namespaces. Every record kind gets its own prefix so kinds sharing the
// store can never collide.
const (
	sessionPrefix      = "session:"
	userSessionsPrefix = "user_sessions:"
	accessTokenPrefix  = "access_token:"
	refreshTokenPrefix = "refresh_token:"
	apiKeyPrefix       = "api_key:"
)

// Store is the Redis-backed cache. Safe for concurrent use; all coordination
// relies on Redis per-key atomicity plus MULTI/EXEC for multi-key writes.
type Store struct {
	rdb *redis.Client
}

// New returns a Store over an existing Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Open parses a Redis URL and returns a connected Store. Callers should Ping
// before serving and Close on shutdown.
func Open(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Store{rdb: redis.NewClient(opts)}, nil
}

// Ping verifies the backing connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// PutSession overwrites the session record with the given TTL and adds the
// session id to the owner's index. Both writes go out in one MULTI/EXEC
// batch; a partial failure surfaces as an error and the record must be
// treated as absent (the event will be redelivered).
func (s *Store) PutSession(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionPrefix+sess.ID, b, ttl)
		p.SAdd(ctx, userSessionsPrefix+sess.UserID, sess.ID)
		return nil
	})
	return err
}

// GetSession returns the cached session, or nil if absent or expired.
// It returns an error only for store failures, not for missing records.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	b, err := s.rdb.Get(ctx, sessionPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// DeleteSession removes the record and the index membership. Deleting an
// absent session is not an error, which keeps terminal events idempotent.
func (s *Store) DeleteSession(ctx context.Context, sessionID, userID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionPrefix+sessionID)
		p.SRem(ctx, userSessionsPrefix+userID, sessionID)
		return nil
	})
	return err
}

// ListUserSessions returns the ids of the user's live sessions. Index members
// whose record has already expired are filtered out rather than returned,
// since record TTL and index membership are not updated atomically.
func (s *Store) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, userSessionsPrefix+userID).Result()
	if err != nil {
		return nil, err
	}
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := s.rdb.Exists(ctx, sessionPrefix+id).Result()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			live = append(live, id)
		}
	}
	return live, nil
}

// PutTokenPair caches both tokens for an owner key with independent TTLs,
// overwriting any previously issued pair. The cached refresh token is the
// revocation authority: refresh succeeds only against the stored bytes.
func (s *Store) PutTokenPair(ctx context.Context, ownerKey, access, refresh string, accessTTL, refreshTTL time.Duration) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, accessTokenPrefix+ownerKey, access, accessTTL)
		p.Set(ctx, refreshTokenPrefix+ownerKey, refresh, refreshTTL)
		return nil
	})
	return err
}

// GetRefreshToken returns the cached refresh token for an owner key, or ""
// if none is cached.
func (s *Store) GetRefreshToken(ctx context.Context, ownerKey string) (string, error) {
	v, err := s.rdb.Get(ctx, refreshTokenPrefix+ownerKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

// DeleteTokensFor invalidates both cached tokens for an owner key. One DEL
// covers both keys, so the pair disappears atomically.
func (s *Store) DeleteTokensFor(ctx context.Context, ownerKey string) error {
	return s.rdb.Del(ctx, accessTokenPrefix+ownerKey, refreshTokenPrefix+ownerKey).Err()
}

// PutAPIKeyMapping writes hash(apiKey) → userId. Mappings never expire and a
// later event for the same key overwrites wholesale.
func (s *Store) PutAPIKeyMapping(ctx context.Context, hashedKey, userID string) error {
	return s.rdb.Set(ctx, apiKeyPrefix+hashedKey, userID, 0).Err()
}

// UserIDForAPIKey resolves a hashed API key to a user id, or "" on miss.
func (s *Store) UserIDForAPIKey(ctx context.Context, hashedKey string) (string, error) {
	v, err := s.rdb.Get(ctx, apiKeyPrefix+hashedKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}
