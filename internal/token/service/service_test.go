package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clerk-token-service/internal/security"
	sessiondomain "clerk-token-service/internal/session/domain"
)

// memStore implements Store for tests.
type memStore struct {
	mu       sync.Mutex
	apiKeys  map[string]string
	sessions map[string]*sessiondomain.Session
	refresh  map[string]string
	access   map[string]string
	failWith error
}

func newMemStore() *memStore {
	return &memStore{
		apiKeys:  map[string]string{},
		sessions: map[string]*sessiondomain.Session{},
		refresh:  map[string]string{},
		access:   map[string]string{},
	}
}

func (m *memStore) UserIDForAPIKey(ctx context.Context, hashedKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return "", m.failWith
	}
	return m.apiKeys[hashedKey], nil
}

func (m *memStore) GetSession(ctx context.Context, sessionID string) (*sessiondomain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.sessions[sessionID], nil
}

func (m *memStore) PutTokenPair(ctx context.Context, ownerKey, access, refresh string, accessTTL, refreshTTL time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.access[ownerKey] = access
	m.refresh[ownerKey] = refresh
	return nil
}

func (m *memStore) GetRefreshToken(ctx context.Context, ownerKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return "", m.failWith
	}
	return m.refresh[ownerKey], nil
}

func newTestService(store Store) *TokenService {
	p := security.NewTokenProvider([]byte("test-secret"), "test-issuer", time.Hour, 168*time.Hour, 0)
	return NewTokenService(store, p, nil, nil)
}

func TestExchangeAPIKey(t *testing.T) {
	store := newMemStore()
	store.apiKeys[security.HashAPIKey("valid-key")] = "u1"
	svc := newTestService(store)
	ctx := context.Background()

	pair, err := svc.ExchangeAPIKey(ctx, "valid-key")
	if err != nil {
		t.Fatalf("ExchangeAPIKey: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty token in pair")
	}
	if pair.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", pair.ExpiresIn)
	}
	if store.refresh["u1"] != pair.RefreshToken {
		t.Error("refresh token not persisted under owner key")
	}
	if store.access["u1"] != pair.AccessToken {
		t.Error("access token not persisted under owner key")
	}
}

func TestExchangeAPIKey_Unknown(t *testing.T) {
	svc := newTestService(newMemStore())
	if _, err := svc.ExchangeAPIKey(context.Background(), "nope"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("want ErrInvalidAPIKey, got %v", err)
	}
	if _, err := svc.ExchangeAPIKey(context.Background(), ""); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("empty key: want ErrInvalidAPIKey, got %v", err)
	}
}

func TestExchangeAPIKey_StoreFailurePropagates(t *testing.T) {
	store := newMemStore()
	store.failWith = errors.New("store down")
	svc := newTestService(store)
	_, err := svc.ExchangeAPIKey(context.Background(), "any")
	if err == nil || errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("store failure must not look like an invalid key, got %v", err)
	}
}

func TestExchangeAlwaysMintsFreshTokens(t *testing.T) {
	store := newMemStore()
	store.apiKeys[security.HashAPIKey("k")] = "u1"
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.ExchangeAPIKey(ctx, "k")
	if err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	second, err := svc.ExchangeAPIKey(ctx, "k")
	if err != nil {
		t.Fatalf("second exchange: %v", err)
	}
	if first.RefreshToken == second.RefreshToken {
		t.Error("exchange reused a refresh token across calls")
	}
}

func TestRefresh_RotationInvalidatesOldToken(t *testing.T) {
	store := newMemStore()
	store.apiKeys[security.HashAPIKey("k")] = "u1"
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.ExchangeAPIKey(ctx, "k")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("Refresh did not rotate the refresh token")
	}

	// R1's signature still verifies, but it is no longer the cached token.
	if _, err := svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("superseded refresh token: want ErrInvalidRefreshToken, got %v", err)
	}

	// R2 is still good.
	if _, err := svc.Refresh(ctx, second.RefreshToken); err != nil {
		t.Errorf("current refresh token rejected: %v", err)
	}
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	store := newMemStore()
	store.apiKeys[security.HashAPIKey("k")] = "u1"
	svc := newTestService(store)
	ctx := context.Background()

	pair, err := svc.ExchangeAPIKey(ctx, "k")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("access token presented for refresh: want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefresh_NoCachedToken(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store)
	p := security.NewTokenProvider([]byte("test-secret"), "test-issuer", time.Hour, time.Hour, 0)
	refresh, _, err := p.IssueRefresh("u1")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	// Valid signature, but nothing cached for u1 (e.g. session revoked).
	if _, err := svc.Refresh(context.Background(), refresh); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("want ErrInvalidRefreshToken, got %v", err)
	}
}

func TestRefresh_Garbage(t *testing.T) {
	svc := newTestService(newMemStore())
	for _, bad := range []string{"", "garbage"} {
		if _, err := svc.Refresh(context.Background(), bad); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Errorf("Refresh(%q): want ErrInvalidRefreshToken, got %v", bad, err)
		}
	}
}

func TestValidate(t *testing.T) {
	store := newMemStore()
	store.apiKeys[security.HashAPIKey("k")] = "u1"
	svc := newTestService(store)

	pair, err := svc.ExchangeAPIKey(context.Background(), "k")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if !svc.Validate(pair.AccessToken) {
		t.Error("valid access token rejected")
	}
	if svc.Validate(pair.RefreshToken) {
		t.Error("refresh token accepted as access token")
	}
	if svc.Validate("garbage") {
		t.Error("garbage accepted as access token")
	}
}

func TestExchangeProviderSession(t *testing.T) {
	store := newMemStore()
	store.sessions["s1"] = &sessiondomain.Session{ID: "s1", UserID: "u1", Status: sessiondomain.StatusActive}
	svc := newTestService(store)
	ctx := context.Background()

	pair, err := svc.ExchangeProviderSession(ctx, "s1", "u1")
	if err != nil {
		t.Fatalf("ExchangeProviderSession: %v", err)
	}
	if store.refresh["s1"] != pair.RefreshToken {
		t.Error("pair not keyed by session id")
	}

	if _, err := svc.ExchangeProviderSession(ctx, "s1", "u2"); !errors.Is(err, ErrSessionOwnershipMismatch) {
		t.Errorf("wrong user: want ErrSessionOwnershipMismatch, got %v", err)
	}
	if _, err := svc.ExchangeProviderSession(ctx, "missing", "u1"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("absent session: want ErrInvalidSession, got %v", err)
	}
	if _, err := svc.ExchangeProviderSession(ctx, "", "u1"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("empty session id: want ErrInvalidSession, got %v", err)
	}
}
