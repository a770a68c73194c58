package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"clerk-token-service/internal/session/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb), mr
}

func testSession(id, userID string) *domain.Session {
	now := time.Now()
	return &domain.Session{
		ID:           id,
		UserID:       userID,
		Status:       domain.StatusActive,
		ClientID:     "c1",
		LastActiveAt: now.UnixMilli(),
		ExpireAt:     now.Add(time.Hour).UnixMilli(),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutSession(ctx, testSession("s1", "u1"), time.Hour); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession returned nil for existing session")
	}
	if got.ID != "s1" || got.UserID != "u1" || got.Status != domain.StatusActive || got.ClientID != "c1" {
		t.Errorf("GetSession = %+v", got)
	}

	ids, err := s.ListUserSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListUserSessions: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s1" {
		t.Errorf("ListUserSessions = %v, want [s1]", ids)
	}
}

func TestGetSession_Absent(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Errorf("GetSession absent = %+v, want nil", got)
	}
}

func TestSessionTTLExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.PutSession(ctx, testSession("s1", "u1"), 10*time.Second); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	got, err := s.GetSession(ctx, "s1")
	if err != nil || got == nil {
		t.Fatalf("GetSession before expiry: %v, %v", got, err)
	}

	mr.FastForward(11 * time.Second)

	got, err = s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession after expiry: %v", err)
	}
	if got != nil {
		t.Errorf("session survived its TTL: %+v", got)
	}

	// The index member dangles after record expiry; listing must filter it.
	ids, err := s.ListUserSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListUserSessions: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ListUserSessions after expiry = %v, want empty", ids)
	}
}

func TestDeleteSession_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutSession(ctx, testSession("s1", "u1"), time.Hour); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	if err := s.DeleteSession(ctx, "s1", "u1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if err := s.DeleteSession(ctx, "s1", "u1"); err != nil {
		t.Fatalf("DeleteSession second time: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Errorf("session survived delete: %+v", got)
	}
	ids, err := s.ListUserSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListUserSessions: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("index member survived delete: %v", ids)
	}
}

func TestTokenPairTTLs(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.PutTokenPair(ctx, "u1", "A1", "R1", time.Hour, 7*24*time.Hour); err != nil {
		t.Fatalf("PutTokenPair: %v", err)
	}

	got, err := s.GetRefreshToken(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRefreshToken: %v", err)
	}
	if got != "R1" {
		t.Errorf("GetRefreshToken = %q, want R1", got)
	}

	// Past the access TTL the refresh token must still be redeemable.
	mr.FastForward(2 * time.Hour)
	if mr.Exists("access_token:u1") {
		t.Error("access token outlived its TTL")
	}
	got, err = s.GetRefreshToken(ctx, "u1")
	if err != nil || got != "R1" {
		t.Errorf("GetRefreshToken after access expiry = %q, %v", got, err)
	}

	mr.FastForward(8 * 24 * time.Hour)
	got, err = s.GetRefreshToken(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRefreshToken after refresh expiry: %v", err)
	}
	if got != "" {
		t.Errorf("refresh token outlived its TTL: %q", got)
	}
}

func TestPutTokenPair_Overwrites(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutTokenPair(ctx, "u1", "A1", "R1", time.Hour, time.Hour); err != nil {
		t.Fatalf("PutTokenPair: %v", err)
	}
	if err := s.PutTokenPair(ctx, "u1", "A2", "R2", time.Hour, time.Hour); err != nil {
		t.Fatalf("PutTokenPair overwrite: %v", err)
	}
	got, err := s.GetRefreshToken(ctx, "u1")
	if err != nil {
		t.Fatalf("GetRefreshToken: %v", err)
	}
	if got != "R2" {
		t.Errorf("GetRefreshToken = %q, want R2", got)
	}
}

func TestDeleteTokensFor(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.PutTokenPair(ctx, "s1", "A1", "R1", time.Hour, time.Hour); err != nil {
		t.Fatalf("PutTokenPair: %v", err)
	}
	if err := s.DeleteTokensFor(ctx, "s1"); err != nil {
		t.Fatalf("DeleteTokensFor: %v", err)
	}
	if mr.Exists("access_token:s1") || mr.Exists("refresh_token:s1") {
		t.Error("tokens survived DeleteTokensFor")
	}
	// Deleting again is a no-op, not an error.
	if err := s.DeleteTokensFor(ctx, "s1"); err != nil {
		t.Fatalf("DeleteTokensFor second time: %v", err)
	}
}

func TestAPIKeyMapping(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	uid, err := s.UserIDForAPIKey(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("UserIDForAPIKey: %v", err)
	}
	if uid != "" {
		t.Errorf("UserIDForAPIKey miss = %q, want empty", uid)
	}

	if err := s.PutAPIKeyMapping(ctx, "deadbeef", "u1"); err != nil {
		t.Fatalf("PutAPIKeyMapping: %v", err)
	}
	uid, err = s.UserIDForAPIKey(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("UserIDForAPIKey: %v", err)
	}
	if uid != "u1" {
		t.Errorf("UserIDForAPIKey = %q, want u1", uid)
	}

	// Later provisioning events overwrite wholesale.
	if err := s.PutAPIKeyMapping(ctx, "deadbeef", "u2"); err != nil {
		t.Fatalf("PutAPIKeyMapping overwrite: %v", err)
	}
	uid, _ = s.UserIDForAPIKey(ctx, "deadbeef")
	if uid != "u2" {
		t.Errorf("UserIDForAPIKey after overwrite = %q, want u2", uid)
	}
}
