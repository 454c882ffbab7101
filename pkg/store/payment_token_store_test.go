package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestPaymentStore(t *testing.T) (*RedisPaymentTokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisPaymentTokenStore(client), mr
}

func TestRedisPaymentTokenStoreSingleUse(t *testing.T) {
	s, _ := newTestPaymentStore(t)
	ctx := context.Background()

	token, expiresAt, err := s.NewToken(ctx, "user-1", 15*time.Minute)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if token == "" || !expiresAt.After(time.Now()) {
		t.Fatalf("unexpected token %q expiring at %v", token, expiresAt)
	}

	userID, err := s.ConsumeToken(ctx, token)
	if err != nil {
		t.Fatalf("consume token: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected user id: %q", userID)
	}
	if _, err := s.ConsumeToken(ctx, token); !errors.Is(err, ErrInvalidPaymentToken) {
		t.Fatalf("expected invalid token on reuse, got: %v", err)
	}
}

func TestRedisPaymentTokenStoreExpires(t *testing.T) {
	s, mr := newTestPaymentStore(t)
	ctx := context.Background()

	token, _, err := s.NewToken(ctx, "user-2", time.Minute)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := s.ConsumeToken(ctx, token); !errors.Is(err, ErrInvalidPaymentToken) {
		t.Fatalf("expected expired token to be invalid, got: %v", err)
	}
}

func TestRedisPaymentTokenStoreHashesKeys(t *testing.T) {
	s, mr := newTestPaymentStore(t)
	token, _, err := s.NewToken(context.Background(), "user-3", time.Minute)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	for _, key := range mr.Keys() {
		if key == token || key == "livre2main:payment:"+token {
			t.Fatalf("raw token must not appear in redis keys: %q", key)
		}
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("expected one key, got %v", mr.Keys())
	}
}
