package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidPaymentToken indicates the token is unknown, expired or already used.
var ErrInvalidPaymentToken = errors.New("invalid payment token")

// RedisPaymentTokenStore keeps single-use payment tokens in Redis.
// Only the SHA-256 of a token is stored; the key expires with the token.
type RedisPaymentTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisPaymentTokenStore builds a Redis-backed payment token store.
func NewRedisPaymentTokenStore(client *redis.Client) *RedisPaymentTokenStore {
	return &RedisPaymentTokenStore{client: client, prefix: "livre2main:payment"}
}

// NewToken issues a token bound to userID, valid for ttl.
func (s *RedisPaymentTokenStore) NewToken(ctx context.Context, userID string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errors.New("user id required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be positive")
	}
	token, err := generatePaymentToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := time.Now().UTC().Add(ttl)
	if err := s.client.Set(ctx, s.key(token), userID, ttl).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("store payment token: %w", err)
	}
	return token, expiresAt, nil
}

// ConsumeToken atomically reads and deletes the token, returning its owner.
func (s *RedisPaymentTokenStore) ConsumeToken(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidPaymentToken
	}
	userID, err := s.client.GetDel(ctx, s.key(token)).Result()
	if err == redis.Nil {
		return "", ErrInvalidPaymentToken
	}
	if err != nil {
		return "", fmt.Errorf("consume payment token: %w", err)
	}
	return userID, nil
}

func (s *RedisPaymentTokenStore) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%s:%s", s.prefix, hex.EncodeToString(sum[:]))
}

func generatePaymentToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
