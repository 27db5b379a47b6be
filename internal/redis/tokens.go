package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrTokenNotFound = errors.New("token not found or expired")

// TokenStore holds short-lived, single-use payloads addressed by an opaque
// token.
type TokenStore interface {
	Issue(ctx context.Context, payload []byte, ttl time.Duration) (string, error)
	// Redeem returns the payload and deletes the token atomically.
	Redeem(ctx context.Context, token string) ([]byte, error)
	// Peek returns the payload without consuming the token.
	Peek(ctx context.Context, token string) ([]byte, error)
}

type redisTokenStore struct {
	client *redis.Client
	prefix string
}

func NewRedisTokenStore(client *redis.Client, prefix string) TokenStore {
	return &redisTokenStore{client: client, prefix: prefix}
}

func (s *redisTokenStore) key(token string) string {
	return s.prefix + ":" + token
}

func (s *redisTokenStore) Issue(ctx context.Context, payload []byte, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, s.key(token), payload, ttl).Err(); err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

func (s *redisTokenStore) Redeem(ctx context.Context, token string) ([]byte, error) {
	data, err := s.client.GetDel(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redeem token: %w", err)
	}
	return data, nil
}

func (s *redisTokenStore) Peek(ctx context.Context, token string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	return data, nil
}
