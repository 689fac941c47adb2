package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyedStore adapts the client to the keyed TTL store surface the gateway
// client consumes, mapping a missing key to ok=false instead of an error.
type KeyedStore struct {
	client *Client
}

// NewKeyedStore wraps the client.
func NewKeyedStore(client *Client) *KeyedStore {
	return &KeyedStore{client: client}
}

// Get returns the value at key and whether it was present.
func (s *KeyedStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value at key with the provided TTL.
func (s *KeyedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl)
}

// SetNX stores value only when key is absent, reporting whether the write happened.
func (s *KeyedStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl)
}

// InitiateDedupKey names the duplicate-initiation marker for an order.
func (s *KeyedStore) InitiateDedupKey(orderID string) string {
	return s.client.InitiateDedupKey(orderID)
}

// VerifyCacheKey names the cached completed lookup for a pidx.
func (s *KeyedStore) VerifyCacheKey(pidx string) string {
	return s.client.VerifyCacheKey(pidx)
}
