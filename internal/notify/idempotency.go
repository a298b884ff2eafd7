package notify

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// RedisIdempotencyStore keeps idempotency keys in Redis. A reservation only holds for the
// short lease so a sender that dies mid-delivery does not block redelivery; a completed
// key is remembered for ttl.
type RedisIdempotencyStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	lease  time.Duration
}

// NewRedisIdempotencyStore builds the store. A lease outside (0, ttl] falls back to ttl.
func NewRedisIdempotencyStore(client redis.Cmdable, ttl, lease time.Duration) *RedisIdempotencyStore {
	if lease <= 0 || lease > ttl {
		lease = ttl
	}
	return &RedisIdempotencyStore{client: client, prefix: "notify:idem:", ttl: ttl, lease: lease}
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (string, bool, error) {
	redisKey := s.prefix + key
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, redisKey, pendingMarker, s.lease).Result()
		if err != nil {
			return "", false, err
		}
		if ok {
			return "", true, nil
		}
		existing, err := s.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", false, err
		}
		if existing == pendingMarker {
			existing = ""
		}
		return existing, false, nil
	}
	return "", false, errors.New("idempotency key contention")
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key, deliveryID string) error {
	if deliveryID == "" {
		deliveryID = "delivered"
	}
	return s.client.Set(ctx, s.prefix+key, deliveryID, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
