package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idem:"

// RedisStore implements Store on Redis. Records expire through key TTLs so no cleanup pass is needed.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	rec := newPendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(rec)
	if err != nil {
		return Reservation{}, err
	}
	redisKey := redisKeyPrefix + documentID(key)
	ok, err := s.client.SetNX(ctx, redisKey, payload, ttl).Result()
	if err != nil {
		return Reservation{}, err
	}
	if ok {
		return Reservation{State: ReservationStateNew, Record: rec}, nil
	}

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; the caller may retry with a fresh reservation.
		return Reservation{State: ReservationStatePending, Record: rec}, nil
	}
	if err != nil {
		return Reservation{}, err
	}
	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Reservation{}, err
	}
	res, _, err := resolve(existing, fingerprint, now)
	return res, err
}

// SaveResponse implements Store.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	rec := completeRecord(newPendingRecord(key, fingerprint, now, ttl), resp, now, ttl)
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+documentID(key), payload, ttl).Err()
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	return s.client.Del(ctx, redisKeyPrefix+documentID(key)).Err()
}
