package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lease:"

// releaseScript deletes the key only while it still holds the caller's token, so an
// expired holder cannot remove a successor's lease.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, now: time.Now}
}

// Acquire implements Locker.
func (r *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	l, err := newLease(name, ttl, r.now())
	if err != nil {
		return Lease{}, false, err
	}
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+l.Name, l.Token, ttl).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("lease: redis acquire %s: %w", l.Name, err)
	}
	if !ok {
		return Lease{}, false, nil
	}
	return l, true, nil
}

// Release implements Locker.
func (r *RedisLocker) Release(ctx context.Context, l Lease) error {
	if err := releaseScript.Run(ctx, r.client, []string{redisKeyPrefix + l.Name}, l.Token).Err(); err != nil {
		return fmt.Errorf("lease: redis release %s: %w", l.Name, err)
	}
	return nil
}
