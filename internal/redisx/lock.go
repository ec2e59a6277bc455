package redisx

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"time"
)

var ErrLockNotAcquired = errors.New("redisx: lock not acquired")

// release only when the token still matches, so an expired holder never
// deletes a lock that has since been taken by someone else.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker is a SET NX PX mutex shared by every API/worker instance.
type Locker struct {
	rdb   *redis.Client
	ttl   time.Duration
	retry time.Duration
	wait  time.Duration
}

func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = TTLLock
	}
	return &Locker{rdb: rdb, ttl: ttl, retry: 25 * time.Millisecond, wait: ttl}
}

// Acquire blocks until key is held, ctx ends, or the wait budget (one TTL) runs out.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// ctx bisa sudah cancel, release tetap harus jalan
				rctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = unlockScript.Run(rctx, l.rdb, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		}

		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, ctx.Err())
		case <-t.C:
		}
	}
}
