package keylock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/taskboard/pkg/observability"
)

// releaseScript deletes the lock only if this holder still owns it
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every instance of the service, built on SET NX.
// The lease bounds how long a crashed holder can block others.
type Redis struct {
	client *redis.Client
	prefix string
	lease  time.Duration
	retry  time.Duration
	logger *observability.Logger
}

// NewRedis creates a distributed locker
func NewRedis(client *redis.Client, prefix string, lease time.Duration) *Redis {
	if prefix == "" {
		prefix = "lock"
	}
	if lease <= 0 {
		lease = 10 * time.Second
	}
	return &Redis{
		client: client,
		prefix: prefix,
		lease:  lease,
		retry:  25 * time.Millisecond,
		logger: observability.NewNopLogger(),
	}
}

// WithLogger sets the logger used to report failed releases
func (r *Redis) WithLogger(logger *observability.Logger) *Redis {
	if logger != nil {
		r.logger = logger.WithField("component", "keylock")
	}
	return r
}

// Lock implements Locker
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := fmt.Sprintf("%s:%s", r.prefix, key)
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("redis setnx failed: %w", err)
		}
		if ok {
			return func() {
				// the holder's context may already be done; release on a fresh one
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				r.release(releaseCtx, redisKey, token)
			}, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		}
	}
}

// release deletes the lock if this holder still owns it. A failed release
// leaves the key held until its lease runs out.
func (r *Redis) release(ctx context.Context, redisKey, token string) {
	n, err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Int64()
	if err != nil {
		r.logger.WithError(err).WithField("key", redisKey).
			WithField("lease", r.lease.String()).Error("Failed to release lock")
		return
	}
	if n == 0 {
		r.logger.WithField("key", redisKey).Warn("Lock lease expired before release")
	}
}
