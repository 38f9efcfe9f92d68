package throttle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrementScript applies the policy atomically on the server.
// KEYS[1] key; ARGV threshold, now (ms), lockout (ms), probation (ms).
// Returns {attempts, locked_until_ms or 0}.
var incrementScript = redis.NewScript(`
local now = tonumber(ARGV[2])
local locked = tonumber(redis.call('HGET', KEYS[1], 'locked_until') or '0')
if locked > 0 and locked <= now then
  redis.call('DEL', KEYS[1])
  locked = 0
end
local n = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if locked == 0 and n >= tonumber(ARGV[1]) then
  locked = now + tonumber(ARGV[3])
  redis.call('HSET', KEYS[1], 'locked_until', string.format('%d', locked))
end
if locked > 0 then
  redis.call('PEXPIRE', KEYS[1], locked - now)
else
  redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[4]))
end
return {n, locked}
`)

// RedisStore is a Store shared by every instance of the service
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store on client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements Store
func (r *RedisStore) Get(ctx context.Context, key string, now time.Time) (State, bool, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return State{}, false, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return State{}, false, nil
	}

	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return State{}, false, fmt.Errorf("corrupt attempts for %s: %w", key, err)
	}
	state := State{Attempts: attempts}

	if raw, ok := fields["locked_until"]; ok && raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return State{}, false, fmt.Errorf("corrupt locked_until for %s: %w", key, err)
		}
		until := time.UnixMilli(ms).UTC()
		if !now.Before(until) {
			return State{}, false, nil
		}
		state.LockedUntil = &until
	}

	return state, true, nil
}

// Increment implements Store
func (r *RedisStore) Increment(ctx context.Context, key string, policy Policy, now time.Time) (State, error) {
	res, err := incrementScript.Run(ctx, r.client, []string{key},
		policy.Threshold,
		now.UnixMilli(),
		policy.Lockout.Milliseconds(),
		policy.Probation.Milliseconds(),
	).Slice()
	if err != nil {
		return State{}, fmt.Errorf("redis increment failed: %w", err)
	}
	if len(res) != 2 {
		return State{}, fmt.Errorf("unexpected increment reply: %v", res)
	}

	attempts, _ := res[0].(int64)
	locked, _ := res[1].(int64)

	state := State{Attempts: int(attempts)}
	if locked > 0 {
		until := time.UnixMilli(locked).UTC()
		state.LockedUntil = &until
	}
	return state, nil
}

// Delete implements Store
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
