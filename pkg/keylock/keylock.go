// Package keylock serializes work per key, typically per user id, so that
// multi-row check-then-write sequences cannot interleave.
//
// Acquire the lock before opening a transaction, never while holding one.
package keylock

import (
	"context"
	"errors"
	"hash/fnv"
)

// ErrLockTimeout is returned when the context ends before the lock is acquired
var ErrLockTimeout = errors.New("timed out waiting for lock")

// Locker acquires exclusive access to a key.
// The returned release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// DefaultShards is the number of stripes of a Local locker
const DefaultShards = 256

// Local is an in-process Locker. Keys are hashed onto a fixed set of stripes;
// two keys may share a stripe, which only costs some extra waiting.
type Local struct {
	shards []chan struct{}
}

// NewLocal creates a local locker with n stripes (DefaultShards when n <= 0)
func NewLocal(n int) *Local {
	if n <= 0 {
		n = DefaultShards
	}
	shards := make([]chan struct{}, n)
	for i := range shards {
		shards[i] = make(chan struct{}, 1)
	}
	return &Local{shards: shards}
}

// Lock implements Locker. Waiting stops when ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	shard := l.shards[l.index(key)]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}
}

func (l *Local) index(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(l.shards)))
}
