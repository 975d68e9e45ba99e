package ratestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Counters implementation backed by Redis, for deployments where
// counters must be shared across instances. The window is enforced with a
// TTL set on the first increment, matching the fixed-window-by-reset
// semantics of the memory store.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis returns a Redis-backed counter store. All keys are namespaced
// under the given prefix (e.g. "authcore").
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "authcore"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	return r.prefix + ":ctr:" + k
}

func (r *Redis) Increment(ctx context.Context, key string, window time.Duration) (int, error) {
	count, err := r.client.Incr(ctx, r.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if count == 1 && window > 0 {
		// TTL on first increment starts the window; expiry resets the counter.
		if err := r.client.Expire(ctx, r.key(key), window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	return int(count), nil
}

// Get reads the current count; missing keys return zero and leak nothing
// about whether the key was ever seen.
func (r *Redis) Get(ctx context.Context, key string) (int, error) {
	count, err := r.client.Get(ctx, r.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
