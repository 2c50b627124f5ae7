package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when the caller still owns it,
// so a hold that outlived its TTL cannot release a successor's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Redis is the cluster-wide lock manager built on SET NX PX.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a redis-backed lock manager. Keys are namespaced under
// prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(name string) string {
	if r.prefix == "" {
		return "lock:" + name
	}
	return r.prefix + ":lock:" + name
}

// WithLock acquires name across the cluster, runs fn, and releases.
func (r *Redis) WithLock(ctx context.Context, name string, opts Options, fn func(ctx context.Context) error) error {
	opts = opts.withDefaults()
	key := r.key(name)
	owner := uuid.NewString()
	deadline := time.Now().Add(opts.Timeout)

	for {
		acquired, err := r.client.SetNX(ctx, key, owner, opts.TTL).Result()
		if err != nil {
			return fmt.Errorf("lock %q: %w", name, err)
		}
		if acquired {
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = r.client.Eval(releaseCtx, releaseScript, []string{key}, owner).Err()
			}()
			return fn(ctx)
		}
		if !time.Now().Add(opts.RetryInterval).Before(deadline) {
			return ErrTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.RetryInterval):
		}
	}
}
