package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisEnvelope struct {
	Value     []byte `json:"v"`
	FetchedAt int64  `json:"t"`
}

// Redis is the cluster-mode cache backend. Multiple instances share entries,
// so a fetch done by one node serves them all.
type Redis struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
	now        func() time.Time
}

// NewRedis connects to the redis instance at addr. All keys are namespaced
// under prefix.
func NewRedis(ctx context.Context, addr, password string, db int, prefix string, defaultTTL time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return &Redis{client: client, prefix: prefix, defaultTTL: defaultTTL, now: time.Now}, nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, _, found, err := r.GetWithAge(ctx, key)
	return value, found, err
}

func (r *Redis) GetWithAge(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, 0, false, nil
		}
		return nil, 0, false, fmt.Errorf("cache read %q: %w", key, err)
	}
	var envelope redisEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, 0, false, fmt.Errorf("cache decode %q: %w", key, err)
	}
	age := r.now().Sub(time.Unix(envelope.FetchedAt, 0))
	return envelope.Value, age, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	raw, err := json.Marshal(redisEnvelope{Value: value, FetchedAt: r.now().Unix()})
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	if err := r.client.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache write %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("cache delete %q: %w", key, err)
	}
	return nil
}
