// Package cache provides the shared cache contract used for metadata,
// availability, resolve and library entries, with in-memory, sqlite and
// redis backends.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by typed helpers when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the store contract. Get never blocks on upstream work; writers
// hold a lock only for the duration of the fetch, outside the cache itself.
type Cache interface {
	// Get returns the stored value, or found=false when absent or expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// GetWithAge additionally reports how long ago the value was stored,
	// letting callers detect staleness past their own threshold and refresh
	// in the background while serving the stale value.
	GetWithAge(ctx context.Context, key string) (value []byte, age time.Duration, found bool, err error)

	// Set stores value under key for ttl. A non-positive ttl means the
	// backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
}

// GetJSON reads key and unmarshals it into a T. Returns ErrNotFound when
// the key is absent.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, error) {
	var out T
	raw, found, err := c.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if !found {
		return out, ErrNotFound
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return out, nil
}

// DecodeJSON unmarshals a raw cache value into a T. Useful with GetWithAge,
// which hands back raw bytes.
func DecodeJSON[T any](raw []byte) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("cache: decode: %w", err)
	}
	return out, nil
}

// SetJSON marshals value and stores it under key for ttl.
func SetJSON[T any](ctx context.Context, c Cache, key string, value T, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}
