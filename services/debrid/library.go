package debrid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"streamforge/internal/cache"
	"streamforge/internal/lock"
	"streamforge/models"
)

// libraryCache serves account library listings with stale-while-revalidate
// semantics. Entries are keyed by (kind, serviceId, userToken); a read past
// the stale threshold is answered from cache while a background refresh runs
// under its own lock key so readers never queue behind the refetch.
type libraryCache struct {
	store          cache.Cache
	locks          lock.Manager
	ttl            time.Duration
	staleThreshold time.Duration
}

func newLibraryCache(store cache.Cache, locks lock.Manager, ttl, staleThreshold time.Duration) *libraryCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if staleThreshold <= 0 {
		staleThreshold = 2 * time.Minute
	}
	return &libraryCache{store: store, locks: locks, ttl: ttl, staleThreshold: staleThreshold}
}

// tokenDigest keeps credentials out of cache keys.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

func (l *libraryCache) key(kind, serviceID, token string) string {
	return fmt.Sprintf("library:%s:%s:%s", kind, serviceID, tokenDigest(token))
}

// get returns the library listing, fetching under a lock on a cold cache and
// serving stale entries while a background refresh runs.
func (l *libraryCache) get(ctx context.Context, kind, serviceID, token string, fetch func(context.Context) ([]models.DebridDownload, error)) ([]models.DebridDownload, error) {
	key := l.key(kind, serviceID, token)

	raw, age, ok, err := l.store.GetWithAge(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		items, decodeErr := cache.DecodeJSON[[]models.DebridDownload](raw)
		if decodeErr == nil {
			if age > l.staleThreshold {
				go l.refresh(kind, serviceID, token, fetch)
			}
			return items, nil
		}
		log.Printf("[debrid] corrupt library cache entry for %s/%s: %v", serviceID, kind, decodeErr)
	}

	var items []models.DebridDownload
	err = l.locks.WithLock(ctx, key+":fetch", lock.Options{Timeout: 30 * time.Second}, func(ctx context.Context) error {
		if raw, _, ok, _ := l.store.GetWithAge(ctx, key); ok {
			if cached, err := cache.DecodeJSON[[]models.DebridDownload](raw); err == nil {
				items = cached
				return nil
			}
		}
		fetched, err := fetch(ctx)
		if err != nil {
			return err
		}
		items = fetched
		return cache.SetJSON(ctx, l.store, key, fetched, l.ttl)
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// refresh refetches in the background under a dedicated lock key. Contention
// means someone else is already refreshing; give up silently.
func (l *libraryCache) refresh(kind, serviceID, token string, fetch func(context.Context) ([]models.DebridDownload, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	key := l.key(kind, serviceID, token)
	err := l.locks.WithLock(ctx, key+":refresh", lock.Options{Timeout: time.Second}, func(ctx context.Context) error {
		fetched, err := fetch(ctx)
		if err != nil {
			return err
		}
		return cache.SetJSON(ctx, l.store, key, fetched, l.ttl)
	})
	if err != nil && !isLockContention(err) {
		log.Printf("[debrid] background library refresh failed for %s/%s: %v", serviceID, kind, err)
	}
}

func isLockContention(err error) bool {
	return err != nil && AsError(err).Code == CodeLockTimeout
}

// invalidate drops the cached listing for one (kind, serviceId, token).
func (l *libraryCache) invalidate(ctx context.Context, kind, serviceID, token string) error {
	return l.store.Delete(ctx, l.key(kind, serviceID, token))
}
