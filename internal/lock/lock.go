// Package lock provides named mutual exclusion for single-flighting
// expensive fetches: metadata lookups, library listings, and resolve
// operations. The local manager covers a single process; the redis manager
// covers a cluster.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTimeout is returned when the lock could not be acquired within the
// configured wait.
var ErrTimeout = errors.New("lock: acquisition timed out")

// Options tune one acquisition. Zero fields take the defaults.
type Options struct {
	// Timeout caps the total wait for the lock.
	Timeout time.Duration
	// TTL caps how long the lock may be held; it auto-releases afterwards
	// so a crashed holder cannot wedge the key forever.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
}

const (
	defaultTimeout       = 30 * time.Second
	defaultTTL           = time.Minute
	defaultRetryInterval = 100 * time.Millisecond
)

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.TTL <= 0 {
		o.TTL = defaultTTL
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaultRetryInterval
	}
	return o
}

// Manager runs a body under a named lock. The body is invoked at most once;
// on contention past Timeout the call fails with ErrTimeout without running
// the body.
type Manager interface {
	WithLock(ctx context.Context, name string, opts Options, fn func(ctx context.Context) error) error
}

type localHold struct {
	owner     string
	expiresAt time.Time
}

// Local is the in-process lock manager.
type Local struct {
	mu    sync.Mutex
	holds map[string]localHold
	now   func() time.Time
}

// NewLocal creates an in-process lock manager.
func NewLocal() *Local {
	return &Local{holds: make(map[string]localHold), now: time.Now}
}

func (l *Local) tryAcquire(name string, ttl time.Duration) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hold, held := l.holds[name]; held && l.now().Before(hold.expiresAt) {
		return "", false
	}
	owner := uuid.NewString()
	l.holds[name] = localHold{owner: owner, expiresAt: l.now().Add(ttl)}
	return owner, true
}

func (l *Local) release(name, owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hold, held := l.holds[name]; held && hold.owner == owner {
		delete(l.holds, name)
	}
}

// WithLock acquires name, runs fn, and releases. TTL expiry releases the
// lock even if fn is still running; fn itself is not interrupted.
func (l *Local) WithLock(ctx context.Context, name string, opts Options, fn func(ctx context.Context) error) error {
	opts = opts.withDefaults()
	deadline := l.now().Add(opts.Timeout)

	for {
		if owner, acquired := l.tryAcquire(name, opts.TTL); acquired {
			defer l.release(name, owner)
			return fn(ctx)
		}
		if !l.now().Add(opts.RetryInterval).Before(deadline) {
			return ErrTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.RetryInterval):
		}
	}
}
