package cache

import (
	"context"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
)

type memoryEntry struct {
	value     []byte
	fetchedAt time.Time
}

// Memory is the in-process cache backend.
type Memory struct {
	entries *ttlcache.Cache[string, memoryEntry]
	now     func() time.Time
}

// NewMemory creates an in-memory cache whose entries default to defaultTTL.
func NewMemory(defaultTTL time.Duration) *Memory {
	return &Memory{
		entries: ttlcache.New(ttlcache.Options[string, memoryEntry]{}.
			SetDefaultTTL(defaultTTL)),
		now: time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, found := m.entries.Get(key)
	if !found {
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) GetWithAge(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	entry, found := m.entries.Get(key)
	if !found {
		return nil, 0, false, nil
	}
	return entry.value, m.now().Sub(entry.fetchedAt), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	m.entries.Set(key, memoryEntry{value: value, fetchedAt: m.now()}, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}
