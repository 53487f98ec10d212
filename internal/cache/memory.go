package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultMemorySize   = 10000
	DefaultMemoryMaxTTL = 30 * 24 * time.Hour
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryOptions bounds the in-process cache. Size caps the number of entries,
// evicting the least recently used; MaxTTL caps any per-key ttl and drives the
// background sweep of stale entries.
type MemoryOptions struct {
	Size   int
	MaxTTL time.Duration
	Now    func() time.Time
}

// Memory is an in-process Cache. Values are stored JSON-encoded so callers see
// the same copy semantics as with Redis.
type Memory struct {
	entries *expirable.LRU[string, memoryEntry]
	maxTTL  time.Duration
	now     func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithOptions(MemoryOptions{})
}

func NewMemoryWithClock(now func() time.Time) *Memory {
	return NewMemoryWithOptions(MemoryOptions{Now: now})
}

func NewMemoryWithOptions(opts MemoryOptions) *Memory {
	if opts.Size <= 0 {
		opts.Size = DefaultMemorySize
	}
	if opts.MaxTTL <= 0 {
		opts.MaxTTL = DefaultMemoryMaxTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Memory{
		entries: expirable.NewLRU[string, memoryEntry](opts.Size, nil, opts.MaxTTL),
		maxTTL:  opts.MaxTTL,
		now:     opts.Now,
	}
}

func (m *Memory) GetJSON(_ context.Context, key string, out any) (bool, error) {
	entry, ok := m.entries.Get(key)
	if !ok {
		return false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		m.entries.Remove(key)
		return false, nil
	}
	if err := json.Unmarshal(entry.value, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ttl = min(ttl, m.maxTTL)
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries.Add(key, memoryEntry{value: b, expiresAt: m.now().Add(ttl)})
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.entries.Remove(key)
	return nil
}

func (m *Memory) Len() int {
	return m.entries.Len()
}
