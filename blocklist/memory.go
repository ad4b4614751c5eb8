package blocklist

import (
	"context"
	"sync"
	"time"

	"gateguard/exception"
	"gateguard/monitoring"
	"gateguard/types"
)

// MemoryBlocklist is the single-node implementation: a map with lazy
// expiry on Check plus a periodic sweep.
type MemoryBlocklist struct {
	mu      sync.RWMutex
	entries map[string]types.BlockEntry
	stop    chan struct{}
	nowFn   func() time.Time
}

type MemoryOption func(*MemoryBlocklist)

// WithClock overrides the time source, used by TTL tests.
func WithClock(nowFn func() time.Time) MemoryOption {
	return func(mb *MemoryBlocklist) { mb.nowFn = nowFn }
}

func NewMemoryBlocklist(sweepInterval time.Duration, opts ...MemoryOption) *MemoryBlocklist {
	mb := &MemoryBlocklist{
		entries: make(map[string]types.BlockEntry),
		stop:    make(chan struct{}),
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(mb)
	}

	if sweepInterval > 0 {
		exception.SafeGo("blocklist-janitor", func() {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-mb.stop:
					return
				case <-ticker.C:
					mb.sweep()
				}
			}
		})
	}

	return mb
}

func (mb *MemoryBlocklist) Check(ctx context.Context, key string) (*types.BlockEntry, bool) {
	now := mb.nowFn()

	mb.mu.RLock()
	entry, exists := mb.entries[key]
	mb.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if entry.Expired(now) {
		mb.mu.Lock()
		// Re-check under the write lock; a concurrent Block may have
		// extended the entry since the read.
		if cur, ok := mb.entries[key]; ok && cur.Expired(mb.nowFn()) {
			delete(mb.entries, key)
		}
		mb.mu.Unlock()
		return nil, false
	}
	return &entry, true
}

func (mb *MemoryBlocklist) Block(ctx context.Context, entry types.BlockEntry) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if existing, ok := mb.entries[entry.Key]; ok && existing.ExpiresAt.After(entry.ExpiresAt) {
		return nil
	}
	mb.entries[entry.Key] = entry
	monitoring.SetBlocklistSize(len(mb.entries))
	return nil
}

func (mb *MemoryBlocklist) Remove(ctx context.Context, key string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.entries, key)
	monitoring.SetBlocklistSize(len(mb.entries))
	return nil
}

func (mb *MemoryBlocklist) Entries(ctx context.Context) []types.BlockEntry {
	now := mb.nowFn()

	mb.mu.RLock()
	defer mb.mu.RUnlock()

	out := make([]types.BlockEntry, 0, len(mb.entries))
	for _, entry := range mb.entries {
		if !entry.Expired(now) {
			out = append(out, entry)
		}
	}
	return out
}

func (mb *MemoryBlocklist) Close() error {
	close(mb.stop)
	return nil
}

func (mb *MemoryBlocklist) sweep() {
	now := mb.nowFn()

	mb.mu.Lock()
	defer mb.mu.Unlock()

	for key, entry := range mb.entries {
		if entry.Expired(now) {
			delete(mb.entries, key)
		}
	}
	monitoring.SetBlocklistSize(len(mb.entries))
}
