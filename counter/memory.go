package counter

import (
	"context"
	"sync"
	"time"

	"gateguard/exception"
)

// MemoryConfig holds configuration for the in-process counter store.
type MemoryConfig struct {
	BucketCount     int
	CleanupInterval time.Duration
}

// DefaultMemoryConfig returns a default configuration.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		BucketCount:     DefaultBucketCount,
		CleanupInterval: 5 * time.Minute,
	}
}

type bucket struct {
	epoch int64
	count int
}

// series is the ring of sub-buckets for one key+window dimension.
type series struct {
	mu      sync.Mutex
	width   time.Duration
	buckets []bucket
	// lastEpoch is the newest epoch ever written, used by the janitor to
	// reclaim idle series.
	lastEpoch int64
}

// MemoryStore is the single-node Store implementation. Keys are created
// lazily on first increment and reclaimed once every bucket has aged out.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string]*series
	config *MemoryConfig
	stop   chan struct{}
}

// NewMemoryStore creates an in-process counter store and starts its
// cleanup janitor.
func NewMemoryStore(config *MemoryConfig) *MemoryStore {
	if config == nil {
		config = DefaultMemoryConfig()
	}
	if config.BucketCount <= 0 {
		config.BucketCount = DefaultBucketCount
	}

	ms := &MemoryStore{
		series: make(map[string]*series),
		config: config,
		stop:   make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		exception.SafeGo("counter-janitor", ms.cleanupLoop)
	}

	return ms
}

// Increment implements Store. It never returns an error; the signature
// carries one for parity with remote backends.
func (ms *MemoryStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	s := ms.getSeries(key, window)
	return s.add(now, 1), nil
}

// Count implements Store.
func (ms *MemoryStore) Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	ms.mu.RLock()
	s, exists := ms.series[seriesKey(key, window)]
	ms.mu.RUnlock()
	if !exists {
		return 0, nil
	}
	return s.add(now, 0), nil
}

// Keys returns the number of live series, for tests and introspection.
func (ms *MemoryStore) Keys() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.series)
}

// Close stops the janitor.
func (ms *MemoryStore) Close() {
	close(ms.stop)
}

// seriesKey separates identical aggregation keys counted over different
// windows.
func seriesKey(key string, window time.Duration) string {
	return key + "|" + window.String()
}

func (ms *MemoryStore) getSeries(key string, window time.Duration) *series {
	sk := seriesKey(key, window)

	ms.mu.RLock()
	s, exists := ms.series[sk]
	ms.mu.RUnlock()
	if exists {
		return s
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if s, exists = ms.series[sk]; exists {
		return s
	}
	s = &series{
		width:   bucketWidth(window, ms.config.BucketCount),
		buckets: make([]bucket, ms.config.BucketCount),
	}
	ms.series[sk] = s
	return s
}

// add records delta observations at now and returns the sum of all
// non-expired buckets. With B buckets the returned value undercounts the
// true trailing-window count by at most the currently-expiring bucket.
func (s *series) add(now time.Time, delta int) int {
	epoch := epochOf(now, s.width)
	n := int64(len(s.buckets))

	s.mu.Lock()
	defer s.mu.Unlock()

	slot := &s.buckets[epoch%n]
	if slot.epoch != epoch {
		// The ring position last served an older epoch; recycle it.
		slot.epoch = epoch
		slot.count = 0
	}
	slot.count += delta
	if epoch > s.lastEpoch {
		s.lastEpoch = epoch
	}

	oldest := epoch - n + 1
	total := 0
	for i := range s.buckets {
		if s.buckets[i].epoch >= oldest && s.buckets[i].epoch <= epoch {
			total += s.buckets[i].count
		}
	}
	return total
}

// idle reports whether every bucket of the series has aged out.
func (s *series) idle(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return epochOf(now, s.width)-s.lastEpoch > int64(len(s.buckets))
}

func (ms *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(ms.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ms.stop:
			return
		case <-ticker.C:
			ms.cleanup(time.Now())
		}
	}
}

func (ms *MemoryStore) cleanup(now time.Time) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for key, s := range ms.series {
		if s.idle(now) {
			delete(ms.series, key)
		}
	}
}
