// Package counter implements approximate sliding-window counters keyed by
// arbitrary aggregation dimensions (ip, ip+path, country). A window is
// split into fixed sub-buckets so a read sums only non-expired buckets:
// bounded memory, no per-request timestamp retention, and a documented
// undercount of at most one bucket width.
package counter

import (
	"context"
	"time"
)

// DefaultBucketCount splits a window into this many sub-buckets unless
// configured otherwise; a 5-minute window gets 30-second buckets.
const DefaultBucketCount = 10

// Store is the shared counter dependency of rate rules. Implementations
// must tolerate concurrent increments from many evaluators; at-least-once
// increment semantics are acceptable since rule thresholds carry a safety
// margin above legitimate traffic.
type Store interface {
	// Increment adds one observation for key and returns the approximate
	// count over the trailing window, including this observation.
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (int, error)

	// Count returns the approximate count without recording an observation.
	Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, error)
}

// bucketWidth derives the sub-bucket duration for a window.
func bucketWidth(window time.Duration, buckets int) time.Duration {
	if buckets <= 0 {
		buckets = DefaultBucketCount
	}
	w := window / time.Duration(buckets)
	if w <= 0 {
		w = time.Millisecond
	}
	return w
}

// epochOf maps an instant to its bucket epoch for the given width.
func epochOf(now time.Time, width time.Duration) int64 {
	return now.UnixNano() / int64(width)
}
