package counter

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"gateguard/errors"
)

// RedisStore shares sliding-window buckets across gateway replicas. Each
// key+window dimension is a hash whose fields are bucket epochs; replicas
// converge within one propagation round-trip, which rule thresholds are
// sized to tolerate.
type RedisStore struct {
	rdb     *redis.Client
	prefix  string
	buckets int
}

type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(rs *RedisStore) { rs.prefix = prefix }
}

func WithBucketCount(n int) RedisOption {
	return func(rs *RedisStore) { rs.buckets = n }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	rs := &RedisStore{
		rdb:     rdb,
		prefix:  "gateguard:counter:",
		buckets: DefaultBucketCount,
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs
}

// Increment implements Store.
func (rs *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	return rs.touch(ctx, key, window, now, 1)
}

// Count implements Store.
func (rs *RedisStore) Count(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	return rs.touch(ctx, key, window, now, 0)
}

func (rs *RedisStore) touch(ctx context.Context, key string, window time.Duration, now time.Time, delta int64) (int, error) {
	width := bucketWidth(window, rs.buckets)
	epoch := epochOf(now, width)
	hashKey := rs.prefix + seriesKey(key, window)

	pipe := rs.rdb.Pipeline()
	if delta != 0 {
		pipe.HIncrBy(ctx, hashKey, strconv.FormatInt(epoch, 10), delta)
		// Key TTL of two windows lets fully idle dimensions reclaim to
		// zero memory without a dedicated sweeper.
		pipe.Expire(ctx, hashKey, 2*window)
	}
	all := pipe.HGetAll(ctx, hashKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, errors.NewError(errors.ErrCodeCounterUnavailable, err.Error())
	}

	oldest := epoch - int64(rs.buckets) + 1
	total := 0
	for field, raw := range all.Val() {
		e, err := strconv.ParseInt(field, 10, 64)
		if err != nil || e < oldest || e > epoch {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		total += v
	}
	return total, nil
}
