package blocklist

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"gateguard/errors"
	"gateguard/logx"
	"gateguard/types"
)

// RedisBlocklist shares mitigations across gateway replicas: a key blocked
// on one node rejects on every node within redis propagation delay. Redis
// owns expiry via PEXPIREAT, so there is no janitor.
type RedisBlocklist struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisBlocklist(rdb *redis.Client, prefix string) *RedisBlocklist {
	if prefix == "" {
		prefix = "gateguard:block:"
	}
	return &RedisBlocklist{rdb: rdb, prefix: prefix}
}

// blockScript performs the compare-and-extend server-side so concurrent
// Block calls from different replicas cannot shorten an entry: PTTL is
// negative for a missing key, so any positive ttl wins then.
var blockScript = redis.NewScript(`
local remaining = redis.call('PTTL', KEYS[1])
local ttl = tonumber(ARGV[2])
if remaining >= ttl then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
return 1
`)

func (rb *RedisBlocklist) Check(ctx context.Context, key string) (*types.BlockEntry, bool) {
	pipe := rb.rdb.Pipeline()
	get := pipe.Get(ctx, rb.prefix+key)
	pttl := pipe.PTTL(ctx, rb.prefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		if err != redis.Nil {
			logx.Error("BLOCKLIST", "redis check failed: ", err)
		}
		return nil, false
	}
	ttl := pttl.Val()
	if ttl <= 0 {
		return nil, false
	}
	return &types.BlockEntry{
		Key:       key,
		Reason:    get.Val(),
		ExpiresAt: time.Now().Add(ttl),
	}, true
}

func (rb *RedisBlocklist) Block(ctx context.Context, entry types.BlockEntry) error {
	newTTL := time.Until(entry.ExpiresAt)
	if newTTL <= 0 {
		return nil
	}
	err := blockScript.Run(ctx, rb.rdb,
		[]string{rb.prefix + entry.Key},
		entry.Reason, newTTL.Milliseconds()).Err()
	if err != nil {
		return errors.NewError(errors.ErrCodeBlocklistFailure, err.Error())
	}
	return nil
}

func (rb *RedisBlocklist) Remove(ctx context.Context, key string) error {
	if err := rb.rdb.Del(ctx, rb.prefix+key).Err(); err != nil {
		return errors.NewError(errors.ErrCodeBlocklistFailure, err.Error())
	}
	return nil
}

func (rb *RedisBlocklist) Entries(ctx context.Context) []types.BlockEntry {
	var out []types.BlockEntry
	iter := rb.rdb.Scan(ctx, 0, rb.prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		key := strings.TrimPrefix(full, rb.prefix)
		if entry, ok := rb.Check(ctx, key); ok {
			out = append(out, *entry)
		}
	}
	if err := iter.Err(); err != nil {
		logx.Error("BLOCKLIST", "redis scan failed: ", err)
	}
	return out
}

func (rb *RedisBlocklist) Close() error {
	return nil
}
