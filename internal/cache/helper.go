package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tracehub/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const (
	// ItemsListKey holds the newest-first board listing.
	ItemsListKey = "items:list"

	ItemsListTTL = 30 * time.Second
)

// Every cached key has a generation counter next to it. Invalidation bumps
// the counter and drops the value in one step; a fill only lands when the
// counter still holds the value read before fetching, so a list loaded
// before a write can never be stored after it.
var (
	fillScript = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

	invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('DEL', KEYS[1])
return 1
`)
)

func genKey(key string) string { return key + ":gen" }

// stale holds keys whose last invalidation did not reach Redis. Until one
// does, this process reads them from the source.
var stale sync.Map

// Aside serves dest from key when it is cached. On a miss fetch fills dest and
// the result is stored for ttl, unless key was invalidated while fetch ran.
// Cache faults only log; fetch errors are returned unchanged.
func Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	rdb := GetClient()
	if rdb == nil {
		return fetch()
	}
	if _, pending := stale.Load(key); pending {
		if err := Invalidate(ctx, key); err != nil {
			return fetch()
		}
	}

	gen := "0"
	vals, err := rdb.MGet(ctx, key, genKey(key)).Result()
	if err != nil {
		logFault(ctx, "read", key, err)
		return fetch()
	}
	if raw, ok := vals[0].(string); ok {
		if err := json.Unmarshal([]byte(raw), dest); err == nil {
			return nil
		}
		logFault(ctx, "decode", key, err)
	}
	if g, ok := vals[1].(string); ok {
		gen = g
	}

	if err := fetch(); err != nil {
		return err
	}

	raw, err := json.Marshal(dest)
	if err == nil {
		err = fillScript.Run(ctx, rdb, []string{key, genKey(key)}, gen, raw, ttl.Milliseconds()).Err()
	}
	if err != nil {
		logFault(ctx, "write", key, err)
	}
	return nil
}

func logFault(ctx context.Context, op, key string, err error) {
	middleware.Logger.WarnContext(ctx, "cache "+op+" failed", "key", key, "error", err)
}

// Invalidate drops key and fences out fills that started before the call.
// When Redis cannot be reached the key is bypassed by this process until a
// later Invalidate succeeds, and the error is returned.
func Invalidate(ctx context.Context, key string) error {
	rdb := GetClient()
	if rdb == nil {
		return nil
	}
	if err := invalidateScript.Run(ctx, rdb, []string{key, genKey(key)}).Err(); err != nil {
		stale.Store(key, struct{}{})
		logFault(ctx, "invalidate", key, err)
		return err
	}
	stale.Delete(key)
	return nil
}

// InvalidateItemsList drops the cached board listing.
func InvalidateItemsList(ctx context.Context) error {
	return Invalidate(ctx, ItemsListKey)
}
