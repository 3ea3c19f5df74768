// Package middleware holds the fiber middleware of the board API: logging,
// rate limiting, metrics and tracing.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what happens to a request when Redis cannot be asked.
type FailPolicy int

const (
	// FailOpen lets the request through.
	FailOpen FailPolicy = iota
	// FailClosed answers 503.
	FailClosed
)

var errNoRedis = errors.New("rate limit store not configured")

// hitScript counts one request in a fixed window and returns the count and
// the milliseconds left in the window.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// throttlingOff is true for local and test runs.
func throttlingOff() bool {
	switch os.Getenv("APP_ENV") {
	case "", "development", "test":
		return true
	}
	return false
}

type window struct {
	count int64
	reset time.Duration
}

func hit(ctx context.Context, rdb *redis.Client, key string, span time.Duration) (window, error) {
	if rdb == nil {
		return window{}, errNoRedis
	}
	res, err := hitScript.Run(ctx, rdb, []string{key}, span.Milliseconds()).Int64Slice()
	if err != nil {
		return window{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return window{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}
	return window{count: res[0], reset: time.Duration(res[1]) * time.Millisecond}, nil
}

func limitKey(resource, who string) string {
	return "rl:" + resource + ":" + who
}

// CheckRateLimit counts one request by who against resource and reports
// whether it is within limit per span.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, resource, who string, limit int, span time.Duration) (bool, error) {
	if throttlingOff() {
		return true, nil
	}
	return checkRateLimit(ctx, rdb, resource, who, limit, span)
}

func checkRateLimit(ctx context.Context, rdb *redis.Client, resource, who string, limit int, span time.Duration) (bool, error) {
	w, err := hit(ctx, rdb, limitKey(resource, who), span)
	if err != nil {
		return false, err
	}
	return w.count <= int64(limit), nil
}

// RateLimit allows limit requests per span for each signed-in user, or each
// IP for anonymous callers. name groups routes under one budget and defaults
// to the request path. Redis outages let traffic through.
func RateLimit(rdb *redis.Client, limit int, span time.Duration, name ...string) fiber.Handler {
	return RateLimitWithPolicy(rdb, limit, span, FailOpen, name...)
}

// RateLimitWithPolicy is RateLimit with an explicit outage policy.
func RateLimitWithPolicy(rdb *redis.Client, limit int, span time.Duration, policy FailPolicy, name ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if throttlingOff() {
			return c.Next()
		}

		resource := c.Path()
		if len(name) > 0 && name[0] != "" {
			resource = name[0]
		}
		who := "ip:" + c.IP()
		if uid, ok := c.Locals("userID").(uint); ok && uid != 0 {
			who = "user:" + strconv.FormatUint(uint64(uid), 10)
		}

		w, err := hit(c.UserContext(), rdb, limitKey(resource, who), span)
		if err != nil {
			if policy == FailOpen {
				return c.Next()
			}
			log.Printf("rate limit %s closed: %v", resource, err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Rate limiting is unavailable, try again shortly",
				"code":  "UNAVAILABLE",
			})
		}

		remaining := int64(limit) - w.count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if w.count > int64(limit) {
			retry := int64(w.reset.Round(time.Second) / time.Second)
			if retry < 1 {
				retry = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(retry, 10))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, slow down",
				"code":  "UNAVAILABLE",
			})
		}
		return c.Next()
	}
}
