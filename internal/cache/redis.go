// Package cache owns the process Redis client and the board's cache-aside
// helpers. Every caller must cope with GetClient returning nil: Redis is
// optional and the board runs without it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"tracehub/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

var current atomic.Pointer[redis.Client]

// errorHook counts failed commands by name. Cache misses are not failures.
type errorHook struct{}

func (errorHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (errorHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		countFailure(cmd.Name(), err)
		return err
	}
}

func (errorHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		countFailure("pipeline", err)
		return err
	}
}

func countFailure(op string, err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		middleware.RedisErrors.WithLabelValues(op).Inc()
	}
}

// options accepts either host:port or a redis:// / rediss:// URL.
func options(addr string) (*redis.Options, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("empty redis address")
	}
	if strings.Contains(addr, "://") {
		return redis.ParseURL(addr)
	}
	return &redis.Options{Addr: addr}, nil
}

// Connect dials addr and pings it.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	opts, err := options(addr)
	if err != nil {
		return nil, fmt.Errorf("redis address %q: %w", addr, err)
	}
	c := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return c, nil
}

// InitRedis connects the process client. On failure it logs and leaves the
// client nil so the board runs without cache, fan-out or rate limits.
func InitRedis(addr string) {
	c, err := Connect(context.Background(), addr)
	if err != nil {
		log.Printf("Redis unavailable, continuing without it: %v", err)
		SetClient(nil)
		return
	}
	log.Printf("Redis connected at %s", c.Options().Addr)
	SetClient(c)
}

// SetClient replaces the process client. Tests point it at miniredis.
func SetClient(c *redis.Client) {
	if c != nil {
		c.AddHook(errorHook{})
	}
	current.Store(c)
}

// GetClient returns the process client, or nil when Redis is not in use.
func GetClient() *redis.Client {
	return current.Load()
}

// Close releases the process client.
func Close() {
	c := current.Swap(nil)
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Printf("Redis close: %v", err)
	}
}
