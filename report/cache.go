package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "stay:report:version"

// Cache is a versioned Redis JSON cache. Keys embed the current version, so
// Bump invalidates everything at once without scanning. A nil Cache or a nil
// client computes every value afresh.
type Cache struct {
	client *redis.Client
	ttl    time.Duration

	// Logger receives cache failures. slog.Default() when nil.
	Logger *slog.Logger
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising it when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		// SetNX so a concurrent Bump is not overwritten.
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey joins parts and appends the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if !c.enabled() {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// FetchJSON decodes the cached value at key into dest, or runs loader, stores
// its result and decodes that. Redis failures are logged and treated as a
// miss; only loader and encoding errors are returned.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c.enabled() {
		payload, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if err := json.Unmarshal(payload, dest); err == nil {
				return nil
			}
			c.logger().Warn("report cache entry unreadable, rebuilding", "key", key)
		case !errors.Is(err, redis.Nil):
			c.logger().Warn("report cache read failed", "key", key, "error", err)
		}
	}

	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.enabled() {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger().Warn("report cache write failed", "key", key, "error", err)
		}
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates every cached report.
func (c *Cache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *Cache) enabled() bool { return c != nil && c.client != nil }

func (c *Cache) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
