// Package redis memoizes derived unread counts in Redis. Fills are guarded by
// a per-user generation that every invalidation bumps, and entries expire
// after a TTL.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a cached count may be served.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "threadline:unread:"

// generationTTL outlives any in-flight count by a wide margin; an expired
// generation restarts at zero.
const generationTTL = 24 * time.Hour

// Cache stores unread counts keyed by user.
type Cache struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// Open parses a redis:// URL, pings the server, and returns a cache.
func Open(ctx context.Context, url string, ttl time.Duration) (*Cache, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, ttl), nil
}

// New wraps an existing client.
func New(client goredis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// GetUnreadCount returns the cached count and whether it was present.
func (c *Cache) GetUnreadCount(ctx context.Context, userID string) (int, bool, error) {
	value, err := c.client.Get(ctx, key(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get unread count: %w", err)
	}
	count, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("decode unread count %q: %w", value, err)
	}
	return count, true, nil
}

// UnreadGeneration returns the user's invalidation generation, zero when
// the user was never invalidated.
func (c *Cache) UnreadGeneration(ctx context.Context, userID string) (int64, error) {
	generation, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get unread generation: %w", err)
	}
	return generation, nil
}

// SetUnreadCount stores a count for the cache TTL if the user's generation
// still equals generation. It reports whether the count was stored.
func (c *Cache) SetUnreadCount(ctx context.Context, userID string, count int, generation int64) (bool, error) {
	stored, err := setIfGeneration.Run(ctx, c.client,
		[]string{key(userID), generationKey(userID)},
		strconv.Itoa(count), strconv.FormatInt(generation, 10), c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("set unread count: %w", err)
	}
	return stored == 1, nil
}

// InvalidateUnread bumps the generation and drops the cached count of every
// listed user. Each user is updated in its own MULTI so keys never span
// cluster slots.
func (c *Cache) InvalidateUnread(ctx context.Context, userIDs ...string) error {
	for _, userID := range userIDs {
		_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Incr(ctx, generationKey(userID))
			pipe.Expire(ctx, generationKey(userID), generationTTL)
			pipe.Del(ctx, key(userID))
			return nil
		})
		if err != nil {
			return fmt.Errorf("invalidate unread count for %s: %w", userID, err)
		}
	}
	return nil
}

// setIfGeneration writes KEYS[1] only while KEYS[2] still holds ARGV[2]. A
// missing generation reads as "0".
var setIfGeneration = goredis.NewScript(`
local current = redis.call("GET", KEYS[2])
if not current then
	current = "0"
end
if current ~= ARGV[2] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// Keys share a {user} hash tag so the script touches one slot.
func key(userID string) string {
	return keyPrefix + "{" + strings.TrimSpace(userID) + "}"
}

func generationKey(userID string) string {
	return key(userID) + ":gen"
}
