package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neexbeast/culturalcompass/internal/discovery"
)

// DefaultTTL bounds how long an offline batch is kept.
const DefaultTTL = 24 * time.Hour

// Cache keeps the most recent live batch per user in Redis so a session can
// still show something when the provider is unreachable. It is disposable:
// losing it only degrades the offline fallback.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a Cache. A non-positive ttl falls back to DefaultTTL.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}
}

// key returns the Redis key holding userID's batch.
func key(userID string) string {
	return "attractions:" + strings.TrimSpace(userID)
}

// UpsertBatch replaces the user's cached batch in one MULTI/EXEC so readers
// never see a half-written list. Provider order is kept.
func (c *Cache) UpsertBatch(ctx context.Context, userID string, batch []discovery.Attraction) error {
	values := make([]interface{}, 0, len(batch))
	for _, a := range batch {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshaling attraction %s for user %s: %w", a.ID, userID, err)
		}
		values = append(values, b)
	}

	k := key(userID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		if len(values) > 0 {
			pipe.RPush(ctx, k, values...)
			pipe.Expire(ctx, k, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache upsert for user %s: %w", userID, err)
	}
	return nil
}

// ReadCached returns the user's cached batch in stored order.
// Returns nil, nil on a cache miss (not an error).
func (c *Cache) ReadCached(ctx context.Context, userID string) ([]discovery.Attraction, error) {
	vals, err := c.client.LRange(ctx, key(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache read for user %s: %w", userID, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	out := make([]discovery.Attraction, 0, len(vals))
	for i, v := range vals {
		var a discovery.Attraction
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			return nil, fmt.Errorf("unmarshaling cached attraction %d for user %s: %w", i, userID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// Delete drops the user's cached batch.
func (c *Cache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("cache delete for user %s: %w", userID, err)
	}
	return nil
}
