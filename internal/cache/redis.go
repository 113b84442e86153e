package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusKeyPrefix = "social:status:"
	countsKeyPrefix = "social:counts:"
	hotKeyScoresKey = "social:hotkey:scores"
	reconcileSetKey = "social:reconcile:pairs"

	pairSeparator = "|"
)

// RedisCache implements RelationshipCache and PairQueue backed by Redis.
type RedisCache struct {
	client    *redis.Client
	statusTTL time.Duration
}

// NewRedisCache creates a Redis-backed cache and verifies connectivity.
func NewRedisCache(address, password string, db int, statusTTL time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if statusTTL <= 0 {
		statusTTL = 30 * time.Second
	}

	return &RedisCache{client: client, statusTTL: statusTTL}, nil
}

func statusKey(actorID, targetID string) string {
	return statusKeyPrefix + actorID + ":" + targetID
}

func countsKey(userID string) string {
	return countsKeyPrefix + userID
}

// GetStatus returns the cached status for a pair.
// Returns (status, true, nil) on hit, ("", false, nil) on miss.
func (c *RedisCache) GetStatus(ctx context.Context, actorID, targetID string) (string, bool, error) {
	val, err := c.client.Get(ctx, statusKey(actorID, targetID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get status: %w", err)
	}
	return val, true, nil
}

// SetStatus caches the status for a pair with the configured TTL.
func (c *RedisCache) SetStatus(ctx context.Context, actorID, targetID, status string) error {
	if err := c.client.Set(ctx, statusKey(actorID, targetID), status, c.statusTTL).Err(); err != nil {
		return fmt.Errorf("redis set status: %w", err)
	}
	return nil
}

// InvalidatePair drops cached statuses for both directions of a pair.
func (c *RedisCache) InvalidatePair(ctx context.Context, a, b string) error {
	if err := c.client.Del(ctx, statusKey(a, b), statusKey(b, a)).Err(); err != nil {
		return fmt.Errorf("redis invalidate pair: %w", err)
	}
	return nil
}

// GetCounts returns cached follower/following counts for a user.
func (c *RedisCache) GetCounts(ctx context.Context, userID string) (int64, int64, bool, error) {
	vals, err := c.client.HMGet(ctx, countsKey(userID), "followers", "following").Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("redis get counts: %w", err)
	}
	if vals[0] == nil || vals[1] == nil {
		return 0, 0, false, nil
	}

	followers, err := parseCount(vals[0])
	if err != nil {
		return 0, 0, false, err
	}
	following, err := parseCount(vals[1])
	if err != nil {
		return 0, 0, false, err
	}
	return followers, following, true, nil
}

func parseCount(v interface{}) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("parse cached count: unexpected type")
	}
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("parse cached count: %w", err)
	}
	return n, nil
}

// SetCounts caches counts for a user.
func (c *RedisCache) SetCounts(ctx context.Context, userID string, followers, following int64) error {
	if err := c.client.HSet(ctx, countsKey(userID), "followers", followers, "following", following).Err(); err != nil {
		return fmt.Errorf("redis set counts: %w", err)
	}
	return nil
}

// refreshCountsScript updates the counts hash only if it already exists.
var refreshCountsScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
  redis.call("HSET", key, "followers", ARGV[1], "following", ARGV[2])
  return 1
end
return 0
`)

// RefreshCounts updates cached counts only for users someone has actually
// read, mirroring the conditional-increment discipline of the CDC path.
func (c *RedisCache) RefreshCounts(ctx context.Context, userID string, followers, following int64) error {
	err := refreshCountsScript.Run(ctx, c.client, []string{countsKey(userID)}, followers, following).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis refresh counts: %w", err)
	}
	return nil
}

// InvalidateCounts drops the cached counts for a user.
func (c *RedisCache) InvalidateCounts(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, countsKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis invalidate counts: %w", err)
	}
	return nil
}

// RecordAccess increments the access score for a user in the hot key sorted set.
func (c *RedisCache) RecordAccess(ctx context.Context, userID string) error {
	if err := c.client.ZIncrBy(ctx, hotKeyScoresKey, 1, userID).Err(); err != nil {
		return fmt.Errorf("redis record access: %w", err)
	}
	return nil
}

// TopHotKeys returns the top-n most accessed user IDs.
func (c *RedisCache) TopHotKeys(ctx context.Context, n int64) ([]string, error) {
	keys, err := c.client.ZRevRange(ctx, hotKeyScoresKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis top hot keys: %w", err)
	}
	return keys, nil
}

// ResetHotKeys deletes the hot key scores sorted set.
func (c *RedisCache) ResetHotKeys(ctx context.Context) error {
	if err := c.client.Del(ctx, hotKeyScoresKey).Err(); err != nil {
		return fmt.Errorf("redis reset hot keys: %w", err)
	}
	return nil
}

// Enqueue adds a pair to the reconciliation set, scored by enqueue time.
// NX keeps the original score, so a pair flagged repeatedly stays due at its
// first flag time instead of being pushed back.
func (c *RedisCache) Enqueue(ctx context.Context, p Pair) error {
	p = p.Canonical()
	member := p.A + pairSeparator + p.B
	err := c.client.ZAddNX(ctx, reconcileSetKey, redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis enqueue pair: %w", err)
	}
	return nil
}

// Due returns up to limit pairs whose enqueue time is at or before now.
func (c *RedisCache) Due(ctx context.Context, now time.Time, limit int64) ([]Pair, error) {
	members, err := c.client.ZRangeByScore(ctx, reconcileSetKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis due pairs: %w", err)
	}

	pairs := make([]Pair, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, pairSeparator, 2)
		if len(parts) != 2 {
			continue
		}
		pairs = append(pairs, Pair{A: parts[0], B: parts[1]})
	}
	return pairs, nil
}

// Ack removes a repaired pair from the reconciliation set.
func (c *RedisCache) Ack(ctx context.Context, p Pair) error {
	p = p.Canonical()
	if err := c.client.ZRem(ctx, reconcileSetKey, p.A+pairSeparator+p.B).Err(); err != nil {
		return fmt.Errorf("redis ack pair: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ensure interfaces are satisfied at compile time.
var (
	_ RelationshipCache = (*RedisCache)(nil)
	_ PairQueue         = (*RedisCache)(nil)
)
