package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryCache is an in-process RelationshipCache for tests and for running
// without Redis. Status entries honour the TTL; hot-key tracking is a plain
// counter map.
type MemoryCache struct {
	mu        sync.Mutex
	statusTTL time.Duration
	statuses  map[string]memoryStatus
	counts    map[string][2]int64
	accesses  map[string]int64
}

type memoryStatus struct {
	value   string
	expires time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache(statusTTL time.Duration) *MemoryCache {
	if statusTTL <= 0 {
		statusTTL = 30 * time.Second
	}
	return &MemoryCache{
		statusTTL: statusTTL,
		statuses:  make(map[string]memoryStatus),
		counts:    make(map[string][2]int64),
		accesses:  make(map[string]int64),
	}
}

func (c *MemoryCache) GetStatus(ctx context.Context, actorID, targetID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.statuses[actorID+":"+targetID]
	if !ok || time.Now().After(s.expires) {
		return "", false, nil
	}
	return s.value, true, nil
}

func (c *MemoryCache) SetStatus(ctx context.Context, actorID, targetID, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statuses[actorID+":"+targetID] = memoryStatus{value: status, expires: time.Now().Add(c.statusTTL)}
	return nil
}

func (c *MemoryCache) InvalidatePair(ctx context.Context, a, b string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.statuses, a+":"+b)
	delete(c.statuses, b+":"+a)
	return nil
}

func (c *MemoryCache) GetCounts(ctx context.Context, userID string) (int64, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.counts[userID]
	if !ok {
		return 0, 0, false, nil
	}
	return v[0], v[1], true, nil
}

func (c *MemoryCache) SetCounts(ctx context.Context, userID string, followers, following int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[userID] = [2]int64{followers, following}
	return nil
}

func (c *MemoryCache) RefreshCounts(ctx context.Context, userID string, followers, following int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.counts[userID]; ok {
		c.counts[userID] = [2]int64{followers, following}
	}
	return nil
}

func (c *MemoryCache) InvalidateCounts(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.counts, userID)
	return nil
}

func (c *MemoryCache) RecordAccess(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accesses[userID]++
	return nil
}

func (c *MemoryCache) TopHotKeys(ctx context.Context, n int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type kv struct {
		id    string
		score int64
	}
	all := make([]kv, 0, len(c.accesses))
	for id, score := range c.accesses {
		all = append(all, kv{id, score})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score == all[j].score {
			return all[i].id < all[j].id
		}
		return all[i].score > all[j].score
	})
	out := make([]string, 0, n)
	for _, e := range all {
		if int64(len(out)) >= n {
			break
		}
		out = append(out, e.id)
	}
	return out, nil
}

func (c *MemoryCache) ResetHotKeys(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accesses = make(map[string]int64)
	return nil
}

func (c *MemoryCache) Close() error { return nil }

// MemoryPairQueue is an in-process PairQueue for tests.
type MemoryPairQueue struct {
	mu      sync.Mutex
	entries map[Pair]time.Time
}

// NewMemoryPairQueue creates an empty in-memory queue.
func NewMemoryPairQueue() *MemoryPairQueue {
	return &MemoryPairQueue{entries: make(map[Pair]time.Time)}
}

func (q *MemoryPairQueue) Enqueue(ctx context.Context, p Pair) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	p = p.Canonical()
	if _, ok := q.entries[p]; !ok {
		q.entries[p] = time.Now()
	}
	return nil
}

func (q *MemoryPairQueue) Due(ctx context.Context, now time.Time, limit int64) ([]Pair, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Pair
	for p, at := range q.entries {
		if int64(len(out)) >= limit {
			break
		}
		if !at.After(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (q *MemoryPairQueue) Ack(ctx context.Context, p Pair) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.entries, p.Canonical())
	return nil
}

// Len reports queued pairs, for tests.
func (q *MemoryPairQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Ensure interfaces are satisfied at compile time.
var (
	_ RelationshipCache = (*MemoryCache)(nil)
	_ PairQueue         = (*MemoryPairQueue)(nil)
)
