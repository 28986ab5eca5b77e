// Package cache holds the short-lived shared state of the API: the set of
// webhook deliveries already processed.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers delivery ids for a while. Seen claims the id and
// reports true when an earlier call already holds it. A claim lasts only
// InFlightTTL until Done confirms it, so a delivery lost to a crash
// mid-processing is accepted again once the claim lapses.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	// Done keeps the claim for the full TTL after successful processing.
	Done(ctx context.Context, id string) error
	// Forget releases a claim so a delivery whose processing failed can be
	// retried by the gateway.
	Forget(ctx context.Context, id string) error
}

// InFlightTTL bounds how long an unconfirmed claim blocks redeliveries.
const InFlightTTL = time.Minute

func inFlight(ttl time.Duration) time.Duration {
	if ttl < InFlightTTL {
		return ttl
	}
	return InFlightTTL
}

type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis parses a redis:// URL and pings the server.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func NewRedisDeduper(c *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: c, ttl: ttl, prefix: "webhook:event:"}
}

func (d *RedisDeduper) Seen(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+id, "processing", inFlight(d.ttl)).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (d *RedisDeduper) Done(ctx context.Context, id string) error {
	return d.client.Set(ctx, d.prefix+id, "done", d.ttl).Err()
}

func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
	return d.client.Del(ctx, d.prefix+id).Err()
}

// MemoryDeduper is the single-process fallback when Redis is not configured.
type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, now: time.Now, seen: map[string]time.Time{}}
}

func (d *MemoryDeduper) Seen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[id]; ok {
		return true, nil
	}
	d.seen[id] = now.Add(inFlight(d.ttl))
	return false, nil
}

func (d *MemoryDeduper) Done(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[id] = d.now().Add(d.ttl)
	return nil
}

func (d *MemoryDeduper) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}
