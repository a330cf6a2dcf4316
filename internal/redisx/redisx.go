// Package redisx holds the Redis client setup and the payment webhook
// de-duplication built on it.
package redisx

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const webhookKeyPrefix = "marketplace:webhook:"

// New connects to Redis. addr is either host:port or a redis:// URL.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		var err error
		if opts, err = redis.ParseURL(addr); err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}

// Deduper remembers which payment provider events were already handled.
type Deduper interface {
	// Claim reports whether id is seen for the first time and records it.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets id so a failed delivery can be retried.
	Release(ctx context.Context, id string) error
}

// RedisDeduper stores claimed IDs in Redis with SETNX and a TTL, so the
// guarantee holds across API replicas.
type RedisDeduper struct {
	rdb redis.Cmdable
	ttl time.Duration
}

var _ Deduper = (*RedisDeduper)(nil)

// NewRedisDeduper creates a RedisDeduper keeping IDs for ttl.
func NewRedisDeduper(rdb redis.Cmdable, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: ttl}
}

// Claim implements Deduper.
func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, webhookKeyPrefix+id, time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "setnx")
	}
	return ok, nil
}

// Release implements Deduper.
func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	if err := d.rdb.Del(ctx, webhookKeyPrefix+id).Err(); err != nil {
		return errors.Wrap(err, "del")
	}
	return nil
}

// MemoryDeduper is a single-process Deduper used when Redis is not configured.
// Expired IDs are dropped in a sweep that runs at most once per ttl, so a
// claim costs O(1) between sweeps.
type MemoryDeduper struct {
	ttl        time.Duration
	sweepEvery time.Duration
	now        func() time.Time

	mu        sync.Mutex
	seen      map[string]time.Time
	nextSweep time.Time
}

var _ Deduper = (*MemoryDeduper)(nil)

// NewMemoryDeduper creates a MemoryDeduper keeping IDs for ttl.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, sweepEvery: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

// Claim implements Deduper.
func (d *MemoryDeduper) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.After(d.nextSweep) {
		d.sweep(now)
		d.nextSweep = now.Add(d.sweepEvery)
	}
	if exp, ok := d.seen[id]; ok && !now.After(exp) {
		return false, nil
	}
	d.seen[id] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) sweep(now time.Time) {
	for id, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, id)
		}
	}
}

// Release implements Deduper.
func (d *MemoryDeduper) Release(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}
