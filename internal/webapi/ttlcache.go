package webapi

import (
	"context"
	"sync"
	"time"
)

// ttlCache memoizes the result of a single expensive call for ttl,
// collapsing concurrent callers onto one in-flight fetch.
type ttlCache[T any] struct {
	ttl     time.Duration
	fetch   func(ctx context.Context) (T, error)
	mu      sync.Mutex
	value   T
	fetched time.Time
}

func newTTLCache[T any](ttl time.Duration, fetch func(ctx context.Context) (T, error)) *ttlCache[T] {
	return &ttlCache[T]{ttl: ttl, fetch: fetch}
}

func (c *ttlCache[T]) get(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.fetched) < c.ttl {
		return c.value, nil
	}
	value, err := c.fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.value = value
	c.fetched = time.Now()
	return value, nil
}
