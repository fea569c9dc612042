// Package cache provides a small time-bounded cache used to memoize
// per-user responses. It is an optimization only; nothing in it is
// authoritative state, and a multi-instance deployment could swap the
// backing for a shared cache without touching callers.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TTL is a fixed-size cache whose entries expire after a constant window.
type TTL[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// NewTTL creates a cache holding at most size entries for at most ttl.
func NewTTL[K comparable, V any](size int, ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

// Get returns the cached value for key, if present and fresh.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Set stores value under key, restarting its expiry window.
func (c *TTL[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Remove evicts key.
func (c *TTL[K, V]) Remove(key K) {
	c.lru.Remove(key)
}
