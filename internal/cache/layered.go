package cache

import (
	"errors"
	"time"
)

// LayeredCache checks tiers in order, fastest first. A hit in a slower tier
// is copied into every faster tier that missed.
type LayeredCache struct {
	tiers []Cache
}

// NewLayeredCache creates a layered cache over tiers. Nil tiers are skipped.
func NewLayeredCache(tiers ...Cache) *LayeredCache {
	c := &LayeredCache{}
	for _, t := range tiers {
		if t != nil {
			c.tiers = append(c.tiers, t)
		}
	}
	return c
}

// Get returns the first hit and backfills the tiers above it.
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	for i, tier := range c.tiers {
		val, found := tier.Get(key)
		if !found {
			continue
		}
		for _, faster := range c.tiers[:i] {
			_ = faster.Set(key, val, 0)
		}
		return val, true
	}
	return nil, false
}

// Set writes every tier. A failing tier does not stop the others.
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	var errs []error
	for _, tier := range c.tiers {
		errs = append(errs, tier.Set(key, value, ttl))
	}
	return errors.Join(errs...)
}

func (c *LayeredCache) Delete(key string) error {
	var errs []error
	for _, tier := range c.tiers {
		errs = append(errs, tier.Delete(key))
	}
	return errors.Join(errs...)
}

func (c *LayeredCache) Clear() error {
	var errs []error
	for _, tier := range c.tiers {
		errs = append(errs, tier.Clear())
	}
	return errors.Join(errs...)
}

// Tiers returns the number of tiers.
func (c *LayeredCache) Tiers() int { return len(c.tiers) }
