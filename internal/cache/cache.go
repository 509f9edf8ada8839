package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ppiankov/claimsagent/internal/model"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key derives a cache key from a namespace and canonical payload bytes.
// Identical payloads always map to the same key.
func Key(namespace string, payload []byte) string {
	hash := sha256.Sum256(payload)
	return "claimsagent:v1:" + namespace + ":" + hex.EncodeToString(hash[:])
}

// Open builds the cache described by cfg: memory, then disk when cfg.Dir is
// set, then Redis when cfg.RedisURL is set. A disabled cache is returned as
// nil, which callers treat as "always miss". The close function is never nil.
func Open(cfg model.CacheConfig) (Cache, func() error, error) {
	noClose := func() error { return nil }
	if !cfg.Enabled {
		return nil, noClose, nil
	}
	if cfg.TTL <= 0 {
		return nil, noClose, fmt.Errorf("cache ttl must be positive, got %s", cfg.TTL)
	}

	memory := NewMemoryCache(cfg.TTL, 10*time.Minute)
	if cfg.Dir == "" && cfg.RedisURL == "" {
		return memory, noClose, nil
	}

	tiers := []Cache{memory}
	if cfg.Dir != "" {
		tiers = append(tiers, NewDiskCache(cfg.Dir, cfg.TTL))
	}
	closeFn := noClose
	if cfg.RedisURL != "" {
		rc, err := NewRedisCache(cfg.RedisURL, "claimsagent:cache:", cfg.TTL)
		if err != nil {
			return nil, noClose, err
		}
		tiers = append(tiers, rc)
		closeFn = rc.Close
	}
	return NewLayeredCache(tiers...), closeFn, nil
}
