package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/auditrag/internal/model"
)

const keyPrefix = "auditrag:v1:"

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key builds a namespaced cache key from a kind and its identifying parts.
// The parts are hashed so raw question text never appears in a key.
func Key(kind string, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + kind + ":" + hex.EncodeToString(hash[:])
}

// New builds the configured cache backend. Memory always fronts disk and redis.
func New(cfg model.CacheConfig) (Cache, error) {
	memory := NewMemoryCache(cfg.TTL, 10*time.Minute)

	switch cfg.Backend {
	case "", "memory":
		return memory, nil
	case "disk":
		return NewLayeredCache(memory, NewDiskCache(cfg.Dir, cfg.TTL)), nil
	case "redis":
		redis, err := NewRedisCache(cfg.Redis, cfg.TTL)
		if err != nil {
			return nil, err
		}
		return NewLayeredCache(memory, redis), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s (supported: memory, disk, redis)", cfg.Backend)
	}
}
