// Package cache memoizes composed root vectors keyed by an example's
// token and transition signature.
package cache

import (
	"strconv"
	"strings"
	"sync"
)

// VectorCache is the interface the encoder caches roots through.
type VectorCache interface {
	// Get retrieves a vector from the cache.
	Get(key string) ([]float32, bool)
	// Put stores a vector in the cache.
	Put(key string, vec []float32)
	// Size returns the number of items in the cache.
	Size() int
}

// Key builds a stable cache key from an example's tokens and transitions.
// The unit separator keeps multi-word tokens from colliding.
func Key(tokens []string, transitions []int32) string {
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(tok)
		b.WriteByte(0x1f)
	}
	b.WriteByte('|')
	for _, tr := range transitions {
		b.WriteString(strconv.Itoa(int(tr)))
	}
	return b.String()
}

// RootCache is a simple in-memory VectorCache.
type RootCache struct {
	data map[string][]float32
	mu   sync.RWMutex
}

func NewRootCache() *RootCache {
	return &RootCache{
		data: make(map[string][]float32),
	}
}

func (c *RootCache) Get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return copy to avoid modification of cached value
	if v, ok := c.data[key]; ok {
		dst := make([]float32, len(v))
		copy(dst, v)
		return dst, true
	}
	return nil, false
}

func (c *RootCache) Put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Store copy
	dst := make([]float32, len(vec))
	copy(dst, vec)
	c.data[key] = dst
}

func (c *RootCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
