package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCache(t *testing.T) {
	c := NewRootCache()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k", []float32{1, 2, 3})
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got)
	assert.Equal(t, 1, c.Size())

	// Mutating the returned slice must not affect the cached value.
	got[0] = 99
	again, _ := c.Get("k")
	assert.Equal(t, float32(1), again[0])
}

func TestKey(t *testing.T) {
	a := Key([]string{"the", "cat"}, []int32{0, 0, 1})
	b := Key([]string{"the", "cat"}, []int32{0, 0, 1})
	assert.Equal(t, a, b)

	// Token boundaries matter.
	c := Key([]string{"thec", "at"}, []int32{0, 0, 1})
	assert.NotEqual(t, a, c)

	// Transitions matter.
	d := Key([]string{"the", "cat"}, []int32{0, 1, 0})
	assert.NotEqual(t, a, d)
}
