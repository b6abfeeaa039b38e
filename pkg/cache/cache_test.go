package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheSetGet(t *testing.T) {
	c := New(Options{})
	defer c.Close()

	c.Set("a", "1")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := New(Options{DefaultTTL: time.Minute})
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("a", 1)

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.deleteExpired()
	assert.Equal(t, 0, c.Count())
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	var evicted []string
	c := New(Options{
		MaxItems:  2,
		OnEvicted: func(key string, _ any) { evicted = append(evicted, key) },
	})
	defer c.Close()

	base := time.Now()
	tick := 0
	c.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	c.Set("first", 1)
	c.Set("second", 2)
	c.Set("second", 22) // overwrite does not evict
	assert.Empty(t, evicted)

	c.Set("third", 3)
	assert.Equal(t, []string{"first"}, evicted)
	assert.Equal(t, 2, c.Count())

	v, ok := c.Get("second")
	assert.True(t, ok)
	assert.Equal(t, 22, v)
}

func TestCacheDeleteAndFlush(t *testing.T) {
	c := New(Options{CleanupInterval: time.Hour})
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	assert.Equal(t, 1, c.Count())

	c.Flush()
	assert.Equal(t, 0, c.Count())

	c.Close() // idempotent
}
