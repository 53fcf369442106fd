package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestTTLCache_Expiry 测试过期逻辑
func TestTTLCache_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCache[string, int](time.Second, func() time.Time { return now })

	c.Set("a", 1, 0)
	c.Set("b", 2, 5*time.Second)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "到达 TTL 后应过期")

	v, ok = c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	now = now.Add(10 * time.Second)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 0, c.Size())
}

// TestTTLCache_DeleteClear 测试删除与清空
func TestTTLCache_DeleteClear(t *testing.T) {
	c := NewTTLCache[int, string](time.Minute, nil)
	c.Set(1, "x", 0)
	c.Set(2, "y", 0)
	c.Delete(1)
	assert.Equal(t, 1, c.Size())
	c.Clear()
	assert.Equal(t, 0, c.Size())
}
