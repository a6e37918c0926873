package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	c := New(4)
	defer c.Stop()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// Overwriting keeps a single entry.
	c.Set("a", 2, time.Minute)
	v, ok = c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestTTLExpiry(t *testing.T) {
	c := New(4)
	defer c.Stop()

	c.Set("a", 1, 20*time.Millisecond)
	_, ok := c.Get("a")
	assert.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestZeroTTLNeverExpires(t *testing.T) {
	c := New(4)
	defer c.Stop()

	c.Set("a", 1, 0)
	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("a")
	assert.True(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c := New(2)
	defer c.Stop()

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3, time.Minute)
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry must be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestRemove(t *testing.T) {
	c := New(4)
	defer c.Stop()

	c.Set("a", 1, time.Minute)
	c.Remove("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	// Removing a missing key is a no-op.
	c.Remove("missing")
	assert.Equal(t, 0, c.Len())
}
