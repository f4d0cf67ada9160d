package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/cache"
	"github.com/docsync/docsync/pkg/model"
)

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := cache.New(cache.Config{MaxEntries: 10, MaxBytes: 1024})

	c.Put("h:abc", []byte("payload"))

	got, ok := c.Get("h:abc")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	id, ok := c.GetIDByPlaintext([]byte("payload"))
	require.True(t, ok)
	assert.Equal(t, model.DocumentID("h:abc"), id)
}

func TestCache_MissReturnsFalse(t *testing.T) {
	c := cache.New(cache.Config{MaxEntries: 10, MaxBytes: 1024})
	_, ok := c.Get("missing")
	assert.False(t, ok)

	_, ok = c.GetIDByPlaintext([]byte("nope"))
	assert.False(t, ok)
}

func TestCache_EvictsByEntryCount(t *testing.T) {
	c := cache.New(cache.Config{MaxEntries: 2, MaxBytes: 1 << 20})

	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Put("c", []byte("3"))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCache_EvictsByByteSize(t *testing.T) {
	c := cache.New(cache.Config{MaxEntries: 100, MaxBytes: 10})

	c.Put("a", []byte("123456")) // 6 bytes
	c.Put("b", []byte("1234"))   // 4 bytes, total 10, within bound
	_, ok := c.Get("a")
	assert.True(t, ok)

	c.Put("c", []byte("12")) // pushes total to 12, must evict to fit
	assert.True(t, c.Len() < 3)
}

func TestCache_GetPromotesToFront(t *testing.T) {
	c := cache.New(cache.Config{MaxEntries: 2, MaxBytes: 1 << 20})

	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Get("a") // promote a so it's no longer the LRU victim

	c.Put("c", []byte("3")) // forces eviction of the true LRU entry, b

	_, ok := c.Get("a")
	assert.True(t, ok, "a was promoted and should survive")
	_, ok = c.Get("b")
	assert.False(t, ok, "b was the least recently used and should be evicted")
}

func TestCache_PutOverwritesExistingID(t *testing.T) {
	c := cache.New(cache.Config{MaxEntries: 10, MaxBytes: 1024})

	c.Put("a", []byte("first"))
	c.Put("a", []byte("second"))

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)
	assert.Equal(t, 1, c.Len())

	_, ok = c.GetIDByPlaintext([]byte("first"))
	assert.False(t, ok, "stale reverse mapping must be removed on overwrite")
}
