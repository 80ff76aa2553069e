package ksk

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCache(t *testing.T) {
	cache := newResponseCache(4, time.Minute)
	require.NotNil(t, cache)

	_, ok := cache.get("/history/meters/1")
	assert.False(t, ok)

	cache.put("/history/meters/1", json.RawMessage(`[1]`))
	body, ok := cache.get("/history/meters/1")
	require.True(t, ok)
	assert.Equal(t, `[1]`, string(body))
}

func TestResponseCacheExpiry(t *testing.T) {
	cache := newResponseCache(4, 10*time.Millisecond)
	cache.put("/history/meters/1", json.RawMessage(`[1]`))

	time.Sleep(20 * time.Millisecond)
	_, ok := cache.get("/history/meters/1")
	assert.False(t, ok)
}

func TestResponseCacheDisabled(t *testing.T) {
	assert.Nil(t, newResponseCache(0, time.Minute))
	assert.Nil(t, newResponseCache(4, 0))

	// nil receiver is a valid no-op
	var cache *responseCache
	cache.put("key", json.RawMessage(`{}`))
	_, ok := cache.get("key")
	assert.False(t, ok)
}
