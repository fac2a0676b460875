package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "price in gachibowli", NormalizeQuery("  Price   in\tGACHIBOWLI \n"))
	assert.Equal(t, "", NormalizeQuery("   "))
}

func TestCacheTTL(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c := NewCache(time.Hour)
	c.now = func() time.Time { return now }

	c.Put("Price in Kondapur", sampleResults())

	got, ok := c.Get("price   in kondapur")
	require.True(t, ok, "normalized keys share an entry")
	assert.Equal(t, sampleResults(), got)

	now = now.Add(59 * time.Minute)
	_, ok = c.Get("price in kondapur")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get("price in kondapur")
	assert.False(t, ok, "an entry exactly TTL old is stale")
	assert.Equal(t, 1, c.Len(), "stale entries are ignored, not removed, on lookup")
}

func TestCacheReturnsCopies(t *testing.T) {
	c := NewCache(time.Hour)
	in := sampleResults()
	c.Put("q", in)
	in[0].Title = "mutated"

	got, _ := c.Get("q")
	got[1].Title = "also mutated"

	again, _ := c.Get("q")
	assert.Equal(t, sampleResults(), again)
}

func TestCacheSweep(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c := NewCache(time.Hour)
	c.now = func() time.Time { return now }

	c.Put("old", sampleResults())
	now = now.Add(40 * time.Minute)
	c.Put("new", sampleResults())

	assert.Equal(t, 1, c.Sweep(now.Add(20*time.Minute)))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("new")
	assert.True(t, ok)
}
