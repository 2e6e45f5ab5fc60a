package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

func TestUnifiedCache_SetGet(t *testing.T) {
	c := NewUnifiedCache[[]models.Score](time.Minute, "test", nil)
	defer c.Close()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", []models.Score{{ID: "a", Score: 0.9}})
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "a", got[0].ID)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)

	m := c.GetMetrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(2), m.Misses)
	assert.Equal(t, int64(1), m.Sets)
}

func TestUnifiedCache_Expiry(t *testing.T) {
	c := NewUnifiedCache[string](20*time.Millisecond, "expiry", nil)
	defer c.Close()

	c.Set("k", "v")
	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)

	c.evictExpired()
	assert.Zero(t, c.Size())
}

func TestUnifiedCache_CloseTwice(t *testing.T) {
	c := NewUnifiedCache[int](time.Second, "close", nil)
	c.Close()
	assert.NotPanics(t, c.Close)
}

func TestCacheKeyBuilder(t *testing.T) {
	a := NewCacheKeyBuilder(nil).AddUser("u1").AddCities([]string{"Malang", "Batu"}).BuildOrDefault()
	b := NewCacheKeyBuilder(nil).AddUser("u1").AddCities([]string{"Malang", "Batu"}).BuildOrDefault()
	c := NewCacheKeyBuilder(nil).AddUser("u2").AddCities([]string{"Malang", "Batu"}).BuildOrDefault()

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCacheManager(t *testing.T) {
	cm := NewCacheManager(time.Minute, nil)
	defer cm.Close()

	cm.Destinations.Set("x", []models.Destination{{ID: "d1"}})
	metrics := cm.GetAllMetrics()
	assert.Equal(t, int64(1), metrics["destinations"].Sets)

	cm.ClearAll()
	assert.Zero(t, cm.Destinations.Size())
}
