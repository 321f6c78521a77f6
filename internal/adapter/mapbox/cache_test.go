package mapbox

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/territory-sync/internal/domain"
)

// --- mock for cache tests ---

type countingGeocoder struct {
	calls  int
	result domain.GeocodingResult
	err    error
}

func (m *countingGeocoder) Geocode(_ context.Context, _ string) (domain.GeocodingResult, error) {
	m.calls++
	return m.result, m.err
}

// --- CachedGeocoder tests ---

func TestCachedGeocoder_CacheHit(t *testing.T) {
	inner := &countingGeocoder{
		result: domain.GeocodingResult{Coordinate: domain.Coordinate{Lat: 30.27, Lng: -97.74}, FormattedAddress: "Austin, TX"},
	}
	metrics := testMetrics()
	cached := NewCachedGeocoder(inner, 10, metrics)

	r1, err := cached.Geocode(context.Background(), "Austin, TX")
	require.NoError(t, err)
	assert.Equal(t, "Austin, TX", r1.FormattedAddress)

	r2, err := cached.Geocode(context.Background(), "  austin,   TX ")
	require.NoError(t, err)
	assert.Equal(t, r1, r2)

	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("memory", "hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("memory", "miss")), 0)
}

func TestCachedGeocoder_DifferentKeysMiss(t *testing.T) {
	inner := &countingGeocoder{
		result: domain.GeocodingResult{FormattedAddress: "Place, TX"},
	}
	cached := NewCachedGeocoder(inner, 10, testMetrics())

	_, _ = cached.Geocode(context.Background(), "Austin, TX")
	_, _ = cached.Geocode(context.Background(), "Dallas, TX")

	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_FailuresNotCached(t *testing.T) {
	inner := &countingGeocoder{err: domain.NoMatch("Nowhere")}
	cached := NewCachedGeocoder(inner, 10, testMetrics())

	_, err := cached.Geocode(context.Background(), "Nowhere")
	require.Error(t, err)
	_, err = cached.Geocode(context.Background(), "Nowhere")
	require.Error(t, err)

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 0, cached.cache.len())
}

// --- LRU cache unit tests ---

func result(addr string) domain.GeocodingResult {
	return domain.GeocodingResult{FormattedAddress: addr}
}

func TestLRUCache_BasicGetPut(t *testing.T) {
	c := newLRUCache(3)

	c.put("a", result("A"))
	c.put("b", result("B"))

	got, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A", got.FormattedAddress)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", result("A"))
	c.put("b", result("B"))
	c.put("c", result("C"))

	_, ok := c.get("a")
	assert.False(t, ok, "a should have been evicted")

	got, ok := c.get("b")
	assert.True(t, ok)
	assert.Equal(t, "B", got.FormattedAddress)

	got, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, "C", got.FormattedAddress)
	assert.Equal(t, 2, c.len())
}

func TestLRUCache_AccessPromotesEntry(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", result("A"))
	c.put("b", result("B"))

	// Access "a" to promote it
	c.get("a")

	// Insert "c", which should evict "b" (LRU), not "a"
	c.put("c", result("C"))

	_, ok := c.get("a")
	assert.True(t, ok, "a was accessed recently, should not be evicted")

	_, ok = c.get("b")
	assert.False(t, ok, "b should have been evicted")
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache(2)

	c.put("a", result("A1"))
	c.put("a", result("A2"))

	got, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "A2", got.FormattedAddress)
}

func TestLRUCache_SizeFloor(t *testing.T) {
	c := newLRUCache(0)

	c.put("a", result("A"))
	c.put("b", result("B"))

	assert.Equal(t, 1, c.len())
}
