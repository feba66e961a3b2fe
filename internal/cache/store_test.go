package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/fundamentals-ea/internal/model"
)

func testData() map[string]interface{} {
	return map[string]interface{}{
		model.FieldCurrentPrice: 150.0,
		model.FieldMarketCap:    2.5e12,
	}
}

func TestStore_PutGet(t *testing.T) {
	s := NewStore("")
	s.Put("key1", testData(), model.SourceAlphaVantage, 0.85, 24)

	entry, ok := s.Get("key1")
	require.True(t, ok)
	assert.Equal(t, model.SourceAlphaVantage, entry.Source)
	assert.Equal(t, 0.85, entry.QualityScore)
	assert.Equal(t, 150.0, entry.Data[model.FieldCurrentPrice])

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_ExpiredOnReadEvicts(t *testing.T) {
	s := NewStore("")
	s.Put("key1", testData(), model.SourceAlphaVantage, 0.85, 0)

	_, ok := s.Get("key1")
	assert.False(t, ok, "zero-TTL entry must report expired")

	stats := s.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(1), stats.Evicted)
}

func TestStore_OverwriteReplacesEntry(t *testing.T) {
	s := NewStore("")
	s.Put("key1", testData(), model.SourceAlphaVantage, 0.5, 24)
	s.Put("key1", map[string]interface{}{model.FieldCurrentPrice: 160.0}, model.SourceYahooChart, 0.9, 12)

	entry, ok := s.Get("key1")
	require.True(t, ok)
	assert.Equal(t, model.SourceYahooChart, entry.Source)
	assert.Equal(t, 160.0, entry.Data[model.FieldCurrentPrice])
}

func TestStore_Staleness(t *testing.T) {
	s := NewStore("")
	s.Put("fresh", testData(), model.SourceAlphaVantage, 0.8, 24)
	assert.False(t, s.IsStale("fresh"))

	s.now = func() time.Time { return time.Now().Add(DefaultStaleThreshold + time.Hour) }
	assert.True(t, s.IsStale("fresh"))
	assert.True(t, s.IsStale("missing"))
}

func TestStore_Cleanup(t *testing.T) {
	s := NewStore("")
	s.Put("short", testData(), model.SourceAlphaVantage, 0.8, 1)
	s.Put("long", testData(), model.SourceAlphaVantage, 0.8, 48)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	removed := s.Cleanup()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Stats().Entries)
}

func TestStore_PersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	s := NewStore(path)
	s.Put("live", testData(), model.SourceAlphaVantage, 0.85, 24)
	s.Put("dead", testData(), model.SourceYahooChart, 0.6, 0)
	require.NoError(t, s.Flush())

	reloaded := NewStore(path)
	entry, ok := reloaded.Get("live")
	require.True(t, ok)
	assert.Equal(t, model.SourceAlphaVantage, entry.Source)
	assert.Equal(t, 0.85, entry.QualityScore)

	_, ok = reloaded.Get("dead")
	assert.False(t, ok, "expired entries must be discarded at load")
}

func TestStore_EntriesAreIsolatedFromCallers(t *testing.T) {
	s := NewStore("")
	original := testData()
	s.Put("key1", original, model.SourceAlphaVantage, 0.8, 24)

	// Mutating the map passed to Put must not reach the stored entry.
	original[model.FieldCurrentPrice] = -1.0

	entry, ok := s.Get("key1")
	require.True(t, ok)
	assert.Equal(t, 150.0, entry.Data[model.FieldCurrentPrice])

	// Mutating a returned entry must not corrupt later reads either.
	entry.Data[model.FieldCurrentPrice] = -2.0
	entry.Data["injected"] = true

	again, ok := s.Get("key1")
	require.True(t, ok)
	assert.Equal(t, 150.0, again.Data[model.FieldCurrentPrice])
	assert.NotContains(t, again.Data, "injected")
}

func TestStore_HitMissCounters(t *testing.T) {
	s := NewStore("")
	s.Put("key1", testData(), model.SourceAlphaVantage, 0.8, 24)

	s.Get("key1")
	s.Get("key1")
	s.Get("nope")

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}
