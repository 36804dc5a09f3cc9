package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-content/logger"
	"github.com/saiset-co/sai-content/metrics"
	"github.com/saiset-co/sai-content/policy"
	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newPolicies(t *testing.T) *policy.Manager {
	t.Helper()
	m, err := policy.NewManager(&types.ContentConfig{
		Global: types.GlobalPolicy{CacheTimeout: 10 * time.Minute},
		Policies: []types.ContentPolicy{
			{Key: "pricing", RevalidateSeconds: 1800},
			{Key: "banner"},
		},
		Environments: map[string]types.GlobalOverlay{"test": {}},
	}, "test", policy.WithEnvironmentVariables(map[string]string{}))
	require.NoError(t, err)
	return m
}

func TestMemoryStore_ExpiresAtPolicyTTL(t *testing.T) {
	clock := utils.NewManualClock(epoch)
	store := NewMemoryStore(logger.NewNop(), newPolicies(t), clock)

	store.Set("pricing", map[string]interface{}{"tier": "growth"})

	entry, ok := store.Peek("pricing")
	require.True(t, ok)
	assert.Equal(t, epoch, entry.FetchedAt)
	assert.Equal(t, epoch.Add(1800*time.Second), entry.ExpiresAt)

	clock.Advance(1799 * time.Second)
	value, ok := store.Get("pricing")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"tier": "growth"}, value)

	clock.Advance(time.Second)
	_, ok = store.Get("pricing")
	assert.False(t, ok)

	// the expired read evicted the entry
	_, ok = store.Peek("pricing")
	assert.False(t, ok)
}

func TestMemoryStore_ZeroRevalidateFallsBackToCacheTimeout(t *testing.T) {
	clock := utils.NewManualClock(epoch)
	store := NewMemoryStore(logger.NewNop(), newPolicies(t), clock)

	store.Set("banner", "spring sale")

	entry, ok := store.Peek("banner")
	require.True(t, ok)
	assert.Equal(t, epoch.Add(10*time.Minute), entry.ExpiresAt)
}

func TestMemoryStore_WithoutPoliciesUsesDefaultTTL(t *testing.T) {
	clock := utils.NewManualClock(epoch)
	store := NewMemoryStore(logger.NewNop(), nil, clock)

	store.Set("hero", "welcome")
	entry, ok := store.Peek("hero")
	require.True(t, ok)
	assert.Equal(t, epoch.Add(DefaultTTL), entry.ExpiresAt)
}

func TestMemoryStore_PeekKeepsExpiredEntries(t *testing.T) {
	clock := utils.NewManualClock(epoch)
	store := NewMemoryStore(logger.NewNop(), newPolicies(t), clock)

	store.Set("pricing", "stale")
	clock.Advance(time.Hour)

	entry, ok := store.Peek("pricing")
	require.True(t, ok)
	assert.Equal(t, "stale", entry.Value)
}

func TestMemoryStore_ClearAndStats(t *testing.T) {
	store := NewMemoryStore(logger.NewNop(), nil, utils.NewManualClock(epoch))

	store.Set("hero", "hi")
	store.Set("faq", []interface{}{"q"})
	store.Set("", "ignored")

	stats := store.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, []string{"faq", "hero"}, stats.Keys)
	assert.Equal(t, len(`"hi"`)+len(`["q"]`), stats.ApproximateByteSize)

	store.Clear("hero")
	assert.Equal(t, []string{"faq"}, store.Stats().Keys)

	store.Clear()
	assert.Equal(t, 0, store.Stats().Size)
}

func TestInstrumentedStore_RecordsHitsAndMisses(t *testing.T) {
	mm := metrics.NewMemoryMetrics(logger.NewNop())
	require.NoError(t, mm.Start())

	store := NewStore(logger.NewNop(), mm, nil, utils.NewManualClock(epoch))
	store.Set("hero", "hi")
	_, _ = store.Get("hero")
	_, _ = store.Get("faq")

	hits := mm.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "hit"})
	misses := mm.Counter("cache_operations_total", map[string]string{"operation": "get", "result": "miss"})
	assert.Equal(t, float64(1), hits.Get())
	assert.Equal(t, float64(1), misses.Get())
	assert.Equal(t, float64(1), mm.Gauge("cache_entries", nil).Get())
}

func TestMemoryStore_RestoreKeepsTimestamps(t *testing.T) {
	clock := utils.NewManualClock(epoch)
	store := NewMemoryStore(logger.NewNop(), newPolicies(t), clock)

	store.Set("pricing", "v1")
	entry, _ := store.Peek("pricing")

	clock.Advance(time.Hour)
	_, ok := store.Get("pricing")
	require.False(t, ok)

	store.Restore(entry)
	restored, ok := store.Peek("pricing")
	require.True(t, ok)
	assert.Equal(t, entry, restored)

	_, ok = store.Get("pricing")
	assert.False(t, ok)
}
