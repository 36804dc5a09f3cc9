package cache

import (
	"time"

	"github.com/saiset-co/sai-content/types"
)

// NewStore builds the content cache. When a metrics manager is given the
// store is wrapped to record operation counters and latencies.
func NewStore(logger types.Logger, metrics types.MetricsManager, policies TTLResolver, clock types.Clock) types.CacheStore {
	impl := NewMemoryStore(logger, policies, clock)

	if metrics == nil {
		return impl
	}

	return NewInstrumented(logger, metrics, impl)
}

type instrumentedStore struct {
	impl    types.CacheStore
	logger  types.Logger
	metrics types.MetricsManager
}

func NewInstrumented(logger types.Logger, metrics types.MetricsManager, impl types.CacheStore) types.CacheStore {
	return &instrumentedStore{
		impl:    impl,
		logger:  logger,
		metrics: metrics,
	}
}

func (is *instrumentedStore) Get(key string) (interface{}, bool) {
	start := time.Now()
	value, exists := is.impl.Get(key)
	duration := time.Since(start)

	result := "miss"
	if exists {
		result = "hit"
	}

	is.recordMetric("get", result, duration)
	return value, exists
}

func (is *instrumentedStore) Peek(key string) (types.ContentEntry, bool) {
	return is.impl.Peek(key)
}

func (is *instrumentedStore) Set(key string, value interface{}) {
	start := time.Now()
	is.impl.Set(key, value)
	is.recordMetric("set", "success", time.Since(start))

	is.metrics.Gauge("cache_entries", nil).Set(float64(is.impl.Stats().Size))
}

func (is *instrumentedStore) Restore(entry types.ContentEntry) {
	is.impl.Restore(entry)
	is.recordMetric("restore", "success", 0)
}

func (is *instrumentedStore) Clear(keys ...string) {
	start := time.Now()
	is.impl.Clear(keys...)

	operation := "clear"
	if len(keys) == 0 {
		operation = "flush"
	}
	is.recordMetric(operation, "success", time.Since(start))

	is.metrics.Gauge("cache_entries", nil).Set(float64(is.impl.Stats().Size))
}

func (is *instrumentedStore) Stats() types.CacheStats {
	return is.impl.Stats()
}

func (is *instrumentedStore) recordMetric(operation, result string, duration time.Duration) {
	opCounter := is.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := is.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}
