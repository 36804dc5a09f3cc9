package monitor

import (
	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
)

const monitoringJob = "content-sync-monitor"

// StartMonitoring schedules the periodic job that publishes summary gauges
// and logs the current sync health.
func (m *Monitor) StartMonitoring() error {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if m.monitoring {
		return types.ErrMonitoringRunning
	}
	if m.scheduler == nil {
		return types.Errorf(types.ErrNotSupported, "no scheduler configured")
	}

	if err := m.scheduler.Add(monitoringJob, m.schedule, m.Tick); err != nil {
		return types.WrapError(err, "failed to schedule monitoring")
	}

	m.monitoring = true
	m.logger.Info("Sync monitoring started", zap.String("schedule", m.schedule))

	m.Tick()
	return nil
}

func (m *Monitor) StopMonitoring() error {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()

	if !m.monitoring {
		return types.ErrMonitoringNotRunning
	}

	if err := m.scheduler.Remove(monitoringJob); err != nil {
		return types.WrapError(err, "failed to unschedule monitoring")
	}

	m.monitoring = false
	m.logger.Info("Sync monitoring stopped")
	return nil
}

func (m *Monitor) IsMonitoring() bool {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	return m.monitoring
}

// Tick publishes the current summary as gauges and logs it.
func (m *Monitor) Tick() {
	m.mu.RLock()
	summary := m.summaryLocked()
	buffered := len(m.events)
	m.mu.RUnlock()

	errorRate := 0.0
	if summary.TotalRequests > 0 {
		errorRate = float64(summary.FailedRequests) / float64(summary.TotalRequests)
	}

	if m.metrics != nil {
		m.metrics.Gauge("content_sync_cache_hit_rate", nil).Set(summary.CacheHitRate)
		m.metrics.Gauge("content_sync_error_rate", nil).Set(errorRate)
		m.metrics.Gauge("content_sync_events_buffered", nil).Set(float64(buffered))
	}

	m.logger.Info("Sync status",
		zap.String("status", string(healthOf(summary))),
		zap.Int64("requests", summary.TotalRequests),
		zap.Int64("failures", summary.FailedRequests),
		zap.Float64("cache_hit_rate", summary.CacheHitRate),
		zap.Float64("avg_response_ms", summary.AverageResponseTime))
}
