package types

import (
	"time"

	"github.com/bytedance/sonic"
)

type EventType string

const (
	EventFetch        EventType = "fetch"
	EventPush         EventType = "push"
	EventError        EventType = "error"
	EventCacheHit     EventType = "cache-hit"
	EventCacheMiss    EventType = "cache-miss"
	EventRevalidation EventType = "revalidation"

	// EventAny subscribes to every event type.
	EventAny EventType = "*"
)

type SyncEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	ContentKey string         `json:"content_key"`
	Timestamp  time.Time      `json:"timestamp"`
	Duration   *time.Duration `json:"-"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
}

// DurationMillis returns the recorded duration in milliseconds, or zero when absent.
func (e SyncEvent) DurationMillis() float64 {
	if e.Duration == nil {
		return 0
	}
	return float64(*e.Duration) / float64(time.Millisecond)
}

// syncEventFields drops the methods of SyncEvent so the JSON codecs below do
// not recurse.
type syncEventFields SyncEvent

// MarshalJSON writes the duration as duration_ms, the unit of the CSV export.
func (e SyncEvent) MarshalJSON() ([]byte, error) {
	out := struct {
		syncEventFields
		DurationMS *float64 `json:"duration_ms,omitempty"`
	}{syncEventFields: syncEventFields(e)}

	if e.Duration != nil {
		ms := e.DurationMillis()
		out.DurationMS = &ms
	}
	return sonic.Marshal(out)
}

func (e *SyncEvent) UnmarshalJSON(data []byte) error {
	var in struct {
		syncEventFields
		DurationMS *float64 `json:"duration_ms"`
	}
	if err := sonic.Unmarshal(data, &in); err != nil {
		return err
	}

	*e = SyncEvent(in.syncEventFields)
	if in.DurationMS != nil {
		d := time.Duration(*in.DurationMS * float64(time.Millisecond))
		e.Duration = &d
	}
	return nil
}

type ContentMetrics struct {
	Key                 string    `json:"key"`
	AccessCount         int64     `json:"access_count"`
	LastAccessed        time.Time `json:"last_accessed"`
	AverageResponseTime float64   `json:"average_response_time_ms"`
	ErrorCount          int64     `json:"error_count"`
	CacheHits           int64     `json:"cache_hits"`
	CacheMisses         int64     `json:"cache_misses"`
	timedSamples        int64
}

// ObserveDuration folds one more sample into the running mean.
func (m *ContentMetrics) ObserveDuration(ms float64) {
	m.timedSamples++
	m.AverageResponseTime += (ms - m.AverageResponseTime) / float64(m.timedSamples)
}

type PerformanceSummary struct {
	TotalRequests       int64      `json:"total_requests"`
	SuccessfulRequests  int64      `json:"successful_requests"`
	FailedRequests      int64      `json:"failed_requests"`
	AverageResponseTime float64    `json:"average_response_time_ms"`
	CacheHitRate        float64    `json:"cache_hit_rate"`
	Uptime              string     `json:"uptime"`
	UptimeSeconds       float64    `json:"uptime_seconds"`
	LastSyncTime        *time.Time `json:"last_sync_time,omitempty"`
}

type ErrorFrequency struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type KeyResponseTime struct {
	Key                 string  `json:"key"`
	AverageResponseTime float64 `json:"average_response_time_ms"`
}

type SyncReport struct {
	GeneratedAt  time.Time                 `json:"generated_at"`
	Summary      PerformanceSummary        `json:"summary"`
	ContentStats map[string]ContentMetrics `json:"content_stats"`
	TopErrors    []ErrorFrequency          `json:"top_errors"`
	SlowestKeys  []KeyResponseTime         `json:"slowest_keys"`
}

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

type DashboardData struct {
	Status       HealthStatus              `json:"status"`
	Summary      PerformanceSummary        `json:"summary"`
	ContentStats map[string]ContentMetrics `json:"content_stats"`
	RecentEvents []SyncEvent               `json:"recent_events"`
	Monitoring   bool                      `json:"monitoring"`
}

type EventCallback func(event SyncEvent)

// Unsubscribe tears down a subscription. Calling it more than once is harmless.
type Unsubscribe func()

type EventRecorder interface {
	RecordEvent(event SyncEvent)
}
