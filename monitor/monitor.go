package monitor

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

const DefaultCapacity = 1000

// KeySource lists the content keys whose metrics are pre-created on reset.
type KeySource interface {
	Keys() []string
}

// Scheduler runs the periodic monitoring job.
type Scheduler interface {
	Add(jobName, spec string, job func()) error
	Remove(jobName string) error
}

type Option func(*Monitor)

func WithCapacity(capacity int) Option {
	return func(m *Monitor) {
		if capacity > 0 {
			m.capacity = capacity
		}
	}
}

func WithClock(clock types.Clock) Option {
	return func(m *Monitor) {
		m.clock = clock
	}
}

func WithScheduler(scheduler Scheduler, spec string) Option {
	return func(m *Monitor) {
		m.scheduler = scheduler
		m.schedule = spec
	}
}

type totals struct {
	requests      int64
	successes     int64
	failures      int64
	durationSum   float64
	durationCount int64
	hits          int64
	misses        int64
	lastSync      *time.Time
}

// Monitor keeps the most recent sync events in a bounded ring and folds
// every event into running metrics as it arrives.
type Monitor struct {
	logger    types.Logger
	metrics   types.MetricsManager
	keys      KeySource
	clock     types.Clock
	scheduler Scheduler
	schedule  string
	capacity  int
	startedAt time.Time

	mu      sync.RWMutex
	events  []types.SyncEvent
	head    int
	content map[string]*types.ContentMetrics
	totals  totals

	subMu       sync.RWMutex
	nextSubID   uint64
	subscribers map[types.EventType]map[uint64]types.EventCallback

	monitorMu  sync.Mutex
	monitoring bool
}

func NewMonitor(logger types.Logger, metrics types.MetricsManager, keys KeySource, opts ...Option) *Monitor {
	m := &Monitor{
		logger:      logger,
		metrics:     metrics,
		keys:        keys,
		capacity:    DefaultCapacity,
		subscribers: make(map[types.EventType]map[uint64]types.EventCallback),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.clock == nil {
		m.clock = utils.NewSystemClock()
	}

	m.startedAt = m.clock.Now()
	m.reset()

	return m
}

func (m *Monitor) reset() {
	m.events = make([]types.SyncEvent, 0, m.capacity)
	m.head = 0
	m.totals = totals{}
	m.content = make(map[string]*types.ContentMetrics)

	if m.keys == nil {
		return
	}
	for _, key := range m.keys.Keys() {
		m.content[key] = &types.ContentMetrics{Key: key}
	}
}

// RecordEvent stamps the event with the current time and a fresh id, stores
// it and notifies subscribers.
func (m *Monitor) RecordEvent(event types.SyncEvent) {
	event.ID = uuid.NewString()
	event.Timestamp = m.clock.Now()

	m.mu.Lock()
	m.appendLocked(event)
	m.applyLocked(event)
	m.mu.Unlock()

	m.export(event)
	m.fanOut(event)
}

func (m *Monitor) appendLocked(event types.SyncEvent) {
	if len(m.events) < m.capacity {
		m.events = append(m.events, event)
		return
	}

	m.events[m.head] = event
	m.head = (m.head + 1) % m.capacity
}

func (m *Monitor) applyLocked(event types.SyncEvent) {
	t := &m.totals
	t.requests++
	if event.Success {
		t.successes++
	} else {
		t.failures++
	}

	if event.Duration != nil {
		t.durationSum += event.DurationMillis()
		t.durationCount++
	}

	switch event.Type {
	case types.EventCacheHit:
		t.hits++
	case types.EventCacheMiss:
		t.misses++
	case types.EventFetch, types.EventPush:
		ts := event.Timestamp
		t.lastSync = &ts
	}

	if event.ContentKey == "" {
		return
	}

	cm, ok := m.content[event.ContentKey]
	if !ok {
		cm = &types.ContentMetrics{Key: event.ContentKey}
		m.content[event.ContentKey] = cm
	}

	cm.AccessCount++
	cm.LastAccessed = event.Timestamp

	if event.Duration != nil {
		cm.ObserveDuration(event.DurationMillis())
	}
	if !event.Success || event.Type == types.EventError {
		cm.ErrorCount++
	}

	switch event.Type {
	case types.EventCacheHit:
		cm.CacheHits++
	case types.EventCacheMiss:
		cm.CacheMisses++
	}
}

func (m *Monitor) export(event types.SyncEvent) {
	if m.metrics == nil {
		return
	}

	success := "false"
	if event.Success {
		success = "true"
	}

	m.metrics.Counter("content_sync_events_total", map[string]string{
		"type":    string(event.Type),
		"success": success,
	}).Inc()

	if event.Duration != nil {
		m.metrics.Histogram("content_sync_duration_seconds",
			[]float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			map[string]string{"type": string(event.Type)},
		).Observe(event.Duration.Seconds())
	}
}

// Subscribe registers cb for one event type, or for all of them with "*".
func (m *Monitor) Subscribe(eventType types.EventType, cb types.EventCallback) types.Unsubscribe {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	if m.subscribers[eventType] == nil {
		m.subscribers[eventType] = make(map[uint64]types.EventCallback)
	}
	m.subscribers[eventType][id] = cb
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()

			delete(m.subscribers[eventType], id)
			if len(m.subscribers[eventType]) == 0 {
				delete(m.subscribers, eventType)
			}
		})
	}
}

func (m *Monitor) fanOut(event types.SyncEvent) {
	m.subMu.RLock()
	callbacks := make([]types.EventCallback, 0, len(m.subscribers[event.Type])+len(m.subscribers[types.EventAny]))
	for _, cb := range m.subscribers[event.Type] {
		callbacks = append(callbacks, cb)
	}
	for _, cb := range m.subscribers[types.EventAny] {
		callbacks = append(callbacks, cb)
	}
	m.subMu.RUnlock()

	for _, cb := range callbacks {
		m.deliver(cb, event)
	}
}

func (m *Monitor) deliver(cb types.EventCallback, event types.SyncEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Sync event subscriber panicked",
				zap.String("event_type", string(event.Type)),
				zap.String("content_key", event.ContentKey),
				zap.Any("panic", r))
		}
	}()

	cb(event)
}

func (m *Monitor) GetPerformanceMetrics() types.PerformanceSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.summaryLocked()
}

func (m *Monitor) summaryLocked() types.PerformanceSummary {
	t := m.totals
	uptime := m.clock.Now().Sub(m.startedAt)

	summary := types.PerformanceSummary{
		TotalRequests:      t.requests,
		SuccessfulRequests: t.successes,
		FailedRequests:     t.failures,
		Uptime:             uptime.Round(time.Second).String(),
		UptimeSeconds:      uptime.Seconds(),
	}

	if t.durationCount > 0 {
		summary.AverageResponseTime = t.durationSum / float64(t.durationCount)
	}
	if lookups := t.hits + t.misses; lookups > 0 {
		summary.CacheHitRate = float64(t.hits) / float64(lookups)
	}
	if t.lastSync != nil {
		ts := *t.lastSync
		summary.LastSyncTime = &ts
	}

	return summary
}

func (m *Monitor) GetContentMetrics(key string) (types.ContentMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cm, ok := m.content[key]
	if !ok {
		return types.ContentMetrics{}, false
	}
	return *cm, true
}

func (m *Monitor) GetAllContentMetrics() map[string]types.ContentMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.contentLocked()
}

func (m *Monitor) contentLocked() map[string]types.ContentMetrics {
	out := make(map[string]types.ContentMetrics, len(m.content))
	for key, cm := range m.content {
		out[key] = *cm
	}
	return out
}

// GetRecentEvents returns up to limit of the newest events, oldest first.
// A non-positive limit returns the whole history.
func (m *Monitor) GetRecentEvents(limit int) []types.SyncEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.recentLocked(limit)
}

func (m *Monitor) recentLocked(limit int) []types.SyncEvent {
	ordered := make([]types.SyncEvent, 0, len(m.events))
	ordered = append(ordered, m.events[m.head:]...)
	ordered = append(ordered, m.events[:m.head]...)

	if limit > 0 && limit < len(ordered) {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// ClearHistory drops every event and metric and re-creates empty metrics
// for the configured content keys.
func (m *Monitor) ClearHistory() {
	m.mu.Lock()
	m.reset()
	m.mu.Unlock()

	m.logger.Info("Sync history cleared")
}
