package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

// Manager fronts the configured backend. Until it is started, and always
// when metrics are disabled, it hands out no-op instruments.
type Manager struct {
	logger  types.Logger
	backend types.MetricsManager
	running atomic.Bool
	mu      sync.Mutex
}

var (
	creatorsMu     sync.RWMutex
	customBackends = make(map[string]types.MetricsManagerCreator)
)

// RegisterMetricsManager makes a backend available under metrics.type.
func RegisterMetricsManager(metricsType string, creator types.MetricsManagerCreator) {
	creatorsMu.Lock()
	defer creatorsMu.Unlock()

	customBackends[metricsType] = creator
}

func NewManager(_ context.Context, config types.ConfigManager, logger types.Logger) (*Manager, error) {
	m := &Manager{logger: logger}

	metricsConfig := config.GetConfig().Metrics
	if metricsConfig == nil || !metricsConfig.Enabled {
		logger.Debug("Metrics disabled")
		return m, nil
	}

	backend, err := newBackend(logger, metricsConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	m.backend = backend
	logger.Info("Metrics manager initialized", zap.String("type", metricsConfig.Type))
	return m, nil
}

func newBackend(logger types.Logger, metricsConfig *types.MetricsConfig) (types.MetricsManager, error) {
	switch metricsConfig.Type {
	case "memory":
		return NewMemoryMetrics(logger), nil
	case "prometheus":
		return NewPrometheusMetrics(logger, metricsConfig)
	}

	creatorsMu.RLock()
	creator, ok := customBackends[metricsConfig.Type]
	creatorsMu.RUnlock()

	if !ok {
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", metricsConfig.Type)
	}
	return creator(metricsConfig, logger)
}

func (w *Manager) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running.Load() {
		return types.ErrServerAlreadyRunning
	}

	if w.backend != nil {
		if err := w.backend.Start(); err != nil {
			return types.WrapError(err, "failed to start metrics manager")
		}
	}

	w.running.Store(true)
	w.logger.Debug("Metrics manager started")
	return nil
}

// Stop always succeeds once running; a backend error is only logged.
func (w *Manager) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}

	if w.backend != nil {
		if err := w.backend.Stop(); err != nil {
			w.logger.Error("Error during metrics manager shutdown", zap.Error(err))
			return nil
		}
	}

	w.logger.Debug("Metrics manager stopped")
	return nil
}

func (w *Manager) IsRunning() bool {
	return w.running.Load()
}

// Enabled reports whether a backend is configured.
func (w *Manager) Enabled() bool {
	return w.backend != nil
}

func (w *Manager) active() bool {
	return w.backend != nil && w.running.Load()
}

func (w *Manager) Counter(name string, labels map[string]string) types.Counter {
	if w.active() {
		return w.backend.Counter(name, labels)
	}
	return &noopCounter{}
}

func (w *Manager) Gauge(name string, labels map[string]string) types.Gauge {
	if w.active() {
		return w.backend.Gauge(name, labels)
	}
	return &noopGauge{}
}

func (w *Manager) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	if w.active() {
		return w.backend.Histogram(name, buckets, labels)
	}
	return &noopHistogram{}
}

func (w *Manager) GetMetrics() ([]byte, error) {
	if w.active() {
		return w.backend.GetMetrics()
	}
	return nil, types.ErrMetricsNotRunning
}

type exposer interface {
	Handler() fasthttp.RequestHandler
}

// Handler serves the backend's native exposition format, or the JSON
// snapshot of GetMetrics when the backend has none.
func (w *Manager) Handler() fasthttp.RequestHandler {
	if e, ok := w.backend.(exposer); ok {
		return e.Handler()
	}

	return func(ctx *fasthttp.RequestCtx) {
		data, err := w.GetMetrics()
		if err != nil {
			utils.WriteError(ctx, fasthttp.StatusServiceUnavailable, err.Error())
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBody(data)
	}
}

type noopCounter struct{}

func (c *noopCounter) Inc()          {}
func (c *noopCounter) Add(_ float64) {}
func (c *noopCounter) Get() float64  { return 0 }

type noopGauge struct{}

func (g *noopGauge) Set(_ float64) {}
func (g *noopGauge) Inc()          {}
func (g *noopGauge) Dec()          {}
func (g *noopGauge) Add(_ float64) {}
func (g *noopGauge) Get() float64  { return 0 }

type noopHistogram struct{}

func (h *noopHistogram) Observe(_ float64)           {}
func (h *noopHistogram) ObserveDuration(_ time.Time) {}
func (h *noopHistogram) GetCount() uint64            { return 0 }
func (h *noopHistogram) GetSum() float64             { return 0 }
