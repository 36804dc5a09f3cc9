package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

// metricHelp holds the HELP line for series the content service emits.
var metricHelp = map[string]string{
	"content_sync_events_total":     "Sync events recorded by the monitor, by type and outcome.",
	"content_sync_duration_seconds": "Duration of timed sync events.",
	"content_sync_cache_hit_rate":   "Cache hit rate over the retained event window, in percent.",
	"content_sync_error_rate":       "Share of retained events that failed, in percent.",
	"content_sync_events_buffered":  "Events currently retained by the monitor.",
	"cache_operations_total":        "Content cache operations by operation and result.",
	"cache_entries":                 "Entries held by the content cache.",
	"cron_job_executions_total":     "Scheduled job runs by job and status.",
	"cron_job_duration_seconds":     "Duration of scheduled job runs.",
	"http_requests_total":           "HTTP requests served by route and status.",
	"http_request_duration_seconds": "Latency of served HTTP requests.",
}

type PrometheusConfig struct {
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Subsystem       string            `yaml:"subsystem" json:"subsystem"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

type PrometheusMetrics struct {
	logger     types.Logger
	config     *PrometheusConfig
	registry   *prometheus.Registry
	collectors map[string]prometheus.Collector
	mu         sync.Mutex
	running    atomic.Bool
}

func NewPrometheusMetrics(logger types.Logger, config *types.MetricsConfig) (*PrometheusMetrics, error) {
	promConfig := &PrometheusConfig{
		Namespace:       "sai_content",
		EnableGoMetrics: true,
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, promConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal prometheus config")
		}
	}

	constLabels := make(map[string]string, len(promConfig.Labels)+len(config.Labels))
	for k, v := range promConfig.Labels {
		constLabels[k] = v
	}
	for k, v := range config.Labels {
		constLabels[k] = v
	}
	promConfig.Labels = constLabels

	registry := prometheus.NewRegistry()
	if promConfig.EnableGoMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", promConfig.Namespace),
		zap.String("subsystem", promConfig.Subsystem),
		zap.Int("const_labels", len(constLabels)),
		zap.Bool("go_metrics", promConfig.EnableGoMetrics))

	return &PrometheusMetrics{
		logger:     logger,
		config:     promConfig,
		registry:   registry,
		collectors: make(map[string]prometheus.Collector),
	}, nil
}

func (p *PrometheusMetrics) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return p.running.Load()
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	vec := p.collector("counter", name, labels, func(names []string) prometheus.Collector {
		return prometheus.NewCounterVec(prometheus.CounterOpts(p.opts(name)), names)
	}).(*prometheus.CounterVec)

	return &PrometheusCounter{logger: p.logger, counter: vec.With(labels)}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	vec := p.collector("gauge", name, labels, func(names []string) prometheus.Collector {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(p.opts(name)), names)
	}).(*prometheus.GaugeVec)

	return &PrometheusGauge{logger: p.logger, gauge: vec.With(labels)}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	vec := p.collector("histogram", name, labels, func(names []string) prometheus.Collector {
		opts := p.opts(name)
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        opts.Name,
			Help:        opts.Help,
			ConstLabels: opts.ConstLabels,
			Buckets:     buckets,
		}, names)
	}).(*prometheus.HistogramVec)

	return &PrometheusHistogram{observer: vec.With(labels)}
}

// collector returns the vector registered for kind, name and the label set,
// creating it on first use. A name reused with different label names cannot
// be registered; the vector still records but is not exported.
func (p *PrometheusMetrics) collector(kind, name string, labels map[string]string, build func([]string) prometheus.Collector) prometheus.Collector {
	names := labelNames(labels)
	key := kind + ":" + name + "{" + strings.Join(names, ",") + "}"

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.collectors[key]; ok {
		return c
	}

	c := build(names)
	if err := p.registry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			c = already.ExistingCollector
		} else {
			p.logger.Error("Prometheus collector not exported",
				zap.String("kind", kind),
				zap.String("metric", name),
				zap.Strings("labels", names),
				zap.Error(err))
		}
	}

	p.collectors[key] = c
	p.logger.Debug("Prometheus collector created", zap.String("kind", kind), zap.String("metric", name))
	return c
}

func (p *PrometheusMetrics) opts(name string) prometheus.Opts {
	help, ok := metricHelp[name]
	if !ok {
		help = fmt.Sprintf("Content service metric %s.", name)
	}

	return prometheus.Opts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: p.config.Labels,
	}
}

// GetMetrics flattens the registry into MetricValue samples. Histograms and
// summaries report their sample sum.
func (p *PrometheusMetrics) GetMetrics() ([]byte, error) {
	families, err := p.registry.Gather()
	if err != nil {
		p.logger.Error("Failed to gather prometheus metrics", zap.Error(err))
		return nil, err
	}

	now := time.Now()
	values := make([]types.MetricValue, 0, len(families))
	for _, family := range families {
		for _, m := range family.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, pair := range m.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}

			values = append(values, types.MetricValue{
				Name:      family.GetName(),
				Type:      family.GetType().String(),
				Value:     sampleValue(m),
				Labels:    labels,
				Timestamp: now,
				Help:      family.GetHelp(),
			})
		}
	}

	return utils.Marshal(values)
}

// Handler serves the registry in the prometheus text format.
func (p *PrometheusMetrics) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

func sampleValue(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Histogram != nil:
		return m.Histogram.GetSampleSum()
	case m.Summary != nil:
		return m.Summary.GetSampleSum()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type PrometheusCounter struct {
	logger  types.Logger
	counter prometheus.Counter
}

func (c *PrometheusCounter) Inc()              { c.counter.Inc() }
func (c *PrometheusCounter) Add(value float64) { c.counter.Add(value) }

func (c *PrometheusCounter) Get() float64 {
	var m dto.Metric
	if err := c.counter.Write(&m); err != nil {
		c.logger.Error("Failed to read counter", zap.Error(err))
	}
	return m.GetCounter().GetValue()
}

type PrometheusGauge struct {
	logger types.Logger
	gauge  prometheus.Gauge
}

func (g *PrometheusGauge) Set(value float64) { g.gauge.Set(value) }
func (g *PrometheusGauge) Inc()              { g.gauge.Inc() }
func (g *PrometheusGauge) Dec()              { g.gauge.Dec() }
func (g *PrometheusGauge) Add(value float64) { g.gauge.Add(value) }

func (g *PrometheusGauge) Get() float64 {
	var m dto.Metric
	if err := g.gauge.Write(&m); err != nil {
		g.logger.Error("Failed to read gauge", zap.Error(err))
	}
	return m.GetGauge().GetValue()
}

type PrometheusHistogram struct {
	observer prometheus.Observer
}

func (h *PrometheusHistogram) Observe(value float64) {
	h.observer.Observe(value)
}

func (h *PrometheusHistogram) ObserveDuration(start time.Time) {
	h.observer.Observe(time.Since(start).Seconds())
}

func (h *PrometheusHistogram) GetCount() uint64 {
	return h.read().GetSampleCount()
}

func (h *PrometheusHistogram) GetSum() float64 {
	return h.read().GetSampleSum()
}

func (h *PrometheusHistogram) read() *dto.Histogram {
	metric, ok := h.observer.(prometheus.Metric)
	if !ok {
		return nil
	}

	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		return nil
	}
	return m.GetHistogram()
}
