package metrics

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
)

const defaultSystemInterval = 15 * time.Second

// SystemCollector publishes process runtime gauges next to the sync metrics.
type SystemCollector struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    types.Logger
	metrics   types.MetricsManager
	interval  time.Duration
	running   atomic.Bool
	startTime time.Time
	wg        sync.WaitGroup
	mu        sync.Mutex
}

func NewSystemCollector(ctx context.Context, logger types.Logger, metricsManager types.MetricsManager, interval time.Duration) *SystemCollector {
	if interval <= 0 {
		interval = defaultSystemInterval
	}

	collectorCtx, cancel := context.WithCancel(ctx)

	return &SystemCollector{
		ctx:      collectorCtx,
		cancel:   cancel,
		logger:   logger,
		metrics:  metricsManager,
		interval: interval,
	}
}

func (sc *SystemCollector) Start() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.running.CompareAndSwap(false, true) {
		return types.ErrServerAlreadyRunning
	}

	if sc.ctx.Err() != nil {
		sc.ctx, sc.cancel = context.WithCancel(context.Background())
	}
	sc.startTime = time.Now()

	sc.Collect()

	sc.wg.Add(1)
	go sc.collectLoop(sc.ctx)

	sc.logger.Debug("System metrics collection started", zap.Duration("interval", sc.interval))
	return nil
}

func (sc *SystemCollector) Stop() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}

	sc.cancel()
	sc.wg.Wait()

	sc.logger.Debug("System metrics collection stopped")
	return nil
}

func (sc *SystemCollector) IsRunning() bool {
	return sc.running.Load()
}

func (sc *SystemCollector) collectLoop(ctx context.Context) {
	defer sc.wg.Done()

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.Collect()
		}
	}
}

// Collect samples the runtime once.
func (sc *SystemCollector) Collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	sc.metrics.Gauge("system_goroutines_count", nil).Set(float64(runtime.NumGoroutine()))
	sc.metrics.Gauge("system_max_procs", nil).Set(float64(runtime.GOMAXPROCS(0)))
	sc.metrics.Gauge("system_uptime_seconds", nil).Set(time.Since(sc.startTime).Seconds())

	sc.metrics.Gauge("system_memory_bytes", map[string]string{"type": "heap_alloc"}).Set(float64(m.HeapAlloc))
	sc.metrics.Gauge("system_memory_bytes", map[string]string{"type": "heap_inuse"}).Set(float64(m.HeapInuse))
	sc.metrics.Gauge("system_memory_bytes", map[string]string{"type": "sys"}).Set(float64(m.Sys))

	sc.metrics.Gauge("system_gc_cycles_total", nil).Set(float64(m.NumGC))
	sc.metrics.Gauge("system_gc_cpu_percent", nil).Set(m.GCCPUFraction * 100)
	if m.LastGC > 0 {
		sc.metrics.Gauge("system_last_gc_timestamp", nil).Set(float64(m.LastGC) / 1e9)
	}
}
