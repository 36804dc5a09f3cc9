package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-content/config"
	"github.com/saiset-co/sai-content/logger"
	"github.com/saiset-co/sai-content/server"
	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := config.NewLoader().Defaults()
	cfg.Name = "content-sync"
	cfg.Version = "2.0.0"
	cfg.Environment = "staging"

	clock := utils.NewManualClock(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	return NewManager(config.NewStaticManager(context.Background(), cfg), logger.NewNop(), clock)
}

func fixed(status types.HealthStatus) types.HealthChecker {
	return func(context.Context) types.HealthCheck {
		return types.HealthCheck{Status: status}
	}
}

func TestManager_CheckAggregatesStatus(t *testing.T) {
	hm := newTestManager(t)
	hm.RegisterChecker("store", fixed(types.StatusHealthy))
	hm.RegisterChecker("snapshot", fixed(types.StatusDegraded))

	report := hm.Check(context.Background())
	assert.Equal(t, types.StatusDegraded, report.Status)
	assert.Equal(t, types.HealthSummary{Total: 2, Healthy: 1, Degraded: 1}, report.Summary)
	assert.Equal(t, types.ServiceInfo{Name: "content-sync", Version: "2.0.0", Environment: "staging"}, report.Service)
	assert.Equal(t, "snapshot", report.Checks["snapshot"].Name)

	hm.RegisterChecker("sync", fixed(types.StatusUnhealthy))
	assert.Equal(t, types.StatusUnhealthy, hm.Check(context.Background()).Status)
}

func TestManager_EmptyIsHealthy(t *testing.T) {
	report := newTestManager(t).Check(context.Background())
	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Zero(t, report.Summary.Total)
}

func TestManager_PanicAndTimeoutAreUnhealthy(t *testing.T) {
	hm := newTestManager(t)
	hm.checkTimeout = 50 * time.Millisecond

	hm.RegisterChecker("panics", func(context.Context) types.HealthCheck { panic("probe failed") })
	hm.RegisterChecker("hangs", func(ctx context.Context) types.HealthCheck {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	report := hm.Check(context.Background())
	require.Len(t, report.Checks, 2)
	assert.Equal(t, types.StatusUnhealthy, report.Checks["panics"].Status)
	assert.Contains(t, report.Checks["panics"].Message, "probe failed")
	assert.Equal(t, types.StatusUnhealthy, report.Checks["hangs"].Status)
	assert.Equal(t, "Health check timeout", report.Checks["hangs"].Message)
}

func TestManager_Routes(t *testing.T) {
	hm := newTestManager(t)
	hm.RegisterChecker("store", fixed(types.StatusDegraded))

	router := server.NewRouter()
	hm.Register(router)

	get := func(uri string) *fasthttp.RequestCtx {
		ctx := &fasthttp.RequestCtx{}
		ctx.Request.Header.SetMethod("GET")
		ctx.Request.SetRequestURI(uri)
		router.Handler()(ctx)
		return ctx
	}

	ctx := get("/health")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var report types.HealthReport
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &report))
	assert.Equal(t, types.StatusDegraded, report.Status)

	hm.RegisterChecker("sync", fixed(types.StatusUnhealthy))
	assert.Equal(t, fasthttp.StatusServiceUnavailable, get("/health").Response.StatusCode())

	ctx = get("/version")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var version map[string]interface{}
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &version))
	assert.Equal(t, "2.0.0", version["version"])
	assert.Contains(t, version, "build_info")
}
