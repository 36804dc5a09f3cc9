package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-content/config"
	"github.com/saiset-co/sai-content/logger"
	"github.com/saiset-co/sai-content/metrics"
	"github.com/saiset-co/sai-content/monitor"
	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

type staticKeys []string

func (k staticKeys) Keys() []string { return k }

type fakeScheduler struct {
	jobs map[string]func()
}

func (s *fakeScheduler) Add(name, _ string, job func()) error {
	if s.jobs == nil {
		s.jobs = make(map[string]func())
	}
	s.jobs[name] = job
	return nil
}

func (s *fakeScheduler) Remove(name string) error {
	delete(s.jobs, name)
	return nil
}

func newTestRouter(opts ...monitor.Option) (*Router, *monitor.Monitor) {
	clock := utils.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	opts = append([]monitor.Option{monitor.WithClock(clock)}, opts...)
	m := monitor.NewMonitor(logger.NewNop(), nil, staticKeys{"hero", "pricing"}, opts...)

	router := NewRouter()
	NewSyncHandler(logger.NewNop(), m).Register(router, "/api/sync")
	return router, m
}

func do(router *Router, method, uri string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	router.Handler()(ctx)
	return ctx
}

func decode(t *testing.T, ctx *fasthttp.RequestCtx) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &body))
	return body
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	router, _ := newTestRouter()

	assert.Equal(t, fasthttp.StatusNotFound, do(router, "GET", "/api/other").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, do(router, "DELETE", "/api/sync?action=dashboard").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, do(router, "GET", "/api/sync/?action=dashboard").Response.StatusCode())
}

func TestSyncHandler_Dashboard(t *testing.T) {
	router, m := newTestRouter()
	m.RecordEvent(types.SyncEvent{Type: types.EventCacheHit, ContentKey: "hero", Success: true})

	ctx := do(router, "GET", "/api/sync?action=dashboard")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))

	body := decode(t, ctx)
	assert.Equal(t, string(types.StatusHealthy), body["status"])
	assert.Len(t, body["recent_events"], 1)
	assert.Equal(t, false, body["monitoring"])
}

func TestSyncHandler_EventsLimit(t *testing.T) {
	router, m := newTestRouter()
	for i := 0; i < 60; i++ {
		m.RecordEvent(types.SyncEvent{Type: types.EventFetch, ContentKey: fmt.Sprintf("k%d", i), Success: true})
	}

	var events []types.SyncEvent
	ctx := do(router, "GET", "/api/sync?action=events")
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &events))
	assert.Len(t, events, defaultEventLimit)

	ctx = do(router, "GET", "/api/sync?action=events&limit=5")
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &events))
	require.Len(t, events, 5)
	assert.Equal(t, "k59", events[4].ContentKey)

	assert.Equal(t, fasthttp.StatusBadRequest, do(router, "GET", "/api/sync?action=events&limit=abc").Response.StatusCode())
}

func TestSyncHandler_Content(t *testing.T) {
	router, m := newTestRouter()
	m.RecordEvent(types.SyncEvent{Type: types.EventCacheMiss, ContentKey: "pricing", Success: true})

	ctx := do(router, "GET", "/api/sync?action=content&key=pricing")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var cm types.ContentMetrics
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &cm))
	assert.Equal(t, int64(1), cm.CacheMisses)

	all := decode(t, do(router, "GET", "/api/sync?action=content"))
	assert.Contains(t, all, "hero")
	assert.Contains(t, all, "pricing")

	assert.Equal(t, fasthttp.StatusNotFound, do(router, "GET", "/api/sync?action=content&key=missing").Response.StatusCode())
}

func TestSyncHandler_ReportAndMetrics(t *testing.T) {
	router, m := newTestRouter()
	m.RecordEvent(types.SyncEvent{Type: types.EventError, ContentKey: "faq", Error: "network down"})

	report := decode(t, do(router, "GET", "/api/sync?action=report"))
	assert.Contains(t, report, "top_errors")

	summary := decode(t, do(router, "GET", "/api/sync?action=metrics"))
	assert.Equal(t, float64(1), summary["failed_requests"])
}

func TestSyncHandler_ExportCSV(t *testing.T) {
	router, m := newTestRouter()
	m.RecordEvent(types.SyncEvent{Type: types.EventFetch, ContentKey: "hero", Success: true})

	ctx := do(router, "GET", "/api/sync?action=export&format=csv")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Header.Peek("Content-Disposition")), "attachment")
	assert.Contains(t, string(ctx.Response.Body()), "id,type,content_key")

	ctx = do(router, "GET", "/api/sync?action=export")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Empty(t, ctx.Response.Header.Peek("Content-Disposition"))

	assert.Equal(t, fasthttp.StatusBadRequest, do(router, "GET", "/api/sync?action=export&format=xml").Response.StatusCode())
}

func TestSyncHandler_UnknownAction(t *testing.T) {
	router, _ := newTestRouter()

	ctx := do(router, "GET", "/api/sync?action=explode")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	assert.Contains(t, decode(t, ctx)["message"], types.ErrUnknownAction.Error())

	assert.Equal(t, fasthttp.StatusBadRequest, do(router, "POST", "/api/sync").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusBadRequest, do(router, "POST", "/api/sync?action=dashboard").Response.StatusCode())
}

func TestSyncHandler_PostActions(t *testing.T) {
	scheduler := &fakeScheduler{}
	router, m := newTestRouter(monitor.WithScheduler(scheduler, "@every 1m"))
	m.RecordEvent(types.SyncEvent{Type: types.EventFetch, ContentKey: "hero", Success: true})

	ctx := do(router, "POST", "/api/sync?action=clear-history")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, true, decode(t, ctx)["success"])
	assert.Empty(t, m.GetRecentEvents(0))

	assert.Equal(t, fasthttp.StatusOK, do(router, "POST", "/api/sync?action=start-monitoring").Response.StatusCode())
	assert.True(t, m.IsMonitoring())
	assert.Len(t, scheduler.jobs, 1)
	assert.Equal(t, fasthttp.StatusConflict, do(router, "POST", "/api/sync?action=start-monitoring").Response.StatusCode())

	assert.Equal(t, fasthttp.StatusOK, do(router, "POST", "/api/sync?action=stop-monitoring").Response.StatusCode())
	assert.False(t, m.IsMonitoring())
	assert.Equal(t, fasthttp.StatusConflict, do(router, "POST", "/api/sync?action=stop-monitoring").Response.StatusCode())
}

func TestSyncHandler_StartMonitoringWithoutScheduler(t *testing.T) {
	router, _ := newTestRouter()
	assert.Equal(t, fasthttp.StatusNotImplemented, do(router, "POST", "/api/sync?action=start-monitoring").Response.StatusCode())
}

func TestFastHTTPServer_Lifecycle(t *testing.T) {
	router, _ := newTestRouter()

	cfg := &types.ServiceConfig{
		Server: &types.ServerConfig{HTTP: &types.HTTPConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: 1}},
	}
	srv, err := NewHTTPServer(context.Background(), config.NewStaticManager(context.Background(), cfg), logger.NewNop(), router)
	require.NoError(t, err)

	require.NoError(t, srv.Start())
	assert.True(t, srv.IsRunning())
	assert.ErrorIs(t, srv.Start(), types.ErrServerAlreadyRunning)

	status, body, err := fasthttp.Get(nil, "http://"+srv.Addr()+"/api/sync?action=metrics")
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Contains(t, string(body), "total_requests")

	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
	assert.ErrorIs(t, srv.Stop(), types.ErrServerNotRunning)
}

func TestNewHTTPServer_RequiresConfig(t *testing.T) {
	_, err := NewHTTPServer(context.Background(),
		config.NewStaticManager(context.Background(), &types.ServiceConfig{Server: &types.ServerConfig{}}),
		logger.NewNop(), NewRouter())
	assert.ErrorIs(t, err, types.ErrConfigNotFound)
}

func TestMiddleware_RecoveryAndRequestMetrics(t *testing.T) {
	mm := metrics.NewMemoryMetrics(logger.NewNop())
	require.NoError(t, mm.Start())

	router := NewRouter()
	router.Use(RequestLogging(logger.NewNop(), mm), Recovery(logger.NewNop()))
	router.GET("/boom", func(*fasthttp.RequestCtx) { panic("handler exploded") })
	router.GET("/ok", func(ctx *fasthttp.RequestCtx) { utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]bool{"ok": true}) })

	ctx := do(router, "GET", "/boom")
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.Equal(t, "Internal Server Error", decode(t, ctx)["error"])

	ctx = do(router, "GET", "/ok")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	do(router, "GET", "/missing")

	assert.Equal(t, float64(1), mm.Counter("http_requests_total", map[string]string{"method": "GET", "status": "500"}).Get())
	assert.Equal(t, float64(1), mm.Counter("http_requests_total", map[string]string{"method": "GET", "status": "200"}).Get())
	assert.Equal(t, float64(1), mm.Counter("http_requests_total", map[string]string{"method": "GET", "status": "404"}).Get())
	assert.Equal(t, uint64(3), mm.Histogram("http_request_duration_seconds", nil, map[string]string{"method": "GET"}).GetCount())
}

func TestMiddleware_Order(t *testing.T) {
	var trace []string
	mark := func(name string) Middleware {
		return func(next types.FastHTTPHandler) types.FastHTTPHandler {
			return func(ctx *fasthttp.RequestCtx) {
				trace = append(trace, name)
				next(ctx)
			}
		}
	}

	router := NewRouter()
	router.Use(mark("outer"), mark("inner"))
	router.GET("/", func(*fasthttp.RequestCtx) { trace = append(trace, "handler") })

	do(router, "GET", "/")
	assert.Equal(t, []string{"outer", "inner", "handler"}, trace)
}
