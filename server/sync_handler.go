package server

import (
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/monitor"
	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

const defaultEventLimit = 50

type SyncMonitor interface {
	GetDashboardData() types.DashboardData
	GetPerformanceMetrics() types.PerformanceSummary
	GetRecentEvents(limit int) []types.SyncEvent
	GetContentMetrics(key string) (types.ContentMetrics, bool)
	GetAllContentMetrics() map[string]types.ContentMetrics
	GenerateReport() types.SyncReport
	ExportEvents(format monitor.ExportFormat) (string, error)
	ClearHistory()
	StartMonitoring() error
	StopMonitoring() error
}

// SyncHandler serves the dashboard API on a single path selected by the
// action query parameter.
type SyncHandler struct {
	logger  types.Logger
	monitor SyncMonitor
}

func NewSyncHandler(logger types.Logger, monitor SyncMonitor) *SyncHandler {
	return &SyncHandler{
		logger:  logger,
		monitor: monitor,
	}
}

func (h *SyncHandler) Register(router types.HTTPRouter, path string) {
	router.GET(path, h.HandleGet)
	router.POST(path, h.HandlePost)
}

func (h *SyncHandler) HandleGet(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	action := string(args.Peek("action"))

	switch action {
	case "dashboard":
		utils.WriteJSON(ctx, fasthttp.StatusOK, h.monitor.GetDashboardData())

	case "metrics":
		utils.WriteJSON(ctx, fasthttp.StatusOK, h.monitor.GetPerformanceMetrics())

	case "events":
		limit := defaultEventLimit
		if raw := args.Peek("limit"); len(raw) > 0 {
			parsed, err := strconv.Atoi(string(raw))
			if err != nil || parsed < 0 {
				h.fail(ctx, fasthttp.StatusBadRequest, types.Errorf(types.ErrInvalidParameter, "limit %q", raw))
				return
			}
			limit = parsed
		}
		utils.WriteJSON(ctx, fasthttp.StatusOK, h.monitor.GetRecentEvents(limit))

	case "content":
		key := string(args.Peek("key"))
		if key == "" {
			utils.WriteJSON(ctx, fasthttp.StatusOK, h.monitor.GetAllContentMetrics())
			return
		}
		metrics, ok := h.monitor.GetContentMetrics(key)
		if !ok {
			h.fail(ctx, fasthttp.StatusNotFound, types.Errorf(types.ErrInvalidParameter, "no metrics for %q", key))
			return
		}
		utils.WriteJSON(ctx, fasthttp.StatusOK, metrics)

	case "report":
		utils.WriteJSON(ctx, fasthttp.StatusOK, h.monitor.GenerateReport())

	case "export":
		h.export(ctx, monitor.ExportFormat(args.Peek("format")))

	default:
		h.fail(ctx, fasthttp.StatusBadRequest, types.Errorf(types.ErrUnknownAction, "%q", action))
	}
}

func (h *SyncHandler) HandlePost(ctx *fasthttp.RequestCtx) {
	action := string(ctx.QueryArgs().Peek("action"))

	var err error
	switch action {
	case "clear-history":
		h.monitor.ClearHistory()
	case "start-monitoring":
		err = h.monitor.StartMonitoring()
	case "stop-monitoring":
		err = h.monitor.StopMonitoring()
	default:
		h.fail(ctx, fasthttp.StatusBadRequest, types.Errorf(types.ErrUnknownAction, "%q", action))
		return
	}

	if err != nil {
		h.fail(ctx, statusOf(err), err)
		return
	}

	h.logger.Info("Dashboard action applied", zap.String("action", action))
	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"success": true,
		"action":  action,
	})
}

func (h *SyncHandler) export(ctx *fasthttp.RequestCtx, format monitor.ExportFormat) {
	if format == "" {
		format = monitor.FormatJSON
	}

	body, err := h.monitor.ExportEvents(format)
	if err != nil {
		h.fail(ctx, statusOf(err), err)
		return
	}

	switch format {
	case monitor.FormatCSV:
		ctx.SetContentType("text/csv; charset=utf-8")
		ctx.Response.Header.Set("Content-Disposition", `attachment; filename="sync-events.csv"`)
	default:
		ctx.SetContentType("application/json")
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString(body)
}

func (h *SyncHandler) fail(ctx *fasthttp.RequestCtx, status int, err error) {
	h.logger.Debug("Dashboard request rejected",
		zap.ByteString("query", ctx.QueryArgs().QueryString()),
		zap.Int("status", status),
		zap.Error(err))
	utils.WriteError(ctx, status, err.Error())
}

func statusOf(err error) int {
	switch {
	case types.IsError(err, types.ErrUnknownAction),
		types.IsError(err, types.ErrInvalidParameter),
		types.IsError(err, types.ErrExportFormatUnknown):
		return fasthttp.StatusBadRequest
	case types.IsError(err, types.ErrMonitoringRunning),
		types.IsError(err, types.ErrMonitoringNotRunning):
		return fasthttp.StatusConflict
	case types.IsError(err, types.ErrNotSupported):
		return fasthttp.StatusNotImplemented
	default:
		return fasthttp.StatusInternalServerError
	}
}
