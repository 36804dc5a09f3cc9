package server

import (
	"runtime"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

type Middleware func(next types.FastHTTPHandler) types.FastHTTPHandler

// Recovery turns a handler panic into a 500 response and logs the stack.
func Recovery(logger types.Logger) Middleware {
	return func(next types.FastHTTPHandler) types.FastHTTPHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if rec := recover(); rec != nil {
					fields := []zap.Field{
						zap.Any("panic", rec),
						zap.ByteString("method", ctx.Method()),
						zap.ByteString("path", ctx.Path()),
						zap.String("stack", stackTrace()),
					}
					if requestID := ctx.Request.Header.Peek("X-Request-ID"); len(requestID) > 0 {
						fields = append(fields, zap.ByteString("request_id", requestID))
					}

					logger.Error("Recovered from panic", fields...)
					utils.CreateErrorResponse(ctx)
				}
			}()

			next(ctx)
		}
	}
}

// RequestLogging logs every request and records request count and latency.
func RequestLogging(logger types.Logger, metrics types.MetricsManager) Middleware {
	buckets := []float64{.001, .005, .01, .05, .1, .5, 1}

	return func(next types.FastHTTPHandler) types.FastHTTPHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			next(ctx)

			duration := time.Since(start)
			status := ctx.Response.StatusCode()
			method := string(ctx.Method())

			labels := map[string]string{
				"method": method,
				"status": strconv.Itoa(status),
			}
			metrics.Counter("http_requests_total", labels).Inc()
			metrics.Histogram("http_request_duration_seconds", buckets, map[string]string{"method": method}).Observe(duration.Seconds())

			fields := []zap.Field{
				zap.String("method", method),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", status),
				zap.Duration("duration", duration),
				zap.String("remote_addr", ctx.RemoteIP().String()),
			}

			switch {
			case status >= fasthttp.StatusInternalServerError:
				logger.Error("HTTP request", fields...)
			case status >= fasthttp.StatusBadRequest:
				logger.Warn("HTTP request", fields...)
			default:
				logger.Debug("HTTP request", fields...)
			}
		}
	}
}

func stackTrace() string {
	buf := make([]byte, 4096)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) || len(buf) >= 65536 {
			return utils.BytesToString(buf[:n])
		}
		buf = make([]byte, len(buf)*4)
	}
}
