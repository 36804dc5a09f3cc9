package types

import (
	"github.com/valyala/fasthttp"
)

type FastHTTPHandler func(ctx *fasthttp.RequestCtx)

type HTTPServer interface {
	LifecycleManager
}

type HTTPRouter interface {
	Add(method, path string, handler FastHTTPHandler)
	GET(path string, handler FastHTTPHandler)
	POST(path string, handler FastHTTPHandler)
	Handler() fasthttp.RequestHandler
}
