package server

import (
	"bytes"
	"strings"
	"sync"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

var methodIndex = map[string]uint8{
	"GET":     0,
	"POST":    1,
	"PUT":     2,
	"DELETE":  3,
	"PATCH":   4,
	"HEAD":    5,
	"OPTIONS": 6,
}

var (
	getBytes  = []byte("GET")
	postBytes = []byte("POST")
)

type routeNode struct {
	methodMask uint8
	handlers   [7]types.FastHTTPHandler
}

// Router matches exact paths. The dashboard API has no path parameters, so
// every route lives in one map keyed by normalized path.
type Router struct {
	mu          sync.RWMutex
	routes      map[string]*routeNode
	middlewares []Middleware
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]*routeNode)}
}

func (r *Router) Add(method, path string, handler types.FastHTTPHandler) {
	methodIdx, exists := methodIndex[method]
	if !exists || handler == nil {
		return
	}

	path = normalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.routes[path]
	if !ok {
		node = &routeNode{}
		r.routes[path] = node
	}
	node.handlers[methodIdx] = handler
	node.methodMask |= 1 << methodIdx
}

func (r *Router) GET(path string, handler types.FastHTTPHandler) {
	r.Add("GET", path, handler)
}

func (r *Router) POST(path string, handler types.FastHTTPHandler) {
	r.Add("POST", path, handler)
}

// Use appends middlewares. The first one registered is the outermost.
func (r *Router) Use(middlewares ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.middlewares = append(r.middlewares, middlewares...)
}

func (r *Router) Handler() fasthttp.RequestHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler := types.FastHTTPHandler(r.serve)
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}
	return fasthttp.RequestHandler(handler)
}

func (r *Router) serve(ctx *fasthttp.RequestCtx) {
	methodBytes := ctx.Method()

	var methodIdx uint8
	var exists bool

	switch {
	case bytes.Equal(methodBytes, getBytes):
		methodIdx, exists = 0, true
	case bytes.Equal(methodBytes, postBytes):
		methodIdx, exists = 1, true
	default:
		methodIdx, exists = methodIndex[utils.BytesToString(methodBytes)]
	}

	path := normalizePath(utils.BytesToString(ctx.Path()))

	r.mu.RLock()
	node := r.routes[path]
	r.mu.RUnlock()

	if node == nil {
		utils.WriteError(ctx, fasthttp.StatusNotFound, types.ErrPathNotFound.Error())
		return
	}

	if !exists || node.methodMask&(1<<methodIdx) == 0 {
		utils.WriteError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}

	node.handlers[methodIdx](ctx)
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
