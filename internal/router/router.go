// Package router matches (method, path) pairs against a registered table
// and dispatches to a Handler, in the spirit of the teacher's
// server/router package but working over httpcodec.Request/Response
// instead of raw session buffers.
package router

import (
	"strings"

	"github.com/openclaw/gateway/internal/httpcodec"
)

// Handler processes a request and returns the response to send.
type Handler func(c *Context) *httpcodec.Response

// Context wraps one in-flight request for a handler. Handlers add their
// own headers to the Response they return; the router then appends CORS.
type Context struct {
	Request *httpcodec.Request

	// ConnState carries arbitrary per-connection data a handler may need.
	// Kept untyped so router doesn't depend on the reactor package.
	// Dispatch leaves it nil.
	ConnState any
}

type route struct {
	method  httpcodec.Method
	pattern string
	prefix  bool
	handler Handler
}

// Router is a linear-scan route table; first match wins, matching the
// teacher's router and the spec's explicit ordering invariant.
type Router struct {
	routes []route
}

// New returns an empty router.
func New() *Router {
	return &Router{}
}

// Handle registers handler for method+pattern. A pattern ending in "*"
// matches as a prefix on the characters before the wildcard.
func (r *Router) Handle(method httpcodec.Method, pattern string, h Handler) {
	prefix := strings.HasSuffix(pattern, "*")
	p := pattern
	if prefix {
		p = pattern[:len(pattern)-1]
	}
	r.routes = append(r.routes, route{method: method, pattern: p, prefix: prefix, handler: h})
}

// addCORS attaches the CORS origin header to every non-preflight response, per spec.
func addCORS(resp *httpcodec.Response) *httpcodec.Response {
	resp.SetHeader("Access-Control-Allow-Origin", "*")
	return resp
}

// Dispatch finds the first matching route and invokes its handler, handling
// CORS preflight and 404 itself.
func (r *Router) Dispatch(req *httpcodec.Request) *httpcodec.Response {
	if req.Method == httpcodec.MethodOPTIONS {
		resp := httpcodec.NewResponse(204)
		resp.SetHeader("Access-Control-Allow-Origin", "*")
		resp.SetHeader("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		resp.SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")
		return resp
	}

	for _, rt := range r.routes {
		if rt.method != req.Method {
			continue
		}
		if rt.prefix {
			if !strings.HasPrefix(req.Path, rt.pattern) {
				continue
			}
		} else if req.Path != rt.pattern {
			continue
		}
		c := &Context{Request: req}
		return addCORS(rt.handler(c))
	}

	resp := httpcodec.NewResponse(404)
	resp.SetHeader("Content-Type", "application/json")
	resp.SetBody([]byte(`{"error":"Not Found"}`))
	return addCORS(resp)
}
