package api

import (
	"net/http"
	"time"

	"github.com/pobradovic08/appserver/internal/metrics"
)

// Route binds a ServeMux pattern to a handler. Name labels the route in
// logs and metrics.
type Route struct {
	Pattern string
	Name    string
	Handler http.Handler
}

const (
	RouteHome     = "home"
	RouteHealth   = "health"
	RouteAdmin    = "admin"
	RouteNotFound = "not_found"
)

// Routes returns the public route table. The admin subtree is only bound
// when admin is non-nil; adminPrefix must end in a slash.
//
// Patterns carry no method, so every method reaches the handler. "{$}"
// anchors an exact match; without it a trailing-slash pattern would claim
// the whole subtree.
func Routes(admin http.Handler, adminPrefix string) []Route {
	routes := []Route{
		{Pattern: "/{$}", Name: RouteHome, Handler: HandleHome()},
		{Pattern: "/health/{$}", Name: RouteHealth, Handler: HandleHealth()},
	}
	if admin != nil {
		routes = append(routes, Route{Pattern: adminPrefix, Name: RouteAdmin, Handler: admin})
	}
	return append(routes, Route{Pattern: "/", Name: RouteNotFound, Handler: HandleNotFound()})
}

// NewRouter registers routes on a fresh ServeMux. When m is non-nil every
// route is instrumented with request count and latency.
func NewRouter(routes []Route, m *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()
	for _, rt := range routes {
		h := rt.Handler
		if m != nil {
			h = instrument(m, rt.Name, h)
		}
		mux.Handle(rt.Pattern, h)
	}
	return mux
}

func instrument(m *metrics.Collector, name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			status := sw.status
			p := recover()
			if p != nil && !sw.wroteHeader {
				// Recovery further out answers 500.
				status = http.StatusInternalServerError
			}
			m.ObserveRequest(name, r.Method, status, time.Since(start))
			if p != nil {
				panic(p)
			}
		}()
		next.ServeHTTP(sw, r)
	})
}
