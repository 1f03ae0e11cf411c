package rest

import (
	"net/http"
	"time"

	"github.com/baechuer/fcfs-booking/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// MetricsMiddleware records Prometheus metrics for every HTTP request,
// labelled by route pattern rather than raw path to keep cardinality
// bounded.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		routePattern := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && len(rctx.RoutePatterns) > 0 {
			routePattern = rctx.RoutePatterns[len(rctx.RoutePatterns)-1]
		}

		metrics.RecordHTTPRequest(r.Method, routePattern, ww.Status(), time.Since(start))
	})
}
