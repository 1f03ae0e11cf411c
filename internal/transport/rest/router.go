package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/baechuer/fcfs-booking/internal/redis"
	"github.com/baechuer/fcfs-booking/internal/security"
)

// DBPinger is the readiness slice of the connection pool.
type DBPinger interface {
	Ping(ctx context.Context) error
}

type RouterDeps struct {
	Handler   *Handler
	Verifier  security.TokenVerifier
	Log       zerolog.Logger
	DB        DBPinger
	Cache     *redis.Cache
	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}

	r := chi.NewRouter()

	// Request id + request-scoped logger + access log
	r.Use(Observe(d.Log))
	r.Use(MetricsMiddleware)

	// Panic recovery
	r.Use(middleware.Recoverer)

	// Cross-cutting
	if d.RLEnabled && d.Cache != nil {
		r.Use(RateLimitMiddleware(d.Cache, d.RLLimit, d.RLWindow))
	}
	r.Use(SecurityHeaders)

	// Operational endpoints (outside auth for K8s probes)
	r.Get("/healthz", healthzHandler)
	r.Get("/readyz", readyzHandler(d.DB, d.Cache))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(d.Verifier))

		r.Post("/claims", d.Handler.Claim)
		r.Post("/cancel-claim", d.Handler.Cancel)
		r.Get("/alternatives", d.Handler.Alternatives)

		// operator views
		r.Get("/admin/outbox", d.Handler.ListOutbox)
		r.Post("/admin/outbox/{id}/requeue", d.Handler.RequeueOutbox)
		r.Get("/admin/audit", d.Handler.ListAudit)
	})

	return r
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func readyzHandler(db DBPinger, cache *redis.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := make(map[string]string)
		allHealthy := true

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				checks["postgres"] = "unhealthy: " + err.Error()
				allHealthy = false
			} else {
				checks["postgres"] = "healthy"
			}
		} else {
			checks["postgres"] = "not_configured"
		}

		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				checks["redis"] = "unhealthy: " + err.Error()
				allHealthy = false
			} else {
				checks["redis"] = "healthy"
			}
		} else {
			checks["redis"] = "not_configured"
		}

		checks["status"] = "ready"
		w.Header().Set("Content-Type", "application/json")
		if !allHealthy {
			checks["status"] = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(checks)
	}
}
