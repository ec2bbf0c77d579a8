package web

import (
	"net/http"

	"github.com/DioGolang/BookingSaga/internal/infra/web/handler"
	mw "github.com/DioGolang/BookingSaga/internal/infra/web/middleware"
	"github.com/DioGolang/BookingSaga/pkg/logger"
	"github.com/DioGolang/BookingSaga/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
)

type RouterDeps struct {
	ServiceName    string
	Logger         logger.Logger
	Metrics        metrics.Metrics
	Health         http.Handler
	MetricsHandler http.Handler
	Sagas          *handler.Saga
	// WriteLimiter guards the cancel endpoint. Optional.
	WriteLimiter *mw.IPRateLimiter
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otelchi.Middleware(d.ServiceName, otelchi.WithChiRoutes(r)))
	r.Use(mw.RequestLogger(d.Logger))
	r.Use(mw.MetricsWrapper(d.Metrics, "/metrics", "/health"))

	if d.Health != nil {
		r.Handle("/health", d.Health)
	}
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}

	if d.Sagas != nil {
		r.Route("/api/v1/sagas", func(r chi.Router) {
			r.Get("/", d.Sagas.List)
			r.Get("/{correlationID}", d.Sagas.Get)
			r.Group(func(r chi.Router) {
				if d.WriteLimiter != nil {
					r.Use(d.WriteLimiter.Handler(d.Logger))
				}
				r.Post("/{correlationID}/cancel", d.Sagas.Cancel)
			})
		})
	}
	return r
}
