package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rucat-project/rucat/internal/engine"
	"github.com/rucat-project/rucat/pkg/logger"
)

// Options configures NewRouter.
type Options struct {
	AllowedOrigins []string
	AuthTokens     []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the chi router implementing the engine lifecycle REST surface.
func NewRouter(store engine.Store, log *logger.Logger, opts Options) http.Handler {
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 50
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 100
	}

	h := &handler{store: store}
	r := chi.NewRouter()

	r.Use(traceID)
	r.Use(recoverer(log))
	r.Use(accessLog(log))
	r.Use(newCORS(opts.AllowedOrigins))
	r.Use(rateLimit(opts.RateLimitRPS, opts.RateLimitBurst))

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(staticAuth(opts.AuthTokens))
		r.Post("/engine", h.createEngine)
		r.Get("/engine/{id}", h.getEngine)
		r.Get("/engines", h.listEngines)
		r.Post("/engine/{id}/stop", h.stopEngine)
		r.Post("/engine/{id}/restart", h.restartEngine)
		r.Delete("/engine/{id}", h.deleteEngine)
	})

	return r
}
