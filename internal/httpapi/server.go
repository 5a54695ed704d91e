// Package httpapi exposes the recognition service over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ocrd/internal/job"
	"ocrd/internal/jobstore"
	"ocrd/internal/model"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Submit(ctx context.Context, sub job.Submission) job.Result
	ModelStatus(ctx context.Context) model.Status
	ModelInfo(ctx context.Context) model.Info
	ReleaseModel(ctx context.Context, force bool) error
	Ready() bool
	Job(ctx context.Context, id string) (jobstore.Record, error)
	Jobs(ctx context.Context, limit int) ([]jobstore.Record, error)
	ArchivePath(name string) (string, error)
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: orDefault(corsAllowedMethods, []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "X-Log-Level"}),
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}

	r.Post("/ocr/{task}", h.recognize)
	r.Post("/parse", h.parse(false))
	r.Post("/parse/split", h.parse(true))

	// Status endpoints are small JSON; compress everything but uploads and zips.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5, "application/json", "text/html"))
		r.Get("/health", h.health)
		r.Get("/gpu/status", h.gpuStatus)
		r.Post("/gpu/offload", h.offload)
		r.Get("/model/info", h.modelInfo)
		r.Get("/jobs", h.jobs)
		r.Get("/jobs/{id}", h.job)
		r.Get("/demo", h.demoForm)
		r.Post("/demo", h.demoSubmit)
	})

	r.Get("/static/{name}", h.static)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/demo", http.StatusFound)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
