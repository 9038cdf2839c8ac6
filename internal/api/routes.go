package api

import (
	"multimodal/internal/health"
	"multimodal/internal/job"
	"multimodal/internal/observability"
	"net/http"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	JobService    *job.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	// Artifacts serves stored outputs under StoragePrefix. Optional.
	Artifacts     http.Handler
	StoragePrefix string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.JobService, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes)
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Job endpoints
	mux.HandleFunc("POST /v1/jobs", handler.CreateJob)
	mux.HandleFunc("GET /v1/jobs", handler.ListJobs)
	mux.HandleFunc("GET /v1/jobs/{jobId}", handler.GetJob)
	mux.HandleFunc("GET /v1/pipelines", handler.ListPipelines)

	// Generated artifacts
	if cfg.Artifacts != nil && cfg.StoragePrefix != "" {
		mux.Handle("GET "+cfg.StoragePrefix+"/", cfg.Artifacts)
	}

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
