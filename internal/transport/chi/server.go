package chi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/matchd/internal/metrics"
	"github.com/kailas-cloud/matchd/internal/usecase/coordinator"
	healthuc "github.com/kailas-cloud/matchd/internal/usecase/health"
	"github.com/kailas-cloud/matchd/internal/version"
)

// StatusProvider exposes the coordinator lifecycle.
type StatusProvider interface {
	Status() coordinator.Status
}

// Server serves the operational endpoints of the coordinator.
type Server struct {
	health      *healthuc.Service
	coordinator StatusProvider
	apiKeys     []string
	logger      *zap.Logger
}

// NewServer creates an ops HTTP server.
func NewServer(health *healthuc.Service, coord StatusProvider, apiKeys []string, logger *zap.Logger) *Server {
	metrics.RegisterHTTPMetrics()
	return &Server{health: health, coordinator: coord, apiKeys: apiKeys, logger: logger}
}

// Router builds the chi router with the middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(s.apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Get("/ready", s.Ready)
	r.Get("/status", s.Status)
	r.Get("/metrics", s.Metrics)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	})
	return r
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// HealthCheck handles GET /health. Liveness only: the process answers.
func (s *Server) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version})
}

type readyResponse struct {
	Status string            `json:"status"`
	State  coordinator.State `json:"state"`
	Checks map[string]string `json:"checks"`
}

// Ready handles GET /ready: 200 while the loop runs and the store answers.
// A failing scoring source degrades the report but keeps the instance ready.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	state := s.coordinator.Status().State

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if state != coordinator.StateRunning || report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, readyResponse{
		Status: string(report.Status),
		State:  state,
		Checks: checks,
	})
}

// Status handles GET /status.
func (s *Server) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Status())
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

const (
	codeUnauthorized  = "unauthorized"
	codeNotFound      = "not_found"
	codeInternalError = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
