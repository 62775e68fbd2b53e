// Package api exposes tollgate over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/logger"
	"github.com/willibrandon/tollgate/internal/metrics"
	"github.com/willibrandon/tollgate/internal/report"
	"github.com/willibrandon/tollgate/internal/traffic"
)

// SampleWriter persists ingested samples.
type SampleWriter interface {
	UpsertSamples(ctx context.Context, samples []traffic.Sample) error
}

// ServiceRegistry registers and lists managed services.
type ServiceRegistry interface {
	RegisterService(ctx context.Context, id, name string) error
	ListServices(ctx context.Context) ([]traffic.Service, error)
}

// MetricsQuerier builds service metrics reports.
type MetricsQuerier interface {
	QueryServiceMetrics(ctx context.Context, serviceID, window string) (*report.Report, error)
}

// AlertManager acknowledges and lists alerts.
type AlertManager interface {
	Acknowledge(ctx context.Context, alertID string) (alerts.AckResult, error)
	Query(ctx context.Context, q alerts.Query) ([]alerts.Summary, error)
}

// CycleRunner runs an on-demand evaluation cycle.
type CycleRunner interface {
	RunOnce(ctx context.Context, asOf time.Time) (alerts.CycleReport, error)
}

// Probe is one dependency checked by /health and /ready. Only critical
// probes gate readiness.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Deps are the components served by the API.
type Deps struct {
	Samples   SampleWriter
	Services  ServiceRegistry
	Metrics   MetricsQuerier
	Alerts    AlertManager
	Evaluator CycleRunner
	History   *metrics.CycleHistory
	Probes    []Probe
	Version   string
	StartedAt time.Time
}

// Config holds HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the tollgate HTTP server.
type Server struct {
	deps   Deps
	router *mux.Router

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	s := &Server{deps: deps}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/samples", s.handleIngest).Methods(http.MethodPost)
	v1.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	v1.HandleFunc("/services/{id}", s.handleRegisterService).Methods(http.MethodPut)
	v1.HandleFunc("/services/{id}/metrics", s.handleServiceMetrics).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}/ack", s.handleAcknowledge).Methods(http.MethodPost)
	v1.HandleFunc("/evaluate", s.handleEvaluate).Methods(http.MethodPost)
	v1.HandleFunc("/cycles", s.handleCycles).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/live", s.handleLive).Methods(http.MethodGet)
	r.HandleFunc("/livez", s.handleLive).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found", Code: "NOT_FOUND"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Code: "INVALID_ARGUMENT"})
	})

	r.Use(recoverMiddleware, loggingMiddleware, metricsMiddleware)
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("HTTP server listening", "addr", listener.Addr().String())

	srv := s.server
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server, s.listener = nil, nil
	if err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
