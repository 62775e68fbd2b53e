package api

import (
	"context"
	"net/http"
	"time"

	"github.com/willibrandon/tollgate/internal/logger"
	"github.com/willibrandon/tollgate/internal/metrics"
)

// Health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const probeTimeout = 2 * time.Second

// ComponentHealth is the state of one probed dependency.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	LastCycle  *metrics.CycleRecord       `json:"lastCycle,omitempty"`
	Problems   logger.Counts              `json:"problems"`
}

// ReadyResponse is the body of /ready.
type ReadyResponse struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// LiveResponse is the body of /live.
type LiveResponse struct {
	Alive bool `json:"alive"`
}

func (s *Server) runProbes(ctx context.Context) (map[string]ComponentHealth, string) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	components := make(map[string]ComponentHealth, len(s.deps.Probes))
	overall := StatusHealthy

	for _, p := range s.deps.Probes {
		if err := p.Check(ctx); err != nil {
			components[p.Name] = ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
			if p.Critical {
				overall = StatusUnhealthy
			} else if overall == StatusHealthy {
				overall = StatusDegraded
			}
			continue
		}
		components[p.Name] = ComponentHealth{Status: StatusHealthy}
	}

	return components, overall
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components, overall := s.runProbes(r.Context())

	resp := HealthResponse{
		Status:     overall,
		Version:    s.deps.Version,
		Uptime:     time.Since(s.deps.StartedAt).Truncate(time.Second).String(),
		Components: components,
		Problems:   logger.ProblemCounts(),
	}
	if s.deps.History != nil {
		if last, ok := s.deps.History.Latest(); ok {
			resp.LastCycle = &last
		}
	}

	status := http.StatusOK
	if overall == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	for _, p := range s.deps.Probes {
		if !p.Critical {
			continue
		}
		if err := p.Check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
				Ready:  false,
				Reason: p.Name + ": " + err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, ReadyResponse{Ready: true})
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, LiveResponse{Alive: true})
}
