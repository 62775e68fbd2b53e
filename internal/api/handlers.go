package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/willibrandon/tollgate/internal/alerts"
	"github.com/willibrandon/tollgate/internal/ecode"
	"github.com/willibrandon/tollgate/internal/logger"
	"github.com/willibrandon/tollgate/internal/metrics"
	"github.com/willibrandon/tollgate/internal/traffic"
)

// EvaluateResponse is the body of POST /v1/evaluate. Error is set when some
// services failed while the rest of the cycle completed.
type EvaluateResponse struct {
	alerts.CycleReport
	Error string `json:"error,omitempty"`
}

// IngestRequest is the body of POST /v1/samples.
type IngestRequest struct {
	Samples []traffic.SampleInput `json:"samples"`
}

// IngestResponse reports how many samples were stored.
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// RegisterServiceRequest is the optional body of PUT /v1/services/{id}.
type RegisterServiceRequest struct {
	Name string `json:"name"`
}

// handleIngest validates the whole batch before anything is written.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if len(req.Samples) == 0 {
		respondError(w, r, ecode.New(ecode.InvalidArgument, "api.Ingest", "%s", ecode.FieldIsRequired("samples")))
		return
	}

	samples, err := traffic.ParseBatch(req.Samples)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.deps.Samples.UpsertSamples(r.Context(), samples); err != nil {
		respondError(w, r, err)
		return
	}
	metrics.SamplesIngested.Add(float64(len(samples)))

	writeJSON(w, http.StatusOK, IngestResponse{Accepted: len(samples)})
}

func (s *Server) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req RegisterServiceRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, r, err)
			return
		}
	}
	if req.Name == "" {
		req.Name = id
	}

	if err := s.deps.Services.RegisterService(r.Context(), id, req.Name); err != nil {
		respondError(w, r, err)
		return
	}

	logger.Info("service registered", "service", id)
	writeJSON(w, http.StatusOK, traffic.Service{ID: id, Name: req.Name})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.deps.Services.ListServices(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if services == nil {
		services = []traffic.Service{}
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleServiceMetrics(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")
	if window == "" {
		window = traffic.Window5m.String()
	}

	rep, err := s.deps.Metrics.QueryServiceMetrics(r.Context(), mux.Vars(r)["id"], window)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	q := alerts.Query{
		State:    alerts.State(params.Get("state")),
		TargetID: params.Get("targetId"),
		Type:     alerts.Type(params.Get("alertType")),
	}
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, r, ecode.New(ecode.InvalidArgument, "api.ListAlerts", "%s", ecode.FieldIsInvalid("limit")))
			return
		}
		q.Limit = &n
	}

	list, err := s.deps.Alerts.Query(r.Context(), q)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if list == nil {
		list = []alerts.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Alerts.Acknowledge(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	metrics.AlertsAcknowledged.Inc()
	writeJSON(w, http.StatusOK, res)
}

// handleEvaluate runs a cycle now, or as of the asOf query parameter.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if raw := r.URL.Query().Get("asOf"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, r, ecode.New(ecode.InvalidArgument, "api.Evaluate", "%s", ecode.FieldIsInvalid("asOf")))
			return
		}
		asOf = t.UTC()
	}

	rep, err := s.deps.Evaluator.RunOnce(r.Context(), asOf)
	if err != nil && rep.Failed == 0 {
		respondError(w, r, err)
		return
	}

	resp := EvaluateResponse{CycleReport: rep}
	if err != nil {
		// Transitions of the other services are already committed.
		logger.Warn("evaluation cycle partially failed", "failed", rep.Failed, "error", err)
		resp.Error = "evaluation failed for " + strconv.Itoa(rep.Failed) + " service(s)"
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCycles returns recent evaluation cycles, oldest first.
func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	n := metrics.DefaultHistoryCapacity
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			respondError(w, r, ecode.New(ecode.InvalidArgument, "api.Cycles", "%s", ecode.FieldIsInvalid("limit")))
			return
		}
		n = v
	}

	records := []metrics.CycleRecord{}
	if s.deps.History != nil {
		if recent := s.deps.History.Recent(n); recent != nil {
			records = recent
		}
	}
	writeJSON(w, http.StatusOK, records)
}
