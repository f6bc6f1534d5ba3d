package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/nerrad567/ssds-ingest/internal/ingest"
)

// healthCheckTimeout bounds all dependency checks of one health request.
const healthCheckTimeout = 2 * time.Second

// Health status values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthFaulted  = "faulted"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Pipeline *PipelineHealth   `json:"pipeline,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// PipelineHealth summarises the ingestion pipeline.
type PipelineHealth struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// handleHealth reports pipeline state and dependency health.
//
// 503 when the pipeline is faulted; a failing dependency check only
// degrades the status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: HealthOK, Version: s.version}
	status := http.StatusOK

	if s.pipeline != nil {
		state := s.pipeline.State()
		resp.Pipeline = &PipelineHealth{State: state.String()}
		if state == ingest.StateFaulted {
			resp.Status = HealthFaulted
			status = http.StatusServiceUnavailable
			if err := s.pipeline.Err(); err != nil {
				resp.Pipeline.Error = err.Error()
			}
		}
	}

	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		resp.Checks = make(map[string]string, len(names))
		for _, name := range names {
			if err := s.checks[name].HealthCheck(ctx); err != nil {
				resp.Checks[name] = err.Error()
				if resp.Status == HealthOK {
					resp.Status = HealthDegraded
				}
				continue
			}
			resp.Checks[name] = HealthOK
		}
	}

	writeJSON(w, status, resp)
}
