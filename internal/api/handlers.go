package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/hbrun/internal/history"
	"github.com/mattjoyce/hbrun/internal/persist"
	"github.com/mattjoyce/hbrun/internal/session"
	"github.com/mattjoyce/hbrun/internal/subcommand"
)

const maxRequestBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Subcommands:   len(subcommand.All()),
		InFlight:      len(s.semaphore),
		HistoryOn:     s.runs != nil,
	})
}

// handleSubcommands handles GET /subcommands.
func (s *Server) handleSubcommands(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, subcommand.All())
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(subcommand.All()))
}

// handleCreateRun handles POST /runs. The run is synchronous; the response is
// written once the child has exited and its output is persisted.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req session.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Subcommand == "" {
		s.writeError(w, http.StatusBadRequest, "subcommand is required")
		return
	}
	// Artifacts from API runs always land in the server's run directory.
	if req.OutputDir != "" {
		s.writeError(w, http.StatusBadRequest, "output_dir is not accepted over the API")
		return
	}

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	default:
		s.logger.Warn("too many concurrent runs", "subcommand", req.Subcommand)
		s.writeError(w, http.StatusServiceUnavailable, "too many concurrent runs, please try again later")
		return
	}

	report, err := s.exec.Execute(r.Context(), req)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, RunResponse{Report: report})
	case errors.Is(err, subcommand.ErrInvalidInvocation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, subcommand.ErrUnsupportedOperation):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, persist.ErrPersistence):
		s.logger.Error("run output not persisted", "run_id", report.RunID, "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if r.Context().Err() != nil {
			// Client went away; nobody is listening.
			return
		}
		respondJSON(w, http.StatusGatewayTimeout, RunResponse{Report: report, Error: err.Error()})
	default:
		// Launch failures still carry a report.
		respondJSON(w, http.StatusOK, RunResponse{Report: report, Error: err.Error()})
	}
}

// handleListRuns handles GET /runs?subcommand=&session=&limit=.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	f := history.Filter{
		Subcommand: r.URL.Query().Get("subcommand"),
		SessionID:  r.URL.Query().Get("session"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = limit
	}

	runs, err := s.runs.List(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []history.Entry{}
	}
	respondJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// handleGetRun handles GET /runs/{runID}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	runID := chi.URLParam(r, "runID")
	entry, err := s.runs.Get(r.Context(), runID)
	if errors.Is(err, history.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get run", "run_id", runID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
