package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/proctor/internal/engine"
	"github.com/seantiz/proctor/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB

	defaultWaitTimeoutMS = 30_000
	maxWaitTimeoutMS     = 10 * 60_000

	maxTimeoutS = 3600
)

// submitScriptRequest is the JSON body for POST /v1/executions. TimeoutS
// overrides the server-side execution timeout when set.
type submitScriptRequest struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	TimeoutS *int   `json:"timeout_s,omitempty"`
}

// submitJobRequest is the JSON body for POST /v1/jobs.
type submitJobRequest struct {
	JobID    string         `json:"job_id"`
	Scripts  []model.Script `json:"scripts"`
	TimeoutS *int           `json:"timeout_s,omitempty"`
}

// validTimeoutS reports whether an optional timeout override is in range.
func validTimeoutS(v *int) bool {
	return v == nil || (*v > 0 && *v <= maxTimeoutS)
}

// submitResponse acknowledges an admitted execution.
type submitResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// listExecutionsResponse wraps the paginated history response.
type listExecutionsResponse struct {
	Executions []*model.StatusEntry `json:"executions"`
	Total      int                  `json:"total"`
	Limit      int                  `json:"limit"`
	Offset     int                  `json:"offset"`
}

func (s *Server) handleSubmitScript(w http.ResponseWriter, r *http.Request) {
	var req submitScriptRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Source == "" {
		s.writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	if req.Name == "" {
		req.Name = "script"
	}
	if !validTimeoutS(req.TimeoutS) {
		s.writeError(w, http.StatusBadRequest, "timeout_s out of range")
		return
	}

	id, err := s.engine.SubmitScript(r.Context(), req.Name, req.Source, req.TimeoutS)
	if err != nil {
		s.logger.Error("submit script", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit script")
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{ID: id, Kind: model.KindScript})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	if len(req.Scripts) == 0 {
		s.writeError(w, http.StatusBadRequest, "scripts are required")
		return
	}
	if !validTimeoutS(req.TimeoutS) {
		s.writeError(w, http.StatusBadRequest, "timeout_s out of range")
		return
	}

	id, err := s.engine.SubmitJob(r.Context(), req.JobID, req.Scripts, req.TimeoutS)
	if errors.Is(err, engine.ErrDuplicateSubmission) {
		// Soft rejection: the job is already running or very recently ran.
		s.writeJSON(w, http.StatusOK, submitResponse{ID: id, Kind: model.KindJob, Duplicate: true})
		return
	}
	if err != nil {
		s.logger.Error("submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{ID: id, Kind: model.KindJob})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := s.engine.GetStatus(id)
	if errors.Is(err, engine.ErrNotFound) {
		// Fall back to persisted history for executions already swept.
		stored, storeErr := s.store.GetExecution(r.Context(), id)
		if storeErr == nil {
			s.writeJSON(w, http.StatusOK, stored)
			return
		}
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.logger.Error("get execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAwaitExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	timeoutMS := parseIntQuery(r, "timeout_ms", defaultWaitTimeoutMS)
	if timeoutMS <= 0 || timeoutMS > maxWaitTimeoutMS {
		timeoutMS = defaultWaitTimeoutMS
	}

	entry, err := s.engine.Await(r.Context(), id, time.Duration(timeoutMS)*time.Millisecond)
	if errors.Is(err, engine.ErrNotFound) {
		// Late pollers may arrive after the tracker swept the execution;
		// serve the persisted record like handleGetExecution does.
		stored, storeErr := s.store.GetExecution(r.Context(), id)
		if storeErr == nil {
			s.writeJSON(w, http.StatusOK, stored)
			return
		}
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if errors.Is(err, engine.ErrAwaitTimeout) {
		s.writeError(w, http.StatusRequestTimeout, "execution still running")
		return
	}
	if err != nil {
		s.logger.Error("await execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to await execution")
		return
	}

	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	executions, total, err := s.store.ListExecutions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list executions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	if executions == nil {
		executions = []*model.StatusEntry{}
	}

	s.writeJSON(w, http.StatusOK, listExecutionsResponse{
		Executions: executions,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
