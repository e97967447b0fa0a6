package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/attuneai/chime/errors"
	"github.com/attuneai/chime/nlschedule"
	"github.com/attuneai/chime/observe"
	"github.com/attuneai/chime/schedule"
)

type submitJobRequest struct {
	Name string `json:"name"`
	// Expr is a five-field cron expression. Schedule is natural-language
	// text parsed into one; exactly one of the two must be set.
	Expr         string                   `json:"expr,omitempty"`
	Schedule     string                   `json:"schedule,omitempty"`
	Body         string                   `json:"body"`
	Limits       *schedule.ResourceLimits `json:"limits,omitempty"`
	NotifyTarget string                   `json:"notify_target,omitempty"`
}

type approveRequest struct {
	ApprovedBy string `json:"approved_by"`
}

type parseScheduleRequest struct {
	Text string `json:"text"`
}

type parseScheduleResponse struct {
	nlschedule.Parsed
	ClarifyQuestion string `json:"clarify_question,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	// ClarifyQuestion is set when a natural-language schedule was
	// understood partially and a follow-up would resolve it.
	ClarifyQuestion string `json:"clarify_question,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.NewInvalidRequestf("invalid request body: %v", err))
		return
	}

	expr := req.Expr
	if expr == "" && req.Schedule != "" {
		parsed, ok := nlschedule.Parse(req.Schedule)
		if !ok {
			s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error:           "could not understand schedule text",
				ClarifyQuestion: nlschedule.ClarifyQuestion(parsed),
			})
			return
		}
		expr = parsed.Expr
	}

	job, err := s.scheduler.Submit(req.Name, expr, req.Body, req.Limits, req.NotifyTarget)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != schedule.StatusPending && status != schedule.StatusActive && status != schedule.StatusPaused {
		s.writeError(w, errors.NewInvalidRequestf("unknown status %q", status))
		return
	}

	jobs, err := s.scheduler.List(status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.scheduler.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Delete(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApproveJob(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.NewInvalidRequestf("invalid request body: %v", err))
		return
	}
	if req.ApprovedBy == "" {
		s.writeError(w, errors.NewInvalidRequestf("approved_by is required"))
		return
	}

	job, err := s.scheduler.Approve(mux.Vars(r)["id"], req.ApprovedBy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handlePauseJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.scheduler.Pause(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.scheduler.Resume(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, errors.NewInvalidRequestf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	jobID := mux.Vars(r)["id"]
	recs, err := s.scheduler.History(jobID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":     jobID,
		"executions": recs,
		"count":      len(recs),
	})
}

func (s *Server) handleParseSchedule(w http.ResponseWriter, r *http.Request) {
	var req parseScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.NewInvalidRequestf("invalid request body: %v", err))
		return
	}
	if req.Text == "" {
		s.writeError(w, errors.NewInvalidRequestf("text is required"))
		return
	}

	parsed, ok := nlschedule.Parse(req.Text)
	resp := parseScheduleResponse{
		Parsed:          parsed,
		ClarifyQuestion: nlschedule.ClarifyQuestion(parsed),
	}
	if !ok {
		s.writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Check(time.Now())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"health":    status,
		"scheduler": s.scheduler.Stats(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := []observe.AlertEvent{}
	if s.alerts != nil {
		alerts = s.alerts.Recent()
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Errorw("Failed to encode response", "error", err)
	}
}

// writeError maps domain error sentinels to HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		code = http.StatusNotFound
	case errors.IsInvalidStatus(err):
		code = http.StatusConflict
	case errors.IsInvalidRequest(err),
		errors.Is(err, errors.ErrInvalidExpression),
		errors.Is(err, errors.ErrCompile):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		s.log.Errorw("Request failed", "error", err)
	}
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}
