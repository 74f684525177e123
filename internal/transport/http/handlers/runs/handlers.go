package runhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifecycle/internal/domain/job"
	"lifecycle/internal/domain/purge"
	"lifecycle/internal/transport/http/api"
	"lifecycle/internal/transport/http/middleware"
	"lifecycle/internal/transport/http/shared"
)

// Runner is the purge entry point the run routes drive.
type Runner interface {
	Begin(ctx context.Context, opts purge.Options) (job.PurgeJob, error)
	ForcePurge(ctx context.Context, category string, recordIDs []string, reason, actor string) (purge.ForceResult, error)
}

type Handler struct {
	Runner Runner
	Jobs   *job.Tracker
}

func NewHandler(runner Runner, jobs *job.Tracker) *Handler {
	return &Handler{Runner: runner, Jobs: jobs}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.handleTrigger)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleStatus)
		r.Post("/{id}/cancel", h.handleCancel)
	})
	r.Post("/force-purge", h.handleForcePurge)
}

type triggerRequest struct {
	Categories []string `json:"categories"`
	DryRun     bool     `json:"dryRun"`
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	var req triggerRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Fail(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", reqID)
			return
		}
	}

	row, err := h.Runner.Begin(r.Context(), purge.Options{
		Categories: req.Categories,
		DryRun:     req.DryRun,
		Trigger:    job.TriggerManual,
	})
	switch {
	case errors.Is(err, job.ErrConflict):
		api.Fail(w, http.StatusConflict, "run_in_progress", err.Error(), reqID)
	case errors.Is(err, purge.ErrUnknownCategory):
		api.Fail(w, http.StatusBadRequest, "unknown_category", err.Error(), reqID)
	case err != nil:
		api.Fail(w, http.StatusServiceUnavailable, "run_start_failed", err.Error(), reqID)
	default:
		api.WriteJSON(w, http.StatusAccepted, api.Envelope{Success: true, Data: row, RequestID: reqID})
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	j, err := h.Jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, job.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "job_not_found", "purge job not found", reqID)
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "job_get_failed", "failed to load job", reqID)
		return
	}
	api.Success(w, j, reqID)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	if category := r.URL.Query().Get("lastCompletedFor"); category != "" {
		j, err := h.Jobs.LastCompleted(r.Context(), category)
		if errors.Is(err, job.ErrNotFound) {
			api.Fail(w, http.StatusNotFound, "job_not_found", "no completed run for category", reqID)
			return
		}
		if err != nil {
			api.Fail(w, http.StatusInternalServerError, "job_list_failed", "failed to query jobs", reqID)
			return
		}
		api.Success(w, j, reqID)
		return
	}

	page := shared.ParsePagination(r, 50, 200)
	jobs, err := h.Jobs.List(r.Context(), page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "job_list_failed", "failed to list jobs", reqID)
		return
	}
	api.Success(w, jobs, reqID)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	err := h.Jobs.RequestCancel(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, job.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "job_not_found", "purge job not found", reqID)
	case errors.Is(err, job.ErrInvalidTransition):
		api.Fail(w, http.StatusConflict, "job_not_running", "job is not running", reqID)
	case err != nil:
		api.Fail(w, http.StatusInternalServerError, "job_cancel_failed", "failed to request cancellation", reqID)
	default:
		api.Success(w, map[string]string{"status": "cancellation requested"}, reqID)
	}
}

type forcePurgeRequest struct {
	Category  string   `json:"category"`
	RecordIDs []string `json:"recordIds"`
	Reason    string   `json:"reason"`
}

func (h *Handler) handleForcePurge(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	operator, _ := middleware.GetOperator(r.Context())

	var req forcePurgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", reqID)
		return
	}
	v := shared.NewValidator()
	v.Required("category", req.Category, "category is required")
	v.Required("reason", req.Reason, "reason is required")
	if len(req.RecordIDs) == 0 {
		v.Add("recordIds", "at least one record id is required")
	}
	if v.HasIssues() {
		api.FailWithDetails(w, http.StatusBadRequest, "validation_failed", "invalid force purge request", v.Issues(), reqID)
		return
	}

	result, err := h.Runner.ForcePurge(r.Context(), req.Category, req.RecordIDs, req.Reason, operator)
	switch {
	case errors.Is(err, purge.ErrUnknownCategory):
		api.Fail(w, http.StatusBadRequest, "unknown_category", err.Error(), reqID)
	case errors.Is(err, job.ErrConflict):
		api.Fail(w, http.StatusConflict, "run_in_progress", err.Error(), reqID)
	case errors.Is(err, purge.ErrHoldViolation):
		// The rejections are in the result so the operator can see
		// which records are frozen.
		api.FailWithDetails(w, http.StatusConflict, "hold_violation", err.Error(), result, reqID)
	case err != nil:
		api.Fail(w, http.StatusInternalServerError, "force_purge_failed", err.Error(), reqID)
	default:
		api.Success(w, result, reqID)
	}
}
