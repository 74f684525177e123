package policyhandler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifecycle/internal/domain/policy"
	"lifecycle/internal/transport/http/api"
	"lifecycle/internal/transport/http/middleware"
	"lifecycle/internal/transport/http/shared"
)

type Handler struct {
	Store *policy.Store
}

func NewHandler(store *policy.Store) *Handler {
	return &Handler{Store: store}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/policies", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Put("/{category}", h.handleUpsert)
		r.Delete("/{category}", h.handleDeactivate)
		r.Get("/{category}", h.handleGet)
	})
}

type upsertRequest struct {
	RetentionPeriod     string `json:"retentionPeriod"`
	DeletionMode        string `json:"deletionMode"`
	ArchiveBeforeDelete bool   `json:"archiveBeforeDelete"`
	ArchiveTarget       string `json:"archiveTarget"`
}

func (h *Handler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	category := chi.URLParam(r, "category")

	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", reqID)
		return
	}

	v := shared.NewValidator()
	v.Required("retentionPeriod", req.RetentionPeriod, "retentionPeriod is required")
	v.Enum("deletionMode", req.DeletionMode, []string{policy.ModeSoft, policy.ModeHard}, "deletionMode must be soft or hard")
	retention, ok := v.Duration("retentionPeriod", req.RetentionPeriod)
	if !ok || v.HasIssues() {
		api.FailWithDetails(w, http.StatusBadRequest, "validation_failed", "invalid policy", v.Issues(), reqID)
		return
	}

	p := policy.RetentionPolicy{
		DataCategory:        category,
		RetentionPeriod:     retention,
		DeletionMode:        req.DeletionMode,
		ArchiveBeforeDelete: req.ArchiveBeforeDelete,
		ArchiveTarget:       req.ArchiveTarget,
		IsActive:            true,
	}
	if err := p.Validate(); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_policy", err.Error(), reqID)
		return
	}
	id, err := h.Store.Upsert(r.Context(), p)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "policy_upsert_failed", "failed to save policy", reqID)
		return
	}
	p.ID = id
	api.Created(w, p, reqID)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	p, err := h.Store.Active(r.Context(), chi.URLParam(r, "category"))
	if errors.Is(err, policy.ErrNotConfigured) {
		api.Fail(w, http.StatusNotFound, "policy_not_found", "no active policy for category", reqID)
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "policy_get_failed", "failed to load policy", reqID)
		return
	}
	api.Success(w, p, reqID)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	err := h.Store.Deactivate(r.Context(), chi.URLParam(r, "category"))
	if errors.Is(err, policy.ErrNotConfigured) {
		api.Fail(w, http.StatusNotFound, "policy_not_found", "no active policy for category", reqID)
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "policy_deactivate_failed", "failed to deactivate policy", reqID)
		return
	}
	api.Success(w, map[string]string{"status": "deactivated"}, reqID)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	policies, err := h.Store.List(r.Context())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "policy_list_failed", "failed to list policies", reqID)
		return
	}
	api.Success(w, policies, reqID)
}
