package holdhandler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifecycle/internal/domain/hold"
	"lifecycle/internal/transport/http/api"
	"lifecycle/internal/transport/http/middleware"
)

type Handler struct {
	Store *hold.Store
}

func NewHandler(store *hold.Store) *Handler {
	return &Handler{Store: store}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/holds", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/release", h.handleRelease)
	})
}

type createRequest struct {
	Scope  hold.Scope `json:"scope"`
	Reason string     `json:"reason"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	operator, _ := middleware.GetOperator(r.Context())

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", reqID)
		return
	}

	lh := hold.LegalHold{Scope: req.Scope, Reason: req.Reason, CreatedBy: operator}
	if err := lh.Validate(); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_hold", err.Error(), reqID)
		return
	}
	id, err := h.Store.Create(r.Context(), lh)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "hold_create_failed", "failed to create hold", reqID)
		return
	}
	created, err := h.Store.Get(r.Context(), id)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "hold_create_failed", "failed to load created hold", reqID)
		return
	}
	api.Created(w, created, reqID)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	err := h.Store.Release(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, hold.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "hold_not_found", "legal hold not found", reqID)
	case errors.Is(err, hold.ErrAlreadyReleased):
		api.Fail(w, http.StatusConflict, "hold_already_released", "legal hold was already released", reqID)
	case err != nil:
		api.Fail(w, http.StatusInternalServerError, "hold_release_failed", "failed to release hold", reqID)
	default:
		api.Success(w, map[string]string{"status": "released"}, reqID)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	lh, err := h.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, hold.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "hold_not_found", "legal hold not found", reqID)
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "hold_get_failed", "failed to load hold", reqID)
		return
	}
	api.Success(w, lh, reqID)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	var (
		holds []hold.LegalHold
		err   error
	)
	if r.URL.Query().Get("status") == hold.StatusActive {
		holds, err = h.Store.ListActive(r.Context())
	} else {
		holds, err = h.Store.List(r.Context())
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "hold_list_failed", "failed to list holds", reqID)
		return
	}
	api.Success(w, holds, reqID)
}
