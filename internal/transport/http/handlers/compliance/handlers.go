package compliancehandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifecycle/internal/domain/report"
	"lifecycle/internal/transport/http/api"
	"lifecycle/internal/transport/http/middleware"
	"lifecycle/internal/transport/http/shared"
)

type Handler struct {
	Reporter *report.Reporter
}

func NewHandler(reporter *report.Reporter) *Handler {
	return &Handler{Reporter: reporter}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/compliance/reports", func(r chi.Router) {
		r.Post("/", h.handleGenerate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/pdf", h.handlePDF)
	})
}

type generateRequest struct {
	PeriodStart string `json:"periodStart"`
	PeriodEnd   string `json:"periodEnd"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON", reqID)
		return
	}
	v := shared.NewValidator()
	start, okStart := v.Timestamp("periodStart", req.PeriodStart)
	end, okEnd := v.Timestamp("periodEnd", req.PeriodEnd)
	if okStart && okEnd && !end.After(start) {
		v.Add("periodEnd", "must be after periodStart")
	}
	if v.HasIssues() {
		api.FailWithDetails(w, http.StatusBadRequest, "validation_failed", "invalid reporting period", v.Issues(), reqID)
		return
	}

	rep, err := h.Reporter.Generate(r.Context(), start, end)
	if err != nil {
		slog.Error("report generation failed", "err", err, "requestId", reqID)
		api.Fail(w, http.StatusInternalServerError, "report_generate_failed", "failed to generate report", reqID)
		return
	}
	api.Created(w, rep, reqID)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	rep, err := h.Reporter.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, report.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "report_not_found", "compliance report not found", reqID)
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "report_get_failed", "failed to load report", reqID)
		return
	}
	api.Success(w, rep, reqID)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	page := shared.ParsePagination(r, 20, 100)
	reports, err := h.Reporter.List(r.Context(), page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "report_list_failed", "failed to list reports", reqID)
		return
	}
	api.Success(w, reports, reqID)
}

func (h *Handler) handlePDF(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	rep, err := h.Reporter.Get(r.Context(), id)
	if errors.Is(err, report.ErrNotFound) {
		api.Fail(w, http.StatusNotFound, "report_not_found", "compliance report not found", reqID)
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "report_get_failed", "failed to load report", reqID)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=compliance-%s.pdf", id))
	if err := report.WritePDF(rep, w); err != nil {
		slog.Warn("report pdf render failed", "reportId", id, "err", err)
	}
}
