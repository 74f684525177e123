package auditloghandler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lifecycle/internal/domain/audit"
	"lifecycle/internal/transport/http/api"
	"lifecycle/internal/transport/http/middleware"
	"lifecycle/internal/transport/http/shared"
)

// Handler exposes the read path over the append-only ledger. There is
// deliberately no write surface here.
type Handler struct {
	Service *audit.Service
}

func NewHandler(service *audit.Service) *Handler {
	return &Handler{Service: service}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/audit/entries", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	q := r.URL.Query()
	filter := audit.Filter{
		Actor:        q.Get("actor"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resourceType"),
		ResourceID:   q.Get("resourceId"),
		JobID:        q.Get("jobId"),
	}
	v := shared.NewValidator()
	if raw := q.Get("from"); raw != "" {
		filter.From, _ = v.Timestamp("from", raw)
	}
	if raw := q.Get("to"); raw != "" {
		filter.To, _ = v.Timestamp("to", raw)
	}
	if v.HasIssues() {
		api.FailWithDetails(w, http.StatusBadRequest, "validation_failed", "invalid time range", v.Issues(), reqID)
		return
	}

	page := shared.ParsePagination(r, 100, 500)
	total, err := h.Service.Count(r.Context(), filter)
	if err != nil {
		slog.Warn("audit count failed", "err", err)
	}
	entries, err := h.Service.List(r.Context(), filter, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "audit_list_failed", "failed to query audit entries", reqID)
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	api.Success(w, entries, reqID)
}
