package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"privacyd/internal/domain/audit"
	"privacyd/internal/domain/auth"
	"privacyd/internal/transport/http/api"
	"privacyd/internal/transport/http/middleware"
	"privacyd/internal/transport/http/shared"
)

type Handler struct {
	Audit *audit.Service
}

func NewHandler(svc *audit.Service) *Handler {
	return &Handler{Audit: svc}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/audit-events", func(r chi.Router) {
		r.Use(middleware.RequireRole(auth.RoleAdmin))
		r.Get("/", h.HandleList)
	})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	page := shared.ParsePagination(r, 50, 200)
	filter := audit.Filter{
		Action:    r.URL.Query().Get("action"),
		SubjectID: r.URL.Query().Get("subjectId"),
	}
	events, err := h.Audit.List(r.Context(), filter, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "lookup_failed", "could not load audit events", requestID)
		return
	}
	api.Success(w, map[string]any{"events": events}, requestID)
}
