package compliance

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"privacyd/internal/domain/auth"
	"privacyd/internal/domain/compliance"
	"privacyd/internal/transport/http/api"
	"privacyd/internal/transport/http/middleware"
)

type Handler struct {
	Monitor *compliance.Monitor
}

func NewHandler(monitor *compliance.Monitor) *Handler {
	return &Handler{Monitor: monitor}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/compliance", func(r chi.Router) {
		r.Use(middleware.RequireRole(auth.RoleAdmin, auth.RoleAgent))
		r.Get("/checks", h.HandleChecks)
		r.Get("/checks.pdf", h.HandleChecksPDF)
		r.Get("/register", h.HandleRegister)
	})
}

func (h *Handler) HandleChecks(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	reports, err := h.Monitor.Run(r.Context())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "checks_failed", "could not run compliance checks", requestID)
		return
	}
	api.Success(w, map[string]any{
		"generatedAt": time.Now().UTC(),
		"checks":      reports,
	}, requestID)
}

func (h *Handler) HandleChecksPDF(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	reports, err := h.Monitor.Run(r.Context())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "checks_failed", "could not run compliance checks", requestID)
		return
	}
	content, err := compliance.RenderPDF(reports, time.Now().UTC())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "render_failed", "could not render the report", requestID)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="compliance-checks.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// HandleRegister returns the static record of processing activities.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	api.Success(w, map[string]any{"activities": compliance.Register}, requestID)
}
