package rights

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"privacyd/internal/domain/rights"
	"privacyd/internal/transport/http/api"
	"privacyd/internal/transport/http/middleware"
	"privacyd/internal/transport/http/shared"
)

type Handler struct {
	Orchestrator *rights.Orchestrator
}

func NewHandler(orch *rights.Orchestrator) *Handler {
	return &Handler{Orchestrator: orch}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rights-requests", func(r chi.Router) {
		r.Post("/", h.HandleSubmit)
		r.Get("/", h.HandleList)
		r.Get("/{requestID}", h.HandleGet)
		r.Post("/{requestID}/process", h.HandleProcess)
	})
}

type submitPayload struct {
	Type           string         `json:"type"`
	SubjectID      string         `json:"subjectId"`
	RequestorEmail string         `json:"requestorEmail"`
	Details        map[string]any `json:"details"`
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", requestID)
		return
	}

	// Authenticated subjects submit for themselves by default.
	if caller, ok := middleware.GetSubject(r.Context()); ok {
		if payload.SubjectID == "" {
			payload.SubjectID = caller.SubjectID
		}
		if payload.RequestorEmail == "" {
			payload.RequestorEmail = caller.Email
		}
	}

	v := shared.NewValidator()
	v.Required("type", payload.Type, "request type is required")
	v.Required("requestorEmail", payload.RequestorEmail, "requestor email is required")
	if v.Reject(w, requestID) {
		return
	}

	var subjectID *string
	if payload.SubjectID != "" {
		subjectID = &payload.SubjectID
	}
	req, err := h.Orchestrator.Submit(r.Context(), rights.RequestType(payload.Type), subjectID, payload.RequestorEmail, payload.Details)
	if err != nil {
		if errors.Is(err, rights.ErrInvalidType) || errors.Is(err, rights.ErrInvalidDetails) {
			api.Fail(w, http.StatusBadRequest, "invalid_request", "request could not be accepted as submitted", requestID)
			return
		}
		api.Fail(w, http.StatusInternalServerError, "submit_failed", "could not record the request", requestID)
		return
	}
	api.Created(w, requestView(req), requestID)
}

func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	id := chi.URLParam(r, "requestID")

	req, err := h.Orchestrator.Process(r.Context(), id)
	switch {
	case err == nil:
		api.Success(w, requestView(req), requestID)
	case errors.Is(err, rights.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "rights request not found", requestID)
	case req != nil && req.Status == rights.StatusRejected:
		// The rejection itself is a terminal processing outcome.
		api.Success(w, requestView(req), requestID)
	default:
		api.Fail(w, http.StatusInternalServerError, "processing_failed", "processing failed, the request remains retryable", requestID)
	}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	req, err := h.Orchestrator.Get(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		if errors.Is(err, rights.ErrNotFound) {
			api.Fail(w, http.StatusNotFound, "not_found", "rights request not found", requestID)
			return
		}
		api.Fail(w, http.StatusInternalServerError, "lookup_failed", "could not load the request", requestID)
		return
	}
	api.Success(w, requestView(req), requestID)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	page := shared.ParsePagination(r, 50, 200)
	status := rights.Status(r.URL.Query().Get("status"))

	requests, err := h.Orchestrator.List(r.Context(), status, page.Limit, page.Offset)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "lookup_failed", "could not list requests", requestID)
		return
	}
	views := make([]map[string]any, 0, len(requests))
	for _, req := range requests {
		views = append(views, requestView(req))
	}
	api.Success(w, map[string]any{"requests": views, "limit": page.Limit, "offset": page.Offset}, requestID)
}

// requestView is the external shape of a request. The processing log stays
// internal: it may carry error detail the requestor must not see.
func requestView(req *rights.RightsRequest) map[string]any {
	view := map[string]any{
		"id":             req.ID,
		"type":           string(req.Type),
		"subjectId":      req.SubjectID,
		"requestorEmail": req.RequestorEmail,
		"status":         string(req.Status),
		"priority":       req.Priority,
		"dueAt":          req.DueAt.Format(time.RFC3339),
		"createdAt":      req.CreatedAt.Format(time.RFC3339),
	}
	if req.ResponseAt != nil {
		view["responseAt"] = req.ResponseAt.Format(time.RFC3339)
		view["responseMethod"] = req.ResponseMethod
		view["responseContent"] = req.ResponseContent
	}
	if req.RejectionReason != "" {
		view["rejectionReason"] = req.RejectionReason
	}
	return view
}
