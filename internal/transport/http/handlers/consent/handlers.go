package consent

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"privacyd/internal/domain/consent"
	"privacyd/internal/domain/subject"
	"privacyd/internal/transport/http/api"
	"privacyd/internal/transport/http/middleware"
	"privacyd/internal/transport/http/shared"
)

type Handler struct {
	Ledger *consent.Ledger
}

func NewHandler(ledger *consent.Ledger) *Handler {
	return &Handler{Ledger: ledger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/consents", func(r chi.Router) {
		r.Post("/", h.HandleRecord)
		r.Post("/withdraw", h.HandleWithdraw)
		r.Get("/", h.HandleHistory)
		r.Get("/effective", h.HandleEffective)
	})
}

type recordPayload struct {
	SubjectID   string   `json:"subjectId"`
	ConsentType string   `json:"consentType"`
	Given       bool     `json:"given"`
	Method      string   `json:"method"`
	Purposes    []string `json:"purposes"`
	Evidence    string   `json:"evidence"`
}

func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload recordPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", requestID)
		return
	}
	h.defaultSubject(r, &payload.SubjectID)

	v := shared.NewValidator()
	v.Required("subjectId", payload.SubjectID, "subject id is required")
	v.Required("consentType", payload.ConsentType, "consent type is required")
	v.Required("method", payload.Method, "collection method is required")
	if v.Reject(w, requestID) {
		return
	}

	id, err := h.Ledger.Record(r.Context(), payload.SubjectID, payload.ConsentType, payload.Given, payload.Method, payload.Purposes, payload.Evidence)
	if err != nil {
		h.failFromError(w, err, requestID)
		return
	}
	api.Created(w, map[string]any{"consentId": id}, requestID)
}

type withdrawPayload struct {
	SubjectID   string `json:"subjectId"`
	ConsentType string `json:"consentType"`
	Method      string `json:"method"`
	Evidence    string `json:"evidence"`
}

func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	var payload withdrawPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", requestID)
		return
	}
	h.defaultSubject(r, &payload.SubjectID)

	v := shared.NewValidator()
	v.Required("subjectId", payload.SubjectID, "subject id is required")
	v.Required("consentType", payload.ConsentType, "consent type is required")
	v.Required("method", payload.Method, "withdrawal method is required")
	if v.Reject(w, requestID) {
		return
	}

	if err := h.Ledger.Withdraw(r.Context(), payload.SubjectID, payload.ConsentType, payload.Method, payload.Evidence); err != nil {
		h.failFromError(w, err, requestID)
		return
	}
	api.Success(w, map[string]any{"withdrawn": true}, requestID)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	subjectID := r.URL.Query().Get("subjectId")
	if subjectID == "" {
		if caller, ok := middleware.GetSubject(r.Context()); ok {
			subjectID = caller.SubjectID
		}
	}
	if subjectID == "" {
		api.Fail(w, http.StatusBadRequest, "missing_subject", "subjectId query parameter is required", requestID)
		return
	}

	history, err := h.Ledger.History(r.Context(), subjectID)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "lookup_failed", "could not load consent history", requestID)
		return
	}
	api.Success(w, map[string]any{"records": history}, requestID)
}

func (h *Handler) HandleEffective(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	subjectID := r.URL.Query().Get("subjectId")
	consentType := r.URL.Query().Get("type")
	if subjectID == "" {
		if caller, ok := middleware.GetSubject(r.Context()); ok {
			subjectID = caller.SubjectID
		}
	}

	v := shared.NewValidator()
	v.Required("subjectId", subjectID, "subject id is required")
	v.Required("type", consentType, "consent type is required")
	if v.Reject(w, requestID) {
		return
	}

	record, err := h.Ledger.Effective(r.Context(), subjectID, consentType)
	if err != nil {
		h.failFromError(w, err, requestID)
		return
	}
	api.Success(w, map[string]any{"effective": record}, requestID)
}

func (h *Handler) defaultSubject(r *http.Request, subjectID *string) {
	if *subjectID == "" {
		if caller, ok := middleware.GetSubject(r.Context()); ok {
			*subjectID = caller.SubjectID
		}
	}
}

func (h *Handler) failFromError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, consent.ErrInvalidType):
		api.Fail(w, http.StatusBadRequest, "invalid_type", "unknown consent type", requestID)
	case errors.Is(err, subject.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "subject not found", requestID)
	default:
		api.Fail(w, http.StatusInternalServerError, "consent_failed", "could not record the decision", requestID)
	}
}
