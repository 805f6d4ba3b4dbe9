package exports

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"privacyd/internal/domain/export"
	"privacyd/internal/transport/http/api"
	"privacyd/internal/transport/http/middleware"
)

type Handler struct {
	Pipeline *export.Pipeline
}

func NewHandler(pipeline *export.Pipeline) *Handler {
	return &Handler{Pipeline: pipeline}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/exports/download", h.HandleDownload)
}

// HandleDownload serves an export artifact to the bearer of a valid
// download token. The token is the only credential; no session is
// required so that emailed links work for signed-out subjects.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	token := r.URL.Query().Get("token")
	if token == "" {
		api.Fail(w, http.StatusBadRequest, "missing_token", "token query parameter is required", requestID)
		return
	}

	artifact, err := h.Pipeline.ResolveDownloadToken(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrTokenExpired):
			api.Fail(w, http.StatusGone, "token_expired", "the download link has expired", requestID)
		case errors.Is(err, export.ErrTokenInvalid):
			api.Fail(w, http.StatusForbidden, "token_invalid", "the download link is not valid", requestID)
		case errors.Is(err, export.ErrArtifactUnavailable):
			api.Fail(w, http.StatusGone, "artifact_unavailable", "the export is no longer available", requestID)
		default:
			api.Fail(w, http.StatusInternalServerError, "download_failed", "could not resolve the download", requestID)
		}
		return
	}

	content, err := h.Pipeline.Open(artifact)
	if err != nil {
		if errors.Is(err, export.ErrArtifactUnavailable) {
			api.Fail(w, http.StatusGone, "artifact_unavailable", "the export is no longer available", requestID)
			return
		}
		api.Fail(w, http.StatusInternalServerError, "download_failed", "could not read the export", requestID)
		return
	}

	w.Header().Set("Content-Type", contentType(artifact.Format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(artifact)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func contentType(format export.Format) string {
	switch format {
	case export.FormatXML:
		return "application/xml"
	case export.FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

// downloadName strips the storage-side .enc suffix; the body served
// to the client is already decrypted.
func downloadName(artifact *export.Artifact) string {
	name := artifact.FileName
	if artifact.Encrypted && len(name) > 4 && name[len(name)-4:] == ".enc" {
		name = name[:len(name)-4]
	}
	return name
}
