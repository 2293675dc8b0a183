package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kozaktomas/class-attendance/internal/attendance"
	"github.com/kozaktomas/class-attendance/internal/recognition"
	"go.uber.org/zap"
)

// IdentitiesHandler serves enrollment, embedding export, sections and the
// unknown face log.
type IdentitiesHandler struct {
	service *attendance.Service
	uploads *uploadStore
	logger  *zap.Logger
}

// NewIdentitiesHandler creates a new identities handler.
func NewIdentitiesHandler(svc *attendance.Service, uploadDir string, logger *zap.Logger) *IdentitiesHandler {
	return &IdentitiesHandler{
		service: svc,
		uploads: newUploadStore(uploadDir, logger),
		logger:  logger,
	}
}

// ExportResponse is the payload of the embedding export.
type ExportResponse struct {
	Count      int                     `json:"count"`
	Identities []recognition.Candidate `json:"identities"`
}

// Export returns every enrolled identity with a valid embedding.
func (h *IdentitiesHandler) Export(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Export(r.Context(), r.URL.Query().Get("section"))
	if err != nil {
		respondServiceError(w, h.logger, "export", err)
		return
	}
	respondJSON(w, http.StatusOK, ExportResponse{Count: len(list), Identities: list})
}

// Enroll registers or re-enrolls an identity from a photo.
func (h *IdentitiesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	data, path, err := h.uploads.receive(w, r)
	defer h.uploads.cleanup(path)
	if err != nil {
		respondUploadError(w, h.logger, err)
		return
	}

	ident, err := h.service.Enroll(r.Context(), attendance.EnrollRequest{
		ExternalUID: r.FormValue("uid"),
		Name:        r.FormValue("name"),
		GroupTag:    r.FormValue("section"),
		Image:       data,
	})
	if err != nil {
		respondServiceError(w, h.logger, "enroll", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":      ident.ID,
		"uid":     ident.ExternalUID,
		"name":    ident.DisplayName,
		"section": ident.GroupTag,
	})
}

// Sections lists the distinct group tags.
func (h *IdentitiesHandler) Sections(w http.ResponseWriter, r *http.Request) {
	tags, err := h.service.Sections(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, "list sections", err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"sections": tags})
}

type unknownFaceRow struct {
	ID        int64  `json:"id"`
	Section   string `json:"section"`
	Timestamp string `json:"timestamp"`
}

// UnknownFaces lists today's unknown face log, newest first.
func (h *IdentitiesHandler) UnknownFaces(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	rows, err := h.service.UnknownFacesToday(r.Context(), r.URL.Query().Get("section"), limit)
	if err != nil {
		respondServiceError(w, h.logger, "list unknown faces", err)
		return
	}

	out := make([]unknownFaceRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, unknownFaceRow{
			ID:        row.ID,
			Section:   row.GroupTag,
			Timestamp: row.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":        len(out),
		"unknownFaces": out,
	})
}
