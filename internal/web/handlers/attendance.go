package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kozaktomas/class-attendance/internal/attendance"
	"github.com/kozaktomas/class-attendance/internal/database"
	"go.uber.org/zap"
)

// AttendanceHandler serves manual overrides and ledger listing.
type AttendanceHandler struct {
	service *attendance.Service
	logger  *zap.Logger
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(svc *attendance.Service, logger *zap.Logger) *AttendanceHandler {
	return &AttendanceHandler{service: svc, logger: logger}
}

// Override applies a manual PRESENT or ABSENT correction.
func (h *AttendanceHandler) Override(w http.ResponseWriter, r *http.Request) {
	var req attendance.OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	result, err := h.service.Override(r.Context(), req)
	if err != nil {
		respondServiceError(w, h.logger, "override", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Present marks a batch of identities present. Used by the live client.
func (h *AttendanceHandler) Present(w http.ResponseWriter, r *http.Request) {
	var req attendance.PresentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	result, err := h.service.MarkPresent(r.Context(), req)
	if err != nil {
		respondServiceError(w, h.logger, "mark present", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// attendanceRow is the JSON form of a ledger row.
type attendanceRow struct {
	UID        string `json:"uid"`
	Name       string `json:"name"`
	Section    string `json:"section"`
	Date       string `json:"date"`
	Subject    string `json:"subject"`
	Slot       string `json:"slot"`
	Status     string `json:"status"`
	CapturedAt string `json:"capturedAt"`
}

// List returns raw ledger rows filtered by section, date and slot.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.service.Attendance(r.Context(), database.AttendanceFilter{
		GroupTag: q.Get("section"),
		Date:     q.Get("date"),
		Slot:     q.Get("slot"),
	})
	if err != nil {
		respondServiceError(w, h.logger, "list attendance", err)
		return
	}

	out := make([]attendanceRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, attendanceRow{
			UID:        row.ExternalUID,
			Name:       row.Name,
			Section:    row.GroupTag,
			Date:       row.Date,
			Subject:    row.Subject,
			Slot:       row.Slot,
			Status:     row.Status,
			CapturedAt: row.CapturedAt.UTC().Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":   len(out),
		"records": out,
	})
}
