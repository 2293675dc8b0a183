package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/class-attendance/internal/attendance"
	"github.com/kozaktomas/class-attendance/internal/detector"
	"go.uber.org/zap"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// Messages returned to clients for well known failures.
const (
	msgDetectionAbsent = "Face not detected in the image."
	msgUnavailable     = "AI engine unavailable"
	msgNotAnImage      = "uploaded file is not a supported image"
	msgInternal        = "internal server error"
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps a service error to an HTTP status and client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, attendance.ErrDetectionAbsent):
		return http.StatusBadRequest, msgDetectionAbsent
	case errors.Is(err, attendance.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, detector.ErrNotAnImage):
		return http.StatusBadRequest, msgNotAnImage
	case errors.Is(err, attendance.ErrIdentityNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, detector.ErrUnavailable):
		return http.StatusServiceUnavailable, msgUnavailable
	}
	return http.StatusInternalServerError, msgInternal
}

// respondServiceError writes the mapped error and logs anything unexpected.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", zap.Error(err))
	}
	respondError(w, status, message)
}
