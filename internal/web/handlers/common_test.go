package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/class-attendance/internal/attendance"
	"github.com/kozaktomas/class-attendance/internal/detector"
)

func TestRespondJSON_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusOK, map[string]string{"status": "ok"})
	assertContentType(t, recorder, "application/json")
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusCreated, nil)

	assertStatusCode(t, recorder, http.StatusCreated)
	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondJSON_EncodesData(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusOK, map[string]any{"count": 42, "active": true})

	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["count"] != float64(42) {
		t.Errorf("expected count 42, got %v", result["count"])
	}
	if result["active"] != true {
		t.Errorf("expected active true, got %v", result["active"])
	}
}

func TestRespondError_ContainsErrorKey(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusBadRequest, "something went wrong")

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "something went wrong")
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"detection absent", attendance.ErrDetectionAbsent, http.StatusBadRequest, "Face not detected in the image."},
		{"invalid input", fmt.Errorf("%w: uid is required", attendance.ErrInvalidInput), http.StatusBadRequest, "invalid input: uid is required"},
		{"not an image", detector.ErrNotAnImage, http.StatusBadRequest, msgNotAnImage},
		{"not found", fmt.Errorf("%w: S1", attendance.ErrIdentityNotFound), http.StatusNotFound, "identity not found: S1"},
		{"unavailable", fmt.Errorf("detect: %w", detector.ErrUnavailable), http.StatusServiceUnavailable, "AI engine unavailable"},
		{"persistence", &attendance.PersistenceError{Op: "upsert", Err: errors.New("boom")}, http.StatusInternalServerError, msgInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, message := errorStatus(tc.err)
			if status != tc.status {
				t.Errorf("expected status %d, got %d", tc.status, status)
			}
			if message != tc.message {
				t.Errorf("expected message %q, got %q", tc.message, message)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("CSE\r\n-3A\n"); got != "CSE-3A" {
		t.Errorf("expected 'CSE-3A', got %q", got)
	}
}
