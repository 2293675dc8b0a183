package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/kozaktomas/class-attendance/internal/attendance"
	"github.com/kozaktomas/class-attendance/internal/config"
	"github.com/kozaktomas/class-attendance/internal/database"
	"github.com/kozaktomas/class-attendance/internal/database/mock"
	"github.com/kozaktomas/class-attendance/internal/facematch"
	"github.com/kozaktomas/class-attendance/internal/recognition"
	"go.uber.org/zap"
)

const testSection = "CSE-3A"

// fakeDetector returns canned detections.
type fakeDetector struct {
	detections []recognition.Detection
	err        error
	healthErr  error
}

func (f *fakeDetector) Detect(ctx context.Context, image []byte) ([]recognition.Detection, error) {
	return f.detections, f.err
}

func (f *fakeDetector) Health(ctx context.Context) error {
	return f.healthErr
}

// testEnv bundles a service backed by mock stores.
type testEnv struct {
	identities *mock.MockIdentityStore
	attendance *mock.MockAttendanceStore
	unknown    *mock.MockUnknownFaceStore
	detector   *fakeDetector
	service    *attendance.Service
	uploadDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		identities: mock.NewMockIdentityStore(),
		attendance: mock.NewMockAttendanceStore(),
		unknown:    mock.NewMockUnknownFaceStore(),
		detector:   &fakeDetector{},
		uploadDir:  t.TempDir(),
	}
	svc, err := attendance.NewService(attendance.Deps{
		Identities: env.identities,
		Attendance: env.attendance,
		UnknownLog: env.unknown,
		Detector:   env.detector,
		Match:      config.MatchConfig{Threshold: 0.45},
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	env.service = svc
	return env
}

// axis returns a 128-dim vector with val at dim.
func axis(dim int, val float32) []float32 {
	v := make([]float32, 128)
	v[dim] = val
	return v
}

func (env *testEnv) enroll(t *testing.T, uid string, embedding []float32) int64 {
	t.Helper()
	raw, err := recognition.FormatEmbedding(embedding)
	if err != nil {
		t.Fatalf("failed to format embedding: %v", err)
	}
	return env.identities.AddIdentity(database.Identity{
		ExternalUID:  uid,
		DisplayName:  "Student " + uid,
		GroupTag:     testSection,
		RawEmbedding: raw,
		Enrolled:     true,
	})
}

func face(embedding []float32, x, y float64) recognition.Detection {
	return recognition.Detection{
		Box:        facematch.Box{X: x, Y: y, W: 40, H: 40},
		Embedding:  embedding,
		Confidence: 0.9,
	}
}

// testPNG returns a small valid PNG image.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// multipartRequest builds a multipart POST with form fields and an optional image.
func multipartRequest(t *testing.T, path string, fields map[string]string, imageData []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if imageData != nil {
		part, err := writer.CreateFormFile("image", "frame.png")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write(imageData)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, payload any) *http.Request {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// assertDirEmpty fails if temp uploads were left behind.
func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected upload dir to be empty, found %d entries", len(entries))
	}
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
