// Package detector talks to the external face detection and embedding service.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/class-attendance/internal/constants"
	"github.com/kozaktomas/class-attendance/internal/facematch"
	"github.com/kozaktomas/class-attendance/internal/recognition"
	"go.uber.org/zap"
)

const defaultDetectorURL = "http://localhost:8000"

// ErrUnavailable means the detector could not be reached or is not ready.
// Recognition requests fail fast on it; other endpoints keep working.
var ErrUnavailable = errors.New("AI engine unavailable")

// Detector turns an image into face detections.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]recognition.Detection, error)
}

// Client computes face detections using the detector server
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a new detector client
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultDetectorURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// BaseURL returns the detector server URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// faceDetection represents a single detected face in the server response
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// unavailable wraps transport failures and gateway statuses as ErrUnavailable.
func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

func isUnavailableStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

// postMultipartImage posts the image as a multipart "file" part with a sniffed Content-Type.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if isUnavailableStatus(resp.StatusCode) {
		return nil, unavailable("status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Detect detects faces and computes their embeddings. Faces with an invalid box
// or an embedding of the wrong length are dropped and logged.
func (c *Client) Detect(ctx context.Context, imageData []byte) ([]recognition.Detection, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	detections := make([]recognition.Detection, 0, len(faceResp.Faces))
	for _, f := range faceResp.Faces {
		box, ok := facematch.BoxFromCorners(f.BBox)
		if !ok {
			c.logger.Warn("dropping face with invalid bbox", zap.Int("face_index", f.FaceIndex), zap.Float64s("bbox", f.BBox))
			continue
		}
		if len(f.Embedding) != constants.EmbeddingDim {
			c.logger.Warn("dropping face with unexpected embedding size",
				zap.Int("face_index", f.FaceIndex), zap.Int("dim", len(f.Embedding)))
			continue
		}
		detections = append(detections, recognition.Detection{
			Box:        box,
			Embedding:  f.Embedding,
			Confidence: f.DetScore,
		})
	}
	return detections, nil
}

// Health checks whether the detector server is up and its model is loaded.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return unavailable("health check failed: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return unavailable("health status %d", resp.StatusCode)
	}
	return nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// WebP: RIFF....WEBP
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}
	// BMP: BM
	if data[0] == 'B' && data[1] == 'M' {
		return "image/bmp"
	}
	return "application/octet-stream"
}
