package live

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kozaktomas/class-attendance/internal/attendance"
	"github.com/kozaktomas/class-attendance/internal/recognition"
	"go.uber.org/zap"
)

// EmbeddingLoader supplies the candidate set for a section.
type EmbeddingLoader interface {
	LoadCandidates(ctx context.Context, section string) ([]recognition.Candidate, error)
}

// AttendanceSink records identities as present.
type AttendanceSink interface {
	MarkPresent(ctx context.Context, req attendance.PresentRequest) (*attendance.PresentResult, error)
}

// RemoteClient talks to the attendance server's HTTP API.
type RemoteClient struct {
	baseURL    string
	client     *http.Client
	logger     *zap.Logger
	maxRetries uint64
	backoff    func() backoff.BackOff
}

// NewRemoteClient creates a client for the server at baseURL.
func NewRemoteClient(baseURL string, timeout time.Duration, logger *zap.Logger) *RemoteClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: 3,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

type exportResponse struct {
	Count      int                     `json:"count"`
	Identities []recognition.Candidate `json:"identities"`
}

type apiError struct {
	Error string `json:"error"`
}

// statusError is a non-2xx reply from the server.
type statusError struct {
	Code    int
	Message string
}

func (e *statusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// LoadCandidates fetches the exported embeddings for a section.
func (c *RemoteClient) LoadCandidates(ctx context.Context, section string) ([]recognition.Candidate, error) {
	endpoint := "/api/v1/identities/export"
	if section != "" {
		endpoint += "?section=" + url.QueryEscape(section)
	}

	var out exportResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	// Guards against a server built for a different embedding size.
	candidates := out.Identities[:0]
	for _, cand := range out.Identities {
		if err := recognition.ValidateEmbedding(cand.Embedding); err != nil {
			c.logger.Warn("skipping exported identity with invalid embedding",
				zap.String("uid", cand.ExternalUID), zap.Error(err))
			continue
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// MarkPresent posts a bulk PRESENT write.
func (c *RemoteClient) MarkPresent(ctx context.Context, req attendance.PresentRequest) (*attendance.PresentResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var out attendance.PresentResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/attendance/present", body, &out); err != nil {
		return nil, fmt.Errorf("failed to mark present: %w", err)
	}
	return &out, nil
}

// do sends a request, retrying transport failures and 5xx replies with
// exponential backoff. 4xx replies are returned immediately.
func (c *RemoteClient) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	attempt := 0
	op := func() error {
		attempt++
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Debug("request failed, retrying", zap.String("endpoint", endpoint), zap.Int("attempt", attempt), zap.Error(err))
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			serr := &statusError{Code: resp.StatusCode}
			var ae apiError
			if json.Unmarshal(data, &ae) == nil {
				serr.Message = ae.Error
			}
			if retryable(resp.StatusCode) {
				c.logger.Debug("server error, retrying", zap.String("endpoint", endpoint), zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
				return serr
			}
			return backoff.Permanent(serr)
		}

		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.backoff(), c.maxRetries), ctx)
	return backoff.Retry(op, b)
}
