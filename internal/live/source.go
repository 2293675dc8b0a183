package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/kozaktomas/class-attendance/internal/constants"
	"github.com/kozaktomas/class-attendance/internal/detector"
)

// ErrNoFrame means the source had nothing to offer this pass. The session
// skips the pass without reporting an error.
var ErrNoFrame = errors.New("no frame available")

// FrameSource yields the latest camera frame as encoded image bytes.
type FrameSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// FileSource re-reads a snapshot file that a capture tool keeps overwriting.
type FileSource struct {
	path    string
	lastMod time.Time
	skipDup bool
}

// NewFileSource reads path on every pass. With skipUnchanged set, a pass
// where the file's modification time has not moved returns ErrNoFrame.
func NewFileSource(path string, skipUnchanged bool) *FileSource {
	return &FileSource{path: path, skipDup: skipUnchanged}
}

func (s *FileSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoFrame
		}
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	if s.skipDup && !s.lastMod.IsZero() && info.ModTime().Equal(s.lastMod) {
		return nil, ErrNoFrame
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	// A writer may have truncated the file mid-pass.
	if len(data) == 0 {
		return nil, ErrNoFrame
	}
	if _, err := detector.SniffImage(data); err != nil {
		return nil, err
	}
	s.lastMod = info.ModTime()
	return data, nil
}

// HTTPSource fetches a still frame from a camera snapshot URL.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a source for a snapshot endpoint such as an IP
// camera's /snapshot.jpg.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Next(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoFrame
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("snapshot status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxFrameSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) > constants.MaxFrameSize {
		return nil, fmt.Errorf("snapshot exceeds %d bytes", constants.MaxFrameSize)
	}
	if _, err := detector.SniffImage(data); err != nil {
		return nil, err
	}
	return data, nil
}
