package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kozaktomas/class-attendance/internal/constants"
	"github.com/kozaktomas/class-attendance/internal/detector"
	"go.uber.org/zap"
)

// imageField is the multipart field carrying the photo or frame.
const imageField = "image"

var (
	errMissingImage = errors.New("image file is required")
	errBadForm      = errors.New("failed to parse multipart form")
)

// uploadStore saves multipart images to uuid-named temp files.
type uploadStore struct {
	dir    string
	logger *zap.Logger
}

func newUploadStore(dir string, logger *zap.Logger) *uploadStore {
	if dir == "" {
		dir = os.TempDir()
	}
	return &uploadStore{dir: dir, logger: logger}
}

// receive parses the multipart form, stores the image in a temp file and
// returns its content. The caller must defer cleanup(path) on every exit path.
func (u *uploadStore) receive(w http.ResponseWriter, r *http.Request) (data []byte, path string, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return nil, "", fmt.Errorf("%w: %v", errBadForm, err)
	}

	file, header, err := r.FormFile(imageField)
	if err != nil {
		return nil, "", errMissingImage
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(filepath.Base(header.Filename)))
	path = filepath.Join(u.dir, "attendance-"+uuid.NewString()+ext)
	out, err := os.Create(path) //nolint:gosec // name is a generated uuid
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		return nil, path, fmt.Errorf("failed to save upload: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, path, fmt.Errorf("failed to save upload: %w", err)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to read upload: %w", err)
	}
	if _, err := detector.SniffImage(data); err != nil {
		return nil, path, err
	}
	return data, path, nil
}

// cleanup removes a temp upload. Failures are logged, never returned.
func (u *uploadStore) cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		u.logger.Warn("failed to remove temp upload", zap.String("path", path), zap.Error(err))
	}
}

// respondUploadError writes the response for a failed receive.
func respondUploadError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, errMissingImage):
		respondError(w, http.StatusBadRequest, errMissingImage.Error())
	case errors.Is(err, errBadForm):
		respondError(w, http.StatusBadRequest, errBadForm.Error())
	case errors.Is(err, detector.ErrNotAnImage):
		respondError(w, http.StatusBadRequest, msgNotAnImage)
	default:
		logger.Error("upload failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, msgInternal)
	}
}
