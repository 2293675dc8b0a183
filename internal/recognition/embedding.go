package recognition

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kozaktomas/class-attendance/internal/constants"
)

// ErrEmbeddingParse is returned when a stored embedding cannot be turned into a
// fixed-length vector.
var ErrEmbeddingParse = errors.New("malformed embedding")

// ValidateEmbedding checks the vector has exactly constants.EmbeddingDim finite values.
func ValidateEmbedding(v []float32) error {
	if len(v) != constants.EmbeddingDim {
		return fmt.Errorf("%w: expected %d values, got %d", ErrEmbeddingParse, constants.EmbeddingDim, len(v))
	}
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrEmbeddingParse, i)
		}
	}
	return nil
}

// ParseEmbedding decodes an embedding stored as a JSON array of numbers.
func ParseEmbedding(raw string) ([]float32, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrEmbeddingParse)
	}

	var values []float64
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingParse, err)
	}

	v := make([]float32, len(values))
	for i, f := range values {
		v[i] = float32(f)
	}
	if err := ValidateEmbedding(v); err != nil {
		return nil, err
	}
	return v, nil
}

// FormatEmbedding encodes an embedding as a JSON array for storage.
func FormatEmbedding(v []float32) (string, error) {
	if err := ValidateEmbedding(v); err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal embedding: %w", err)
	}
	return string(b), nil
}
