// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Embedding constants
const (
	// EmbeddingDim is the fixed length of a face descriptor produced by the detector
	EmbeddingDim = 128
)

// Face matching constants
const (
	// DefaultMatchThreshold is the Euclidean distance below which a probe matches a candidate.
	// A match requires distance strictly less than this value.
	DefaultMatchThreshold = 0.45

	// HNSWMaxNeighbors is the M parameter of the HNSW graph used by the indexed matcher
	HNSWMaxNeighbors = 16

	// HNSWSearchK is how many approximate neighbors the indexed matcher re-ranks exactly
	HNSWSearchK = 8
)

// Capture reconciliation constants
const (
	// UnknownGridSize is the cell size in pixels used to collapse unknown faces within one request
	UnknownGridSize = 50

	// DefaultSubject and DefaultSlot are used when a streaming request omits them
	DefaultSubject = "Default"
	DefaultSlot    = "Default"

	// DateLayout is the layout of attendance dates
	DateLayout = "2006-01-02"
)

// Attendance statuses
const (
	StatusPresent = "PRESENT"
	StatusAbsent  = "ABSENT"
)
