// Package constants provides shared constants used across the codebase.
package constants

// Handler constants
const (
	// DefaultUnknownFaceLimit is the default number of unknown face log rows to return
	DefaultUnknownFaceLimit = 20

	// MaxUnknownFaceLimit caps the unknown face listing
	MaxUnknownFaceLimit = 200
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for live session event channels
	EventChannelBuffer = 100
)

// File upload constants
const (
	// MaxUploadSize is the maximum image upload size in bytes (20MB)
	MaxUploadSize = 20 << 20

	// MaxFrameSize is the maximum size of a single websocket frame (8MB)
	MaxFrameSize = 8 << 20
)
