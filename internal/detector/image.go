package detector

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrNotAnImage is returned when uploaded bytes are not a decodable image.
var ErrNotAnImage = errors.New("not a supported image")

// ImageInfo describes an uploaded image without decoding its pixels.
type ImageInfo struct {
	Format string
	Width  int
	Height int
}

// SniffImage reads only the image header so bad uploads are rejected before
// they reach the detector.
func SniffImage(data []byte) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, fmt.Errorf("%w: empty upload", ErrNotAnImage)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageInfo{}, fmt.Errorf("%w: zero-sized image", ErrNotAnImage)
	}
	return ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
