package facematch

import (
	"fmt"
	"math"
)

// BoxFromCorners converts a detector bbox [x1, y1, x2, y2] to a Box.
// Returns false if the slice is not exactly four values or the box is degenerate.
func BoxFromCorners(bbox []float64) (Box, bool) {
	if len(bbox) != 4 {
		return Box{}, false
	}
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	if w <= 0 || h <= 0 {
		return Box{}, false
	}
	return Box{X: bbox[0], Y: bbox[1], W: w, H: h}, true
}

// Center returns the center point of the box.
func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns the box area in square pixels.
func (b Box) Area() float64 {
	return b.W * b.H
}

// CellKey quantizes a point onto a square grid of the given cell size.
// Points in the same cell share a key. A non-positive cell size falls back to 1px.
func CellKey(x, y, cell float64) string {
	if cell <= 0 {
		cell = 1
	}
	return fmt.Sprintf("%d_%d", int64(math.Floor(x/cell)), int64(math.Floor(y/cell)))
}

// CenterKey is the grid key of the box center.
func (b Box) CenterKey(cell float64) string {
	cx, cy := b.Center()
	return CellKey(cx, cy, cell)
}

// OriginKey is the grid key of the box's top-left corner.
func (b Box) OriginKey(cell float64) string {
	return CellKey(b.X, b.Y, cell)
}
