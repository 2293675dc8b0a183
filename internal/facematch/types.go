// Package facematch provides box geometry and name normalization shared by
// the server-side reconciler and the live tracking loop.
package facematch

// Box is a face bounding box in pixel coordinates with the origin at the
// top-left corner of the image.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}
