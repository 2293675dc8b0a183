// Package recognition matches face embeddings against an enrolled candidate set.
//
// The Matcher contract is deliberately narrow so the flat scan used for a single
// classroom section can be swapped for an indexed search without touching the
// reconciler.
package recognition

import "github.com/kozaktomas/class-attendance/internal/facematch"

// Candidate is an enrolled identity eligible for matching.
type Candidate struct {
	IdentityID  int64     `json:"identityId"`
	ExternalUID string    `json:"externalUid"`
	Name        string    `json:"name"`
	GroupTag    string    `json:"groupTag,omitempty"`
	Embedding   []float32 `json:"embedding"`
}

// Detection is a single face produced by the detector for one capture.
type Detection struct {
	Box        facematch.Box
	Embedding  []float32
	Confidence float64
}

// MatchResult is the outcome of matching one probe. Candidate is nil when the
// probe is unknown.
type MatchResult struct {
	Candidate *Candidate
	Distance  float64
}

// Matched reports whether the probe matched an enrolled candidate.
func (r MatchResult) Matched() bool {
	return r.Candidate != nil
}
