package recognition

import (
	"fmt"
	"math"

	"github.com/kozaktomas/class-attendance/internal/constants"
	"go.uber.org/zap"
)

// Matcher finds the closest enrolled candidate for a probe embedding.
type Matcher interface {
	// Match returns the candidate with the minimum distance if that distance is
	// below the matcher's threshold, otherwise an unknown result.
	Match(probe []float32, candidates []Candidate) MatchResult
}

// Factory builds a Matcher for a given distance threshold. Thresholds may
// differ per section, so the service asks for a matcher per capture.
type Factory func(threshold float64) Matcher

// Matcher strategies.
const (
	StrategyLinear = "linear"
	StrategyHNSW   = "hnsw"
)

// NewFactory returns a Factory for the named strategy.
func NewFactory(strategy string, logger *zap.Logger) (Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strategy {
	case StrategyLinear, "":
		return func(threshold float64) Matcher {
			return NewLinearMatcher(threshold, logger)
		}, nil
	case StrategyHNSW:
		index := NewHNSWIndex()
		return func(threshold float64) Matcher {
			return NewHNSWMatcher(threshold, index, logger)
		}, nil
	}
	return nil, fmt.Errorf("unknown matcher strategy %q", strategy)
}

// LinearMatcher scans every candidate. O(candidates) per probe, which is fine
// for a classroom section.
type LinearMatcher struct {
	threshold float64
	logger    *zap.Logger
}

// NewLinearMatcher creates a flat-scan matcher. A non-positive threshold
// selects constants.DefaultMatchThreshold.
func NewLinearMatcher(threshold float64, logger *zap.Logger) *LinearMatcher {
	if threshold <= 0 {
		threshold = constants.DefaultMatchThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinearMatcher{threshold: threshold, logger: logger}
}

// Threshold returns the distance threshold in use.
func (m *LinearMatcher) Threshold() float64 {
	return m.threshold
}

// Match implements Matcher. When two candidates are exactly equidistant the one
// seen first in iteration order wins.
func (m *LinearMatcher) Match(probe []float32, candidates []Candidate) MatchResult {
	if len(probe) != constants.EmbeddingDim {
		m.logger.Warn("probe embedding has wrong length", zap.Int("length", len(probe)))
		return MatchResult{Distance: math.Inf(1)}
	}

	best := -1
	bestDist := math.Inf(1)
	for i := range candidates {
		c := &candidates[i]
		if len(c.Embedding) != constants.EmbeddingDim {
			m.logger.Warn("skipping candidate with malformed embedding",
				zap.Int64("identity_id", c.IdentityID),
				zap.String("uid", c.ExternalUID),
				zap.Int("length", len(c.Embedding)))
			continue
		}
		if d := EuclideanDistance(probe, c.Embedding); d < bestDist {
			best = i
			bestDist = d
		}
	}

	return decide(candidates, best, bestDist, m.threshold)
}

// decide applies the threshold rule shared by every strategy.
func decide(candidates []Candidate, best int, bestDist, threshold float64) MatchResult {
	if best < 0 || bestDist >= threshold {
		return MatchResult{Distance: bestDist}
	}
	return MatchResult{Candidate: &candidates[best], Distance: bestDist}
}
