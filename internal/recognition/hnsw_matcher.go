package recognition

import (
	"math"
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/class-attendance/internal/constants"
	"go.uber.org/zap"
)

// maxCachedGraphs bounds how many candidate sets keep a built graph.
const maxCachedGraphs = 32

type graphEntry struct {
	first *Candidate // keeps the backing array alive so the key cannot be reused
	n     int
	graph *hnsw.Graph[int]
}

// HNSWIndex caches one HNSW graph per candidate slice. Candidate slices handed
// out by the service are immutable, so the address of the first element plus
// the length identifies a set.
type HNSWIndex struct {
	mu     sync.Mutex
	graphs map[*Candidate]*graphEntry
}

// NewHNSWIndex creates an empty graph cache.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{graphs: make(map[*Candidate]*graphEntry)}
}

// Len returns the number of cached graphs.
func (x *HNSWIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.graphs)
}

// graphFor returns the graph for the candidate slice, building it on first use.
// Node keys are candidate indexes so ties can be broken by iteration order.
func (x *HNSWIndex) graphFor(candidates []Candidate, logger *zap.Logger) *hnsw.Graph[int] {
	if len(candidates) == 0 {
		return nil
	}
	key := &candidates[0]

	x.mu.Lock()
	defer x.mu.Unlock()

	if e, ok := x.graphs[key]; ok && e.n == len(candidates) {
		return e.graph
	}

	if len(x.graphs) >= maxCachedGraphs {
		x.graphs = make(map[*Candidate]*graphEntry)
	}

	g := hnsw.NewGraph[int]()
	g.M = constants.HNSWMaxNeighbors
	g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance

	for i := range candidates {
		c := &candidates[i]
		if len(c.Embedding) != constants.EmbeddingDim {
			logger.Warn("skipping candidate with malformed embedding",
				zap.Int64("identity_id", c.IdentityID),
				zap.String("uid", c.ExternalUID),
				zap.Int("length", len(c.Embedding)))
			continue
		}
		g.Add(hnsw.MakeNode(i, c.Embedding))
	}

	x.graphs[key] = &graphEntry{first: key, n: len(candidates), graph: g}
	return g
}

// HNSWMatcher answers Match from an approximate nearest-neighbor graph and
// re-ranks the returned neighbors with the exact distance.
type HNSWMatcher struct {
	threshold float64
	index     *HNSWIndex
	logger    *zap.Logger
}

// NewHNSWMatcher creates an indexed matcher sharing the given graph cache.
func NewHNSWMatcher(threshold float64, index *HNSWIndex, logger *zap.Logger) *HNSWMatcher {
	if threshold <= 0 {
		threshold = constants.DefaultMatchThreshold
	}
	if index == nil {
		index = NewHNSWIndex()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HNSWMatcher{threshold: threshold, index: index, logger: logger}
}

// Match implements Matcher.
func (m *HNSWMatcher) Match(probe []float32, candidates []Candidate) MatchResult {
	if len(probe) != constants.EmbeddingDim {
		m.logger.Warn("probe embedding has wrong length", zap.Int("length", len(probe)))
		return MatchResult{Distance: math.Inf(1)}
	}

	g := m.index.graphFor(candidates, m.logger)
	if g == nil || g.Len() == 0 {
		return MatchResult{Distance: math.Inf(1)}
	}

	best := -1
	bestDist := math.Inf(1)
	for _, n := range g.Search(probe, constants.HNSWSearchK) {
		d := EuclideanDistance(probe, candidates[n.Key].Embedding)
		if d < bestDist || (d == bestDist && n.Key < best) {
			best = n.Key
			bestDist = d
		}
	}

	return decide(candidates, best, bestDist, m.threshold)
}
