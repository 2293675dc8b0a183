package live

import (
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/class-attendance/internal/config"
	"github.com/kozaktomas/class-attendance/internal/facematch"
	"github.com/kozaktomas/class-attendance/internal/recognition"
)

// TrackStatus says whether a tracked face resolved to an enrolled identity.
type TrackStatus string

const (
	TrackRecognized TrackStatus = "recognized"
	TrackUnknown    TrackStatus = "unknown"
)

// TrackedFace is a face seen recently at one spatial position.
type TrackedFace struct {
	SpatialKey  string
	IdentityID  int64
	ExternalUID string
	Name        string
	Box         facematch.Box
	Distance    float64
	FirstSeen   time.Time
	LastSeen    time.Time
	FrameCount  int
	Status      TrackStatus
}

// Observation is what the cache decided about one detection.
type Observation struct {
	Face       TrackedFace
	// Reused is set when the detection refreshed a recent entry without matching.
	Reused     bool
	// Mark is set when a recognized identity is outside its cool-down and
	// should be written.
	Mark       bool
	// NewUnknown is set when an unknown face at this position is outside its
	// cool-down.
	NewUnknown bool
}

// TrackingOptions are the windows of the tracking cache.
type TrackingOptions struct {
	GridSize         float64
	ReuseWindow      time.Duration
	ExpireAfter      time.Duration
	IdentityCooldown time.Duration
	UnknownCooldown  time.Duration
}

// OptionsFromConfig copies the tracking windows out of the live config.
func OptionsFromConfig(cfg config.LiveConfig) TrackingOptions {
	return TrackingOptions{
		GridSize:         cfg.GridSize,
		ReuseWindow:      cfg.ReuseWindow,
		ExpireAfter:      cfg.ExpireAfter,
		IdentityCooldown: cfg.IdentityCooldown,
		UnknownCooldown:  cfg.UnknownCooldown,
	}
}

// DefaultTrackingOptions match the shipped defaults.yaml.
func DefaultTrackingOptions() TrackingOptions {
	return TrackingOptions{
		GridSize:         20,
		ReuseWindow:      time.Second,
		ExpireAfter:      2 * time.Second,
		IdentityCooldown: 30 * time.Second,
		UnknownCooldown:  30 * time.Second,
	}
}

// MatchFunc resolves an embedding against the current candidate set.
type MatchFunc func(embedding []float32) recognition.MatchResult

// TrackingCache remembers faces by position across frames so a face that stays
// put is matched once per reuse window, and remembers when each identity and
// unknown position was last reported. It is safe for concurrent use.
type TrackingCache struct {
	opts TrackingOptions

	mu          sync.Mutex
	faces       map[string]*TrackedFace
	lastMarked  map[string]time.Time // by external uid
	lastUnknown map[string]time.Time // by spatial key
}

// NewTrackingCache creates an empty cache. Zero option fields take the defaults.
func NewTrackingCache(opts TrackingOptions) *TrackingCache {
	def := DefaultTrackingOptions()
	if opts.GridSize <= 0 {
		opts.GridSize = def.GridSize
	}
	if opts.ReuseWindow <= 0 {
		opts.ReuseWindow = def.ReuseWindow
	}
	if opts.ExpireAfter <= 0 {
		opts.ExpireAfter = def.ExpireAfter
	}
	if opts.IdentityCooldown <= 0 {
		opts.IdentityCooldown = def.IdentityCooldown
	}
	if opts.UnknownCooldown <= 0 {
		opts.UnknownCooldown = def.UnknownCooldown
	}
	return &TrackingCache{
		opts:        opts,
		faces:       make(map[string]*TrackedFace),
		lastMarked:  make(map[string]time.Time),
		lastUnknown: make(map[string]time.Time),
	}
}

// Observe folds one detection into the cache. match is only called when no
// entry at the detection's position was refreshed within the reuse window.
func (c *TrackingCache) Observe(now time.Time, det recognition.Detection, match MatchFunc) Observation {
	key := det.Box.OriginKey(c.opts.GridSize)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.faces[key]; ok && now.Sub(entry.LastSeen) < c.opts.ReuseWindow {
		entry.Box = det.Box
		entry.LastSeen = now
		entry.FrameCount++
		return Observation{Face: *entry, Reused: true}
	}

	entry := &TrackedFace{
		SpatialKey: key,
		Box:        det.Box,
		FirstSeen:  now,
		LastSeen:   now,
		FrameCount: 1,
		Status:     TrackUnknown,
	}
	if prev, ok := c.faces[key]; ok && now.Sub(prev.LastSeen) <= c.opts.ExpireAfter {
		entry.FirstSeen = prev.FirstSeen
		entry.FrameCount = prev.FrameCount + 1
	}

	res := match(det.Embedding)
	entry.Distance = res.Distance
	if res.Matched() {
		entry.Status = TrackRecognized
		entry.IdentityID = res.Candidate.IdentityID
		entry.ExternalUID = res.Candidate.ExternalUID
		entry.Name = res.Candidate.Name
	}
	c.faces[key] = entry

	obs := Observation{Face: *entry}
	if entry.Status == TrackRecognized {
		if last, ok := c.lastMarked[entry.ExternalUID]; !ok || now.Sub(last) > c.opts.IdentityCooldown {
			c.lastMarked[entry.ExternalUID] = now
			obs.Mark = true
		}
		return obs
	}
	if last, ok := c.lastUnknown[key]; !ok || now.Sub(last) > c.opts.UnknownCooldown {
		c.lastUnknown[key] = now
		obs.NewUnknown = true
	}
	return obs
}

// Expire drops entries not seen for longer than the expiry window and returns
// how many were removed.
func (c *TrackingCache) Expire(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.faces {
		if now.Sub(entry.LastSeen) > c.opts.ExpireAfter {
			delete(c.faces, key)
			removed++
		}
	}
	return removed
}

// Active returns the unexpired entries ordered by spatial key.
func (c *TrackingCache) Active(now time.Time) []TrackedFace {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TrackedFace, 0, len(c.faces))
	for _, entry := range c.faces {
		if now.Sub(entry.LastSeen) <= c.opts.ExpireAfter {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpatialKey < out[j].SpatialKey })
	return out
}

// Sweep forgets cool-downs that have run out. It does not touch tracked faces.
func (c *TrackingCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for uid, at := range c.lastMarked {
		if now.Sub(at) > c.opts.IdentityCooldown {
			delete(c.lastMarked, uid)
			removed++
		}
	}
	for key, at := range c.lastUnknown {
		if now.Sub(at) > c.opts.UnknownCooldown {
			delete(c.lastUnknown, key)
			removed++
		}
	}
	return removed
}

// Reset clears tracked faces and both cool-down maps.
func (c *TrackingCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.faces)
	clear(c.lastMarked)
	clear(c.lastUnknown)
}

// Len returns the number of tracked faces, expired or not.
func (c *TrackingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.faces)
}

// Cooldowns returns the number of identity and unknown cool-downs held.
func (c *TrackingCache) Cooldowns() (identities, unknowns int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lastMarked), len(c.lastUnknown)
}
