// Package live runs attendance from a camera feed on the client side: frames
// are pulled from a FrameSource, faces are matched locally against candidates
// exported by the server, and recognized identities are written back in
// coalesced batches.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/class-attendance/internal/attendance"
	"github.com/kozaktomas/class-attendance/internal/constants"
	"github.com/kozaktomas/class-attendance/internal/detector"
	"github.com/kozaktomas/class-attendance/internal/facematch"
	"github.com/kozaktomas/class-attendance/internal/recognition"
	"go.uber.org/zap"
)

// ErrInvalidState is returned when a lifecycle call does not apply to the
// session's current state.
var ErrInvalidState = errors.New("invalid session state")

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateActive
	StatePaused
	StateReloading
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateReloading:
		return "reloading"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EventType identifies a session event.
type EventType string

const (
	EventRecognized EventType = "recognized"
	EventUnknown    EventType = "unknown"
	EventMarked     EventType = "marked"
	EventError      EventType = "error"
)

// Event is published on the session's event channel.
type Event struct {
	Type   EventType
	Time   time.Time
	Face   TrackedFace               // recognized and unknown events
	Result *attendance.PresentResult // marked events
	Err    error                     // error events
}

// SessionConfig describes what a session records and how often it works.
type SessionConfig struct {
	Section         string
	Subject         string
	Slot            string
	// Date is sent with every write. Empty lets the server pick the current date.
	Date            string
	Threshold       float64
	FrameInterval   time.Duration
	SweepInterval   time.Duration
	RefreshInterval time.Duration
	WriteDebounce   time.Duration
	Tracking        TrackingOptions
}

// SessionDeps are the collaborators of a Session.
type SessionDeps struct {
	Source   FrameSource
	Detector detector.Detector
	Loader   EmbeddingLoader
	Sink     AttendanceSink
	Factory  recognition.Factory
	Clock    Clock
	Logger   *zap.Logger
}

// Session drives one live attendance run for a section.
type Session struct {
	cfg      SessionConfig
	source   FrameSource
	detector detector.Detector
	loader   EmbeddingLoader
	sink     AttendanceSink
	factory  recognition.Factory
	clock    Clock
	logger   *zap.Logger

	tracker   *TrackingCache
	coalescer *Coalescer
	frames    *Scheduler
	sweeper   *Scheduler
	refresher *Scheduler
	events    chan Event

	// lifecycle serializes Start, Pause, Resume, Reload and Close.
	lifecycle sync.Mutex
	runCtx    context.Context

	mu         sync.RWMutex
	state      State
	candidates []recognition.Candidate
	matcher    recognition.Matcher
}

// NewSession validates the configuration and creates an idle session.
func NewSession(cfg SessionConfig, deps SessionDeps) (*Session, error) {
	cfg.Section = facematch.NormalizeGroupTag(cfg.Section)
	if cfg.Section == "" {
		return nil, errors.New("section is required")
	}
	if deps.Source == nil || deps.Detector == nil || deps.Loader == nil || deps.Sink == nil {
		return nil, errors.New("source, detector, loader and sink are required")
	}
	if cfg.Subject == "" {
		cfg.Subject = constants.DefaultSubject
	}
	if cfg.Slot == "" {
		cfg.Slot = constants.DefaultSlot
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = constants.DefaultMatchThreshold
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 100 * time.Millisecond
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.WriteDebounce <= 0 {
		cfg.WriteDebounce = 500 * time.Millisecond
	}
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Factory == nil {
		logger := deps.Logger
		deps.Factory = func(threshold float64) recognition.Matcher {
			return recognition.NewLinearMatcher(threshold, logger)
		}
	}

	s := &Session{
		cfg:      cfg,
		source:   deps.Source,
		detector: deps.Detector,
		loader:   deps.Loader,
		sink:     deps.Sink,
		factory:  deps.Factory,
		clock:    deps.Clock,
		logger:   deps.Logger.With(zap.String("section", cfg.Section)),
		tracker:  NewTrackingCache(cfg.Tracking),
		events:   make(chan Event, constants.EventChannelBuffer),
		state:    StateIdle,
	}
	s.coalescer = NewCoalescer(s.clock, cfg.WriteDebounce, s.flush, s.logger)
	s.frames = NewScheduler(s.clock, cfg.FrameInterval, s.processFrame)
	s.sweeper = NewScheduler(s.clock, cfg.SweepInterval, s.sweep)
	s.refresher = NewScheduler(s.clock, cfg.RefreshInterval, s.refresh)
	return s, nil
}

// Events returns the event channel. It is closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CandidateCount returns the size of the loaded candidate set.
func (s *Session) CandidateCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candidates)
}

// Tracked returns the faces currently on screen.
func (s *Session) Tracked() []TrackedFace {
	return s.tracker.Active(s.clock.Now())
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	s.logger.Debug("session state changed", zap.Stringer("from", prev), zap.Stringer("to", state))
}

func (s *Session) expect(op string, allowed ...State) error {
	cur := s.State()
	for _, st := range allowed {
		if cur == st {
			return nil
		}
	}
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidState, op, cur)
}

// Start loads candidates and begins detection. ctx bounds the whole run.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if err := s.expect("start", StateIdle); err != nil {
		return err
	}

	s.setState(StateInitializing)
	if err := s.load(ctx); err != nil {
		s.setState(StateIdle)
		return err
	}

	s.runCtx = ctx
	if err := s.sweeper.StartDelayed(ctx); err != nil {
		return err
	}
	if err := s.refresher.StartDelayed(ctx); err != nil {
		return err
	}
	if err := s.frames.Start(ctx); err != nil {
		return err
	}
	s.setState(StateActive)
	s.logger.Info("live session started",
		zap.Int("candidates", s.CandidateCount()),
		zap.Duration("frame_interval", s.cfg.FrameInterval))
	return nil
}

// Pause stops detection and forgets tracked faces, cool-downs and queued
// writes. It returns after the in-progress frame has finished.
func (s *Session) Pause() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if err := s.expect("pause", StateActive); err != nil {
		return err
	}
	s.halt()
	s.setState(StatePaused)
	s.logger.Info("live session paused")
	return nil
}

// Resume restarts detection after Pause.
func (s *Session) Resume() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if err := s.expect("resume", StatePaused); err != nil {
		return err
	}
	if err := s.frames.Start(s.runCtx); err != nil {
		return err
	}
	s.setState(StateActive)
	s.logger.Info("live session resumed")
	return nil
}

// Reload clears all tracking state and fetches the candidate set again. On
// failure the previous candidates are kept and the session is left paused.
func (s *Session) Reload(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if err := s.expect("reload", StateActive, StatePaused); err != nil {
		return err
	}

	s.setState(StateReloading)
	s.halt()

	s.setState(StateInitializing)
	if err := s.load(ctx); err != nil {
		s.setState(StatePaused)
		return err
	}
	if err := s.frames.Start(s.runCtx); err != nil {
		return err
	}
	s.setState(StateActive)
	s.logger.Info("live session reloaded", zap.Int("candidates", s.CandidateCount()))
	return nil
}

// Close stops every loop, drops queued writes and closes the event channel.
func (s *Session) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.State() == StateClosed {
		return nil
	}
	s.frames.Stop()
	s.sweeper.Stop()
	s.refresher.Stop()
	s.coalescer.Stop()
	s.setState(StateClosed)
	close(s.events)
	s.logger.Info("live session closed")
	return nil
}

// halt stops the frame loop and clears state that must not survive a pause.
func (s *Session) halt() {
	s.frames.Stop()
	s.coalescer.Discard()
	s.tracker.Reset()
}

func (s *Session) load(ctx context.Context) error {
	candidates, err := s.loader.LoadCandidates(ctx, s.cfg.Section)
	if err != nil {
		return err
	}
	matcher := s.factory(s.cfg.Threshold)

	s.mu.Lock()
	s.candidates = candidates
	s.matcher = matcher
	s.mu.Unlock()

	s.logger.Debug("candidates loaded", zap.Int("count", len(candidates)))
	return nil
}

func (s *Session) match(embedding []float32) recognition.MatchResult {
	s.mu.RLock()
	matcher, candidates := s.matcher, s.candidates
	s.mu.RUnlock()
	return matcher.Match(embedding, candidates)
}

func (s *Session) processFrame(ctx context.Context) {
	frame, err := s.source.Next(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoFrame) && ctx.Err() == nil {
			s.emit(Event{Type: EventError, Time: s.clock.Now(), Err: fmt.Errorf("frame source: %w", err)})
		}
		return
	}

	detections, err := s.detector.Detect(ctx, frame)
	if err != nil {
		if ctx.Err() == nil {
			s.emit(Event{Type: EventError, Time: s.clock.Now(), Err: fmt.Errorf("detection failed: %w", err)})
		}
		return
	}

	now := s.clock.Now()
	s.tracker.Expire(now)
	for _, det := range detections {
		obs := s.tracker.Observe(now, det, s.match)
		switch {
		case obs.Mark:
			s.coalescer.Add(obs.Face.ExternalUID)
			s.emit(Event{Type: EventRecognized, Time: now, Face: obs.Face})
		case obs.NewUnknown:
			s.emit(Event{Type: EventUnknown, Time: now, Face: obs.Face})
		}
	}
}

func (s *Session) sweep(ctx context.Context) {
	now := s.clock.Now()
	expired := s.tracker.Expire(now)
	cooled := s.tracker.Sweep(now)
	if expired > 0 || cooled > 0 {
		s.logger.Debug("tracking sweep", zap.Int("expired", expired), zap.Int("cooldowns_cleared", cooled))
	}
}

func (s *Session) refresh(ctx context.Context) {
	if err := s.load(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("candidate refresh failed, keeping previous set", zap.Error(err))
		s.emit(Event{Type: EventError, Time: s.clock.Now(), Err: fmt.Errorf("candidate refresh: %w", err)})
	}
}

func (s *Session) flush(ctx context.Context, uids []string) {
	result, err := s.sink.MarkPresent(ctx, attendance.PresentRequest{
		ExternalUIDs: uids,
		Date:         s.cfg.Date,
		Subject:      s.cfg.Subject,
		Slot:         s.cfg.Slot,
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to mark present", zap.Strings("uids", uids), zap.Error(err))
			s.emit(Event{Type: EventError, Time: s.clock.Now(), Err: err})
		}
		return
	}
	s.emit(Event{Type: EventMarked, Time: s.clock.Now(), Result: result})
}

// emit never blocks the detection loop; a full channel drops the event.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event channel full, dropping event", zap.String("type", string(ev.Type)))
	}
}
