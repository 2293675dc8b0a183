package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/class-attendance/internal/attendance"
	"github.com/kozaktomas/class-attendance/internal/constants"
	"github.com/kozaktomas/class-attendance/internal/facematch"
	"github.com/kozaktomas/class-attendance/internal/recognition"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// axis returns a unit vector along dim with the given value.
func axis(dim int, val float32) []float32 {
	v := make([]float32, constants.EmbeddingDim)
	v[dim] = val
	return v
}

func detectionAt(emb []float32, x, y float64) recognition.Detection {
	return recognition.Detection{
		Box:        facematch.Box{X: x, Y: y, W: 40, H: 40},
		Embedding:  emb,
		Confidence: 0.99,
	}
}

func candidate(id int64, uid string, emb []float32) recognition.Candidate {
	return recognition.Candidate{IdentityID: id, ExternalUID: uid, Name: "Student " + uid, Embedding: emb}
}

type staticSource struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *staticSource) Next(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte("frame"), nil
}

type fakeDetector struct {
	mu         sync.Mutex
	detections []recognition.Detection
	err        error
}

func (d *fakeDetector) Detect(ctx context.Context, image []byte) ([]recognition.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.detections, nil
}

func (d *fakeDetector) set(dets []recognition.Detection, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detections = dets
	d.err = err
}

type fakeLoader struct {
	mu         sync.Mutex
	candidates []recognition.Candidate
	err        error
	calls      int
}

func (l *fakeLoader) LoadCandidates(ctx context.Context, section string) ([]recognition.Candidate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.candidates, nil
}

func (l *fakeLoader) set(c []recognition.Candidate, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates = c
	l.err = err
}

func (l *fakeLoader) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fakeSink struct {
	requests chan attendance.PresentRequest
	err      error
}

func newFakeSink() *fakeSink {
	return &fakeSink{requests: make(chan attendance.PresentRequest, 16)}
}

func (s *fakeSink) MarkPresent(ctx context.Context, req attendance.PresentRequest) (*attendance.PresentResult, error) {
	s.requests <- req
	if s.err != nil {
		return nil, s.err
	}
	return &attendance.PresentResult{Marked: req.ExternalUIDs, Unknown: []string{}, Failed: []string{}}, nil
}

type sessionFixture struct {
	session  *Session
	clock    *FakeClock
	source   *staticSource
	detector *fakeDetector
	loader   *fakeLoader
	sink     *fakeSink
}

// newSessionFixture builds a session whose periodic loops only fire when the
// test advances the fake clock far enough. The frame interval is long so each
// frame pass is triggered explicitly.
func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		clock:    NewFakeClock(epoch),
		source:   &staticSource{},
		detector: &fakeDetector{},
		loader:   &fakeLoader{candidates: []recognition.Candidate{candidate(1, "CS001", axis(0, 1))}},
		sink:     newFakeSink(),
	}
	s, err := NewSession(SessionConfig{
		Section:         "cse 3a",
		Subject:         "Networks",
		Slot:            "P1",
		FrameInterval:   time.Hour,
		SweepInterval:   2 * time.Hour,
		RefreshInterval: 3 * time.Hour,
		WriteDebounce:   500 * time.Millisecond,
	}, SessionDeps{
		Source:   f.source,
		Detector: f.detector,
		Loader:   f.loader,
		Sink:     f.sink,
		Clock:    f.clock,
	})
	require.NoError(t, err)
	f.session = s
	t.Cleanup(func() { _ = s.Close() })
	return f
}

func (f *sessionFixture) nextEvent(t *testing.T) Event {
	t.Helper()
	select {
	case ev, ok := <-f.session.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func (f *sessionFixture) noEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-f.session.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func (f *sessionFixture) nextRequest(t *testing.T) attendance.PresentRequest {
	t.Helper()
	select {
	case req := <-f.sink.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write")
	}
	return attendance.PresentRequest{}
}
