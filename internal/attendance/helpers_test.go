package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/kozaktomas/class-attendance/internal/config"
	"github.com/kozaktomas/class-attendance/internal/database"
	"github.com/kozaktomas/class-attendance/internal/database/mock"
	"github.com/kozaktomas/class-attendance/internal/facematch"
	"github.com/kozaktomas/class-attendance/internal/recognition"
	"github.com/stretchr/testify/require"
)

const testSection = "CSE-3A"

// axis returns a 128-dim vector with val at dim and zeros elsewhere, so the
// distance between axis(i, a) and axis(i, b) is |a-b|.
func axis(dim int, val float32) []float32 {
	v := make([]float32, 128)
	v[dim] = val
	return v
}

type fakeDetector struct {
	detections []recognition.Detection
	err        error
	calls      int
}

func (f *fakeDetector) Detect(ctx context.Context, image []byte) ([]recognition.Detection, error) {
	f.calls++
	return f.detections, f.err
}

type fixture struct {
	identities *mock.MockIdentityStore
	attendance *mock.MockAttendanceStore
	unknown    *mock.MockUnknownFaceStore
	detector   *fakeDetector
	service    *Service
}

func newFixture(t *testing.T, cacheTTL time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		identities: mock.NewMockIdentityStore(),
		attendance: mock.NewMockAttendanceStore(),
		unknown:    mock.NewMockUnknownFaceStore(),
		detector:   &fakeDetector{},
	}
	svc, err := NewService(Deps{
		Identities: f.identities,
		Attendance: f.attendance,
		UnknownLog: f.unknown,
		Detector:   f.detector,
		Match:      config.MatchConfig{Threshold: 0.45},
		CacheTTL:   cacheTTL,
	})
	require.NoError(t, err)
	f.service = svc
	return f
}

// enroll stores an identity with the given embedding and returns its ID.
func (f *fixture) enroll(t *testing.T, uid, section string, embedding []float32) int64 {
	t.Helper()
	raw, err := recognition.FormatEmbedding(embedding)
	require.NoError(t, err)
	return f.identities.AddIdentity(database.Identity{
		ExternalUID:  uid,
		DisplayName:  "Student " + uid,
		GroupTag:     section,
		RawEmbedding: raw,
		Enrolled:     true,
	})
}

func detection(embedding []float32, x, y float64) recognition.Detection {
	return recognition.Detection{
		Box:        facematch.Box{X: x, Y: y, W: 40, H: 40},
		Embedding:  embedding,
		Confidence: 0.9,
	}
}
