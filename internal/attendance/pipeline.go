// Package attendance reconciles recognition events into the attendance ledger.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/class-attendance/internal/constants"
	"github.com/kozaktomas/class-attendance/internal/database"
	"github.com/kozaktomas/class-attendance/internal/facematch"
	"github.com/kozaktomas/class-attendance/internal/metrics"
	"github.com/kozaktomas/class-attendance/internal/recognition"
	"go.uber.org/zap"
)

// Mode selects how a capture's results are deduplicated.
type Mode int

const (
	// ModeBatch dedups recognized faces by identity and counts every unknown face.
	ModeBatch Mode = iota
	// ModeStreaming additionally collapses unknown faces that share a grid cell.
	ModeStreaming
)

func (m Mode) String() string {
	switch m {
	case ModeBatch:
		return "batch"
	case ModeStreaming:
		return "streaming"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Capture is one photo or frame worth of detections.
type Capture struct {
	Detections []recognition.Detection
	GroupTag   string
	Subject    string
	Slot       string
	Date       string // YYYY-MM-DD, defaults to today
	Mode       Mode
}

// RecognizedFace is a detection that matched an enrolled identity.
type RecognizedFace struct {
	IdentityID  int64         `json:"identityId"`
	ExternalUID string        `json:"uid"`
	Name        string        `json:"name"`
	Distance    float64       `json:"distance"`
	Confidence  float64       `json:"confidence"`
	Box         facematch.Box `json:"box"`
}

// UnknownFace is a detection that matched nobody.
type UnknownFace struct {
	Confidence float64       `json:"confidence"`
	Box        facematch.Box `json:"box"`
}

// Result summarizes one reconciled capture.
type Result struct {
	CaptureID    uuid.UUID        `json:"captureId"`
	Mode         string           `json:"mode"`
	GroupTag     string           `json:"section"`
	Date         string           `json:"date"`
	Subject      string           `json:"subject"`
	Slot         string           `json:"slot"`
	TotalFaces   int              `json:"totalFaces"`
	Recognized   []RecognizedFace `json:"recognized"`
	Unknown      []UnknownFace    `json:"unknown"`
	UnknownCount int              `json:"unknownCount"`
	WriteErrors  int              `json:"writeErrors"`
}

// CandidateSource loads the enrolled candidates of a section.
type CandidateSource interface {
	Candidates(ctx context.Context, groupTag string) ([]recognition.Candidate, error)
}

// Pipeline runs Matcher, ledger writes and dedup for one capture. Batch and
// streaming requests share it and differ only in the Mode they pass.
type Pipeline struct {
	source     CandidateSource
	factory    recognition.Factory
	thresholds func(groupTag string) float64
	attendance database.AttendanceWriter
	unknown    database.UnknownFaceWriter
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewPipeline wires a pipeline. thresholds may be nil, in which case the
// default threshold applies to every section.
func NewPipeline(
	source CandidateSource,
	factory recognition.Factory,
	thresholds func(groupTag string) float64,
	attendanceStore database.AttendanceWriter,
	unknownStore database.UnknownFaceWriter,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if thresholds == nil {
		thresholds = func(string) float64 { return constants.DefaultMatchThreshold }
	}
	return &Pipeline{
		source:     source,
		factory:    factory,
		thresholds: thresholds,
		attendance: attendanceStore,
		unknown:    unknownStore,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// normalizeCapture validates the capture and fills defaults.
func (p *Pipeline) normalizeCapture(c *Capture, now time.Time) error {
	c.GroupTag = facematch.NormalizeGroupTag(c.GroupTag)
	if c.GroupTag == "" {
		return invalid("section is required")
	}

	if c.Date == "" {
		c.Date = now.Format(constants.DateLayout)
	} else if _, err := time.Parse(constants.DateLayout, c.Date); err != nil {
		return invalid("date must be YYYY-MM-DD, got %q", c.Date)
	}

	switch c.Mode {
	case ModeStreaming:
		if c.Subject == "" {
			c.Subject = constants.DefaultSubject
		}
		if c.Slot == "" {
			c.Slot = constants.DefaultSlot
		}
	case ModeBatch:
		if c.Subject == "" || c.Slot == "" {
			return invalid("subject and slot are required")
		}
	default:
		return invalid("unknown mode %s", c.Mode)
	}
	return nil
}

// Reconcile matches every detection of the capture, writes the ledger and the
// unknown face log, and returns the deduplicated result. Write failures are
// logged and counted in Result.WriteErrors; only candidate loading, invalid
// input and cancellation abort the capture.
func (p *Pipeline) Reconcile(ctx context.Context, capture Capture) (*Result, error) {
	start := p.now()
	if err := p.normalizeCapture(&capture, start); err != nil {
		return nil, err
	}

	candidates, err := p.source.Candidates(ctx, capture.GroupTag)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates for %s: %w", capture.GroupTag, err)
	}
	matcher := p.factory(p.thresholds(capture.GroupTag))

	result := &Result{
		CaptureID:  uuid.New(),
		Mode:       capture.Mode.String(),
		GroupTag:   capture.GroupTag,
		Date:       capture.Date,
		Subject:    capture.Subject,
		Slot:       capture.Slot,
		TotalFaces: len(capture.Detections),
		Recognized: []RecognizedFace{},
		Unknown:    []UnknownFace{},
	}

	log := p.logger.With(
		zap.String("capture_id", result.CaptureID.String()),
		zap.String("section", capture.GroupTag),
		zap.Stringer("mode", capture.Mode))

	seenIdentities := make(map[int64]struct{})
	seenCells := make(map[string]struct{})

	for i, det := range capture.Detections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		match := matcher.Match(det.Embedding, candidates)
		if match.Matched() {
			c := match.Candidate
			p.metrics.ObserveMatch(match.Distance)
			log.Debug("face recognized",
				zap.Int("face", i+1),
				zap.String("uid", c.ExternalUID),
				zap.Float64("distance", match.Distance))

			key := database.AttendanceKey{
				IdentityID: c.IdentityID,
				Date:       capture.Date,
				Subject:    capture.Subject,
				Slot:       capture.Slot,
			}
			if err := p.attendance.UpsertPresent(ctx, key, p.now()); err != nil {
				p.writeFailed(log, &PersistenceError{Op: "upsert_attendance", Err: err}, result)
			}

			if _, seen := seenIdentities[c.IdentityID]; seen {
				continue
			}
			seenIdentities[c.IdentityID] = struct{}{}
			result.Recognized = append(result.Recognized, RecognizedFace{
				IdentityID:  c.IdentityID,
				ExternalUID: c.ExternalUID,
				Name:        c.Name,
				Distance:    match.Distance,
				Confidence:  det.Confidence,
				Box:         det.Box,
			})
			continue
		}

		log.Debug("unknown face", zap.Int("face", i+1), zap.Float64("confidence", det.Confidence))
		if err := p.unknown.LogUnknown(ctx, capture.GroupTag, p.now(), det.Embedding); err != nil {
			p.writeFailed(log, &PersistenceError{Op: "log_unknown", Err: err}, result)
		}

		if capture.Mode == ModeStreaming {
			cell := det.Box.CenterKey(constants.UnknownGridSize)
			if _, seen := seenCells[cell]; seen {
				continue
			}
			seenCells[cell] = struct{}{}
		}
		result.Unknown = append(result.Unknown, UnknownFace{Confidence: det.Confidence, Box: det.Box})
	}
	result.UnknownCount = len(result.Unknown)

	p.metrics.ObserveCapture(capture.Mode.String(), len(result.Recognized), result.UnknownCount, p.now().Sub(start))
	log.Info("capture reconciled",
		zap.Int("faces", result.TotalFaces),
		zap.Int("recognized", len(result.Recognized)),
		zap.Int("unknown", result.UnknownCount),
		zap.Int("write_errors", result.WriteErrors))

	return result, nil
}

func (p *Pipeline) writeFailed(log *zap.Logger, err *PersistenceError, result *Result) {
	result.WriteErrors++
	p.metrics.IncWriteFailure(err.Op)
	if errors.Is(err, context.Canceled) {
		log.Warn("write cancelled", zap.String("op", err.Op))
		return
	}
	log.Error("write failed, continuing", zap.String("op", err.Op), zap.Error(err.Err))
}
