package attendance

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/class-attendance/internal/config"
	"github.com/kozaktomas/class-attendance/internal/constants"
	"github.com/kozaktomas/class-attendance/internal/database"
	"github.com/kozaktomas/class-attendance/internal/detector"
	"github.com/kozaktomas/class-attendance/internal/facematch"
	"github.com/kozaktomas/class-attendance/internal/metrics"
	"github.com/kozaktomas/class-attendance/internal/recognition"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// allSections is the cache key used for the unfiltered candidate set.
const allSections = "*"

// Deps groups the collaborators of a Service.
type Deps struct {
	Identities database.IdentityWriter
	Attendance database.AttendanceWriter
	UnknownLog database.UnknownFaceWriter
	Detector   detector.Detector // optional, required only for image based operations
	Factory    recognition.Factory
	Match      config.MatchConfig
	CacheTTL   time.Duration
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Service owns the matcher, the candidate cache and the ledger handles. It is
// constructed once and shared by the HTTP handlers and CLI commands.
type Service struct {
	identities database.IdentityWriter
	attendance database.AttendanceWriter
	unknownLog database.UnknownFaceWriter
	detector   detector.Detector
	match      config.MatchConfig
	candidates *cache.Cache
	pipeline   *Pipeline
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewService creates a Service. A zero CacheTTL disables candidate caching.
func NewService(deps Deps) (*Service, error) {
	if deps.Identities == nil || deps.Attendance == nil || deps.UnknownLog == nil {
		return nil, errors.New("identity, attendance and unknown face stores are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Factory == nil {
		factory, err := recognition.NewFactory(recognition.StrategyLinear, deps.Logger)
		if err != nil {
			return nil, err
		}
		deps.Factory = factory
	}
	if deps.Match.Threshold <= 0 {
		deps.Match.Threshold = constants.DefaultMatchThreshold
	}

	s := &Service{
		identities: deps.Identities,
		attendance: deps.Attendance,
		unknownLog: deps.UnknownLog,
		detector:   deps.Detector,
		match:      deps.Match,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        time.Now,
	}
	if deps.CacheTTL > 0 {
		s.candidates = cache.New(deps.CacheTTL, 2*deps.CacheTTL)
	}
	s.pipeline = NewPipeline(s, deps.Factory, s.match.ThresholdFor,
		deps.Attendance, deps.UnknownLog, deps.Logger, deps.Metrics)
	return s, nil
}

// Candidates returns the enrolled candidates of a section, served from the
// cache while fresh. An empty groupTag returns every section.
func (s *Service) Candidates(ctx context.Context, groupTag string) ([]recognition.Candidate, error) {
	key := facematch.NormalizeGroupTag(groupTag)
	if key == "" {
		key = allSections
	}
	if s.candidates != nil {
		if cached, ok := s.candidates.Get(key); ok {
			return cached.([]recognition.Candidate), nil
		}
	}

	list, err := s.loadCandidates(ctx, groupTag)
	if err != nil {
		return nil, err
	}
	if s.candidates != nil {
		s.candidates.Set(key, list, cache.DefaultExpiration)
	}
	return list, nil
}

// InvalidateCandidates drops every cached candidate set.
func (s *Service) InvalidateCandidates() {
	if s.candidates != nil {
		s.candidates.Flush()
	}
}

// loadCandidates reads enrolled identities and parses their embeddings.
// Rows with a malformed embedding are skipped and logged.
func (s *Service) loadCandidates(ctx context.Context, groupTag string) ([]recognition.Candidate, error) {
	rows, err := s.identities.ListEnrolled(ctx, facematch.NormalizeGroupTag(groupTag))
	if err != nil {
		return nil, fmt.Errorf("failed to list enrolled identities: %w", err)
	}

	out := make([]recognition.Candidate, 0, len(rows))
	for _, row := range rows {
		embedding, err := recognition.ParseEmbedding(row.RawEmbedding)
		if err != nil {
			s.logger.Warn("skipping identity with invalid embedding",
				zap.Int64("identity_id", row.ID),
				zap.String("uid", row.ExternalUID),
				zap.Error(err))
			continue
		}
		out = append(out, recognition.Candidate{
			IdentityID:  row.ID,
			ExternalUID: row.ExternalUID,
			Name:        row.DisplayName,
			GroupTag:    row.GroupTag,
			Embedding:   embedding,
		})
	}
	return out, nil
}

// Reconcile runs the capture through the shared pipeline.
func (s *Service) Reconcile(ctx context.Context, capture Capture) (*Result, error) {
	return s.pipeline.Reconcile(ctx, capture)
}

// RecognizeImage detects faces in an image and reconciles them.
// Detector outages surface as detector.ErrUnavailable.
func (s *Service) RecognizeImage(ctx context.Context, image []byte, capture Capture) (*Result, error) {
	if s.detector == nil {
		return nil, detector.ErrUnavailable
	}
	detections, err := s.detector.Detect(ctx, image)
	if err != nil {
		return nil, err
	}
	capture.Detections = detections
	return s.pipeline.Reconcile(ctx, capture)
}

// OverrideRequest is a manual attendance correction.
type OverrideRequest struct {
	ExternalUID string `json:"uid"`
	Date        string `json:"date"`
	Subject     string `json:"subject"`
	Slot        string `json:"slot"`
	Status      string `json:"status"`
}

// OverrideResult reports the applied override.
type OverrideResult struct {
	ExternalUID string `json:"uid"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Changed     bool   `json:"changed"`
}

func validateSlotKey(date, subject, slot string) error {
	if date == "" || subject == "" || slot == "" {
		return invalid("date, subject and slot are required")
	}
	if _, err := time.Parse(constants.DateLayout, date); err != nil {
		return invalid("date must be YYYY-MM-DD, got %q", date)
	}
	return nil
}

// Override applies an instructor's manual correction. PRESENT upserts the row for
// (identity, date, slot); ABSENT deletes the row matching identity, date,
// subject and slot. Deleting a row that does not exist still succeeds.
func (s *Service) Override(ctx context.Context, req OverrideRequest) (*OverrideResult, error) {
	uid := facematch.NormalizeUID(req.ExternalUID)
	status := strings.ToUpper(strings.TrimSpace(req.Status))
	if uid == "" {
		return nil, invalid("uid is required")
	}
	if err := validateSlotKey(req.Date, req.Subject, req.Slot); err != nil {
		return nil, err
	}
	if status != constants.StatusPresent && status != constants.StatusAbsent {
		return nil, invalid("status must be %s or %s", constants.StatusPresent, constants.StatusAbsent)
	}

	ident, err := s.identities.GetByExternalUID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity %s: %w", uid, err)
	}
	if ident == nil {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, uid)
	}

	key := database.AttendanceKey{
		IdentityID: ident.ID,
		Date:       req.Date,
		Subject:    req.Subject,
		Slot:       req.Slot,
	}
	result := &OverrideResult{ExternalUID: ident.ExternalUID, Name: ident.DisplayName, Status: status}

	if status == constants.StatusPresent {
		if err := s.attendance.UpsertPresent(ctx, key, s.now()); err != nil {
			return nil, &PersistenceError{Op: "upsert_attendance", Err: err}
		}
		result.Changed = true
	} else {
		deleted, err := s.attendance.Delete(ctx, key)
		if err != nil {
			return nil, &PersistenceError{Op: "delete_attendance", Err: err}
		}
		result.Changed = deleted
	}

	s.metrics.IncOverride(status)
	s.logger.Info("manual override",
		zap.String("uid", ident.ExternalUID),
		zap.String("status", status),
		zap.String("date", req.Date),
		zap.String("subject", req.Subject),
		zap.String("slot", req.Slot),
		zap.Bool("changed", result.Changed))
	return result, nil
}

// PresentRequest marks several identities present at once.
type PresentRequest struct {
	ExternalUIDs []string `json:"uids"`
	Date         string   `json:"date"`
	Subject      string   `json:"subject"`
	Slot         string   `json:"slot"`
}

// PresentResult reports which UIDs were written.
type PresentResult struct {
	Marked  []string `json:"marked"`
	Unknown []string `json:"unknown"`
	Failed  []string `json:"failed"`
}

// MarkPresent upserts PRESENT for every known UID. Unknown UIDs are reported,
// not rejected, and a failed write does not stop the others.
func (s *Service) MarkPresent(ctx context.Context, req PresentRequest) (*PresentResult, error) {
	if req.Date == "" {
		req.Date = s.now().Format(constants.DateLayout)
	}
	if req.Subject == "" {
		req.Subject = constants.DefaultSubject
	}
	if req.Slot == "" {
		req.Slot = constants.DefaultSlot
	}
	if err := validateSlotKey(req.Date, req.Subject, req.Slot); err != nil {
		return nil, err
	}

	uids := make([]string, 0, len(req.ExternalUIDs))
	for _, uid := range req.ExternalUIDs {
		if n := facematch.NormalizeUID(uid); n != "" && !slices.Contains(uids, n) {
			uids = append(uids, n)
		}
	}
	if len(uids) == 0 {
		return nil, invalid("at least one uid is required")
	}

	idents, err := s.identities.GetByExternalUIDs(ctx, uids)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identities: %w", err)
	}
	byUID := make(map[string]database.Identity, len(idents))
	for _, ident := range idents {
		byUID[ident.ExternalUID] = ident
	}

	result := &PresentResult{Marked: []string{}, Unknown: []string{}, Failed: []string{}}
	now := s.now()
	for _, uid := range uids {
		ident, ok := byUID[uid]
		if !ok {
			result.Unknown = append(result.Unknown, uid)
			continue
		}
		key := database.AttendanceKey{IdentityID: ident.ID, Date: req.Date, Subject: req.Subject, Slot: req.Slot}
		if err := s.attendance.UpsertPresent(ctx, key, now); err != nil {
			s.metrics.IncWriteFailure("upsert_attendance")
			s.logger.Error("failed to mark present", zap.String("uid", uid), zap.Error(err))
			result.Failed = append(result.Failed, uid)
			continue
		}
		result.Marked = append(result.Marked, uid)
	}

	s.logger.Info("bulk present",
		zap.Int("marked", len(result.Marked)),
		zap.Int("unknown", len(result.Unknown)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

// Export returns the enrolled identities of a section (or all sections) whose
// embedding parses. The cache is bypassed so clients always see fresh data.
func (s *Service) Export(ctx context.Context, groupTag string) ([]recognition.Candidate, error) {
	return s.loadCandidates(ctx, groupTag)
}

// EnrollRequest enrolls an identity from a photo.
type EnrollRequest struct {
	ExternalUID string
	Name        string
	GroupTag    string
	Image       []byte
}

// Enroll detects the face in the image and stores its embedding, replacing any
// previous enrollment of the same UID. The face with the highest detector
// confidence wins when several are found.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*database.Identity, error) {
	if s.detector == nil {
		return nil, detector.ErrUnavailable
	}
	if err := validateEnrollment(req.ExternalUID, req.Name, req.GroupTag); err != nil {
		return nil, err
	}

	detections, err := s.detector.Detect(ctx, req.Image)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return nil, ErrDetectionAbsent
	}
	best := slices.MaxFunc(detections, func(a, b recognition.Detection) int {
		if c := cmp.Compare(a.Confidence, b.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.Box.Area(), b.Box.Area())
	})

	return s.EnrollEmbedding(ctx, req.ExternalUID, req.Name, req.GroupTag, best.Embedding)
}

func validateEnrollment(uid, name, groupTag string) error {
	if facematch.NormalizeUID(uid) == "" || strings.TrimSpace(name) == "" || facematch.NormalizeGroupTag(groupTag) == "" {
		return invalid("uid, name and section are required")
	}
	return nil
}

// EnrollEmbedding stores an already extracted embedding.
func (s *Service) EnrollEmbedding(ctx context.Context, uid, name, groupTag string, embedding []float32) (*database.Identity, error) {
	if err := validateEnrollment(uid, name, groupTag); err != nil {
		return nil, err
	}
	raw, err := recognition.FormatEmbedding(embedding)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	ident := &database.Identity{
		ExternalUID:  facematch.NormalizeUID(uid),
		DisplayName:  facematch.NormalizeDisplayName(name),
		GroupTag:     facematch.NormalizeGroupTag(groupTag),
		RawEmbedding: raw,
		Enrolled:     true,
	}
	id, err := s.identities.Enroll(ctx, ident)
	if err != nil {
		return nil, &PersistenceError{Op: "enroll_identity", Err: err}
	}
	ident.ID = id
	s.InvalidateCandidates()

	s.logger.Info("identity enrolled",
		zap.Int64("identity_id", id),
		zap.String("uid", ident.ExternalUID),
		zap.String("section", ident.GroupTag))
	return ident, nil
}

// Sections lists the distinct group tags.
func (s *Service) Sections(ctx context.Context) ([]string, error) {
	tags, err := s.identities.ListGroupTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	return tags, nil
}

// Attendance returns raw ledger rows.
func (s *Service) Attendance(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	filter.GroupTag = facematch.NormalizeGroupTag(filter.GroupTag)
	if filter.Date != "" {
		if _, err := time.Parse(constants.DateLayout, filter.Date); err != nil {
			return nil, invalid("date must be YYYY-MM-DD, got %q", filter.Date)
		}
	}
	rows, err := s.attendance.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	return rows, nil
}

// UnknownFacesToday returns the most recent unknown face log rows since local midnight.
func (s *Service) UnknownFacesToday(ctx context.Context, groupTag string, limit int) ([]database.UnknownFace, error) {
	if limit <= 0 {
		limit = constants.DefaultUnknownFaceLimit
	}
	limit = min(limit, constants.MaxUnknownFaceLimit)

	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	rows, err := s.unknownLog.ListSince(ctx, facematch.NormalizeGroupTag(groupTag), midnight, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unknown faces: %w", err)
	}
	return rows, nil
}
