// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/class-attendance/internal/constants"
	"github.com/kozaktomas/class-attendance/internal/database"
)

// MockIdentityStore is a mock implementation of database.IdentityWriter
type MockIdentityStore struct {
	mu         sync.RWMutex
	identities map[string]*database.Identity
	nextID     int64

	// Error injection
	GetError    error
	ListError   error
	TagsError   error
	EnrollError error

	// ListCalls counts ListEnrolled invocations
	ListCalls int
}

// NewMockIdentityStore creates a new mock identity store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{
		identities: make(map[string]*database.Identity),
	}
}

// AddIdentity adds an identity to the mock store and returns its ID
func (m *MockIdentityStore) AddIdentity(ident database.Identity) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ident.ID == 0 {
		m.nextID++
		ident.ID = m.nextID
	} else if ident.ID > m.nextID {
		m.nextID = ident.ID
	}
	m.identities[ident.ExternalUID] = &ident
	return ident.ID
}

// GetByExternalUID retrieves an identity by external UID
func (m *MockIdentityStore) GetByExternalUID(ctx context.Context, uid string) (*database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ident, ok := m.identities[uid]
	if !ok {
		return nil, nil
	}
	cp := *ident
	return &cp, nil
}

// GetByExternalUIDs retrieves identities for several UIDs
func (m *MockIdentityStore) GetByExternalUIDs(ctx context.Context, uids []string) ([]database.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Identity
	for _, uid := range uids {
		if ident, ok := m.identities[uid]; ok {
			out = append(out, *ident)
		}
	}
	sortByID(out)
	return out, nil
}

// ListEnrolled returns enrolled identities ordered by ID
func (m *MockIdentityStore) ListEnrolled(ctx context.Context, groupTag string) ([]database.Identity, error) {
	m.mu.Lock()
	m.ListCalls++
	m.mu.Unlock()

	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Identity
	for _, ident := range m.identities {
		if !ident.Enrolled || ident.RawEmbedding == "" {
			continue
		}
		if groupTag != "" && ident.GroupTag != groupTag {
			continue
		}
		out = append(out, *ident)
	}
	sortByID(out)
	return out, nil
}

// ListGroupTags returns distinct group tags
func (m *MockIdentityStore) ListGroupTags(ctx context.Context) ([]string, error) {
	if m.TagsError != nil {
		return nil, m.TagsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var tags []string
	for _, ident := range m.identities {
		if _, ok := seen[ident.GroupTag]; ok {
			continue
		}
		seen[ident.GroupTag] = struct{}{}
		tags = append(tags, ident.GroupTag)
	}
	sort.Strings(tags)
	return tags, nil
}

// Enroll inserts or fully replaces an identity
func (m *MockIdentityStore) Enroll(ctx context.Context, ident *database.Identity) (int64, error) {
	if m.EnrollError != nil {
		return 0, m.EnrollError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *ident
	if existing, ok := m.identities[ident.ExternalUID]; ok {
		stored.ID = existing.ID
	} else {
		m.nextID++
		stored.ID = m.nextID
	}
	stored.EnrolledAt = time.Now()
	stored.UpdatedAt = stored.EnrolledAt
	m.identities[ident.ExternalUID] = &stored
	return stored.ID, nil
}

func sortByID(list []database.Identity) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}

type ledgerKey struct {
	identityID int64
	date       string
	slot       string
}

// MockAttendanceStore is a mock implementation of database.AttendanceWriter.
// Like the real table it is unique on (identity, date, slot).
type MockAttendanceStore struct {
	mu      sync.RWMutex
	records map[ledgerKey]*database.AttendanceRecord
	nextID  int64

	// Error injection
	UpsertError error
	DeleteError error
	ListError   error

	// FailFor makes UpsertPresent fail only for these identity IDs
	FailFor map[int64]error

	// Upserts records every successful UpsertPresent call in order
	Upserts []database.AttendanceKey
}

// NewMockAttendanceStore creates a new mock attendance store
func NewMockAttendanceStore() *MockAttendanceStore {
	return &MockAttendanceStore{
		records: make(map[ledgerKey]*database.AttendanceRecord),
	}
}

// UpsertPresent inserts or overwrites the row for (identity, date, slot)
func (m *MockAttendanceStore) UpsertPresent(ctx context.Context, key database.AttendanceKey, capturedAt time.Time) error {
	if m.UpsertError != nil {
		return m.UpsertError
	}
	if err, ok := m.FailFor[key.IdentityID]; ok {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	lk := ledgerKey{identityID: key.IdentityID, date: key.Date, slot: key.Slot}
	rec, ok := m.records[lk]
	if !ok {
		m.nextID++
		rec = &database.AttendanceRecord{ID: m.nextID, IdentityID: key.IdentityID, Date: key.Date, Slot: key.Slot}
		m.records[lk] = rec
	}
	rec.Subject = key.Subject
	rec.Status = constants.StatusPresent
	rec.CapturedAt = capturedAt
	m.Upserts = append(m.Upserts, key)
	return nil
}

// Delete removes the row matching identity, date, subject and slot
func (m *MockAttendanceStore) Delete(ctx context.Context, key database.AttendanceKey) (bool, error) {
	if m.DeleteError != nil {
		return false, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	lk := ledgerKey{identityID: key.IdentityID, date: key.Date, slot: key.Slot}
	rec, ok := m.records[lk]
	if !ok || rec.Subject != key.Subject {
		return false, nil
	}
	delete(m.records, lk)
	return true, nil
}

// List returns rows matching date and slot. GroupTag is ignored because the
// mock has no identity join.
func (m *MockAttendanceStore) List(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceRecord
	for _, rec := range m.records {
		if filter.Date != "" && rec.Date != filter.Date {
			continue
		}
		if filter.Slot != "" && rec.Slot != filter.Slot {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Count returns the number of ledger rows
func (m *MockAttendanceStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// MockUnknownFaceStore is a mock implementation of database.UnknownFaceWriter
type MockUnknownFaceStore struct {
	mu   sync.RWMutex
	rows []database.UnknownFace

	// Error injection
	LogError  error
	ListError error
}

// NewMockUnknownFaceStore creates a new mock unknown face store
func NewMockUnknownFaceStore() *MockUnknownFaceStore {
	return &MockUnknownFaceStore{}
}

// LogUnknown appends a row
func (m *MockUnknownFaceStore) LogUnknown(ctx context.Context, groupTag string, at time.Time, embedding []float32) error {
	if m.LogError != nil {
		return m.LogError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, database.UnknownFace{
		ID:        int64(len(m.rows) + 1),
		GroupTag:  groupTag,
		Timestamp: at,
		Embedding: slices.Clone(embedding),
	})
	return nil
}

// ListSince returns rows at or after since, newest first
func (m *MockUnknownFaceStore) ListSince(ctx context.Context, groupTag string, since time.Time, limit int) ([]database.UnknownFace, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.UnknownFace
	for i := len(m.rows) - 1; i >= 0; i-- {
		r := m.rows[i]
		if r.Timestamp.Before(since) || (groupTag != "" && r.GroupTag != groupTag) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Rows returns a copy of every logged row in insertion order
func (m *MockUnknownFaceStore) Rows() []database.UnknownFace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.rows)
}
