package database

import (
	"time"
)

// Identity is an enrolled person as stored in the identities table.
// The embedding is kept as JSON text; callers parse it and skip rows that fail.
type Identity struct {
	ID           int64
	ExternalUID  string
	DisplayName  string
	GroupTag     string
	RawEmbedding string
	Enrolled     bool
	EnrolledAt   time.Time
	UpdatedAt    time.Time
}

// AttendanceKey identifies the ledger row an event applies to.
// The table is unique on (IdentityID, Date, Slot); Subject is informational
// but takes part in deletes.
type AttendanceKey struct {
	IdentityID int64
	Date       string // YYYY-MM-DD
	Subject    string
	Slot       string
}

// AttendanceRecord is one ledger row joined with its identity.
type AttendanceRecord struct {
	ID          int64
	IdentityID  int64
	ExternalUID string
	Name        string
	GroupTag    string
	Date        string
	Subject     string
	Slot        string
	Status      string
	CapturedAt  time.Time
}

// AttendanceFilter narrows List results. Empty fields match everything.
type AttendanceFilter struct {
	GroupTag string
	Date     string
	Slot     string
}

// UnknownFace is an append-only log row for a detection that matched nobody.
type UnknownFace struct {
	ID        int64
	GroupTag  string
	Timestamp time.Time
	Embedding []float32 // nil when the embedding was not recorded
}
