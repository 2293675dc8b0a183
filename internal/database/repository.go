package database

import (
	"context"
	"time"
)

// IdentityReader provides read-only access to enrolled identities
type IdentityReader interface {
	// GetByExternalUID retrieves an identity by its external UID, returns nil if not found
	GetByExternalUID(ctx context.Context, uid string) (*Identity, error)
	// GetByExternalUIDs retrieves identities for several UIDs; missing UIDs are omitted
	GetByExternalUIDs(ctx context.Context, uids []string) ([]Identity, error)
	// ListEnrolled returns enrolled identities in the group, or all groups when groupTag is empty.
	// Rows are ordered by ID so iteration order is stable across calls.
	ListEnrolled(ctx context.Context, groupTag string) ([]Identity, error)
	// ListGroupTags returns the distinct group tags with at least one identity
	ListGroupTags(ctx context.Context) ([]string, error)
}

// IdentityWriter provides write access to identities
type IdentityWriter interface {
	IdentityReader

	// Enroll inserts an identity or fully replaces the existing one with the same external UID.
	// Returns the identity ID.
	Enroll(ctx context.Context, identity *Identity) (int64, error)
}

// AttendanceReader provides read-only access to the attendance ledger
type AttendanceReader interface {
	// List returns ledger rows matching the filter ordered by capture time
	List(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, error)
}

// AttendanceWriter provides write access to the attendance ledger
type AttendanceWriter interface {
	AttendanceReader

	// UpsertPresent marks the key PRESENT. An existing row for (identity, date, slot)
	// is overwritten in place; the operation is a single constraint-backed statement.
	UpsertPresent(ctx context.Context, key AttendanceKey, capturedAt time.Time) error

	// Delete removes the row matching the key. Returns false when no row existed.
	Delete(ctx context.Context, key AttendanceKey) (bool, error)
}

// UnknownFaceReader provides read-only access to the unknown face log
type UnknownFaceReader interface {
	// ListSince returns rows logged at or after since, newest first
	ListSince(ctx context.Context, groupTag string, since time.Time, limit int) ([]UnknownFace, error)
}

// UnknownFaceWriter appends to the unknown face log
type UnknownFaceWriter interface {
	UnknownFaceReader

	// LogUnknown appends a row. The log is never updated or merged.
	LogUnknown(ctx context.Context, groupTag string, at time.Time, embedding []float32) error
}
