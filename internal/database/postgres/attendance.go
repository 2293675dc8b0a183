package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/class-attendance/internal/constants"
	"github.com/kozaktomas/class-attendance/internal/database"
)

// AttendanceRepository provides PostgreSQL-backed storage for the attendance ledger
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new attendance repository
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// UpsertPresent marks the key PRESENT in a single statement backed by the
// (identity_id, date, slot) unique constraint, so concurrent captures of the
// same person cannot produce two rows.
func (r *AttendanceRepository) UpsertPresent(ctx context.Context, key database.AttendanceKey, capturedAt time.Time) error {
	query := `
		INSERT INTO attendance_records (identity_id, date, subject, slot, status, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identity_id, date, slot) DO UPDATE SET
			status = EXCLUDED.status,
			subject = EXCLUDED.subject,
			captured_at = EXCLUDED.captured_at
	`

	_, err := r.pool.Exec(ctx, query, key.IdentityID, key.Date, key.Subject, key.Slot, constants.StatusPresent, capturedAt)
	if err != nil {
		return fmt.Errorf("upsert attendance: %w", err)
	}
	return nil
}

// Delete removes the row matching identity, date, subject and slot
func (r *AttendanceRepository) Delete(ctx context.Context, key database.AttendanceKey) (bool, error) {
	query := `
		DELETE FROM attendance_records
		WHERE identity_id = $1 AND date = $2 AND subject = $3 AND slot = $4
	`

	result, err := r.pool.Exec(ctx, query, key.IdentityID, key.Date, key.Subject, key.Slot)
	if err != nil {
		return false, fmt.Errorf("delete attendance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete attendance rows affected: %w", err)
	}
	return n > 0, nil
}

// List returns ledger rows matching the filter
func (r *AttendanceRepository) List(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.GroupTag != "" {
		args = append(args, filter.GroupTag)
		where = append(where, fmt.Sprintf("i.group_tag = $%d", len(args)))
	}
	if filter.Date != "" {
		args = append(args, filter.Date)
		where = append(where, fmt.Sprintf("a.date = $%d", len(args)))
	}
	if filter.Slot != "" {
		args = append(args, filter.Slot)
		where = append(where, fmt.Sprintf("a.slot = $%d", len(args)))
	}

	query := `
		SELECT a.id, a.identity_id, i.external_uid, i.display_name, i.group_tag,
			to_char(a.date, 'YYYY-MM-DD'), a.subject, a.slot, a.status, a.captured_at
		FROM attendance_records a
		JOIN identities i ON i.id = a.identity_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY a.captured_at, a.id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var records []database.AttendanceRecord
	for rows.Next() {
		var rec database.AttendanceRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.IdentityID,
			&rec.ExternalUID,
			&rec.Name,
			&rec.GroupTag,
			&rec.Date,
			&rec.Subject,
			&rec.Slot,
			&rec.Status,
			&rec.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return records, nil
}
