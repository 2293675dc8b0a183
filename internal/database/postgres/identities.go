package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/class-attendance/internal/database"
	"github.com/lib/pq"
)

// IdentityRepository provides PostgreSQL-backed storage for enrolled identities
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identityColumns = `id, external_uid, display_name, group_tag, COALESCE(embedding, ''), enrolled,
	enrolled_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (database.Identity, error) {
	var (
		ident      database.Identity
		enrolledAt sql.NullTime
	)
	err := row.Scan(
		&ident.ID,
		&ident.ExternalUID,
		&ident.DisplayName,
		&ident.GroupTag,
		&ident.RawEmbedding,
		&ident.Enrolled,
		&enrolledAt,
		&ident.UpdatedAt,
	)
	if err != nil {
		return ident, err
	}
	if enrolledAt.Valid {
		ident.EnrolledAt = enrolledAt.Time
	}
	return ident, nil
}

func scanIdentities(rows *sql.Rows) ([]database.Identity, error) {
	defer rows.Close()

	var out []database.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// GetByExternalUID retrieves an identity by external UID, returns nil if not found
func (r *IdentityRepository) GetByExternalUID(ctx context.Context, uid string) (*database.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE external_uid = $1`

	ident, err := scanIdentity(r.pool.QueryRow(ctx, query, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &ident, nil
}

// GetByExternalUIDs retrieves identities for the given UIDs
func (r *IdentityRepository) GetByExternalUIDs(ctx context.Context, uids []string) ([]database.Identity, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + identityColumns + ` FROM identities WHERE external_uid = ANY($1) ORDER BY id`

	rows, err := r.pool.Query(ctx, query, pq.Array(uids))
	if err != nil {
		return nil, fmt.Errorf("query identities by uid: %w", err)
	}
	return scanIdentities(rows)
}

// ListEnrolled returns enrolled identities for a group, or for all groups when groupTag is empty
func (r *IdentityRepository) ListEnrolled(ctx context.Context, groupTag string) ([]database.Identity, error) {
	query := `SELECT ` + identityColumns + `
		FROM identities
		WHERE enrolled AND embedding IS NOT NULL AND embedding <> ''
		  AND ($1::text = '' OR group_tag = $1::text)
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, groupTag)
	if err != nil {
		return nil, fmt.Errorf("query enrolled identities: %w", err)
	}
	return scanIdentities(rows)
}

// ListGroupTags returns the distinct group tags in alphabetical order
func (r *IdentityRepository) ListGroupTags(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, "SELECT DISTINCT group_tag FROM identities ORDER BY group_tag")
	if err != nil {
		return nil, fmt.Errorf("query group tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan group tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group tags: %w", err)
	}
	return tags, nil
}

// Enroll inserts an identity or fully replaces the one with the same external UID
func (r *IdentityRepository) Enroll(ctx context.Context, ident *database.Identity) (int64, error) {
	query := `
		INSERT INTO identities (external_uid, display_name, group_tag, embedding, enrolled, enrolled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (external_uid) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			group_tag = EXCLUDED.group_tag,
			embedding = EXCLUDED.embedding,
			enrolled = EXCLUDED.enrolled,
			enrolled_at = EXCLUDED.enrolled_at,
			updated_at = NOW()
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		ident.ExternalUID,
		ident.DisplayName,
		ident.GroupTag,
		ident.RawEmbedding,
		ident.Enrolled,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enroll identity: %w", err)
	}
	return id, nil
}
