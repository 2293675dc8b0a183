package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kozaktomas/class-attendance/internal/database"
	"github.com/pgvector/pgvector-go"
)

// UnknownFaceRepository provides PostgreSQL-backed storage for the unknown face log
type UnknownFaceRepository struct {
	pool *Pool
}

// NewUnknownFaceRepository creates a new unknown face repository
func NewUnknownFaceRepository(pool *Pool) *UnknownFaceRepository {
	return &UnknownFaceRepository{pool: pool}
}

// LogUnknown appends a row; the embedding column stays NULL when embedding is empty
func (r *UnknownFaceRepository) LogUnknown(ctx context.Context, groupTag string, at time.Time, embedding []float32) error {
	var vec any
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}

	_, err := r.pool.Exec(ctx,
		"INSERT INTO unknown_face_logs (group_tag, logged_at, embedding) VALUES ($1, $2, $3)",
		groupTag, at, vec,
	)
	if err != nil {
		return fmt.Errorf("log unknown face: %w", err)
	}
	return nil
}

// ListSince returns rows logged at or after since, newest first
func (r *UnknownFaceRepository) ListSince(ctx context.Context, groupTag string, since time.Time, limit int) ([]database.UnknownFace, error) {
	query := `
		SELECT id, group_tag, logged_at, embedding
		FROM unknown_face_logs
		WHERE logged_at >= $1 AND ($2::text = '' OR group_tag = $2::text)
		ORDER BY logged_at DESC, id DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, since, groupTag, limit)
	if err != nil {
		return nil, fmt.Errorf("query unknown faces: %w", err)
	}
	defer rows.Close()

	var out []database.UnknownFace
	for rows.Next() {
		var (
			f   database.UnknownFace
			vec sql.Null[pgvector.Vector]
		)
		if err := rows.Scan(&f.ID, &f.GroupTag, &f.Timestamp, &vec); err != nil {
			return nil, fmt.Errorf("scan unknown face: %w", err)
		}
		if vec.Valid {
			f.Embedding = vec.V.Slice()
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unknown faces: %w", err)
	}
	return out, nil
}
