package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ActivityRepo appends immutable audit rows. Entries are never updated or
// deleted by application code.
type ActivityRepo struct {
	pool *pgxpool.Pool
}

func NewActivityRepo(pool *pgxpool.Pool) *ActivityRepo {
	return &ActivityRepo{pool: pool}
}

func (r *ActivityRepo) AppendActivity(ctx context.Context, userID int64, action, entityType string, entityID int64, description string, metadata map[string]any) error {
	const q = `INSERT INTO activity_logs (user_id, action, entity_type, entity_id, description, metadata)
	VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6)`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, userID, action, entityType, entityID, description, metadata)
	return mapError(err)
}
