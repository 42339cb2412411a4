package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldtrack/attendance/internal/domain"
)

type FacilityRepo struct {
	pool *pgxpool.Pool
}

func NewFacilityRepo(pool *pgxpool.Pool) *FacilityRepo {
	return &FacilityRepo{pool: pool}
}

const facilityCols = `id, name, latitude, longitude, geofence_radius_meters, is_active`

func (r *FacilityRepo) GetFacility(ctx context.Context, id int64) (*domain.Facility, error) {
	const q = `SELECT ` + facilityCols + ` FROM facilities WHERE id=$1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var f domain.Facility
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&f.ID, &f.Name, &f.Latitude, &f.Longitude, &f.GeofenceRadiusMeters, &f.IsActive,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &f, nil
}
