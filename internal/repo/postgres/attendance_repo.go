package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldtrack/attendance/internal/domain"
	"github.com/fieldtrack/attendance/internal/spoofing"
)

type AttendanceRepo struct {
	pool *pgxpool.Pool
}

func NewAttendanceRepo(pool *pgxpool.Pool) *AttendanceRepo {
	return &AttendanceRepo{pool: pool}
}

const attendanceCols = `id, user_id, facility_id,
clock_in_time, clock_out_time,
clock_in_latitude, clock_in_longitude, clock_out_latitude, clock_out_longitude,
clock_in_accuracy_meters, clock_out_accuracy_meters,
clock_in_distance_meters, clock_out_distance_meters,
device_fingerprint, validation_status, status,
device_id, client_timestamp, server_timestamp, synced, sync_version,
conflict_resolution_strategy, metadata, created_at, updated_at`

func scanAttendance(row pgx.Row) (*domain.AttendanceRecord, error) {
	var a domain.AttendanceRecord
	var strategy *string
	err := row.Scan(
		&a.ID, &a.UserID, &a.FacilityID,
		&a.ClockInTime, &a.ClockOutTime,
		&a.ClockInLatitude, &a.ClockInLongitude, &a.ClockOutLatitude, &a.ClockOutLongitude,
		&a.ClockInAccuracyMeters, &a.ClockOutAccuracyMeters,
		&a.ClockInDistanceMeters, &a.ClockOutDistanceMeters,
		&a.DeviceFingerprint, &a.ValidationStatus, &a.Status,
		&a.DeviceID, &a.ClientTimestamp, &a.ServerTimestamp, &a.Synced, &a.SyncVersion,
		&strategy, &a.Metadata, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if strategy != nil {
		a.ConflictStrategy = domain.ResolutionStrategy(*strategy)
	}
	return &a, nil
}

func (r *AttendanceRepo) GetActiveByUser(ctx context.Context, userID int64) (*domain.AttendanceRecord, error) {
	const q = `SELECT ` + attendanceCols + ` FROM attendance WHERE user_id=$1 AND status='active'`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	a, err := scanAttendance(r.pool.QueryRow(ctx, q, userID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (r *AttendanceRepo) Create(ctx context.Context, rec *domain.AttendanceRecord) (*domain.AttendanceRecord, error) {
	const q = `INSERT INTO attendance (
		user_id, facility_id, clock_in_time, clock_out_time,
		clock_in_latitude, clock_in_longitude, clock_out_latitude, clock_out_longitude,
		clock_in_accuracy_meters, clock_out_accuracy_meters,
		clock_in_distance_meters, clock_out_distance_meters,
		device_fingerprint, validation_status, status,
		device_id, client_timestamp, server_timestamp, synced, sync_version,
		conflict_resolution_strategy, metadata
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	RETURNING ` + attendanceCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	created, err := scanAttendance(r.pool.QueryRow(ctx, q,
		rec.UserID, rec.FacilityID, rec.ClockInTime, rec.ClockOutTime,
		rec.ClockInLatitude, rec.ClockInLongitude, rec.ClockOutLatitude, rec.ClockOutLongitude,
		rec.ClockInAccuracyMeters, rec.ClockOutAccuracyMeters,
		rec.ClockInDistanceMeters, rec.ClockOutDistanceMeters,
		rec.DeviceFingerprint, rec.ValidationStatus, rec.Status,
		rec.DeviceID, rec.ClientTimestamp, rec.ServerTimestamp, rec.Synced, rec.SyncVersion,
		nullableStrategy(rec.ConflictStrategy), rec.Metadata,
	))
	if err != nil {
		return nil, mapError(err)
	}
	return created, nil
}

func (r *AttendanceRepo) CompleteClockOut(ctx context.Context, rec *domain.AttendanceRecord) (*domain.AttendanceRecord, error) {
	const q = `UPDATE attendance SET
		clock_out_time=$2,
		clock_out_latitude=$3, clock_out_longitude=$4,
		clock_out_accuracy_meters=$5, clock_out_distance_meters=$6,
		validation_status=$7, status=$8, metadata=$9,
		updated_at=now()
	WHERE id=$1 AND status='active'
	RETURNING ` + attendanceCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	updated, err := scanAttendance(r.pool.QueryRow(ctx, q,
		rec.ID, rec.ClockOutTime,
		rec.ClockOutLatitude, rec.ClockOutLongitude,
		rec.ClockOutAccuracyMeters, rec.ClockOutDistanceMeters,
		rec.ValidationStatus, rec.Status, rec.Metadata,
	))
	if err == pgx.ErrNoRows {
		return nil, domain.ErrNotClockedIn
	}
	if err != nil {
		return nil, mapError(err)
	}
	return updated, nil
}

func (r *AttendanceRepo) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.AttendanceRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	const q = `SELECT ` + attendanceCols + ` FROM attendance
	WHERE user_id=$1 ORDER BY clock_in_time DESC LIMIT $2 OFFSET $3`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var records []domain.AttendanceRecord
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *a)
	}
	return records, rows.Err()
}

func (r *AttendanceRepo) FindByDeviceTimestamp(ctx context.Context, userID int64, deviceID string, clientTimestamp time.Time) (*domain.AttendanceRecord, error) {
	const q = `SELECT ` + attendanceCols + ` FROM attendance
	WHERE user_id=$1 AND device_id=$2 AND client_timestamp=$3`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	a, err := scanAttendance(r.pool.QueryRow(ctx, q, userID, deviceID, clientTimestamp))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (r *AttendanceRepo) UpdateMerged(ctx context.Context, rec *domain.AttendanceRecord) (*domain.AttendanceRecord, error) {
	const q = `UPDATE attendance SET
		facility_id=$2, clock_in_time=$3, clock_out_time=$4,
		clock_in_latitude=$5, clock_in_longitude=$6,
		clock_out_latitude=$7, clock_out_longitude=$8,
		clock_in_accuracy_meters=$9, clock_out_accuracy_meters=$10,
		device_fingerprint=$11, status=$12,
		server_timestamp=$13, synced=$14, sync_version=$15, metadata=$16,
		updated_at=now()
	WHERE id=$1
	RETURNING ` + attendanceCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	updated, err := scanAttendance(r.pool.QueryRow(ctx, q,
		rec.ID, rec.FacilityID, rec.ClockInTime, rec.ClockOutTime,
		rec.ClockInLatitude, rec.ClockInLongitude,
		rec.ClockOutLatitude, rec.ClockOutLongitude,
		rec.ClockInAccuracyMeters, rec.ClockOutAccuracyMeters,
		rec.DeviceFingerprint, rec.Status,
		rec.ServerTimestamp, rec.Synced, rec.SyncVersion, rec.Metadata,
	))
	if err != nil {
		return nil, mapError(err)
	}
	return updated, nil
}

// LastKnownLocation feeds the impossible-travel check. Only clock-in
// locations make up the trail.
func (r *AttendanceRepo) LastKnownLocation(ctx context.Context, userID int64) (*spoofing.LocationPoint, error) {
	const q = `SELECT clock_in_latitude, clock_in_longitude, clock_in_time FROM attendance
	WHERE user_id=$1 AND clock_in_latitude IS NOT NULL AND clock_in_longitude IS NOT NULL
	ORDER BY clock_in_time DESC LIMIT 1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var p spoofing.LocationPoint
	err := r.pool.QueryRow(ctx, q, userID).Scan(&p.Latitude, &p.Longitude, &p.At)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func nullableStrategy(s domain.ResolutionStrategy) *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}
