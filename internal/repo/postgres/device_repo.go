package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldtrack/attendance/internal/domain"
)

type DeviceRepo struct {
	pool *pgxpool.Pool
}

func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

func (r *DeviceRepo) Upsert(ctx context.Context, userID int64, fingerprint, deviceName string) (*domain.UserDevice, error) {
	const q = `INSERT INTO user_devices (user_id, device_fingerprint, device_name)
	VALUES ($1, $2, NULLIF($3, ''))
	ON CONFLICT (user_id, device_fingerprint) DO UPDATE
	SET last_seen_at = now(),
	    device_name = COALESCE(NULLIF(EXCLUDED.device_name, ''), user_devices.device_name)
	RETURNING id, user_id, device_fingerprint, COALESCE(device_name, ''), is_approved,
		first_seen_at, last_seen_at, approved_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var d domain.UserDevice
	err := r.pool.QueryRow(ctx, q, userID, fingerprint, deviceName).Scan(
		&d.ID, &d.UserID, &d.DeviceFingerprint, &d.DeviceName, &d.IsApproved,
		&d.FirstSeenAt, &d.LastSeenAt, &d.ApprovedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}
