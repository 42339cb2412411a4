package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldtrack/attendance/internal/domain"
)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionCols = `id, user_id, token_hash, device_fingerprint, ip_address, user_agent,
is_active, expires_at, invalidated_at, invalidation_reason, created_at`

func scanSession(row pgx.Row) (*domain.UserSession, error) {
	var s domain.UserSession
	err := row.Scan(
		&s.ID, &s.UserID, &s.TokenHash, &s.DeviceFingerprint, &s.IPAddress, &s.UserAgent,
		&s.IsActive, &s.ExpiresAt, &s.InvalidatedAt, &s.InvalidationReason, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateReplacing invalidates every active session for the user and inserts
// the new one, both inside one transaction so the partial unique index on
// user_sessions(user_id) WHERE is_active never trips.
func (r *SessionRepo) CreateReplacing(ctx context.Context, s *domain.UserSession) (*domain.UserSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const invalidate = `UPDATE user_sessions
	SET is_active=false, invalidated_at=now(), invalidation_reason='new_login'
	WHERE user_id=$1 AND is_active`

	if _, err := tx.Exec(ctx, invalidate, s.UserID); err != nil {
		return nil, mapError(err)
	}

	const insert = `INSERT INTO user_sessions (
		user_id, token_hash, device_fingerprint, ip_address, user_agent, is_active, expires_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	RETURNING ` + sessionCols

	created, err := scanSession(tx.QueryRow(ctx, insert,
		s.UserID, s.TokenHash, s.DeviceFingerprint, s.IPAddress, s.UserAgent, s.IsActive, s.ExpiresAt,
	))
	if err != nil {
		return nil, mapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *SessionRepo) FindActiveByTokenHash(ctx context.Context, tokenHash string) (*domain.UserSession, *domain.User, error) {
	const q = `SELECT s.id, s.user_id, s.token_hash, s.device_fingerprint, s.ip_address, s.user_agent,
		s.is_active, s.expires_at, s.invalidated_at, s.invalidation_reason, s.created_at,
		u.id, u.email, u.name, u.role, u.password_hash, u.facility_id, u.is_active, u.created_at, u.updated_at
	FROM user_sessions s
	JOIN users u ON u.id = s.user_id
	WHERE s.token_hash=$1 AND s.is_active`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var s domain.UserSession
	var u domain.User
	err := r.pool.QueryRow(ctx, q, tokenHash).Scan(
		&s.ID, &s.UserID, &s.TokenHash, &s.DeviceFingerprint, &s.IPAddress, &s.UserAgent,
		&s.IsActive, &s.ExpiresAt, &s.InvalidatedAt, &s.InvalidationReason, &s.CreatedAt,
		&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &u.FacilityID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, mapError(err)
	}
	return &s, &u, nil
}

func (r *SessionRepo) Invalidate(ctx context.Context, sessionID int64, reason domain.InvalidationReason) error {
	const q = `UPDATE user_sessions
	SET is_active=false, invalidated_at=now(), invalidation_reason=$2
	WHERE id=$1 AND is_active`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, sessionID, string(reason))
	return mapError(err)
}

func (r *SessionRepo) InvalidateExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE user_sessions
	SET is_active=false, invalidated_at=$1, invalidation_reason='expired'
	WHERE is_active AND expires_at < $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}
