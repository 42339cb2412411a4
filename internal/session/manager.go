package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fieldtrack/attendance/internal/domain"
	"github.com/fieldtrack/attendance/pkg/events"
	"github.com/fieldtrack/attendance/pkg/logger"
)

type Repository interface {
	// CreateReplacing invalidates every active session for the user with
	// reason new_login and inserts the new row, all in one transaction.
	CreateReplacing(ctx context.Context, s *domain.UserSession) (*domain.UserSession, error)
	// FindActiveByTokenHash returns the active session with its user,
	// regardless of expiry; expiry is judged by the caller.
	FindActiveByTokenHash(ctx context.Context, tokenHash string) (*domain.UserSession, *domain.User, error)
	Invalidate(ctx context.Context, sessionID int64, reason domain.InvalidationReason) error
	InvalidateExpired(ctx context.Context, now time.Time) (int64, error)
}

type DeviceRepository interface {
	Upsert(ctx context.Context, userID int64, fingerprint, deviceName string) (*domain.UserDevice, error)
}

// Metadata captured alongside a new session.
type Metadata struct {
	DeviceFingerprint string
	DeviceName        string
	IPAddress         string
	UserAgent         string
}

// HashToken returns the hex SHA-256 of a raw bearer token. Only this hash is
// ever stored.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Manager enforces the single-active-session invariant and validates bearer
// tokens on every authenticated request.
type Manager struct {
	sessions Repository
	devices  DeviceRepository
	bus      events.Publisher
	ttl      time.Duration
	now      func() time.Time
}

func NewManager(sessions Repository, devices DeviceRepository, bus events.Publisher, ttl time.Duration) *Manager {
	return &Manager{
		sessions: sessions,
		devices:  devices,
		bus:      bus,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create issues a session for the raw token, invalidating all prior active
// sessions for the user first.
func (m *Manager) Create(ctx context.Context, userID int64, rawToken string, meta Metadata) (*domain.UserSession, error) {
	sess := &domain.UserSession{
		UserID:            userID,
		TokenHash:         HashToken(rawToken),
		DeviceFingerprint: meta.DeviceFingerprint,
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
		IsActive:          true,
		ExpiresAt:         m.now().Add(m.ttl),
	}

	created, err := m.sessions.CreateReplacing(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if meta.DeviceFingerprint != "" {
		if _, err := m.devices.Upsert(ctx, userID, meta.DeviceFingerprint, meta.DeviceName); err != nil {
			logger.WarnContext(ctx, "Failed to upsert user device", "error", err, "user_id", userID)
		}
	}

	if err := m.bus.Publish(ctx, events.SessionCreated, events.SessionEvent{
		SessionID: created.ID,
		UserID:    userID,
	}); err != nil {
		logger.DebugContext(ctx, "Failed to publish session event", "error", err)
	}

	return created, nil
}

// Validate resolves a raw bearer token into its session and user, with
// precise failure reasons so clients can surface the right remediation.
func (m *Manager) Validate(ctx context.Context, rawToken string) (*domain.UserSession, *domain.User, error) {
	sess, user, err := m.sessions.FindActiveByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return nil, nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if sess == nil {
		return nil, nil, domain.ErrSessionInvalidated
	}
	if user == nil || !user.IsActive {
		return nil, nil, domain.ErrAccountDeactivated
	}
	if sess.Expired(m.now()) {
		return nil, nil, domain.ErrTokenExpired
	}
	return sess, user, nil
}

// Logout marks the specific session inactive.
func (m *Manager) Logout(ctx context.Context, sess *domain.UserSession) error {
	return m.invalidate(ctx, sess, domain.InvalidationLogout)
}

// AdminInvalidate revokes a session on behalf of an administrator.
func (m *Manager) AdminInvalidate(ctx context.Context, sess *domain.UserSession) error {
	return m.invalidate(ctx, sess, domain.InvalidationAdminAction)
}

func (m *Manager) invalidate(ctx context.Context, sess *domain.UserSession, reason domain.InvalidationReason) error {
	if err := m.sessions.Invalidate(ctx, sess.ID, reason); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	if err := m.bus.Publish(ctx, events.SessionInvalidated, events.SessionEvent{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Reason:    string(reason),
	}); err != nil {
		logger.DebugContext(ctx, "Failed to publish session event", "error", err)
	}
	return nil
}

// CleanupExpired sweeps sessions past their expiry, marking them inactive
// with reason expired. Housekeeping only; never on the request path.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.sessions.InvalidateExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("session cleanup failed: %w", err)
	}
	if n > 0 {
		logger.InfoContext(ctx, "Expired sessions cleaned up", "count", n)
	}
	return n, nil
}
