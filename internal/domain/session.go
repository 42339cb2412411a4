package domain

import "time"

type InvalidationReason string

const (
	InvalidationNewLogin    InvalidationReason = "new_login"
	InvalidationLogout      InvalidationReason = "logout"
	InvalidationAdminAction InvalidationReason = "admin_action"
	InvalidationExpired     InvalidationReason = "expired"
)

// UserSession stores a one-way hash of the bearer token, never the raw token.
// At most one session per user has IsActive=true.
type UserSession struct {
	ID                int64               `json:"id"`
	UserID            int64               `json:"user_id"`
	TokenHash         string              `json:"-"`
	DeviceFingerprint string              `json:"device_fingerprint,omitempty"`
	IPAddress         string              `json:"ip_address,omitempty"`
	UserAgent         string              `json:"user_agent,omitempty"`
	IsActive          bool                `json:"is_active"`
	ExpiresAt         time.Time           `json:"expires_at"`
	InvalidatedAt     *time.Time          `json:"invalidated_at,omitempty"`
	InvalidationReason *InvalidationReason `json:"invalidation_reason,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

func (s *UserSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// UserDevice is upserted at login, keyed by (user_id, device_fingerprint).
type UserDevice struct {
	ID                int64      `json:"id"`
	UserID            int64      `json:"user_id"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	DeviceName        string     `json:"device_name,omitempty"`
	IsApproved        bool       `json:"is_approved"`
	FirstSeenAt       time.Time  `json:"first_seen_at"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
}
