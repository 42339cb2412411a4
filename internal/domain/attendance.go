package domain

import "time"

type AttendanceStatus string

const (
	AttendanceActive    AttendanceStatus = "active"
	AttendanceCompleted AttendanceStatus = "completed"
	AttendanceCancelled AttendanceStatus = "cancelled"
)

func ParseAttendanceStatus(s string) (AttendanceStatus, bool) {
	switch AttendanceStatus(s) {
	case AttendanceActive, AttendanceCompleted, AttendanceCancelled:
		return AttendanceStatus(s), true
	default:
		return "", false
	}
}

type ValidationStatus string

const (
	ValidationVerified   ValidationStatus = "verified"
	ValidationUnverified ValidationStatus = "unverified"
	ValidationFlagged    ValidationStatus = "flagged"
	ValidationRejected   ValidationStatus = "rejected"
	ValidationApproved   ValidationStatus = "approved"
)

// ResolutionStrategy decides which side of a sync conflict wins.
// Unknown strings resolve to ServerWins; the reconciler logs the raw value.
type ResolutionStrategy string

const (
	ClientWins ResolutionStrategy = "client_wins"
	ServerWins ResolutionStrategy = "server_wins"
	Manual     ResolutionStrategy = "manual"
)

func ParseResolutionStrategy(s string) (ResolutionStrategy, bool) {
	switch ResolutionStrategy(s) {
	case ClientWins, ServerWins, Manual:
		return ResolutionStrategy(s), true
	default:
		return ServerWins, false
	}
}

type AttendanceRecord struct {
	ID         int64 `json:"id"`
	UserID     int64 `json:"user_id"`
	FacilityID int64 `json:"facility_id"`

	ClockInTime  time.Time  `json:"clock_in_time"`
	ClockOutTime *time.Time `json:"clock_out_time,omitempty"`

	ClockInLatitude   *float64 `json:"clock_in_latitude,omitempty"`
	ClockInLongitude  *float64 `json:"clock_in_longitude,omitempty"`
	ClockOutLatitude  *float64 `json:"clock_out_latitude,omitempty"`
	ClockOutLongitude *float64 `json:"clock_out_longitude,omitempty"`

	ClockInAccuracyMeters  *float64 `json:"clock_in_accuracy_meters,omitempty"`
	ClockOutAccuracyMeters *float64 `json:"clock_out_accuracy_meters,omitempty"`
	ClockInDistanceMeters  *float64 `json:"clock_in_distance_meters,omitempty"`
	ClockOutDistanceMeters *float64 `json:"clock_out_distance_meters,omitempty"`

	DeviceFingerprint string           `json:"device_fingerprint,omitempty"`
	ValidationStatus  ValidationStatus `json:"validation_status"`
	Status            AttendanceStatus `json:"status"`

	// Offline sync fields
	DeviceID         *string            `json:"device_id,omitempty"`
	ClientTimestamp  *time.Time         `json:"client_timestamp,omitempty"`
	ServerTimestamp  *time.Time         `json:"server_timestamp,omitempty"`
	Synced           bool               `json:"synced"`
	SyncVersion      int                `json:"sync_version"`
	ConflictStrategy ResolutionStrategy `json:"conflict_resolution_strategy,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether this record is the user's open session.
func (a *AttendanceRecord) IsActive() bool {
	return a.Status == AttendanceActive
}

// Duration returns the worked duration, zero while still clocked in.
func (a *AttendanceRecord) Duration() time.Duration {
	if a.ClockOutTime == nil {
		return 0
	}
	return a.ClockOutTime.Sub(a.ClockInTime)
}
