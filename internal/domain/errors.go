package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Conflicting-state errors (409)
var (
	ErrAlreadyClockedIn = errors.New("user already has an active attendance record")
	ErrNotClockedIn     = errors.New("user has no active attendance record")
)

// Facility / geofence errors (400)
var (
	ErrFacilityRequired     = errors.New("no facility specified and user has no assigned facility")
	ErrFacilityUnavailable  = errors.New("facility not found or inactive")
	ErrGeofenceUnconfigured = errors.New("facility has no registered coordinates")
)

// Session errors (401)
var (
	ErrSessionInvalidated  = errors.New("session has been invalidated")
	ErrAccountDeactivated  = errors.New("account is deactivated")
	ErrTokenExpired        = errors.New("session token has expired")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)

// Storage constraint errors, mapped from pg error codes by the repo layer.
var (
	ErrDuplicateEntry   = errors.New("duplicate entry")
	ErrInvalidReference = errors.New("referenced row does not exist")
	ErrNotFound         = errors.New("not found")
)

// ValidationError reports malformed input for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// GeofenceViolationError carries the measured distance and allowed radius so a
// client can self-correct without contacting support.
type GeofenceViolationError struct {
	DistanceMeters float64
	RadiusMeters   float64
}

func (e *GeofenceViolationError) Error() string {
	return fmt.Sprintf("outside facility geofence: %.0fm away, allowed radius %.0fm",
		e.DistanceMeters, e.RadiusMeters)
}

// SpoofingRejectedError carries the specific failed checks.
type SpoofingRejectedError struct {
	Reasons []string
	Flags   []string
}

func (e *SpoofingRejectedError) Error() string {
	return "location rejected: " + strings.Join(e.Reasons, "; ")
}
