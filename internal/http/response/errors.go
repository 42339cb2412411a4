package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fieldtrack/attendance/internal/domain"
	"github.com/fieldtrack/attendance/pkg/logger"
)

// ErrorResponse is the structured JSON error envelope.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Common error codes
const (
	CodeInvalidInput        = "INVALID_INPUT"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeRateLimit           = "RATE_LIMIT_EXCEEDED"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeExpiredToken        = "EXPIRED_TOKEN"
	CodeSessionInvalidated  = "SESSION_INVALIDATED"
	CodeAccountDeactivated  = "ACCOUNT_DEACTIVATED"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeAlreadyClockedIn    = "ALREADY_CLOCKED_IN"
	CodeNotClockedIn        = "NOT_CLOCKED_IN"
	CodeFacilityRequired    = "FACILITY_REQUIRED"
	CodeFacilityUnavailable = "FACILITY_UNAVAILABLE"
	CodeGeofenceUnconfigured = "GEOFENCE_UNCONFIGURED"
	CodeOutsideGeofence     = "OUTSIDE_GEOFENCE"
	CodeSpoofingRejected    = "LOCATION_REJECTED"
)

// WriteJSON writes any payload with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

// WriteError writes a structured JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, message, code string) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// WriteErrorWithDetails includes structured context alongside the message,
// such as geofence distances.
func WriteErrorWithDetails(w http.ResponseWriter, statusCode int, message, code string, details map[string]any) {
	WriteJSON(w, statusCode, ErrorResponse{Error: message, Code: code, Details: details})
}

func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message, CodeInvalidInput)
}

func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message, CodeUnauthorized)
}

func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, message, CodeForbidden)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message, CodeNotFound)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message, CodeInternalError)
}

func RateLimit(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, message, CodeRateLimit)
}

func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, message, CodeConflict)
}

// WriteDomainError maps domain errors onto HTTP statuses and stable codes.
// Unknown errors become a 500 without leaking internals.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *domain.ValidationError
	var geofenceErr *domain.GeofenceViolationError
	var spoofErr *domain.SpoofingRejectedError

	switch {
	case errors.As(err, &validationErr):
		WriteError(w, http.StatusBadRequest, validationErr.Error(), CodeInvalidInput)
	case errors.As(err, &geofenceErr):
		WriteErrorWithDetails(w, http.StatusUnprocessableEntity, geofenceErr.Error(), CodeOutsideGeofence, map[string]any{
			"distance_meters": geofenceErr.DistanceMeters,
			"radius_meters":   geofenceErr.RadiusMeters,
		})
	case errors.As(err, &spoofErr):
		WriteErrorWithDetails(w, http.StatusUnprocessableEntity, spoofErr.Error(), CodeSpoofingRejected, map[string]any{
			"reasons": spoofErr.Reasons,
			"flags":   spoofErr.Flags,
		})
	case errors.Is(err, domain.ErrAlreadyClockedIn):
		WriteError(w, http.StatusConflict, "already clocked in", CodeAlreadyClockedIn)
	case errors.Is(err, domain.ErrNotClockedIn):
		WriteError(w, http.StatusConflict, "no active attendance record", CodeNotClockedIn)
	case errors.Is(err, domain.ErrFacilityRequired):
		WriteError(w, http.StatusBadRequest, "facility_id is required", CodeFacilityRequired)
	case errors.Is(err, domain.ErrFacilityUnavailable):
		WriteError(w, http.StatusUnprocessableEntity, "facility not found or inactive", CodeFacilityUnavailable)
	case errors.Is(err, domain.ErrGeofenceUnconfigured):
		WriteError(w, http.StatusUnprocessableEntity, "facility has no geofence configured", CodeGeofenceUnconfigured)
	case errors.Is(err, domain.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "invalid email or password", CodeInvalidCredentials)
	case errors.Is(err, domain.ErrSessionInvalidated):
		WriteError(w, http.StatusUnauthorized, "session is no longer active", CodeSessionInvalidated)
	case errors.Is(err, domain.ErrAccountDeactivated):
		WriteError(w, http.StatusForbidden, "account is deactivated", CodeAccountDeactivated)
	case errors.Is(err, domain.ErrTokenExpired):
		WriteError(w, http.StatusUnauthorized, "token expired", CodeExpiredToken)
	case errors.Is(err, domain.ErrNotFound):
		NotFound(w, "resource not found")
	default:
		logger.ErrorContext(r.Context(), "Unhandled error", "error", err, "path", r.URL.Path)
		InternalError(w, "internal server error")
	}
}
