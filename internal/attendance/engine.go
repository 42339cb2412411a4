package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldtrack/attendance/internal/domain"
	"github.com/fieldtrack/attendance/internal/geofence"
	"github.com/fieldtrack/attendance/internal/spoofing"
	"github.com/fieldtrack/attendance/pkg/events"
	"github.com/fieldtrack/attendance/pkg/logger"
)

type Repository interface {
	GetActiveByUser(ctx context.Context, userID int64) (*domain.AttendanceRecord, error)
	Create(ctx context.Context, rec *domain.AttendanceRecord) (*domain.AttendanceRecord, error)
	CompleteClockOut(ctx context.Context, rec *domain.AttendanceRecord) (*domain.AttendanceRecord, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.AttendanceRecord, error)
}

type GeofenceValidator interface {
	Validate(ctx context.Context, facilityID int64, lat, lon float64) (*geofence.Result, error)
}

type SpoofingDetector interface {
	Check(ctx context.Context, userID int64, in spoofing.Input) (*spoofing.Result, error)
}

type AuditSink interface {
	AppendActivity(ctx context.Context, userID int64, action, entityType string, entityID int64, description string, metadata map[string]any) error
}

type ClockInInput struct {
	FacilityID        *int64     `json:"facility_id,omitempty"`
	Latitude          *float64   `json:"latitude,omitempty"`
	Longitude         *float64   `json:"longitude,omitempty"`
	AccuracyMeters    *float64   `json:"accuracy_meters,omitempty"`
	IsMocked          bool       `json:"is_mocked"`
	Offline           bool       `json:"offline"`
	DeviceFingerprint string     `json:"device_fingerprint,omitempty"`
	DeviceID          *string    `json:"device_id,omitempty"`
	ClientTimestamp   *time.Time `json:"client_timestamp,omitempty"`
}

type ClockOutInput struct {
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	AccuracyMeters *float64 `json:"accuracy_meters,omitempty"`
	IsMocked       bool     `json:"is_mocked"`
	Offline        bool     `json:"offline"`
}

// Engine drives the clock-in/out state machine: NONE -> ACTIVE -> COMPLETED.
// All validation happens before any write; a failed operation persists nothing.
type Engine struct {
	repo     Repository
	geofence GeofenceValidator
	spoofing SpoofingDetector
	audit    AuditSink
	bus      events.Publisher
}

func NewEngine(repo Repository, gv GeofenceValidator, sd SpoofingDetector, audit AuditSink, bus events.Publisher) *Engine {
	return &Engine{
		repo:     repo,
		geofence: gv,
		spoofing: sd,
		audit:    audit,
		bus:      bus,
	}
}

// spatialCheck is the shared online validation path for both transitions.
type spatialCheck struct {
	distanceMeters float64
	warnings       []string
	flags          []string
}

func (e *Engine) validateSpatial(ctx context.Context, userID, facilityID int64, lat, lon, accuracy *float64, isMocked bool) (*spatialCheck, error) {
	if lat == nil || lon == nil {
		return nil, &domain.ValidationError{Field: "latitude/longitude", Message: "required for online attendance events"}
	}
	if accuracy == nil {
		return nil, &domain.ValidationError{Field: "accuracy_meters", Message: "required for online attendance events"}
	}

	spoofRes, err := e.spoofing.Check(ctx, userID, spoofing.Input{
		Latitude:       *lat,
		Longitude:      *lon,
		AccuracyMeters: *accuracy,
		IsMocked:       isMocked,
		ObservedAt:     time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("spoofing check failed: %w", err)
	}
	if !spoofRes.Passed {
		return nil, &domain.SpoofingRejectedError{Reasons: spoofRes.Errors, Flags: spoofRes.Flags}
	}

	geoRes, err := e.geofence.Validate(ctx, facilityID, *lat, *lon)
	if err != nil {
		return nil, err
	}
	if !geoRes.WithinRadius {
		return nil, &domain.GeofenceViolationError{
			DistanceMeters: geoRes.DistanceMeters,
			RadiusMeters:   geoRes.RadiusMeters,
		}
	}

	return &spatialCheck{
		distanceMeters: geoRes.DistanceMeters,
		warnings:       spoofRes.Warnings,
		flags:          spoofRes.Flags,
	}, nil
}

func (e *Engine) ClockIn(ctx context.Context, user *domain.User, in ClockInInput) (*domain.AttendanceRecord, error) {
	active, err := e.repo.GetActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active attendance: %w", err)
	}
	if active != nil {
		return nil, domain.ErrAlreadyClockedIn
	}

	facilityID, err := resolveFacility(in.FacilityID, user)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &domain.AttendanceRecord{
		UserID:            user.ID,
		FacilityID:        facilityID,
		ClockInTime:       now,
		DeviceFingerprint: in.DeviceFingerprint,
		Status:            domain.AttendanceActive,
		SyncVersion:       1,
		Synced:            true,
		DeviceID:          in.DeviceID,
		ClientTimestamp:   in.ClientTimestamp,
	}

	if in.Offline {
		// Offline events carry no trustworthy spatial data; they stay
		// unverified until someone reviews them.
		rec.ValidationStatus = domain.ValidationUnverified
		rec.Synced = false
		rec.ClockInLatitude = in.Latitude
		rec.ClockInLongitude = in.Longitude
		rec.ClockInAccuracyMeters = in.AccuracyMeters
		if in.ClientTimestamp != nil {
			rec.ClockInTime = *in.ClientTimestamp
		}
	} else {
		check, err := e.validateSpatial(ctx, user.ID, facilityID, in.Latitude, in.Longitude, in.AccuracyMeters, in.IsMocked)
		if err != nil {
			return nil, err
		}
		rec.ClockInLatitude = in.Latitude
		rec.ClockInLongitude = in.Longitude
		rec.ClockInAccuracyMeters = in.AccuracyMeters
		rec.ClockInDistanceMeters = &check.distanceMeters
		rec.ValidationStatus = domain.ValidationVerified
		if len(check.warnings) > 0 {
			rec.ValidationStatus = domain.ValidationFlagged
			rec.Metadata = map[string]any{
				"spoofing_warnings": check.warnings,
				"spoofing_flags":    check.flags,
			}
		}
	}

	created, err := e.repo.Create(ctx, rec)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEntry) {
			// The partial unique index caught a concurrent clock-in that
			// slipped past the existence check.
			return nil, domain.ErrAlreadyClockedIn
		}
		return nil, fmt.Errorf("failed to create attendance record: %w", err)
	}

	e.appendAudit(ctx, user.ID, "clock_in", created.ID,
		fmt.Sprintf("clocked in at facility %d (%s)", facilityID, created.ValidationStatus),
		map[string]any{"facility_id": facilityID, "offline": in.Offline})
	e.publishClock(ctx, events.AttendanceClockIn, created, in.Offline)

	if created.ValidationStatus == domain.ValidationFlagged {
		e.publishFlagged(ctx, created)
	}

	return created, nil
}

func (e *Engine) ClockOut(ctx context.Context, user *domain.User, in ClockOutInput) (*domain.AttendanceRecord, error) {
	active, err := e.repo.GetActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active attendance: %w", err)
	}
	if active == nil {
		return nil, domain.ErrNotClockedIn
	}

	var check *spatialCheck
	if !in.Offline {
		check, err = e.validateSpatial(ctx, user.ID, active.FacilityID, in.Latitude, in.Longitude, in.AccuracyMeters, in.IsMocked)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()
	active.ClockOutTime = &now
	active.ClockOutLatitude = in.Latitude
	active.ClockOutLongitude = in.Longitude
	active.ClockOutAccuracyMeters = in.AccuracyMeters

	if in.Offline {
		active.ValidationStatus = domain.ValidationUnverified
	} else {
		active.ClockOutDistanceMeters = &check.distanceMeters
		if len(check.warnings) > 0 {
			active.ValidationStatus = domain.ValidationFlagged
			if active.Metadata == nil {
				active.Metadata = map[string]any{}
			}
			active.Metadata["clock_out_warnings"] = check.warnings
		}
	}

	active.Status = domain.AttendanceCompleted

	updated, err := e.repo.CompleteClockOut(ctx, active)
	if err != nil {
		return nil, fmt.Errorf("failed to complete clock-out: %w", err)
	}

	duration := updated.Duration()
	logger.InfoContext(ctx, "Attendance completed",
		"attendance_id", updated.ID,
		"user_id", user.ID,
		"facility_id", updated.FacilityID,
		"duration_minutes", duration.Minutes(),
	)

	e.appendAudit(ctx, user.ID, "clock_out", updated.ID,
		fmt.Sprintf("clocked out after %s", duration.Round(time.Minute)),
		map[string]any{"facility_id": updated.FacilityID, "duration_seconds": duration.Seconds(), "offline": in.Offline})
	e.publishClock(ctx, events.AttendanceClockOut, updated, in.Offline)

	return updated, nil
}

// Active returns the user's open attendance record, nil when clocked out.
func (e *Engine) Active(ctx context.Context, userID int64) (*domain.AttendanceRecord, error) {
	return e.repo.GetActiveByUser(ctx, userID)
}

func (e *Engine) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]domain.AttendanceRecord, error) {
	return e.repo.ListByUser(ctx, userID, limit, offset)
}

func resolveFacility(input *int64, user *domain.User) (int64, error) {
	if input != nil {
		return *input, nil
	}
	if user.FacilityID != nil {
		return *user.FacilityID, nil
	}
	return 0, domain.ErrFacilityRequired
}

func (e *Engine) appendAudit(ctx context.Context, userID int64, action string, entityID int64, description string, metadata map[string]any) {
	if err := e.audit.AppendActivity(ctx, userID, action, "attendance", entityID, description, metadata); err != nil {
		logger.WarnContext(ctx, "Failed to append activity log", "error", err, "action", action)
	}
}

func (e *Engine) publishClock(ctx context.Context, subject string, rec *domain.AttendanceRecord, offline bool) {
	ev := events.ClockEvent{
		AttendanceID:     rec.ID,
		UserID:           rec.UserID,
		FacilityID:       rec.FacilityID,
		ClockInTime:      rec.ClockInTime,
		ClockOutTime:     rec.ClockOutTime,
		ValidationStatus: string(rec.ValidationStatus),
		Offline:          offline,
	}
	if subject == events.AttendanceClockIn {
		ev.DistanceMeters = rec.ClockInDistanceMeters
	} else {
		ev.DistanceMeters = rec.ClockOutDistanceMeters
	}
	if err := e.bus.Publish(ctx, subject, ev); err != nil {
		logger.ErrorContext(ctx, "Failed to publish attendance event", "error", err, "subject", subject)
	}
}

func (e *Engine) publishFlagged(ctx context.Context, rec *domain.AttendanceRecord) {
	warnings, _ := rec.Metadata["spoofing_warnings"].([]string)
	flags, _ := rec.Metadata["spoofing_flags"].([]string)
	if err := e.bus.Publish(ctx, events.AttendanceFlagged, events.AttendanceFlaggedEvent{
		AttendanceID: rec.ID,
		UserID:       rec.UserID,
		FacilityID:   rec.FacilityID,
		Warnings:     warnings,
		Flags:        flags,
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish flagged event", "error", err, "attendance_id", rec.ID)
	}
}
