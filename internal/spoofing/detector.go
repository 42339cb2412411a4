package spoofing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/fieldtrack/attendance/internal/geofence"
	"github.com/fieldtrack/attendance/pkg/logger"
)

// Check thresholds.
const (
	MaxAccuracyMeters        = 500
	SuspiciousAccuracyMeters = 1
	MaxSpeedKMH              = 150
	NullIslandEpsilonDegrees = 0.01
)

// Flags attached to detection results.
const (
	FlagMockLocation       = "mock_location"
	FlagLowAccuracy        = "low_accuracy"
	FlagSuspiciousAccuracy = "suspicious_accuracy"
	FlagNullIsland         = "null_island"
	FlagLowPrecision       = "low_precision"
	FlagImpossibleSpeed    = "impossible_speed"
)

// LocationPoint is a user's last known position with its capture time.
type LocationPoint struct {
	Latitude  float64
	Longitude float64
	At        time.Time
}

// LastLocationSource returns the user's most recent clock-in location, or nil
// when the user has no location history.
type LastLocationSource interface {
	LastKnownLocation(ctx context.Context, userID int64) (*LocationPoint, error)
}

// AuditSink records detection rejections for later review. The impossible-speed
// write is awaited so repeat offenders stay traceable even if the caller aborts.
type AuditSink interface {
	AppendActivity(ctx context.Context, userID int64, action, entityType string, entityID int64, description string, metadata map[string]any) error
}

type Input struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	IsMocked       bool
	ObservedAt     time.Time
}

type Result struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Flags    []string `json:"flags,omitempty"`
}

func (r *Result) fail(flag, msg string) {
	r.Passed = false
	r.Errors = append(r.Errors, msg)
	r.Flags = append(r.Flags, flag)
}

func (r *Result) warn(flag, msg string) {
	r.Warnings = append(r.Warnings, msg)
	r.Flags = append(r.Flags, flag)
}

type Detector struct {
	locations LastLocationSource
	audit     AuditSink
	distance  geofence.DistanceFunc

	maxAccuracy        float64
	suspiciousAccuracy float64
	maxSpeedKMH        float64
}

func NewDetector(locations LastLocationSource, audit AuditSink) *Detector {
	return &Detector{
		locations:          locations,
		audit:              audit,
		distance:           geofence.Haversine,
		maxAccuracy:        MaxAccuracyMeters,
		suspiciousAccuracy: SuspiciousAccuracyMeters,
		maxSpeedKMH:        MaxSpeedKMH,
	}
}

// Tune overrides the default detection thresholds. Zero values keep the
// current setting.
func (d *Detector) Tune(maxAccuracyMeters, suspiciousAccuracyMeters, maxSpeedKMH float64) {
	if maxAccuracyMeters > 0 {
		d.maxAccuracy = maxAccuracyMeters
	}
	if suspiciousAccuracyMeters > 0 {
		d.suspiciousAccuracy = suspiciousAccuracyMeters
	}
	if maxSpeedKMH > 0 {
		d.maxSpeedKMH = maxSpeedKMH
	}
}

// Check runs the independent detection checks and aggregates their outcome.
// Hard failures set Passed=false; warnings never block.
func (d *Detector) Check(ctx context.Context, userID int64, in Input) (*Result, error) {
	res := &Result{Passed: true}

	d.checkMockFlag(in, res)
	d.checkAccuracy(in, res)
	d.checkCoordinates(in, res)

	if err := d.checkTravelSpeed(ctx, userID, in, res); err != nil {
		return nil, err
	}

	return res, nil
}

func (d *Detector) checkMockFlag(in Input, res *Result) {
	if in.IsMocked {
		res.fail(FlagMockLocation, "device reported a mock location provider")
	}
}

func (d *Detector) checkAccuracy(in Input, res *Result) {
	if in.AccuracyMeters > d.maxAccuracy {
		res.fail(FlagLowAccuracy, fmt.Sprintf("GPS accuracy %.0fm exceeds the %.0fm limit",
			in.AccuracyMeters, d.maxAccuracy))
		return
	}
	if in.AccuracyMeters > 0 && in.AccuracyMeters < d.suspiciousAccuracy {
		// Sub-meter accuracy is beyond consumer GPS hardware.
		res.warn(FlagSuspiciousAccuracy, fmt.Sprintf("GPS accuracy %.2fm is implausibly precise",
			in.AccuracyMeters))
	}
}

func (d *Detector) checkCoordinates(in Input, res *Result) {
	lat, lon := in.Latitude, in.Longitude

	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		res.fail(FlagNullIsland, "coordinates are not finite numbers")
		return
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		res.fail(FlagNullIsland, fmt.Sprintf("coordinates (%.4f, %.4f) are out of range", lat, lon))
		return
	}
	if math.Abs(lat) < NullIslandEpsilonDegrees && math.Abs(lon) < NullIslandEpsilonDegrees {
		res.fail(FlagNullIsland, "coordinates are at Null Island (0,0), typical of a broken GPS fix")
		return
	}
	if lowPrecision(lat) && lowPrecision(lon) {
		res.warn(FlagLowPrecision, "coordinates carry fewer than 3 decimal places")
	}
}

// lowPrecision reports whether v has fewer than 3 meaningful decimal places
// and is not exactly zero.
func lowPrecision(v float64) bool {
	if v == 0 {
		return false
	}
	scaled := v * 100
	return math.Abs(scaled-math.Round(scaled)) < 1e-9
}

func (d *Detector) checkTravelSpeed(ctx context.Context, userID int64, in Input, res *Result) error {
	last, err := d.locations.LastKnownLocation(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load last known location for user %d: %w", userID, err)
	}
	if last == nil {
		// No prior location: check not applicable.
		return nil
	}

	observedAt := in.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	elapsed := observedAt.Sub(last.At)

	dist := d.distance(last.Latitude, last.Longitude, in.Latitude, in.Longitude)

	var speedKMH float64
	if elapsed <= 0 {
		// Non-monotonic clock: treat as impossible travel.
		speedKMH = math.Inf(1)
	} else {
		speedKMH = (dist / 1000) / elapsed.Hours()
	}

	if speedKMH <= d.maxSpeedKMH {
		return nil
	}

	msg := fmt.Sprintf("implied travel speed %.0f km/h over %.0fm exceeds the %.0f km/h limit",
		speedKMH, dist, d.maxSpeedKMH)
	if elapsed <= 0 {
		msg = fmt.Sprintf("location moved %.0fm with zero or negative elapsed time", dist)
	}
	res.fail(FlagImpossibleSpeed, msg)

	// This audit write is awaited on purpose: speed rejections must be traceable.
	if auditErr := d.audit.AppendActivity(ctx, userID, "spoofing_rejected", "attendance", 0, msg, map[string]any{
		"flag":            FlagImpossibleSpeed,
		"distance_meters": dist,
		"elapsed_seconds": elapsed.Seconds(),
		"latitude":        in.Latitude,
		"longitude":       in.Longitude,
	}); auditErr != nil {
		logger.ErrorContext(ctx, "Failed to record impossible-speed rejection",
			"error", auditErr, "user_id", userID)
	}

	return nil
}
