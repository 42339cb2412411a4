package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldtrack/attendance/internal/domain"
	"github.com/fieldtrack/attendance/pkg/events"
	"github.com/fieldtrack/attendance/pkg/logger"
)

// TimestampTolerance is the slack allowed when comparing client and server
// timestamps for equality.
const TimestampTolerance = time.Second

// MaxRecordAge is how far back a client timestamp may reach before it is
// worth a warning.
const MaxRecordAge = 30 * 24 * time.Hour

type Repository interface {
	FindByDeviceTimestamp(ctx context.Context, userID int64, deviceID string, clientTimestamp time.Time) (*domain.AttendanceRecord, error)
	Create(ctx context.Context, rec *domain.AttendanceRecord) (*domain.AttendanceRecord, error)
	UpdateMerged(ctx context.Context, rec *domain.AttendanceRecord) (*domain.AttendanceRecord, error)
}

// Record is one client-captured attendance row in a sync batch.
type Record struct {
	DeviceID        string     `json:"device_id"`
	ClientTimestamp time.Time  `json:"client_timestamp"`
	FacilityID      int64      `json:"facility_id"`
	ClockInTime     time.Time  `json:"clock_in_time"`
	ClockOutTime    *time.Time `json:"clock_out_time,omitempty"`
	Status          string     `json:"status"`

	ClockInLatitude   *float64 `json:"clock_in_latitude,omitempty"`
	ClockInLongitude  *float64 `json:"clock_in_longitude,omitempty"`
	ClockOutLatitude  *float64 `json:"clock_out_latitude,omitempty"`
	ClockOutLongitude *float64 `json:"clock_out_longitude,omitempty"`
	ClockInAccuracy   *float64 `json:"clock_in_accuracy_meters,omitempty"`
	ClockOutAccuracy  *float64 `json:"clock_out_accuracy_meters,omitempty"`

	DeviceFingerprint string         `json:"device_fingerprint,omitempty"`
	SyncVersion       int            `json:"sync_version"`
	Strategy          string         `json:"conflict_resolution_strategy,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type Action string

const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
	ActionNoChange Action = "no_change"
	ActionManual   Action = "manual_review"
)

type RecordResult struct {
	Index    int    `json:"index"`
	Action   Action `json:"action"`
	RecordID int64  `json:"record_id,omitempty"`
	Conflict bool   `json:"conflict,omitempty"`
	Warning  string `json:"warning,omitempty"`

	// Manual review pairs: neither side applied.
	Client *Record                  `json:"client,omitempty"`
	Server *domain.AttendanceRecord `json:"server,omitempty"`
}

type RecordError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

type Report struct {
	Inserted         int            `json:"inserted"`
	Updated          int            `json:"updated"`
	Conflicts        int            `json:"conflicts"`
	NoChange         int            `json:"no_change"`
	Results          []RecordResult `json:"results"`
	Errors           []RecordError  `json:"errors,omitempty"`
	ValidationErrors []RecordError  `json:"validation_errors,omitempty"`
}

// Reconciler merges offline-collected attendance batches into server state.
// Records are processed independently: one bad record never aborts the batch.
type Reconciler struct {
	repo Repository
	bus  events.Publisher
	now  func() time.Time
}

func NewReconciler(repo Repository, bus events.Publisher) *Reconciler {
	return &Reconciler{repo: repo, bus: bus, now: time.Now}
}

func (r *Reconciler) Reconcile(ctx context.Context, userID int64, records []Record) *Report {
	report := &Report{}

	for i, rec := range records {
		warning, err := r.validateRecord(rec)
		if err != nil {
			report.ValidationErrors = append(report.ValidationErrors, RecordError{Index: i, Message: err.Error()})
			continue
		}

		result, err := r.reconcileOne(ctx, userID, i, rec)
		if err != nil {
			report.Errors = append(report.Errors, RecordError{Index: i, Message: err.Error()})
			continue
		}
		result.Warning = warning

		switch result.Action {
		case ActionInserted:
			report.Inserted++
		case ActionUpdated:
			report.Updated++
		case ActionNoChange:
			report.NoChange++
		}
		if result.Conflict {
			report.Conflicts++
		}
		report.Results = append(report.Results, *result)
	}

	r.publishCompleted(ctx, userID, records, report)
	return report
}

func (r *Reconciler) validateRecord(rec Record) (warning string, err error) {
	if rec.DeviceID == "" {
		return "", &domain.ValidationError{Field: "device_id", Message: "required"}
	}
	if rec.ClientTimestamp.IsZero() {
		return "", &domain.ValidationError{Field: "client_timestamp", Message: "required"}
	}
	now := r.now()
	if rec.ClientTimestamp.After(now) {
		return "", &domain.ValidationError{Field: "client_timestamp", Message: "timestamp is in the future"}
	}
	if now.Sub(rec.ClientTimestamp) > MaxRecordAge {
		warning = fmt.Sprintf("client_timestamp is more than %d days old", int(MaxRecordAge.Hours()/24))
	}
	return warning, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, userID int64, index int, rec Record) (*RecordResult, error) {
	existing, err := r.repo.FindByDeviceTimestamp(ctx, userID, rec.DeviceID, rec.ClientTimestamp)
	if err != nil {
		return nil, fmt.Errorf("lookup failed: %w", err)
	}

	if existing == nil {
		inserted, err := r.repo.Create(ctx, r.toRecord(userID, rec))
		if err != nil {
			return nil, fmt.Errorf("insert failed: %w", err)
		}
		return &RecordResult{Index: index, Action: ActionInserted, RecordID: inserted.ID}, nil
	}

	if rec.SyncVersion == existing.SyncVersion && criticalFieldsEqual(rec, existing) {
		return &RecordResult{Index: index, Action: ActionNoChange, RecordID: existing.ID}, nil
	}

	// Conflict: same dedupe key, diverged content.
	strategy, known := domain.ParseResolutionStrategy(rec.Strategy)
	if !known && rec.Strategy != "" {
		logger.WarnContext(ctx, "Unknown conflict resolution strategy, falling back to server_wins",
			"strategy", rec.Strategy, "device_id", rec.DeviceID)
	}

	switch strategy {
	case domain.ClientWins:
		merged := r.merge(rec, existing)
		updated, err := r.repo.UpdateMerged(ctx, merged)
		if err != nil {
			return nil, fmt.Errorf("merge update failed: %w", err)
		}
		return &RecordResult{Index: index, Action: ActionUpdated, RecordID: updated.ID, Conflict: true}, nil

	case domain.Manual:
		// Neither side is applied; surface the pair for human review.
		clientCopy := rec
		return &RecordResult{
			Index:    index,
			Action:   ActionManual,
			RecordID: existing.ID,
			Conflict: true,
			Client:   &clientCopy,
			Server:   existing,
		}, nil

	default: // domain.ServerWins
		return &RecordResult{Index: index, Action: ActionNoChange, RecordID: existing.ID, Conflict: true}, nil
	}
}

// merge prefers client field values but always keeps the server-assigned
// identity (id, created_at), and bumps sync_version past both sides.
func (r *Reconciler) merge(client Record, server *domain.AttendanceRecord) *domain.AttendanceRecord {
	merged := *server

	merged.FacilityID = client.FacilityID
	merged.ClockInTime = client.ClockInTime
	merged.ClockOutTime = client.ClockOutTime
	merged.ClockInLatitude = client.ClockInLatitude
	merged.ClockInLongitude = client.ClockInLongitude
	merged.ClockOutLatitude = client.ClockOutLatitude
	merged.ClockOutLongitude = client.ClockOutLongitude
	merged.ClockInAccuracyMeters = client.ClockInAccuracy
	merged.ClockOutAccuracyMeters = client.ClockOutAccuracy
	if client.DeviceFingerprint != "" {
		merged.DeviceFingerprint = client.DeviceFingerprint
	}
	if status, ok := domain.ParseAttendanceStatus(client.Status); ok {
		merged.Status = status
	}

	version := client.SyncVersion
	if server.SyncVersion > version {
		version = server.SyncVersion
	}
	merged.SyncVersion = version + 1
	merged.Synced = true
	now := r.now()
	merged.ServerTimestamp = &now

	if merged.Metadata == nil {
		merged.Metadata = map[string]any{}
	}
	for k, v := range client.Metadata {
		merged.Metadata[k] = v
	}
	merged.Metadata["conflict_resolved"] = true
	merged.Metadata["resolution_strategy"] = string(domain.ClientWins)
	merged.Metadata["resolved_at"] = now.UTC().Format(time.RFC3339)

	return &merged
}

func (r *Reconciler) toRecord(userID int64, rec Record) *domain.AttendanceRecord {
	now := r.now()
	status := domain.AttendanceCompleted
	if parsed, ok := domain.ParseAttendanceStatus(rec.Status); ok {
		status = parsed
	}

	version := rec.SyncVersion
	if version < 1 {
		version = 1
	}

	deviceID := rec.DeviceID
	clientTS := rec.ClientTimestamp
	strategy, _ := domain.ParseResolutionStrategy(rec.Strategy)

	return &domain.AttendanceRecord{
		UserID:                 userID,
		FacilityID:             rec.FacilityID,
		ClockInTime:            rec.ClockInTime,
		ClockOutTime:           rec.ClockOutTime,
		ClockInLatitude:        rec.ClockInLatitude,
		ClockInLongitude:       rec.ClockInLongitude,
		ClockOutLatitude:       rec.ClockOutLatitude,
		ClockOutLongitude:      rec.ClockOutLongitude,
		ClockInAccuracyMeters:  rec.ClockInAccuracy,
		ClockOutAccuracyMeters: rec.ClockOutAccuracy,
		DeviceFingerprint:      rec.DeviceFingerprint,
		ValidationStatus:       domain.ValidationUnverified,
		Status:                 status,
		DeviceID:               &deviceID,
		ClientTimestamp:        &clientTS,
		ServerTimestamp:        &now,
		Synced:                 true,
		SyncVersion:            version,
		ConflictStrategy:       strategy,
		Metadata:               rec.Metadata,
	}
}

// criticalFieldsEqual compares the fields whose divergence makes a conflict.
// Timestamps tolerate up to one second of skew.
func criticalFieldsEqual(client Record, server *domain.AttendanceRecord) bool {
	if !timesClose(client.ClockInTime, server.ClockInTime) {
		return false
	}
	if (client.ClockOutTime == nil) != (server.ClockOutTime == nil) {
		return false
	}
	if client.ClockOutTime != nil && !timesClose(*client.ClockOutTime, *server.ClockOutTime) {
		return false
	}
	if status, ok := domain.ParseAttendanceStatus(client.Status); ok && status != server.Status {
		return false
	}
	return true
}

func timesClose(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= TimestampTolerance
}

func (r *Reconciler) publishCompleted(ctx context.Context, userID int64, records []Record, report *Report) {
	deviceID := ""
	if len(records) > 0 {
		deviceID = records[0].DeviceID
	}
	if err := r.bus.Publish(ctx, events.SyncBatchCompleted, events.SyncBatchCompletedEvent{
		UserID:     userID,
		DeviceID:   deviceID,
		Inserted:   report.Inserted,
		Updated:    report.Updated,
		Conflicts:  report.Conflicts,
		Errors:     len(report.Errors) + len(report.ValidationErrors),
		FinishedAt: r.now(),
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish sync completion event", "error", err, "user_id", userID)
	}
}
