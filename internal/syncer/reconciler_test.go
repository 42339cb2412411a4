package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldtrack/attendance/internal/domain"
)

// ---------- Mocks ----------

type mockRepo struct {
	nextID  int64
	byKey   map[string]*domain.AttendanceRecord
	findErr error
	insErr  error
}

func newMockRepo() *mockRepo {
	return &mockRepo{nextID: 100, byKey: make(map[string]*domain.AttendanceRecord)}
}

func key(deviceID string, ts time.Time) string {
	return deviceID + "|" + ts.UTC().Format(time.RFC3339Nano)
}

func (m *mockRepo) FindByDeviceTimestamp(_ context.Context, _ int64, deviceID string, ts time.Time) (*domain.AttendanceRecord, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byKey[key(deviceID, ts)], nil
}

func (m *mockRepo) Create(_ context.Context, rec *domain.AttendanceRecord) (*domain.AttendanceRecord, error) {
	if m.insErr != nil {
		return nil, m.insErr
	}
	rec.ID = m.nextID
	m.nextID++
	rec.CreatedAt = time.Now()
	m.byKey[key(*rec.DeviceID, *rec.ClientTimestamp)] = rec
	return rec, nil
}

func (m *mockRepo) UpdateMerged(_ context.Context, rec *domain.AttendanceRecord) (*domain.AttendanceRecord, error) {
	m.byKey[key(*rec.DeviceID, *rec.ClientTimestamp)] = rec
	return rec, nil
}

func (m *mockRepo) seed(rec *domain.AttendanceRecord) {
	m.byKey[key(*rec.DeviceID, *rec.ClientTimestamp)] = rec
}

type nopBus struct{}

func (nopBus) Publish(context.Context, string, interface{}) error { return nil }
func (nopBus) Close() error                                       { return nil }

// ---------- Helpers ----------

func f64(v float64) *float64 { return &v }

func baseTime() time.Time {
	return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
}

func clientRecord(deviceID string) Record {
	ts := baseTime()
	out := ts.Add(8 * time.Hour)
	return Record{
		DeviceID:        deviceID,
		ClientTimestamp: ts,
		FacilityID:      3,
		ClockInTime:     ts,
		ClockOutTime:    &out,
		Status:          "completed",
		ClockInLatitude: f64(-1.9540), ClockInLongitude: f64(30.0609),
		SyncVersion: 1,
	}
}

func serverRecord(deviceID string) *domain.AttendanceRecord {
	ts := baseTime()
	out := ts.Add(8 * time.Hour)
	deviceCopy := deviceID
	created := ts.Add(time.Minute)
	return &domain.AttendanceRecord{
		ID:              500,
		UserID:          7,
		FacilityID:      3,
		ClockInTime:     ts,
		ClockOutTime:    &out,
		Status:          domain.AttendanceCompleted,
		DeviceID:        &deviceCopy,
		ClientTimestamp: &ts,
		SyncVersion:     1,
		Synced:          true,
		CreatedAt:       created,
	}
}

func newTestReconciler(repo *mockRepo) *Reconciler {
	r := NewReconciler(repo, nopBus{})
	r.now = func() time.Time { return baseTime().Add(24 * time.Hour) }
	return r
}

// ---------- Tests ----------

func TestReconcile_InsertNewRecord(t *testing.T) {
	repo := newMockRepo()
	r := newTestReconciler(repo)

	report := r.Reconcile(context.Background(), 7, []Record{clientRecord("dev-1")})

	assert.Equal(t, 1, report.Inserted)
	assert.Zero(t, report.Conflicts)
	require.Len(t, report.Results, 1)
	assert.Equal(t, ActionInserted, report.Results[0].Action)

	stored := repo.byKey[key("dev-1", baseTime())]
	require.NotNil(t, stored)
	assert.Equal(t, int64(7), stored.UserID)
	assert.True(t, stored.Synced)
	assert.Equal(t, domain.ValidationUnverified, stored.ValidationStatus)
	assert.Equal(t, 1, stored.SyncVersion)
}

func TestReconcile_NoChangeWithinTolerance(t *testing.T) {
	repo := newMockRepo()
	server := serverRecord("dev-1")
	// Server clock-in differs by 800ms: inside the 1s tolerance.
	server.ClockInTime = server.ClockInTime.Add(800 * time.Millisecond)
	repo.seed(server)
	r := newTestReconciler(repo)

	report := r.Reconcile(context.Background(), 7, []Record{clientRecord("dev-1")})

	assert.Equal(t, 1, report.NoChange)
	assert.Zero(t, report.Conflicts)
	require.Len(t, report.Results, 1)
	assert.Equal(t, ActionNoChange, report.Results[0].Action)
}

func TestReconcile_ClientWinsMerge(t *testing.T) {
	repo := newMockRepo()
	server := serverRecord("dev-1")
	repo.seed(server)
	r := newTestReconciler(repo)

	client := clientRecord("dev-1")
	client.SyncVersion = 2
	out := baseTime().Add(9 * time.Hour) // client has a later clock-out
	client.ClockOutTime = &out
	client.Strategy = "client_wins"

	report := r.Reconcile(context.Background(), 7, []Record{client})

	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Conflicts)

	merged := repo.byKey[key("dev-1", baseTime())]
	require.NotNil(t, merged)
	// sync_version = max(client 2, server 1) + 1
	assert.Equal(t, 3, merged.SyncVersion)
	assert.True(t, merged.Synced)
	// Server identity is always retained.
	assert.Equal(t, int64(500), merged.ID)
	assert.Equal(t, server.CreatedAt, merged.CreatedAt)
	// Client values win.
	assert.True(t, merged.ClockOutTime.Equal(out))
	assert.Equal(t, true, merged.Metadata["conflict_resolved"])
	assert.Equal(t, "client_wins", merged.Metadata["resolution_strategy"])
	assert.NotEmpty(t, merged.Metadata["resolved_at"])
}

func TestReconcile_RepeatedClientWinsKeepsIncreasingVersion(t *testing.T) {
	repo := newMockRepo()
	repo.seed(serverRecord("dev-1"))
	r := newTestReconciler(repo)

	last := 1
	for i := 0; i < 3; i++ {
		client := clientRecord("dev-1")
		client.Strategy = "client_wins"
		out := baseTime().Add(time.Duration(10+i) * time.Hour)
		client.ClockOutTime = &out
		client.SyncVersion = last

		report := r.Reconcile(context.Background(), 7, []Record{client})
		require.Equal(t, 1, report.Updated, "iteration %d", i)

		merged := repo.byKey[key("dev-1", baseTime())]
		assert.Greater(t, merged.SyncVersion, last)
		assert.Equal(t, int64(500), merged.ID, "server id must never change")
		last = merged.SyncVersion
	}
}

func TestReconcile_ServerWinsDiscardsClient(t *testing.T) {
	repo := newMockRepo()
	server := serverRecord("dev-1")
	repo.seed(server)
	r := newTestReconciler(repo)

	client := clientRecord("dev-1")
	client.SyncVersion = 5
	client.Strategy = "server_wins"
	out := baseTime().Add(12 * time.Hour)
	client.ClockOutTime = &out

	report := r.Reconcile(context.Background(), 7, []Record{client})

	assert.Equal(t, 1, report.NoChange)
	assert.Equal(t, 1, report.Conflicts)
	// Server record untouched.
	stored := repo.byKey[key("dev-1", baseTime())]
	assert.Equal(t, 1, stored.SyncVersion)
	assert.True(t, stored.ClockOutTime.Equal(baseTime().Add(8*time.Hour)))
}

func TestReconcile_UnknownStrategyFallsBackToServerWins(t *testing.T) {
	repo := newMockRepo()
	repo.seed(serverRecord("dev-1"))
	r := newTestReconciler(repo)

	client := clientRecord("dev-1")
	client.SyncVersion = 9
	client.Strategy = "merge_fancy"

	report := r.Reconcile(context.Background(), 7, []Record{client})

	assert.Equal(t, 1, report.NoChange)
	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, 1, repo.byKey[key("dev-1", baseTime())].SyncVersion)
}

func TestReconcile_ManualReturnsPairUnapplied(t *testing.T) {
	repo := newMockRepo()
	server := serverRecord("dev-1")
	repo.seed(server)
	r := newTestReconciler(repo)

	client := clientRecord("dev-1")
	client.SyncVersion = 2
	client.Strategy = "manual"

	report := r.Reconcile(context.Background(), 7, []Record{client})

	require.Len(t, report.Results, 1)
	res := report.Results[0]
	assert.Equal(t, ActionManual, res.Action)
	assert.True(t, res.Conflict)
	require.NotNil(t, res.Client)
	require.NotNil(t, res.Server)
	assert.Equal(t, int64(500), res.Server.ID)
	// Neither side applied.
	assert.Equal(t, 1, repo.byKey[key("dev-1", baseTime())].SyncVersion)
}

func TestReconcile_MalformedRecordDoesNotAbortBatch(t *testing.T) {
	repo := newMockRepo()
	r := newTestReconciler(repo)

	good1 := clientRecord("dev-1")
	bad := clientRecord("") // missing device_id
	good2 := clientRecord("dev-2")

	report := r.Reconcile(context.Background(), 7, []Record{good1, bad, good2})

	assert.Equal(t, 2, report.Inserted)
	require.Len(t, report.ValidationErrors, 1)
	assert.Equal(t, 1, report.ValidationErrors[0].Index)
	assert.Empty(t, report.Errors)
}

func TestReconcile_MissingClientTimestamp(t *testing.T) {
	r := newTestReconciler(newMockRepo())

	rec := clientRecord("dev-1")
	rec.ClientTimestamp = time.Time{}

	report := r.Reconcile(context.Background(), 7, []Record{rec})
	require.Len(t, report.ValidationErrors, 1)
	assert.Contains(t, report.ValidationErrors[0].Message, "client_timestamp")
}

func TestReconcile_FutureTimestampRejected(t *testing.T) {
	r := newTestReconciler(newMockRepo())

	rec := clientRecord("dev-1")
	rec.ClientTimestamp = baseTime().Add(48 * time.Hour) // past fake "now"

	report := r.Reconcile(context.Background(), 7, []Record{rec})
	assert.Zero(t, report.Inserted)
	require.Len(t, report.ValidationErrors, 1)
	assert.Contains(t, report.ValidationErrors[0].Message, "future")
}

func TestReconcile_StaleTimestampWarnsButApplies(t *testing.T) {
	repo := newMockRepo()
	r := newTestReconciler(repo)

	rec := clientRecord("dev-1")
	rec.ClientTimestamp = baseTime().Add(-45 * 24 * time.Hour)
	rec.ClockInTime = rec.ClientTimestamp

	report := r.Reconcile(context.Background(), 7, []Record{rec})

	assert.Equal(t, 1, report.Inserted)
	require.Len(t, report.Results, 1)
	assert.Contains(t, report.Results[0].Warning, "30 days")
}

func TestReconcile_RepoErrorIsolatedPerRecord(t *testing.T) {
	repo := newMockRepo()
	r := newTestReconciler(repo)

	good := clientRecord("dev-1")
	failing := clientRecord("dev-2")

	// First record inserts fine, second hits a storage error.
	r2 := NewReconciler(&flakyRepo{inner: repo, failOn: "dev-2"}, nopBus{})
	r2.now = r.now

	report := r2.Reconcile(context.Background(), 7, []Record{good, failing})

	assert.Equal(t, 1, report.Inserted)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 1, report.Errors[0].Index)
}

type flakyRepo struct {
	inner  *mockRepo
	failOn string
}

func (f *flakyRepo) FindByDeviceTimestamp(ctx context.Context, userID int64, deviceID string, ts time.Time) (*domain.AttendanceRecord, error) {
	return f.inner.FindByDeviceTimestamp(ctx, userID, deviceID, ts)
}

func (f *flakyRepo) Create(ctx context.Context, rec *domain.AttendanceRecord) (*domain.AttendanceRecord, error) {
	if rec.DeviceID != nil && *rec.DeviceID == f.failOn {
		return nil, errors.New("connection reset")
	}
	return f.inner.Create(ctx, rec)
}

func (f *flakyRepo) UpdateMerged(ctx context.Context, rec *domain.AttendanceRecord) (*domain.AttendanceRecord, error) {
	return f.inner.UpdateMerged(ctx, rec)
}
