package spoofing

import (
	"context"
	"testing"
	"time"
)

type stubLocations struct {
	point *LocationPoint
	err   error
}

func (s *stubLocations) LastKnownLocation(context.Context, int64) (*LocationPoint, error) {
	return s.point, s.err
}

type recordingAudit struct {
	entries []string
}

func (a *recordingAudit) AppendActivity(_ context.Context, _ int64, action, _ string, _ int64, description string, _ map[string]any) error {
	a.entries = append(a.entries, action+": "+description)
	return nil
}

func newTestDetector(last *LocationPoint) (*Detector, *recordingAudit) {
	audit := &recordingAudit{}
	return NewDetector(&stubLocations{point: last}, audit), audit
}

func hasFlag(res *Result, flag string) bool {
	for _, f := range res.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

func TestCheck_CleanReadingPasses(t *testing.T) {
	d, _ := newTestDetector(nil)

	res, err := d.Check(context.Background(), 1, Input{
		Latitude: -1.9540, Longitude: 30.0609, AccuracyMeters: 40,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed {
		t.Fatalf("clean reading should pass, got errors %v", res.Errors)
	}
	if len(res.Warnings) != 0 || len(res.Flags) != 0 {
		t.Errorf("clean reading should have no warnings/flags, got %v / %v", res.Warnings, res.Flags)
	}
}

func TestCheck_MockLocationFails(t *testing.T) {
	d, _ := newTestDetector(nil)

	res, _ := d.Check(context.Background(), 1, Input{
		Latitude: -1.9540, Longitude: 30.0609, AccuracyMeters: 40, IsMocked: true,
	})
	if res.Passed {
		t.Fatal("mocked location must be a hard failure")
	}
	if !hasFlag(res, FlagMockLocation) {
		t.Errorf("expected %s flag, got %v", FlagMockLocation, res.Flags)
	}
}

func TestCheck_AccuracyBounds(t *testing.T) {
	d, _ := newTestDetector(nil)

	res, _ := d.Check(context.Background(), 1, Input{
		Latitude: -1.9540, Longitude: 30.0609, AccuracyMeters: 501,
	})
	if res.Passed || !hasFlag(res, FlagLowAccuracy) {
		t.Errorf("accuracy over 500m must hard-fail, got passed=%v flags=%v", res.Passed, res.Flags)
	}

	res, _ = d.Check(context.Background(), 1, Input{
		Latitude: -1.9540, Longitude: 30.0609, AccuracyMeters: 0.5,
	})
	if !res.Passed {
		t.Error("sub-meter accuracy must not block")
	}
	if !hasFlag(res, FlagSuspiciousAccuracy) {
		t.Errorf("sub-meter accuracy should warn, flags=%v", res.Flags)
	}
}

func TestCheck_NullIslandFails(t *testing.T) {
	d, _ := newTestDetector(nil)

	for _, in := range []Input{
		{Latitude: 0, Longitude: 0, AccuracyMeters: 40},
		{Latitude: 0.005, Longitude: -0.003, AccuracyMeters: 40},
	} {
		res, _ := d.Check(context.Background(), 1, in)
		if res.Passed || !hasFlag(res, FlagNullIsland) {
			t.Errorf("point (%v,%v) near Null Island must fail, passed=%v flags=%v",
				in.Latitude, in.Longitude, res.Passed, res.Flags)
		}
	}
}

func TestCheck_OutOfRangeCoordinatesFail(t *testing.T) {
	d, _ := newTestDetector(nil)

	res, _ := d.Check(context.Background(), 1, Input{Latitude: 91, Longitude: 10, AccuracyMeters: 40})
	if res.Passed {
		t.Error("latitude over 90 must fail")
	}
	res, _ = d.Check(context.Background(), 1, Input{Latitude: 10, Longitude: -181, AccuracyMeters: 40})
	if res.Passed {
		t.Error("longitude under -180 must fail")
	}
}

func TestCheck_LowPrecisionWarns(t *testing.T) {
	d, _ := newTestDetector(nil)

	res, _ := d.Check(context.Background(), 1, Input{
		Latitude: 1.95, Longitude: 30.06, AccuracyMeters: 40,
	})
	if !res.Passed {
		t.Fatalf("low precision is a warning, not a failure: %v", res.Errors)
	}
	if !hasFlag(res, FlagLowPrecision) {
		t.Errorf("expected %s flag, got %v", FlagLowPrecision, res.Flags)
	}

	// Full-precision coordinates should not warn.
	res, _ = d.Check(context.Background(), 1, Input{
		Latitude: 1.9536, Longitude: 30.0606, AccuracyMeters: 40,
	})
	if hasFlag(res, FlagLowPrecision) {
		t.Errorf("precise coordinates should not warn, flags=%v", res.Flags)
	}
}

func TestCheck_ImpossibleSpeedFails(t *testing.T) {
	now := time.Now()
	// Last point ~755km away, 1 hour ago: implied speed ~755 km/h.
	d, audit := newTestDetector(&LocationPoint{Latitude: -1.2921, Longitude: 36.8219, At: now.Add(-time.Hour)})

	res, err := d.Check(context.Background(), 1, Input{
		Latitude: -1.9540, Longitude: 30.0609, AccuracyMeters: 40, ObservedAt: now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Passed || !hasFlag(res, FlagImpossibleSpeed) {
		t.Fatalf("755 km/h must be rejected, passed=%v flags=%v", res.Passed, res.Flags)
	}
	if len(audit.entries) != 1 {
		t.Errorf("speed rejection must be written to the audit log, got %d entries", len(audit.entries))
	}
}

func TestCheck_PlausibleSpeedPasses(t *testing.T) {
	now := time.Now()
	// Same two points 6 hours apart: ~126 km/h, under the limit.
	d, audit := newTestDetector(&LocationPoint{Latitude: -1.2921, Longitude: 36.8219, At: now.Add(-6 * time.Hour)})

	res, _ := d.Check(context.Background(), 1, Input{
		Latitude: -1.9540, Longitude: 30.0609, AccuracyMeters: 40, ObservedAt: now,
	})
	if !res.Passed {
		t.Fatalf("plausible travel must pass, got %v", res.Errors)
	}
	if len(audit.entries) != 0 {
		t.Errorf("no audit entry expected, got %v", audit.entries)
	}
}

func TestCheck_NonMonotonicClockFails(t *testing.T) {
	now := time.Now()
	d, _ := newTestDetector(&LocationPoint{Latitude: -1.9536, Longitude: 30.0606, At: now.Add(time.Minute)})

	res, _ := d.Check(context.Background(), 1, Input{
		Latitude: -1.9540, Longitude: 30.0609, AccuracyMeters: 40, ObservedAt: now,
	})
	if res.Passed || !hasFlag(res, FlagImpossibleSpeed) {
		t.Errorf("zero/negative elapsed time must be rejected, passed=%v flags=%v", res.Passed, res.Flags)
	}
}

func TestCheck_NoHistorySkipsSpeedCheck(t *testing.T) {
	d, audit := newTestDetector(nil)

	res, err := d.Check(context.Background(), 1, Input{
		Latitude: -1.9540, Longitude: 30.0609, AccuracyMeters: 40,
	})
	if err != nil || !res.Passed {
		t.Fatalf("first reading for a user must skip the speed check: err=%v passed=%v", err, res.Passed)
	}
	if len(audit.entries) != 0 {
		t.Errorf("no audit entry expected, got %v", audit.entries)
	}
}
