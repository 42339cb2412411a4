package geofence

import (
	"context"
	"fmt"
	"math"

	"github.com/fieldtrack/attendance/internal/domain"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000

// DistanceFunc computes the distance in meters between two lat/lon points.
// Haversine is the default; an ellipsoidal implementation can be injected
// behind the same signature.
type DistanceFunc func(lat1, lon1, lat2, lon2 float64) float64

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

type FacilityGetter interface {
	GetFacility(ctx context.Context, id int64) (*domain.Facility, error)
}

type Result struct {
	WithinRadius   bool    `json:"within_radius"`
	DistanceMeters float64 `json:"distance_meters"`
	RadiusMeters   float64 `json:"radius_meters"`
}

type Validator struct {
	facilities FacilityGetter
	distance   DistanceFunc
}

func NewValidator(facilities FacilityGetter, distance DistanceFunc) *Validator {
	if distance == nil {
		distance = Haversine
	}
	return &Validator{facilities: facilities, distance: distance}
}

// Validate checks whether the observed point lies within the facility's
// geofence. A facility without coordinates is a hard failure: absent
// configuration must never silently pass a security check.
func (v *Validator) Validate(ctx context.Context, facilityID int64, lat, lon float64) (*Result, error) {
	facility, err := v.facilities.GetFacility(ctx, facilityID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up facility %d: %w", facilityID, err)
	}
	if facility == nil || !facility.IsActive {
		return nil, domain.ErrFacilityUnavailable
	}
	if !facility.HasCoordinates() {
		return nil, domain.ErrGeofenceUnconfigured
	}

	dist := v.distance(*facility.Latitude, *facility.Longitude, lat, lon)
	radius := facility.Radius()

	return &Result{
		WithinRadius:   dist <= radius,
		DistanceMeters: dist,
		RadiusMeters:   radius,
	}, nil
}
