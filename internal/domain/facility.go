package domain

// DefaultGeofenceRadiusMeters applies when a facility has no radius configured.
const DefaultGeofenceRadiusMeters = 100

type Facility struct {
	ID                   int64    `json:"id"`
	Name                 string   `json:"name"`
	Latitude             *float64 `json:"latitude,omitempty"`
	Longitude            *float64 `json:"longitude,omitempty"`
	GeofenceRadiusMeters *float64 `json:"geofence_radius_meters,omitempty"`
	IsActive             bool     `json:"is_active"`
}

// HasCoordinates reports whether the facility can be geofence-checked at all.
// A facility without coordinates must fail validation, never skip it.
func (f *Facility) HasCoordinates() bool {
	return f.Latitude != nil && f.Longitude != nil
}

// Radius returns the configured geofence radius or the default.
func (f *Facility) Radius() float64 {
	if f.GeofenceRadiusMeters != nil && *f.GeofenceRadiusMeters > 0 {
		return *f.GeofenceRadiusMeters
	}
	return DefaultGeofenceRadiusMeters
}
