package model

// GeoLocation is one captured GNSS fix. Immutable once read from the store.
type GeoLocation struct {
	Timestamp int64   // ms since epoch
	Lat       float64 // decimal degrees
	Lon       float64 // decimal degrees
	Speed     float64 // m/s as reported by the receiver
	Accuracy  *int32  // cm; nil when the fix carried no accuracy estimate
}

// AccuracyOrZero substitutes 0 for a missing accuracy so location records
// keep their fixed width on the wire. Records are never dropped for it.
func (l GeoLocation) AccuracyOrZero() int32 {
	if l.Accuracy == nil {
		return 0
	}
	return *l.Accuracy
}

// Point3D is one inertial sample (acceleration, rotation or direction).
type Point3D struct {
	Timestamp int64 // ms since epoch
	X         float64
	Y         float64
	Z         float64
}
