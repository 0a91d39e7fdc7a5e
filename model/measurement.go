package model

import (
	geo "github.com/kellydunn/golang-geo"
)

/**
Measurement is one logical capture session. It owns up to four ordered
sample streams which live in the store and are only ever read page-wise.
*/
type Measurement struct {
	ID       int64  // store-assigned identifier, also sent to the collector
	Status   uint   // one of the MEASUREMENT_* lifecycle states
	Modality string // transport mode tag, e.g. BICYCLE or CAR
}

// TrackLengthMeters sums the geodesic distance between consecutive fixes.
// It is accumulated while the location stream passes through the serializer
// so the track never has to be held in memory as a whole.
type TrackLengthMeters struct {
	prev   *geo.Point
	meters float64
}

func (t *TrackLengthMeters) Add(l GeoLocation) {
	p := geo.NewPoint(l.Lat, l.Lon)
	if t.prev != nil {
		t.meters += t.prev.GreatCircleDistance(p) * 1000.0
	}
	t.prev = p
}

func (t *TrackLengthMeters) Meters() float64 {
	return t.meters
}
