package serialization

import (
	"github.com/cyface-de/uplink/model"
)

/**
Offsetter delta-encodes one logical stream: the first record passes through
with its absolute values, every later record is emitted as the difference to
its predecessor. Exactly one Offsetter must exist per stream read session and
be threaded through every page of that stream. Creating a fresh Offsetter per
page re-emits absolute values mid-stream and silently corrupts the section;
see the regression tests before touching this.
*/
type Offsetter struct {
	started bool
	ts      int64
	a       float64
	b       float64
	c       float64
	acc     int32
}

// OffsetLocation returns the delta-encoded form of l and advances the state.
// A missing accuracy is substituted with 0 before encoding.
func (o *Offsetter) OffsetLocation(l model.GeoLocation) model.GeoLocation {
	acc := l.AccuracyOrZero()
	out := model.GeoLocation{
		Timestamp: l.Timestamp - o.ts,
		Lat:       l.Lat - o.a,
		Lon:       l.Lon - o.b,
		Speed:     l.Speed - o.c,
	}
	d := acc - o.acc
	if !o.started {
		out = model.GeoLocation{Timestamp: l.Timestamp, Lat: l.Lat, Lon: l.Lon, Speed: l.Speed}
		d = acc
		o.started = true
	}
	out.Accuracy = &d
	o.ts, o.a, o.b, o.c, o.acc = l.Timestamp, l.Lat, l.Lon, l.Speed, acc
	return out
}

// OffsetPoint3D returns the delta-encoded form of p and advances the state.
func (o *Offsetter) OffsetPoint3D(p model.Point3D) model.Point3D {
	out := model.Point3D{
		Timestamp: p.Timestamp - o.ts,
		X:         p.X - o.a,
		Y:         p.Y - o.b,
		Z:         p.Z - o.c,
	}
	if !o.started {
		out = p
		o.started = true
	}
	o.ts, o.a, o.b, o.c = p.Timestamp, p.X, p.Y, p.Z
	return out
}

// Unoffsetter is the exact inverse, accumulating deltas back into absolute
// records while a transfer file is decoded.
type Unoffsetter struct {
	started bool
	ts      int64
	a       float64
	b       float64
	c       float64
	acc     int32
}

func (u *Unoffsetter) AbsorbLocation(l model.GeoLocation) model.GeoLocation {
	acc := l.AccuracyOrZero()
	if u.started {
		l.Timestamp += u.ts
		l.Lat += u.a
		l.Lon += u.b
		l.Speed += u.c
		acc += u.acc
	}
	u.started = true
	u.ts, u.a, u.b, u.c, u.acc = l.Timestamp, l.Lat, l.Lon, l.Speed, acc
	l.Accuracy = &acc
	return l
}

func (u *Unoffsetter) AbsorbPoint3D(p model.Point3D) model.Point3D {
	if u.started {
		p.Timestamp += u.ts
		p.X += u.a
		p.Y += u.b
		p.Z += u.c
	}
	u.started = true
	u.ts, u.a, u.b, u.c = p.Timestamp, p.X, p.Y, p.Z
	return p
}
