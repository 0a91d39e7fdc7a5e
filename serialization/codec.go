package serialization

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cyface-de/uplink/common"
	"github.com/cyface-de/uplink/model"
)

// ErrCorruptFormat is returned when a buffer is truncated or its header does
// not describe its contents. Decoding never reads past the buffer end.
var ErrCorruptFormat = errors.New("corrupt transfer file")

// byteOrder is the canonical wire order for format version 2. It is part of
// the format definition and independent of the host.
var byteOrder = binary.BigEndian

// AppendLocation encodes one location record (36 bytes) onto buf. A missing
// accuracy is written as 0 so the record keeps its fixed width.
func AppendLocation(buf []byte, l model.GeoLocation) []byte {
	buf = byteOrder.AppendUint64(buf, uint64(l.Timestamp))
	buf = byteOrder.AppendUint64(buf, math.Float64bits(l.Lat))
	buf = byteOrder.AppendUint64(buf, math.Float64bits(l.Lon))
	buf = byteOrder.AppendUint64(buf, math.Float64bits(l.Speed))
	buf = byteOrder.AppendUint32(buf, uint32(l.AccuracyOrZero()))
	return buf
}

// AppendPoint3D encodes one inertial record (32 bytes) onto buf. The same
// encoder serves accelerations, rotations and directions.
func AppendPoint3D(buf []byte, p model.Point3D) []byte {
	buf = byteOrder.AppendUint64(buf, uint64(p.Timestamp))
	buf = byteOrder.AppendUint64(buf, math.Float64bits(p.X))
	buf = byteOrder.AppendUint64(buf, math.Float64bits(p.Y))
	buf = byteOrder.AppendUint64(buf, math.Float64bits(p.Z))
	return buf
}

// DecodeLocation reads exactly one location record from the front of b.
func DecodeLocation(b []byte) (model.GeoLocation, error) {
	if len(b) < common.LOCATION_RECORD_BYTES {
		return model.GeoLocation{}, fmt.Errorf("%w: location record needs %d bytes, have %d",
			ErrCorruptFormat, common.LOCATION_RECORD_BYTES, len(b))
	}
	acc := int32(byteOrder.Uint32(b[32:36]))
	return model.GeoLocation{
		Timestamp: int64(byteOrder.Uint64(b[0:8])),
		Lat:       math.Float64frombits(byteOrder.Uint64(b[8:16])),
		Lon:       math.Float64frombits(byteOrder.Uint64(b[16:24])),
		Speed:     math.Float64frombits(byteOrder.Uint64(b[24:32])),
		Accuracy:  &acc,
	}, nil
}

// DecodePoint3D reads exactly one inertial record from the front of b.
func DecodePoint3D(b []byte) (model.Point3D, error) {
	if len(b) < common.POINT3D_RECORD_BYTES {
		return model.Point3D{}, fmt.Errorf("%w: point3d record needs %d bytes, have %d",
			ErrCorruptFormat, common.POINT3D_RECORD_BYTES, len(b))
	}
	return model.Point3D{
		Timestamp: int64(byteOrder.Uint64(b[0:8])),
		X:         math.Float64frombits(byteOrder.Uint64(b[8:16])),
		Y:         math.Float64frombits(byteOrder.Uint64(b[16:24])),
		Z:         math.Float64frombits(byteOrder.Uint64(b[24:32])),
	}, nil
}
