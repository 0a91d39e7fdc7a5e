package store

import (
	"errors"

	"github.com/cyface-de/uplink/model"
)

// ErrDataSourceUnavailable wraps any store failure surfaced mid-read. The
// serializer propagates it unchanged; the caller discards the partial buffer.
var ErrDataSourceUnavailable = errors.New("data source unavailable")

/**
DataSource is the paginated read contract the serializer consumes. Pages are
fetched by offset cursor in timestamp order; a page shorter than limit marks
the end of the stream.
*/
type DataSource interface {
	FetchLocationPage(measurementID int64, offset, limit int) ([]model.GeoLocation, error)
	FetchPoint3DPage(kind uint, measurementID int64, offset, limit int) ([]model.Point3D, error)
	CountRows(kind uint, measurementID int64) (int, error)
}

// MeasurementStore is the lifecycle side used by the sync loop.
type MeasurementStore interface {
	DataSource
	FinishedMeasurements() ([]model.Measurement, error)
	SetStatus(measurementID int64, status uint) error
}
