package upload

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/cyface-de/uplink/common"
	"github.com/cyface-de/uplink/model"
)

/**
RequestMetadata describes one measurement to the collector. It is built
fresh per upload attempt from the assembled artifact and sent as individual
request headers alongside the pre-request. Immutable once constructed.
*/
type RequestMetadata struct {
	DeviceID      string
	MeasurementID int64
	DeviceType    string
	OsVersion     string
	AppVersion    string
	Length        float64 // track length in meters
	LocationCount uint32
	StartLocation *model.GeoLocation // nil when the measurement has no fixes
	EndLocation   *model.GeoLocation
	Modality      string
	FormatVersion uint16
}

// Validate rejects caller bugs before any bytes leave the device. A failure
// here is never retried.
func (m RequestMetadata) Validate() error {
	if m.DeviceID == "" {
		return fmt.Errorf("metadata: empty device id")
	}
	if m.MeasurementID <= 0 {
		return fmt.Errorf("metadata: invalid measurement id %d", m.MeasurementID)
	}
	if !slices.Contains(common.ValidModalities, m.Modality) {
		return fmt.Errorf("metadata: invalid modality %q", m.Modality)
	}
	if m.FormatVersion != common.TRANSFER_FILE_FORMAT_VERSION {
		return fmt.Errorf("metadata: format version %d not supported", m.FormatVersion)
	}
	if (m.StartLocation == nil) != (m.EndLocation == nil) {
		return fmt.Errorf("metadata: start and end location must be set together")
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// apply attaches every metadata field as a distinct request header.
func (m RequestMetadata) apply(h http.Header) {
	h.Set("deviceId", m.DeviceID)
	h.Set("measurementId", strconv.FormatInt(m.MeasurementID, 10))
	h.Set("deviceType", m.DeviceType)
	h.Set("osVersion", m.OsVersion)
	h.Set("appVersion", m.AppVersion)
	h.Set("length", formatFloat(m.Length))
	h.Set("locationCount", strconv.FormatUint(uint64(m.LocationCount), 10))
	h.Set("modality", m.Modality)
	h.Set("formatVersion", strconv.FormatUint(uint64(m.FormatVersion), 10))
	if m.StartLocation != nil {
		h.Set("startLocLat", formatFloat(m.StartLocation.Lat))
		h.Set("startLocLon", formatFloat(m.StartLocation.Lon))
		h.Set("startLocTS", strconv.FormatInt(m.StartLocation.Timestamp, 10))
	}
	if m.EndLocation != nil {
		h.Set("endLocLat", formatFloat(m.EndLocation.Lat))
		h.Set("endLocLon", formatFloat(m.EndLocation.Lon))
		h.Set("endLocTS", strconv.FormatInt(m.EndLocation.Timestamp, 10))
	}
}
