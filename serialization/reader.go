package serialization

import (
	"fmt"

	"github.com/cyface-de/uplink/common"
	"github.com/cyface-de/uplink/model"
	"github.com/cyface-de/uplink/store"
)

// The paginated readers fetch DATABASE_PAGE_SIZE rows at a time, transform
// and encode each page, then drop it. The Offsetter is owned by the caller
// and shared across all pages of the stream: it must NOT be created in here,
// otherwise every page would restart the delta encoding with an absolute
// record (the classic corruption this module regression-tests against).

// locationStreamStats is accumulated on the absolute records while the
// location stream passes by, so the upload metadata comes for free.
type locationStreamStats struct {
	track model.TrackLengthMeters
	start *model.GeoLocation
	end   *model.GeoLocation
}

func appendLocationStream(src store.DataSource, measurementID int64, off *Offsetter,
	buf []byte, stats *locationStreamStats, pageSize int, eh *common.ExitHelper) ([]byte, uint32, error) {

	var count uint32
	for offset := 0; ; {
		if eh != nil && eh.IsExit() {
			return buf, count, ErrInterrupted
		}
		page, err := src.FetchLocationPage(measurementID, offset, pageSize)
		if err != nil {
			return buf, count, fmt.Errorf("measurement %d: %w", measurementID, err)
		}
		for _, l := range page {
			if stats != nil {
				stats.track.Add(l)
				if stats.start == nil {
					first := l
					stats.start = &first
				}
				last := l
				stats.end = &last
			}
			buf = AppendLocation(buf, off.OffsetLocation(l))
			count++
		}
		if len(page) < pageSize {
			return buf, count, nil
		}
		offset += len(page)
	}
}

func appendPoint3DStream(src store.DataSource, kind uint, measurementID int64, off *Offsetter,
	buf []byte, pageSize int, eh *common.ExitHelper) ([]byte, uint32, error) {

	var count uint32
	for offset := 0; ; {
		if eh != nil && eh.IsExit() {
			return buf, count, ErrInterrupted
		}
		page, err := src.FetchPoint3DPage(kind, measurementID, offset, pageSize)
		if err != nil {
			return buf, count, fmt.Errorf("measurement %d %s: %w",
				measurementID, common.StreamName(kind), err)
		}
		for _, p := range page {
			buf = AppendPoint3D(buf, off.OffsetPoint3D(p))
			count++
		}
		if len(page) < pageSize {
			return buf, count, nil
		}
		offset += len(page)
	}
}
