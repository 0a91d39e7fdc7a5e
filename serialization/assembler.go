package serialization

import (
	"compress/gzip"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/ricochet2200/go-disk-usage/du"

	"github.com/cyface-de/uplink/common"
	"github.com/cyface-de/uplink/model"
	"github.com/cyface-de/uplink/store"
)

// ErrInvariant marks a serializer programming fault, e.g. a section whose
// byte length disagrees with its record count. Never retried, never shipped.
var ErrInvariant = errors.New("serializer invariant violation")

// ErrInterrupted is returned when the caller requested cooperative shutdown
// while a stream was being read.
var ErrInterrupted = errors.New("serialization interrupted")

// Artifact is one assembled, compressed transfer file together with the
// stream facts the upload metadata needs. The temp file is exclusively owned
// by one upload attempt; Remove must run on every exit path.
type Artifact struct {
	Path            string
	CompressedBytes int64
	Counts          [4]uint32 // locations, accelerations, rotations, directions
	TrackLength     float64   // meters, geodesic over the location stream
	StartLocation   *model.GeoLocation
	EndLocation     *model.GeoLocation
}

func (a *Artifact) Remove() {
	if a.Path != "" {
		os.Remove(a.Path)
		a.Path = ""
	}
}

/**
Assembler turns one measurement into a gzip-compressed transfer file:
an 18 byte header carrying the format version and the four record counts,
followed by the four delta-encoded sections in canonical order.
*/
type Assembler struct {
	Src      store.DataSource
	TempDir  string             // "" means the system temp dir
	PageSize int                // 0 means DATABASE_PAGE_SIZE
	Eh       *common.ExitHelper // optional, polled between pages
}

func recordSize(kind uint) int {
	if kind == common.STREAM_LOCATION {
		return common.LOCATION_RECORD_BYTES
	}
	return common.POINT3D_RECORD_BYTES
}

// Assemble serializes and compresses the measurement. The returned Artifact
// owns a freshly created temp file; the caller removes it when done.
func (a *Assembler) Assemble(measurementID int64) (*Artifact, error) {
	if a.Eh != nil {
		a.Eh.Add()
		defer a.Eh.Done()
	}
	art := &Artifact{}
	sections := make([]byte, 0, 64*1024)
	stats := &locationStreamStats{}
	pageSize := a.PageSize
	if pageSize <= 0 {
		pageSize = common.DATABASE_PAGE_SIZE
	}

	for i, kind := range common.StreamKindsInOrder {
		// one Offsetter per stream, shared across all of its pages
		off := &Offsetter{}
		before := len(sections)

		var count uint32
		var err error
		if kind == common.STREAM_LOCATION {
			sections, count, err = appendLocationStream(a.Src, measurementID, off, sections, stats, pageSize, a.Eh)
		} else {
			sections, count, err = appendPoint3DStream(a.Src, kind, measurementID, off, sections, pageSize, a.Eh)
		}
		if err != nil {
			return nil, err
		}
		if written := len(sections) - before; written != int(count)*recordSize(kind) {
			return nil, fmt.Errorf("%w: %s section wrote %d bytes for %d records",
				ErrInvariant, common.StreamName(kind), written, count)
		}
		art.Counts[i] = count
	}

	header := make([]byte, 0, common.TRANSFER_FILE_HEADER_BYTES)
	header = byteOrder.AppendUint16(header, common.TRANSFER_FILE_FORMAT_VERSION)
	for _, c := range art.Counts {
		header = byteOrder.AppendUint32(header, c)
	}

	dir := a.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	need := uint64(len(header) + len(sections))
	if avail := du.NewDiskUsage(dir).Available(); avail < need {
		return nil, fmt.Errorf("not enough space in %s: need %s, have %s",
			dir, humanize.Bytes(need), humanize.Bytes(avail))
	}

	f, err := os.CreateTemp(dir, fmt.Sprintf("measurement-%d-*.cyf.gz", measurementID))
	if err != nil {
		return nil, fmt.Errorf("create transfer file: %w", err)
	}
	art.Path = f.Name()

	gz := gzip.NewWriter(f)
	_, werr := gz.Write(header)
	if werr == nil {
		_, werr = gz.Write(sections)
	}
	if cerr := gz.Close(); werr == nil {
		werr = cerr
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		art.Remove()
		return nil, fmt.Errorf("write transfer file: %w", werr)
	}

	fi, err := os.Stat(art.Path)
	if err != nil {
		art.Remove()
		return nil, fmt.Errorf("stat transfer file: %w", err)
	}
	art.CompressedBytes = fi.Size()
	art.TrackLength = stats.track.Meters()
	art.StartLocation = stats.start
	art.EndLocation = stats.end

	log.Printf("Assembled measurement %d: %d/%d/%d/%d records, %s compressed (%s raw)\n",
		measurementID, art.Counts[0], art.Counts[1], art.Counts[2], art.Counts[3],
		humanize.Bytes(uint64(art.CompressedBytes)), humanize.Bytes(need))
	return art, nil
}
