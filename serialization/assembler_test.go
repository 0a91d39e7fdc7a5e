package serialization_test

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cyface-de/uplink/common"
	"github.com/cyface-de/uplink/model"
	"github.com/cyface-de/uplink/serialization"
	"github.com/cyface-de/uplink/store"
)

// fakeSource serves in-memory streams through the paginated contract.
type fakeSource struct {
	locs    []model.GeoLocation
	points  map[uint][]model.Point3D
	failing bool
	onFetch func() // runs before each location page is served
}

func (s *fakeSource) FetchLocationPage(measurementID int64, offset, limit int) ([]model.GeoLocation, error) {
	if s.onFetch != nil {
		s.onFetch()
	}
	if s.failing {
		return nil, fmt.Errorf("%w: connection lost", store.ErrDataSourceUnavailable)
	}
	return pageOf(s.locs, offset, limit), nil
}

func (s *fakeSource) FetchPoint3DPage(kind uint, measurementID int64, offset, limit int) ([]model.Point3D, error) {
	if s.failing {
		return nil, fmt.Errorf("%w: connection lost", store.ErrDataSourceUnavailable)
	}
	return pageOf(s.points[kind], offset, limit), nil
}

func (s *fakeSource) CountRows(kind uint, measurementID int64) (int, error) {
	if kind == common.STREAM_LOCATION {
		return len(s.locs), nil
	}
	return len(s.points[kind]), nil
}

func pageOf[T any](rows []T, offset, limit int) []T {
	if offset >= len(rows) {
		return nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func testLocations(n int) []model.GeoLocation {
	locs := make([]model.GeoLocation, 0, n)
	for i := 0; i < n; i++ {
		acc := int32(500 + i)
		locs = append(locs, model.GeoLocation{
			Timestamp: 1575821000000 + int64(i)*1000,
			Lat:       51.05 + float64(i)*0.0001,
			Lon:       13.72 + float64(i)*0.0001,
			Speed:     3.5,
			Accuracy:  &acc,
		})
	}
	return locs
}

func testPoints(n int, base float64) []model.Point3D {
	pts := make([]model.Point3D, 0, n)
	for i := 0; i < n; i++ {
		pts = append(pts, model.Point3D{
			Timestamp: 1575821000000 + int64(i)*10,
			X:         base + float64(i)*0.01,
			Y:         -base,
			Z:         9.81,
		})
	}
	return pts
}

func TestAssembleHeaderCountsMatchStreams(t *testing.T) {
	src := &fakeSource{
		locs: testLocations(7),
		points: map[uint][]model.Point3D{
			common.STREAM_ACCELERATION: testPoints(25, 0.1),
			common.STREAM_ROTATION:     testPoints(13, 0.2),
			common.STREAM_DIRECTION:    testPoints(4, 0.3),
		},
	}
	a := &serialization.Assembler{Src: src, TempDir: t.TempDir(), PageSize: 5}

	art, err := a.Assemble(1)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer art.Remove()

	decoded, err := serialization.DecodeTransferFileAt(art.Path)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.FormatVersion != common.TRANSFER_FILE_FORMAT_VERSION {
		t.Fatalf("format version %d, want %d", decoded.FormatVersion, common.TRANSFER_FILE_FORMAT_VERSION)
	}
	if len(decoded.Locations) != 7 || len(decoded.Accelerations) != 25 ||
		len(decoded.Rotations) != 13 || len(decoded.Directions) != 4 {
		t.Fatalf("decoded %d/%d/%d/%d records, want 7/25/13/4",
			len(decoded.Locations), len(decoded.Accelerations),
			len(decoded.Rotations), len(decoded.Directions))
	}

	// decoding accumulates the deltas back to the absolute input values
	for i, l := range decoded.Locations {
		want := src.locs[i]
		if l.Timestamp != want.Timestamp || l.Lat != want.Lat || l.Lon != want.Lon ||
			l.AccuracyOrZero() != want.AccuracyOrZero() {
			t.Fatalf("location %d decoded as %+v, want %+v", i, l, want)
		}
	}
	for i, p := range decoded.Accelerations {
		if p != src.points[common.STREAM_ACCELERATION][i] {
			t.Fatalf("acceleration %d decoded as %+v, want %+v",
				i, p, src.points[common.STREAM_ACCELERATION][i])
		}
	}
}

// Four samples with identical timestamps split over two pages of two: the
// wire must carry [1 0 0 0], never a second absolute value at the page seam.
func TestAssembleDeltaEncodesAcrossPages(t *testing.T) {
	locs := make([]model.GeoLocation, 4)
	for i := range locs {
		locs[i] = model.GeoLocation{Timestamp: 1}
	}
	src := &fakeSource{locs: locs, points: map[uint][]model.Point3D{}}
	a := &serialization.Assembler{Src: src, TempDir: t.TempDir(), PageSize: 2}

	art, err := a.Assemble(1)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer art.Remove()

	raw := gunzip(t, art.Path)
	sections := raw[common.TRANSFER_FILE_HEADER_BYTES:]
	var wire []int64
	for i := 0; i < 4; i++ {
		rec, err := serialization.DecodeLocation(sections[i*common.LOCATION_RECORD_BYTES:])
		if err != nil {
			t.Fatalf("decode record %d: %v", i, err)
		}
		wire = append(wire, rec.Timestamp)
	}
	want := []int64{1, 0, 0, 0}
	for i := range want {
		if wire[i] != want[i] {
			t.Fatalf("timestamps on the wire are %v, want %v", wire, want)
		}
	}
}

func TestAssembleNullAccuracyBecomesZero(t *testing.T) {
	src := &fakeSource{
		locs: []model.GeoLocation{
			{Timestamp: 1000, Lat: 51, Lon: 13},
			{Timestamp: 2000, Lat: 51, Lon: 13},
		},
		points: map[uint][]model.Point3D{},
	}
	a := &serialization.Assembler{Src: src, TempDir: t.TempDir()}

	art, err := a.Assemble(1)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer art.Remove()

	decoded, err := serialization.DecodeTransferFileAt(art.Path)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i, l := range decoded.Locations {
		if l.AccuracyOrZero() != 0 {
			t.Fatalf("location %d accuracy %d, want 0", i, l.AccuracyOrZero())
		}
	}
}

func TestAssembleHeaderLayout(t *testing.T) {
	src := &fakeSource{
		locs: testLocations(2),
		points: map[uint][]model.Point3D{
			common.STREAM_ACCELERATION: testPoints(3, 0.1),
		},
	}
	a := &serialization.Assembler{Src: src, TempDir: t.TempDir()}

	art, err := a.Assemble(1)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer art.Remove()

	raw := gunzip(t, art.Path)
	if binary.BigEndian.Uint16(raw[0:2]) != common.TRANSFER_FILE_FORMAT_VERSION {
		t.Fatalf("header version %d", binary.BigEndian.Uint16(raw[0:2]))
	}
	counts := []uint32{2, 3, 0, 0}
	for i, want := range counts {
		if got := binary.BigEndian.Uint32(raw[2+4*i : 6+4*i]); got != want {
			t.Fatalf("header count %d is %d, want %d", i, got, want)
		}
	}
	wantLen := common.TRANSFER_FILE_HEADER_BYTES +
		2*common.LOCATION_RECORD_BYTES + 3*common.POINT3D_RECORD_BYTES
	if len(raw) != wantLen {
		t.Fatalf("uncompressed artifact is %d bytes, want %d (no padding, no framing)", len(raw), wantLen)
	}
}

func TestAssemblePropagatesDataSourceFailure(t *testing.T) {
	src := &fakeSource{failing: true}
	a := &serialization.Assembler{Src: src, TempDir: t.TempDir()}

	_, err := a.Assemble(1)
	if !errors.Is(err, store.ErrDataSourceUnavailable) {
		t.Fatalf("got %v, want ErrDataSourceUnavailable", err)
	}

	entries, _ := os.ReadDir(a.TempDir)
	if len(entries) != 0 {
		t.Fatalf("failed assembly left %d files behind", len(entries))
	}
}

func TestAssembleTrackMetadata(t *testing.T) {
	src := &fakeSource{locs: testLocations(10), points: map[uint][]model.Point3D{}}
	a := &serialization.Assembler{Src: src, TempDir: t.TempDir()}

	art, err := a.Assemble(1)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer art.Remove()

	if art.TrackLength <= 0 {
		t.Fatalf("track length %f, want > 0", art.TrackLength)
	}
	if art.StartLocation == nil || art.EndLocation == nil {
		t.Fatalf("start/end location missing")
	}
	if art.StartLocation.Timestamp != src.locs[0].Timestamp ||
		art.EndLocation.Timestamp != src.locs[9].Timestamp {
		t.Fatalf("start/end picked %d/%d, want %d/%d",
			art.StartLocation.Timestamp, art.EndLocation.Timestamp,
			src.locs[0].Timestamp, src.locs[9].Timestamp)
	}

	path := art.Path
	art.Remove()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("Remove left the temp artifact at %s", path)
	}
}

// Exit() must interrupt a running assembly between pages and block until the
// assembler has unwound, so the process can tear down without leaking a
// half-written artifact.
func TestAssembleStopsAtInterrupt(t *testing.T) {
	eh := common.NewExitHelper()
	exited := make(chan struct{})
	src := &fakeSource{locs: testLocations(6), points: map[uint][]model.Point3D{}}
	var once sync.Once
	src.onFetch = func() {
		once.Do(func() {
			go func() {
				eh.Exit()
				close(exited)
			}()
			for !eh.IsExit() {
				time.Sleep(time.Millisecond)
			}
		})
	}
	a := &serialization.Assembler{Src: src, TempDir: t.TempDir(), PageSize: 2, Eh: eh}

	_, err := a.Assemble(1)
	if !errors.Is(err, serialization.ErrInterrupted) {
		t.Fatalf("got %v, want ErrInterrupted", err)
	}
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("Exit() still waiting after the assembly unwound")
	}

	entries, _ := os.ReadDir(a.TempDir)
	if len(entries) != 0 {
		t.Fatalf("interrupted assembly left %d files behind", len(entries))
	}
}

func TestDecodeRejectsTruncatedTransferFile(t *testing.T) {
	src := &fakeSource{locs: testLocations(3), points: map[uint][]model.Point3D{}}
	a := &serialization.Assembler{Src: src, TempDir: t.TempDir()}
	art, err := a.Assemble(1)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer art.Remove()

	raw := gunzip(t, art.Path)
	for _, cut := range []int{common.TRANSFER_FILE_HEADER_BYTES - 1, len(raw) - 4} {
		_, err := serialization.DecodeTransferFile(bytes.NewReader(raw[:cut]))
		if !errors.Is(err, serialization.ErrCorruptFormat) {
			t.Fatalf("truncated at %d: got %v, want ErrCorruptFormat", cut, err)
		}
	}
}

func gunzip(t *testing.T, path string) []byte {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("artifact is not gzip: %v", err)
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	return raw
}
