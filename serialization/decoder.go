package serialization

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/cyface-de/uplink/common"
	"github.com/cyface-de/uplink/model"
)

// DecodedTransferFile holds a fully decoded artifact with all deltas
// accumulated back into absolute values. Used for verification and tests;
// the device never needs it in the upload path.
type DecodedTransferFile struct {
	FormatVersion uint16
	Locations     []model.GeoLocation
	Accelerations []model.Point3D
	Rotations     []model.Point3D
	Directions    []model.Point3D
}

// DecodeTransferFile is the exact inverse of Assemble on an uncompressed
// stream. Truncated input is rejected with ErrCorruptFormat.
func DecodeTransferFile(r io.Reader) (*DecodedTransferFile, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read transfer file: %w", err)
	}
	if len(raw) < common.TRANSFER_FILE_HEADER_BYTES {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d",
			ErrCorruptFormat, common.TRANSFER_FILE_HEADER_BYTES, len(raw))
	}

	out := &DecodedTransferFile{FormatVersion: byteOrder.Uint16(raw[0:2])}
	if out.FormatVersion != common.TRANSFER_FILE_FORMAT_VERSION {
		return nil, fmt.Errorf("%w: unsupported format version %d",
			ErrCorruptFormat, out.FormatVersion)
	}
	var counts [4]uint32
	for i := range counts {
		counts[i] = byteOrder.Uint32(raw[2+4*i : 6+4*i])
	}

	b := raw[common.TRANSFER_FILE_HEADER_BYTES:]
	expect := int(counts[0])*common.LOCATION_RECORD_BYTES +
		int(counts[1]+counts[2]+counts[3])*common.POINT3D_RECORD_BYTES
	if len(b) != expect {
		return nil, fmt.Errorf("%w: header promises %d section bytes, have %d",
			ErrCorruptFormat, expect, len(b))
	}

	un := &Unoffsetter{}
	out.Locations = make([]model.GeoLocation, 0, counts[0])
	for i := uint32(0); i < counts[0]; i++ {
		l, err := DecodeLocation(b)
		if err != nil {
			return nil, err
		}
		out.Locations = append(out.Locations, un.AbsorbLocation(l))
		b = b[common.LOCATION_RECORD_BYTES:]
	}

	for i, dst := range []*[]model.Point3D{&out.Accelerations, &out.Rotations, &out.Directions} {
		un := &Unoffsetter{}
		n := counts[i+1]
		*dst = make([]model.Point3D, 0, n)
		for j := uint32(0); j < n; j++ {
			p, err := DecodePoint3D(b)
			if err != nil {
				return nil, err
			}
			*dst = append(*dst, un.AbsorbPoint3D(p))
			b = b[common.POINT3D_RECORD_BYTES:]
		}
	}
	return out, nil
}

// DecodeTransferFileAt opens and gunzips a compressed artifact from disk.
func DecodeTransferFileAt(path string) (*DecodedTransferFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: not a gzip artifact: %v", ErrCorruptFormat, err)
	}
	defer gz.Close()
	return DecodeTransferFile(gz)
}
