package common

// Stream kinds. Each kind maps to one section of the transfer file; the
// numeric order below is also the canonical section order on the wire.
const (
	STREAM_NONE         = 0x00
	STREAM_LOCATION     = 0x01
	STREAM_ACCELERATION = 0x02
	STREAM_ROTATION     = 0x03
	STREAM_DIRECTION    = 0x04
)

// StreamKindsInOrder lists the four sections in canonical transfer-file order.
var StreamKindsInOrder = []uint{
	STREAM_LOCATION,
	STREAM_ACCELERATION,
	STREAM_ROTATION,
	STREAM_DIRECTION,
}

// Transfer-file format constants. All multi-byte values are big-endian;
// this is fixed per format version and must never be inferred from the host.
const (
	TRANSFER_FILE_FORMAT_VERSION = 2

	// u16 version followed by four u32 record counts
	TRANSFER_FILE_HEADER_BYTES = 18

	// ts:i64 lat:f64 lon:f64 speed:f64 accuracy:i32
	LOCATION_RECORD_BYTES = 36

	// ts:i64 x:f64 y:f64 z:f64
	POINT3D_RECORD_BYTES = 32
)

// Measurement lifecycle states as persisted in the store.
const (
	MEASUREMENT_OPEN     = 0x01 // capture still running, never uploaded
	MEASUREMENT_FINISHED = 0x02 // capture done, waiting for upload
	MEASUREMENT_SYNCED   = 0x03 // accepted by the collector
	MEASUREMENT_SKIPPED  = 0x04 // permanently excluded from upload
)

const (
	// Rows fetched from the store per page while serializing
	DATABASE_PAGE_SIZE = 10000

	// Bytes streamed per chunk during upload; progress is reported and the
	// interrupt flag polled once per chunk
	UPLOAD_CHUNK_BYTES = 1024 * 1024
)

// Transport modalities a measurement can be tagged with.
var ValidModalities = []string{"BICYCLE", "CAR", "MOTORBIKE", "BUS", "TRAIN", "WALKING", "UNKNOWN"}

// StreamName returns a display name for logging.
func StreamName(kind uint) string {
	switch kind {
	case STREAM_LOCATION:
		return "locations"
	case STREAM_ACCELERATION:
		return "accelerations"
	case STREAM_ROTATION:
		return "rotations"
	case STREAM_DIRECTION:
		return "directions"
	}
	return "unknown"
}
